package audioplayers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Outbound event kinds.
const (
	eventKindPosition = "position"
	eventKindError    = "error"
)

// CommandIO carries the command surface over a newline-delimited JSON
// stream: one request object per inbound line, one response object per
// line out, with outbound player events interleaved on the same stream.
// The transport is deliberately thin; all semantics live in the registry.
type CommandIO struct {
	registry *Registry
	logger   *zap.SugaredLogger

	in  io.Reader
	out io.Writer

	writeLock   sync.Mutex
	stopChannel chan bool
	started     bool
}

type commandRequest struct {
	ID      int64                  `json:"id"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

type commandResponse struct {
	ID     int64       `json:"id"`
	// Result is not omitempty: a zero position or duration is a real result.
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

type eventEnvelope struct {
	Event    string      `json:"event"`
	PlayerID string      `json:"playerId"`
	Value    interface{} `json:"value"`
}

// NewCommandIO creates a new CommandIO instance reading requests from in
// and writing responses and events to out.
func NewCommandIO(registry *Registry, logger *zap.SugaredLogger, in io.Reader, out io.Writer) (*CommandIO, error) {
	logger = logger.Named("transport")

	cio := &CommandIO{
		registry:    registry,
		logger:      logger,
		in:          in,
		out:         out,
		stopChannel: make(chan bool),
	}

	logger.Debug("Created command I/O instance")

	return cio, nil
}

// Start begins reading commands and forwarding player events.
func (cio *CommandIO) Start() error {
	if cio.started {
		cio.logger.Warn("Command I/O already active, cannot start again")
		return errors.New("transport: already started")
	}
	cio.started = true

	go cio.readLoop()
	go cio.forwardPositionUpdates(cio.registry.SubscribeToPositionUpdates())
	go cio.forwardPlaybackErrors(cio.registry.SubscribeToPlaybackErrors())

	cio.logger.Info("Command I/O started")

	return nil
}

// Stop signals the read loop to terminate after its current line.
func (cio *CommandIO) Stop() {
	if !cio.started {
		cio.logger.Debug("No active command loop to stop")
		return
	}

	cio.logger.Debug("Stopping command loop")
	close(cio.stopChannel)
}

// readLoop reads request lines until EOF or stop. A malformed line is
// logged and skipped; it must not kill the loop.
func (cio *CommandIO) readLoop() {
	scanner := bufio.NewScanner(cio.in)

	for scanner.Scan() {
		select {
		case <-cio.stopChannel:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cio.processLine(line)
	}

	if err := scanner.Err(); err != nil {
		cio.logger.Warnw("Failed to read from command stream", "error", err)
	}
}

// processLine parses a single request line, dispatches it, and writes the
// response.
func (cio *CommandIO) processLine(line string) {
	var request commandRequest
	if err := json.Unmarshal([]byte(line), &request); err != nil {
		cio.logger.Warnw("Skipping malformed request line", "line", line, "error", err)
		return
	}

	if request.Command == "" {
		cio.writeLine(commandResponse{ID: request.ID, Error: "missing command name"})
		return
	}

	result, err := cio.registry.Dispatch(context.Background(), request.Command, request.Params)
	if err != nil {
		cio.writeLine(commandResponse{ID: request.ID, Error: fmt.Sprintf("command %q failed: %v", request.Command, err)})
		return
	}

	cio.writeLine(commandResponse{ID: request.ID, Result: result})
}

func (cio *CommandIO) forwardPositionUpdates(ch chan PositionUpdate) {
	for update := range ch {
		cio.writeLine(eventEnvelope{
			Event:    eventKindPosition,
			PlayerID: update.PlayerID,
			Value:    update.PositionMS,
		})
	}
}

func (cio *CommandIO) forwardPlaybackErrors(ch chan PlaybackError) {
	for playbackError := range ch {
		cio.writeLine(eventEnvelope{
			Event:    eventKindError,
			PlayerID: playbackError.PlayerID,
			Value:    playbackError.Detail,
		})
	}
}

// writeLine serializes one object per line; responses and events share the
// output stream, so writes are serialized.
func (cio *CommandIO) writeLine(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		cio.logger.Errorw("Failed to serialize outbound line", "error", err)
		return
	}

	cio.writeLock.Lock()
	defer cio.writeLock.Unlock()

	if _, err := fmt.Fprintf(cio.out, "%s\n", payload); err != nil {
		cio.logger.Warnw("Failed to write to command stream", "error", err)
	}
}
