package audioplayers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/spf13/cast"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// Command names recognized by the dispatcher.
const (
	CommandSetURL             = "setUrl"
	CommandPlay               = "play"
	CommandPause              = "pause"
	CommandStop               = "stop"
	CommandResume             = "resume"
	CommandRelease            = "release"
	CommandSetVolume          = "setVolume"
	CommandSeek               = "seek"
	CommandGetDuration        = "getDuration"
	CommandGetCurrentPosition = "getCurrentPosition"
	CommandSetReleaseMode     = "setReleaseMode"
)

var knownCommands = []string{
	CommandSetURL,
	CommandPlay,
	CommandPause,
	CommandStop,
	CommandResume,
	CommandRelease,
	CommandSetVolume,
	CommandSeek,
	CommandGetDuration,
	CommandGetCurrentPosition,
	CommandSetReleaseMode,
}

// ackResult is returned by commands that carry no other result.
const ackResult = int64(1)

// PositionUpdate is an outbound position event tagged with the player that
// produced it. Positions are whole milliseconds.
type PositionUpdate struct {
	PlayerID   string
	PositionMS int64
}

// PlaybackError is an outbound native-error event tagged with the player
// that produced it.
type PlaybackError struct {
	PlayerID string
	Detail   string
}

// Registry owns the mapping from player identifier to Player, translates
// inbound commands into player operations, and fans player events back out
// tagged with the originating player id. The map grows monotonically: an
// identifier, once seen, always resolves to the same Player (release resets
// a player but never removes it).
type Registry struct {
	logger   *zap.SugaredLogger
	factory  MediaFactory
	defaults PlayerDefaults

	lock    sync.Mutex
	players map[string]*Player

	consumersLock     sync.Mutex
	positionConsumers []chan PositionUpdate
	errorConsumers    []chan PlaybackError
}

// NewRegistry creates an empty player registry. New players are built with
// the given media factory and defaults.
func NewRegistry(logger *zap.SugaredLogger, factory MediaFactory, defaults PlayerDefaults) *Registry {
	logger = logger.Named("registry")

	r := &Registry{
		logger:   logger,
		factory:  factory,
		defaults: defaults,
		players:  make(map[string]*Player),
	}

	logger.Debug("Created player registry instance")

	return r
}

// GetOrCreate returns the player for the given id, creating an empty one
// (no source, defaults applied) on first reference. Creation is idempotent:
// repeated calls with the same id return the same Player. Event forwarding
// for a newly created player starts immediately and is owned per player, so
// every concurrently playing player delivers its events.
func (r *Registry) GetOrCreate(id string) *Player {
	r.lock.Lock()
	defer r.lock.Unlock()

	if player, ok := r.players[id]; ok {
		return player
	}

	player := newPlayer(id, r.logger, r.factory, r.defaults)
	r.players[id] = player

	go r.forwardPositionUpdates(id, player.SubscribeToPositionUpdates())
	go r.forwardPlaybackErrors(id, player.SubscribeToPlaybackErrors())

	r.logger.Debugw("Registered new player", "playerID", id)

	return player
}

// LoadAndPrepare resolves the player for id and ensures url is loaded and
// ready. If the player's current source already equals url it is returned
// immediately without re-preparing. Any load or prepare failure is wrapped
// into a PlayerInitError identifying the player.
func (r *Registry) LoadAndPrepare(ctx context.Context, id string, url string) (*Player, error) {
	player := r.GetOrCreate(id)

	if player.Source() == url {
		return player, nil
	}

	if err := player.SetSource(url); err != nil {
		return nil, &PlayerInitError{PlayerID: id, Err: err}
	}

	if err := player.Prepare(ctx); err != nil {
		return nil, &PlayerInitError{PlayerID: id, Err: err}
	}

	return player, nil
}

// Dispatch translates an inbound named command plus a parameter bundle into
// one player operation, keyed by the mandatory playerId parameter.
// Unrecognized commands fail with an UnsupportedOperationError; they never
// silently succeed. Durations and positions cross this boundary as whole
// milliseconds.
func (r *Registry) Dispatch(ctx context.Context, command string, params map[string]interface{}) (interface{}, error) {
	if !funk.ContainsString(knownCommands, command) {
		r.logger.Warnw("Rejected unsupported command", "command", command)
		return nil, &UnsupportedOperationError{Command: command}
	}

	id, err := stringParam(params, "playerId")
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", command, err)
	}

	switch command {
	case CommandSetURL:
		url, err := stringParam(params, "url")
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		if _, err := r.LoadAndPrepare(ctx, id, url); err != nil {
			return nil, err
		}

		return ackResult, nil

	case CommandPlay:
		url, err := stringParam(params, "url")
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		volume, err := floatParam(params, "volume", 1.0)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		positionMS, err := optionalIntParam(params, "position", 0)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		player, err := r.LoadAndPrepare(ctx, id, url)
		if err != nil {
			return nil, err
		}

		player.SetVolume(volume)

		if err := player.Start(millisToSeconds(positionMS)); err != nil {
			return nil, err
		}

		return ackResult, nil

	case CommandPause:
		r.GetOrCreate(id).Pause()
		return ackResult, nil

	case CommandStop:
		r.GetOrCreate(id).Stop()
		return ackResult, nil

	case CommandResume:
		if err := r.GetOrCreate(id).Resume(); err != nil {
			return nil, err
		}
		return ackResult, nil

	case CommandRelease:
		r.GetOrCreate(id).Release()
		return ackResult, nil

	case CommandSetVolume:
		volume, err := floatParam(params, "volume", 1.0)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		r.GetOrCreate(id).SetVolume(volume)
		return ackResult, nil

	case CommandSeek:
		positionMS, err := requiredIntParam(params, "position")
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		r.GetOrCreate(id).Seek(millisToSeconds(positionMS))
		return ackResult, nil

	case CommandGetDuration:
		return secondsToMillis(r.GetOrCreate(id).Duration()), nil

	case CommandGetCurrentPosition:
		return secondsToMillis(r.GetOrCreate(id).CurrentPosition()), nil

	case CommandSetReleaseMode:
		rawMode, err := stringParam(params, "releaseMode")
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		mode, err := ParseReleaseMode(rawMode)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", command, err)
		}

		r.GetOrCreate(id).SetReleaseMode(mode)
		return ackResult, nil
	}

	// Unreachable: the membership check above covers every known command.
	return nil, &UnsupportedOperationError{Command: command}
}

// UpdateDefaults replaces the defaults applied to players created from now
// on. Existing players are unaffected.
func (r *Registry) UpdateDefaults(defaults PlayerDefaults) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.defaults = defaults
}

func (r *Registry) eventBufferSize() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.defaults.EventBufferSize
}

// SubscribeToPositionUpdates allows listeners to subscribe to position
// events from every player, each tagged with its player id.
func (r *Registry) SubscribeToPositionUpdates() chan PositionUpdate {
	ch := make(chan PositionUpdate, r.eventBufferSize())

	r.consumersLock.Lock()
	r.positionConsumers = append(r.positionConsumers, ch)
	r.consumersLock.Unlock()

	return ch
}

// SubscribeToPlaybackErrors allows listeners to subscribe to native
// playback errors from every player, each tagged with its player id.
func (r *Registry) SubscribeToPlaybackErrors() chan PlaybackError {
	ch := make(chan PlaybackError, r.eventBufferSize())

	r.consumersLock.Lock()
	r.errorConsumers = append(r.errorConsumers, ch)
	r.consumersLock.Unlock()

	return ch
}

func (r *Registry) String() string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return fmt.Sprintf("<%d players>", len(r.players))
}

// forwardPositionUpdates runs for the life of the process; players are never
// removed from the registry, so their forwarding goroutines never exit.
func (r *Registry) forwardPositionUpdates(id string, ch chan float64) {
	for seconds := range ch {
		update := PositionUpdate{PlayerID: id, PositionMS: secondsToMillis(seconds)}

		r.consumersLock.Lock()
		for _, consumer := range r.positionConsumers {
			select {
			case consumer <- update:
			default:
			}
		}
		r.consumersLock.Unlock()
	}
}

func (r *Registry) forwardPlaybackErrors(id string, ch chan string) {
	for detail := range ch {
		playbackError := PlaybackError{PlayerID: id, Detail: detail}
		r.logger.Warnw("Forwarding native playback error", "playerID", id, "detail", detail)

		r.consumersLock.Lock()
		for _, consumer := range r.errorConsumers {
			select {
			case consumer <- playbackError:
			default:
			}
		}
		r.consumersLock.Unlock()
	}
}

func millisToSeconds(ms int64) float64 {
	return float64(ms) / 1000.0
}

func secondsToMillis(seconds float64) int64 {
	return int64(math.Round(seconds * 1000.0))
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}

	value, err := cast.ToStringE(raw)
	if err != nil || value == "" {
		return "", fmt.Errorf("invalid value for parameter %q: %v", key, raw)
	}

	return value, nil
}

func floatParam(params map[string]interface{}, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}

	value, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value for parameter %q: %v", key, raw)
	}

	return value, nil
}

func optionalIntParam(params map[string]interface{}, key string, fallback int64) (int64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}

	value, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value for parameter %q: %v", key, raw)
	}

	return value, nil
}

func requiredIntParam(params map[string]interface{}, key string) (int64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter %q", key)
	}

	value, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid value for parameter %q: %v", key, raw)
	}

	return value, nil
}
