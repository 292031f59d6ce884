// Package audioplayers provides a multiplexed audio-session manager: one
// logical player per caller-supplied identifier, each mapped onto a native
// playback primitive, with playback events relayed outward keyed by player
// identifier.
package audioplayers

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jyardin/audioplayers/pkg/audioplayers/util"
)

// Audioplayers manages the main application components.
type Audioplayers struct {
	logger      *zap.SugaredLogger
	notifier    Notifier
	config      *CanonicalConfig
	registry    *Registry
	commandIO   *CommandIO
	stopChannel chan bool
	version     string
	verbose     bool
}

// NewAudioplayers creates a new Audioplayers instance.
func NewAudioplayers(logger *zap.SugaredLogger, verbose bool) (*Audioplayers, error) {
	logger = logger.Named("audioplayers")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create notifier", "error", err)
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create configuration", "error", err)
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	a := &Audioplayers{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Audioplayers instance created successfully")
	return a, nil
}

// Initialize prepares components and starts running the application.
func (a *Audioplayers) Initialize() error {
	a.logger.Debug("Initializing audioplayers")
	defer a.recoverFromPanic()

	if err := a.config.Load(); err != nil {
		a.logger.Errorw("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	factory := NewBeepMediaFactory(a.logger, a.config.PositionUpdateInterval)
	a.registry = NewRegistry(a.logger, factory, a.config.PlayerDefaults())
	a.setupOnConfigReload()

	commandIO, err := NewCommandIO(a.registry, a.logger, os.Stdin, os.Stdout)
	if err != nil {
		a.logger.Errorw("Failed to create command I/O", "error", err)
		return fmt.Errorf("failed to create command I/O: %w", err)
	}
	a.commandIO = commandIO

	a.setupInterruptHandler()
	a.run()

	return nil
}

// SetVersion sets the application version for logging purposes.
func (a *Audioplayers) SetVersion(version string) {
	a.version = version
}

// Verbose indicates whether the application runs in verbose mode.
func (a *Audioplayers) Verbose() bool {
	return a.verbose
}

// Registry exposes the player registry, mainly for embedding callers that
// bring their own transport.
func (a *Audioplayers) Registry() *Registry {
	return a.registry
}

// setupOnConfigReload applies reloaded settings to players created from
// then on; existing players keep the state they were built with.
func (a *Audioplayers) setupOnConfigReload() {
	configReloadedChannel := a.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			a.logger.Info("Detected config reload, applying new player defaults")
			a.registry.UpdateDefaults(a.config.PlayerDefaults())
		}
	}()
}

func (a *Audioplayers) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		a.logger.Debugw("Interrupt received", "signal", signal)
		a.signalStop()
	}()
}

func (a *Audioplayers) run() {
	a.logger.Info("Run loop starting")

	go a.config.WatchConfigFileChanges()

	go func() {
		if err := a.commandIO.Start(); err != nil {
			a.logger.Errorw("Failed to start command I/O", "error", err)
			a.signalStop()
		}
	}()

	<-a.stopChannel
	a.logger.Debug("Stop signal received")

	if err := a.stop(); err != nil {
		a.logger.Warnw("Error during shutdown", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func (a *Audioplayers) signalStop() {
	a.logger.Debug("Sending stop signal")
	a.stopChannel <- true
}

func (a *Audioplayers) stop() error {
	a.logger.Info("Shutting down audioplayers")

	a.config.StopWatchingConfigFile()
	a.commandIO.Stop()

	a.logger.Sync()
	return nil
}
