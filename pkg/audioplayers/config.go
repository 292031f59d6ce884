package audioplayers

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jyardin/audioplayers/pkg/audioplayers/util"
)

// CanonicalConfig provides centralized access to configuration fields
type CanonicalConfig struct {
	DefaultVolume          float64
	DefaultReleaseMode     ReleaseMode
	PositionUpdateInterval time.Duration
	EventBufferSize        int

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan struct{}

	reloadConsumers []chan bool

	userConfig *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName = "config"
	userConfigPath = "."

	configType = "yaml"

	configKeyDefaultVolume          = "default_volume"
	configKeyDefaultReleaseMode     = "default_release_mode"
	configKeyPositionUpdateInterval = "position_update_interval_ms"
	configKeyEventBufferSize        = "event_buffer_size"

	defaultVolume                   = 1.0
	defaultReleaseModeName          = "release"
	defaultPositionUpdateIntervalMS = 200
	defaultEventBufferSize          = 16

	// Media backends tick at this interval at the fastest; anything lower
	// floods consumers without adding useful resolution.
	minimumPositionUpdateIntervalMS = 50
)

// NewConfig initializes the configuration manager
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    make([]chan bool, 0),
		stopWatcherChannel: make(chan struct{}),
	}

	cc.initializeViperInstances()
	logger.Debug("Created configuration instance")

	return cc, nil
}

// initializeViperInstances sets up the user config with its defaults
func (cc *CanonicalConfig) initializeViperInstances() {
	cc.userConfig = initializeViper(userConfigName, userConfigPath, map[string]interface{}{
		configKeyDefaultVolume:          defaultVolume,
		configKeyDefaultReleaseMode:     defaultReleaseModeName,
		configKeyPositionUpdateInterval: defaultPositionUpdateIntervalMS,
		configKeyEventBufferSize:        defaultEventBufferSize,
	})
}

// initializeViper creates and configures a Viper instance
func initializeViper(name, path string, defaults map[string]interface{}) *viper.Viper {
	config := viper.New()
	config.SetConfigName(name)
	config.SetConfigType(configType)
	config.AddConfigPath(path)

	for key, value := range defaults {
		config.SetDefault(key, value)
	}

	return config
}

// Load reads and validates the configuration file. A missing file is not
// fatal: defaults apply and the user gets notified once.
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading user configuration", "path", userConfigFilepath)

	if !util.FileExists(userConfigFilepath) {
		cc.handleMissingConfig()
		return cc.populateFromViper()
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		return cc.handleConfigError("user config", err)
	}

	return cc.populateFromViper()
}

// SubscribeToChanges allows external components to receive a notification
// whenever the configuration successfully reloads
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges watches the user config file for changes and
// reloads it when written to, notifying reload subscribers
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cc.logger.Warnw("Failed to create filesystem watcher", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(userConfigPath); err != nil {
		cc.logger.Warnw("Failed to watch config directory", "error", err)
		return
	}

	for {
		select {
		case event := <-watcher.Events:
			if !strings.HasSuffix(event.Name, userConfigFilepath) || !event.Has(fsnotify.Write) {
				continue
			}

			now := time.Now()
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).After(now) {
				continue
			}
			lastAttemptedReload = now

			// editors commonly write in bursts; give the file a moment to settle
			time.Sleep(delayBetweenEventAndReload)

			cc.logger.Info("Config file modified, reloading")

			if err := cc.Load(); err != nil {
				cc.logger.Warnw("Failed to reload config file", "error", err)
				continue
			}

			for _, consumer := range cc.reloadConsumers {
				consumer <- true
			}

		case err := <-watcher.Errors:
			cc.logger.Warnw("Filesystem watcher error", "error", err)

		case <-cc.stopWatcherChannel:
			cc.logger.Debug("Stopping user config file watcher")
			return
		}
	}
}

// StopWatchingConfigFile signals the config watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- struct{}{}
}

// PlayerDefaults returns the initial state applied to new players
func (cc *CanonicalConfig) PlayerDefaults() PlayerDefaults {
	return PlayerDefaults{
		Volume:          cc.DefaultVolume,
		ReleaseMode:     cc.DefaultReleaseMode,
		EventBufferSize: cc.EventBufferSize,
	}
}

// handleMissingConfig notifies the user of missing configuration
func (cc *CanonicalConfig) handleMissingConfig() {
	cc.logger.Warnw("Configuration file not found, using defaults", "path", userConfigFilepath)
	cc.notifier.Notify("Missing configuration!", fmt.Sprintf(
		"%s not found next to the executable, continuing with defaults.", userConfigFilepath))
}

// handleConfigError processes errors during config file loading
func (cc *CanonicalConfig) handleConfigError(configName string, err error) error {
	cc.logger.Warnw("Failed to load configuration", "config", configName, "error", err)

	if strings.Contains(err.Error(), "yaml:") {
		cc.notifier.Notify("Invalid configuration format!",
			"Ensure the YAML file is properly formatted.")
	} else {
		cc.notifier.Notify("Error loading configuration!", "Check logs for more details.")
	}
	return fmt.Errorf("read %s: %w", configName, err)
}

// populateFromViper reads configuration fields into structured fields
func (cc *CanonicalConfig) populateFromViper() error {
	cc.DefaultVolume = util.ClampScalar(cc.userConfig.GetFloat64(configKeyDefaultVolume))
	cc.DefaultReleaseMode = cc.validateReleaseMode(cc.userConfig.GetString(configKeyDefaultReleaseMode))
	cc.PositionUpdateInterval = cc.validatePositionUpdateInterval(cc.userConfig.GetInt(configKeyPositionUpdateInterval))
	cc.EventBufferSize = cc.validateEventBufferSize(cc.userConfig.GetInt(configKeyEventBufferSize))

	cc.logger.Debugw("Configuration populated successfully", "config", cc)
	return nil
}

// validateReleaseMode parses the configured release mode, returning the
// default if invalid
func (cc *CanonicalConfig) validateReleaseMode(name string) ReleaseMode {
	mode, err := ParseReleaseMode(name)
	if err != nil {
		cc.logger.Warnw("Invalid release mode specified, using default",
			"invalidValue", name,
			"defaultValue", defaultReleaseModeName)
		return ReleaseModeRelease
	}
	return mode
}

// validatePositionUpdateInterval checks for a sane interval, returning a
// default if invalid
func (cc *CanonicalConfig) validatePositionUpdateInterval(intervalMS int) time.Duration {
	if intervalMS < minimumPositionUpdateIntervalMS {
		cc.logger.Warnw("Position update interval too low, using default",
			"invalidValue", intervalMS,
			"defaultValue", defaultPositionUpdateIntervalMS)
		intervalMS = defaultPositionUpdateIntervalMS
	}
	return time.Duration(intervalMS) * time.Millisecond
}

// validateEventBufferSize checks for a valid buffer size, returning a
// default if invalid
func (cc *CanonicalConfig) validateEventBufferSize(size int) int {
	if size <= 0 {
		cc.logger.Warnw("Invalid event buffer size, using default",
			"invalidValue", size,
			"defaultValue", defaultEventBufferSize)
		return defaultEventBufferSize
	}
	return size
}

func (cc *CanonicalConfig) String() string {
	return fmt.Sprintf("<config: volume=%.2f, releaseMode=%s, positionInterval=%s, eventBuffer=%d>",
		cc.DefaultVolume, cc.DefaultReleaseMode, cc.PositionUpdateInterval, cc.EventBufferSize)
}
