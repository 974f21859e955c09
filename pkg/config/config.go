// Package config handles loading and storing netplay host configuration.
//
// The file is TOML, searched in the working directory and $HOME/.talon.
// Load parses it into an immutable snapshot guarded by a read-write lock;
// Watch re-parses on disk changes and hands the old and new snapshots to a
// callback. Simulation tuning is deliberately absent from the schema:
// anything that feeds the step function is a compile-time constant, because
// peers must agree on it bit-for-bit.
package config

import (
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all host configuration values.
type Config struct {
	TickRate              int    `mapstructure:"TickRate"`
	InputDelay            int    `mapstructure:"InputDelay"`
	PredictionWindow      int    `mapstructure:"PredictionWindow"`
	DisconnectTimeoutMs   int    `mapstructure:"DisconnectTimeoutMs"`
	ChecksumInterval      int    `mapstructure:"ChecksumInterval"`
	RedundantInputs       int    `mapstructure:"RedundantInputs"`
	StateSyncBufferCap    int    `mapstructure:"StateSyncBufferCap"`
	StateSyncMaxFrameSkew int    `mapstructure:"StateSyncMaxFrameSkew"`
	SnapshotCapacity      int    `mapstructure:"SnapshotCapacity"`
	ListenAddr            string `mapstructure:"ListenAddr"`
	MetricsAddr           string `mapstructure:"MetricsAddr"`
	LogLevel              string `mapstructure:"LogLevel"`
}

var defaults = map[string]any{
	"TickRate":              60,
	"InputDelay":            2,
	"PredictionWindow":      8,
	"DisconnectTimeoutMs":   3000,
	"ChecksumInterval":      60,
	"RedundantInputs":       5,
	"StateSyncBufferCap":    4,
	"StateSyncMaxFrameSkew": 120,
	"SnapshotCapacity":      48,
	"ListenAddr":            ":8764",
	"MetricsAddr":           "",
	"LogLevel":              "info",
}

// mu guards the current snapshot; fileMu guards the backing viper instance
// and the reload callback.
var (
	mu      sync.RWMutex
	current Config

	fileMu   sync.Mutex
	file     *viper.Viper
	watching bool
	onReload func(old, new Config)
)

// Load reads the configuration file, filling gaps from the defaults, and
// installs the result as the current snapshot. A missing file is not an
// error — every field has a default. Call once at startup, before Watch.
func Load() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.talon")
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}

	fileMu.Lock()
	file = v
	fileMu.Unlock()
	Set(cfg)
	return nil
}

// Save persists the current snapshot through the backing file. A host that
// started without a configuration file gets config.toml written beside it.
func Save() error {
	fileMu.Lock()
	v := file
	fileMu.Unlock()
	if v == nil {
		return errors.New("config: Save before Load")
	}

	cfg := Get()
	v.Set("TickRate", cfg.TickRate)
	v.Set("InputDelay", cfg.InputDelay)
	v.Set("PredictionWindow", cfg.PredictionWindow)
	v.Set("DisconnectTimeoutMs", cfg.DisconnectTimeoutMs)
	v.Set("ChecksumInterval", cfg.ChecksumInterval)
	v.Set("RedundantInputs", cfg.RedundantInputs)
	v.Set("StateSyncBufferCap", cfg.StateSyncBufferCap)
	v.Set("StateSyncMaxFrameSkew", cfg.StateSyncMaxFrameSkew)
	v.Set("SnapshotCapacity", cfg.SnapshotCapacity)
	v.Set("ListenAddr", cfg.ListenAddr)
	v.Set("MetricsAddr", cfg.MetricsAddr)
	v.Set("LogLevel", cfg.LogLevel)

	err := v.WriteConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return v.WriteConfigAs("config.toml")
	}
	return err
}

// Watch arranges for callback to run with the old and new snapshots whenever
// the backing file changes on disk. The underlying file watcher starts on
// the first call and lives for the process; the returned stop function only
// detaches the callback. Watch before Load is an error.
func Watch(callback func(old, new Config)) (stop func(), err error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return nil, errors.New("config: Watch before Load")
	}

	onReload = callback
	if !watching {
		watching = true
		v := file
		v.OnConfigChange(func(fsnotify.Event) {
			reload(v)
		})
		v.WatchConfig()
	}

	return func() {
		fileMu.Lock()
		onReload = nil
		fileMu.Unlock()
	}, nil
}

// reload re-parses the changed file, swaps the snapshot, and notifies the
// attached callback. A file that no longer parses keeps the old snapshot.
func reload(v *viper.Viper) {
	var next Config
	if err := v.Unmarshal(&next); err != nil {
		logrus.WithFields(logrus.Fields{
			"system_name": "config",
		}).WithError(err).Warn("config reload failed, keeping previous values")
		return
	}

	mu.Lock()
	old := current
	current = next
	mu.Unlock()

	fileMu.Lock()
	cb := onReload
	fileMu.Unlock()
	if cb != nil {
		cb(old, next)
	}
}

// Get returns the current configuration snapshot.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the current configuration snapshot.
func Set(cfg Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}
