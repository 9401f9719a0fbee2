// Package config loads the service configuration with viper. Every key has a
// default, so a missing config file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"forks-project/models"
)

const (
	DefaultPath = "config/config.yaml"
	envPrefix   = "FORKS"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	LevelDB  LevelDBConfig  `mapstructure:"leveldb"`
	Server   ServerConfig   `mapstructure:"server"`
	Forks    ForksConfig    `mapstructure:"forks"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Replay   ReplayConfig   `mapstructure:"replay"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	AppLogFile string `mapstructure:"app_log_file"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ForksConfig struct {
	// 0 disables accounts hash calculation
	AccountsHashIntervalSlots uint64 `mapstructure:"accounts_hash_interval_slots"`
}

type SnapshotConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	IntervalSlots        uint64 `mapstructure:"interval_slots"`
	OutputPath           string `mapstructure:"output_path"`
	WorkingPath          string `mapstructure:"working_path"`
	Compression          string `mapstructure:"compression"`
	Version              string `mapstructure:"version"`
	MaxRetainedSnapshots int    `mapstructure:"max_retained_snapshots"`
	MaxRetainedArchives  int    `mapstructure:"max_retained_archives"`
	QueueSize            int    `mapstructure:"queue_size"`
}

type ReplayConfig struct {
	// 0 replays until stopped
	Slots             uint64        `mapstructure:"slots"`
	ForkEvery         uint64        `mapstructure:"fork_every"`
	ConfirmationDepth uint64        `mapstructure:"confirmation_depth"`
	SlotDuration      time.Duration `mapstructure:"slot_duration"`
	TicksPerSlot      uint64        `mapstructure:"ticks_per_slot"`
	SlotsPerEpoch     uint64        `mapstructure:"slots_per_epoch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("leveldb.path", "data/catalog")
	v.SetDefault("server.port", 8080)

	v.SetDefault("forks.accounts_hash_interval_slots", 100)

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.interval_slots", 100)
	v.SetDefault("snapshot.output_path", "data/snapshots")
	v.SetDefault("snapshot.working_path", "data/snapshots/bank")
	v.SetDefault("snapshot.compression", "zstd")
	v.SetDefault("snapshot.version", string(models.DefaultSnapshotVersion))
	v.SetDefault("snapshot.max_retained_snapshots", 300)
	v.SetDefault("snapshot.max_retained_archives", 2)
	v.SetDefault("snapshot.queue_size", 4)

	v.SetDefault("replay.slots", 0)
	v.SetDefault("replay.fork_every", 7)
	v.SetDefault("replay.confirmation_depth", 32)
	v.SetDefault("replay.slot_duration", "400ms")
	v.SetDefault("replay.ticks_per_slot", 64)
	v.SetDefault("replay.slots_per_epoch", 432000)
}

// Load reads the config file at path, applies FORKS_* environment
// overrides (FORKS_SNAPSHOT_INTERVAL_SLOTS for snapshot.interval_slots) and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) || path != DefaultPath {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.LevelDB.Path == "" {
		return errors.New("leveldb.path is required")
	}
	if c.Replay.SlotsPerEpoch == 0 {
		return errors.New("replay.slots_per_epoch must be positive")
	}
	if c.Replay.ConfirmationDepth == 0 {
		return errors.New("replay.confirmation_depth must be positive")
	}
	if c.Replay.SlotDuration < 0 {
		return fmt.Errorf("replay.slot_duration %s is negative", c.Replay.SlotDuration)
	}
	if !c.Snapshot.Enabled {
		return nil
	}
	if c.Snapshot.IntervalSlots == 0 {
		return errors.New("snapshot.interval_slots must be positive when snapshots are enabled")
	}
	if c.Snapshot.OutputPath == "" || c.Snapshot.WorkingPath == "" {
		return errors.New("snapshot.output_path and snapshot.working_path are required")
	}
	if _, err := models.ParseCompression(c.Snapshot.Compression); err != nil {
		return fmt.Errorf("snapshot.compression: %w", err)
	}
	if _, err := models.ParseSnapshotVersion(c.Snapshot.Version); err != nil {
		return fmt.Errorf("snapshot.version: %w", err)
	}
	return nil
}

// SnapshotConfig converts the snapshot section for the fork table. It
// returns nil when snapshots are disabled.
func (c *Config) SnapshotConfig() (*models.SnapshotConfig, error) {
	if !c.Snapshot.Enabled {
		return nil, nil
	}
	compression, err := models.ParseCompression(c.Snapshot.Compression)
	if err != nil {
		return nil, err
	}
	version, err := models.ParseSnapshotVersion(c.Snapshot.Version)
	if err != nil {
		return nil, err
	}
	return &models.SnapshotConfig{
		IntervalSlots:        c.Snapshot.IntervalSlots,
		OutputPath:           c.Snapshot.OutputPath,
		WorkingPath:          c.Snapshot.WorkingPath,
		Compression:          compression,
		Version:              version,
		MaxRetainedSnapshots: c.Snapshot.MaxRetainedSnapshots,
		MaxRetainedArchives:  c.Snapshot.MaxRetainedArchives,
	}, nil
}
