package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Cache and database paths
	CacheDir   string `mapstructure:"cache-dir"`
	LedgerPath string `mapstructure:"ledger-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Image source
	IndexURL string `mapstructure:"index-url"`

	// Optional S3 mirror; empty bucket disables it
	MirrorBucket string `mapstructure:"mirror-bucket"`
	MirrorRegion string `mapstructure:"mirror-region"`
	MirrorPrefix string `mapstructure:"mirror-prefix"`

	// Cache and device limits
	RequiredFreeBytes uint64 `mapstructure:"required-free-bytes"`
	MinDeviceSize     uint64 `mapstructure:"min-device-size"`
	MaxDeviceSize     uint64 `mapstructure:"max-device-size"`

	// Flashing
	BlockSize int `mapstructure:"block-size"`

	// Boot partition wait
	MountSettle   time.Duration `mapstructure:"mount-settle"`
	MountInterval time.Duration `mapstructure:"mount-interval"`
	MountMaxWait  time.Duration `mapstructure:"mount-max-wait"`

	// Boot verification
	BootMarkers []string `mapstructure:"boot-markers"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("cache-dir", "/var/cache/sdflash")
	viper.SetDefault("ledger-path", "/var/cache/sdflash/ledger.db")
	viper.SetDefault("fsm-db-path", "/var/cache/sdflash/fsm.db")
	viper.SetDefault("index-url", "https://downloads.raspberrypi.com/raspios_lite_arm64/images/")
	viper.SetDefault("mirror-bucket", "")
	viper.SetDefault("mirror-region", "us-east-1")
	viper.SetDefault("mirror-prefix", "")
	viper.SetDefault("required-free-bytes", uint64(10)*1024*1024*1024)
	viper.SetDefault("min-device-size", uint64(1)*1024*1024*1024)
	viper.SetDefault("max-device-size", uint64(512)*1024*1024*1024)
	viper.SetDefault("block-size", 4*1024*1024)
	viper.SetDefault("mount-settle", 2*time.Second)
	viper.SetDefault("mount-interval", 1*time.Second)
	viper.SetDefault("mount-max-wait", 30*time.Second)
	viper.SetDefault("boot-markers", []string{"config.txt", "cmdline.txt", "start.elf", "bootcode.bin"})
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (SDFLASH_CACHE_DIR, etc.)
	viper.SetEnvPrefix("SDFLASH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.sdflash")

	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.IndexURL == "" {
		return fmt.Errorf("index-url cannot be empty")
	}
	if c.MinDeviceSize == 0 || c.MaxDeviceSize == 0 {
		return fmt.Errorf("device size bounds must be positive")
	}
	if c.MinDeviceSize >= c.MaxDeviceSize {
		return fmt.Errorf("min-device-size must be below max-device-size")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block-size must be positive")
	}
	if c.MountInterval <= 0 || c.MountMaxWait <= 0 {
		return fmt.Errorf("mount wait durations must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
