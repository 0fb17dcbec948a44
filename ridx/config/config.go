package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/root-indexer/ridx"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Indexer    IndexerConfig    `mapstructure:"indexer"`
	Visibility VisibilityConfig `mapstructure:"visibility"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
}

// IndexerConfig stores crawl and scheduling settings.
type IndexerConfig struct {
	CacheDir                string         `mapstructure:"cacheDir"`
	Workers                 int            `mapstructure:"workers"`
	DetectDeletedFiles      bool           `mapstructure:"detectDeletedFiles"`
	SegmentsSaveDelayMillis int            `mapstructure:"segmentsSaveDelayMillis"`
	Binaries                BinariesConfig `mapstructure:"binaries"`
}

// BinariesConfig controls the binary root work pool.
type BinariesConfig struct {
	MinProcessors      int  `mapstructure:"minProcessors"`
	DisableConcurrency bool `mapstructure:"disableConcurrency"`
}

// VisibilityConfig stores ignore-rule settings.
type VisibilityConfig struct {
	DebounceMillis int      `mapstructure:"debounceMillis"`
	CacheSize      int      `mapstructure:"cacheSize"`
	IgnoreFile     string   `mapstructure:"ignoreFile"`
	Excludes       []string `mapstructure:"excludes"`
}

// WatcherConfig toggles filesystem listening.
type WatcherConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig stores index database details.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SegmentsSaveDelay returns the debounce window for segments table writes
func (c IndexerConfig) SegmentsSaveDelay() time.Duration {
	return time.Duration(c.SegmentsSaveDelayMillis) * time.Millisecond
}

// Debounce returns the visibility reconciliation window
func (c VisibilityConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// StoreDSN returns the configured DSN or a file inside the cache directory
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	return "file:" + filepath.Join(c.Indexer.CacheDir, internal.DefaultStoreFileName)
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("indexer.cacheDir", internal.DefaultCacheDir)
	v.SetDefault("indexer.workers", runtime.NumCPU())
	v.SetDefault("indexer.detectDeletedFiles", true)
	v.SetDefault("indexer.segmentsSaveDelayMillis", 500)
	v.SetDefault("indexer.binaries.minProcessors", 4)
	v.SetDefault("indexer.binaries.disableConcurrency", false)

	v.SetDefault("visibility.debounceMillis", 1000)
	v.SetDefault("visibility.cacheSize", 10000)
	v.SetDefault("visibility.ignoreFile", internal.DefaultIgnoreFileName)
	v.SetDefault("visibility.excludes", []string{})

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("store.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Default returns the configuration that results from defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are well-formed, decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // indexer.cacheDir becomes RIDX_INDEXER_CACHEDIR

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Indexer.Workers <= 0 {
		cfg.Indexer.Workers = runtime.NumCPU()
	}

	return &cfg, nil
}
