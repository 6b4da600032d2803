// Package config loads runtime configuration from the environment and an
// optional config file via Viper.
package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/provender/shelfsync/pkg/errors"
)

// Config is the full runtime configuration.
type Config struct {
	// Storage
	DatabasePath string `mapstructure:"database_path"`
	BlobRoot     string `mapstructure:"blob_root"`

	Source SourceConfig `mapstructure:"source"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Sched  SchedConfig  `mapstructure:"sched"`
	Server ServerConfig `mapstructure:"server"`
}

// SourceConfig carries the collection table credentials and coordinates.
type SourceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	AppID         string        `mapstructure:"app_id"`
	AppSecret     string        `mapstructure:"app_secret"`
	AppToken      string        `mapstructure:"app_token"`
	TableID       string        `mapstructure:"table_id"`
	PageSize      int           `mapstructure:"page_size"`
	DownloadDelay time.Duration `mapstructure:"download_delay"`
}

// SyncConfig tunes run behavior.
type SyncConfig struct {
	IngestConcurrency int `mapstructure:"ingest_concurrency"`
	RunHistory        int `mapstructure:"run_history"`
}

// SchedConfig binds the recurring triggers.
type SchedConfig struct {
	Incremental   string        `mapstructure:"incremental"`
	Full          string        `mapstructure:"full"`
	Images        string        `mapstructure:"images"`
	Validation    string        `mapstructure:"validation"`
	TimeZone      string        `mapstructure:"time_zone"`
	StaleRunAfter time.Duration `mapstructure:"stale_run_after"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from SHELFSYNC_* environment variables and, when
// present, a shelfsync.yaml config file in the working directory.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SHELFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	v.SetDefault("database_path", "data/shelfsync.db")
	v.SetDefault("blob_root", "data/objects")
	v.SetDefault("source.base_url", "https://open.feishu.cn")
	v.SetDefault("source.app_id", "")
	v.SetDefault("source.app_secret", "")
	v.SetDefault("source.app_token", "")
	v.SetDefault("source.table_id", "")
	v.SetDefault("source.page_size", 500)
	v.SetDefault("source.download_delay", 500*time.Millisecond)
	v.SetDefault("sync.ingest_concurrency", 4)
	v.SetDefault("sync.run_history", 50)
	v.SetDefault("sched.incremental", "")
	v.SetDefault("sched.full", "")
	v.SetDefault("sched.images", "")
	v.SetDefault("sched.validation", "")
	v.SetDefault("sched.time_zone", "")
	v.SetDefault("sched.stale_run_after", time.Hour)
	v.SetDefault("server.listen_addr", ":8080")

	v.SetConfigName("shelfsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("config", "failed to parse configuration", err)
	}
	return &cfg, nil
}

// GetString reads a key from the environment directly, for values that must
// bypass the config file (secrets injected at deploy time).
func GetString(key string) string {
	return os.Getenv(key)
}
