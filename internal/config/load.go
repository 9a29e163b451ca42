package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "ATTENDANCE_SYNC"

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.base_url", "http://localhost:8000")
	v.SetDefault("portal.shift_upsert_path", "/worker/shift-upsert/")
	v.SetDefault("portal.history_path", "/api/v1/worker/attendance-history/")
	v.SetDefault("portal.health_path", "/")
	v.SetDefault("portal.session_cookie", "sessionid")
	v.SetDefault("portal.session_id", "")
	v.SetDefault("portal.csrf_token", "")
	v.SetDefault("portal.timeout", "")

	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "attendance-sync.db")
	v.SetDefault("state_storage.host", "")
	v.SetDefault("state_storage.port", 3306)
	v.SetDefault("state_storage.user", "")
	v.SetDefault("state_storage.password", "")
	v.SetDefault("state_storage.database", "attendance_sync")
	v.SetDefault("state_storage.uri", "")
	v.SetDefault("state_storage.collection", "offline_kv")

	v.SetDefault("sync.worker_id", "")
	v.SetDefault("sync.retention_days", 7)
	v.SetDefault("sync.probe_interval", "15s")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 5m")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads path (if it exists) on top of the defaults, then applies
// ATTENDANCE_SYNC_* environment overrides, e.g. ATTENDANCE_SYNC_PORTAL_BASE_URL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return errors.New("portal.base_url is required")
	}
	if c.Sync.RetentionDays < 1 {
		return fmt.Errorf("sync.retention_days must be at least 1, got %d", c.Sync.RetentionDays)
	}
	switch c.StateStorage.Type {
	case "memory", "sqlite", "mysql", "mongo":
	default:
		return fmt.Errorf("unsupported state_storage.type %q", c.StateStorage.Type)
	}
	return nil
}
