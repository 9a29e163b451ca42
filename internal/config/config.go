package config

import (
	"time"
)

type Config struct {
	Portal       PortalConfig    `mapstructure:"portal"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

// PortalConfig points at the remote worker portal whose endpoints we consume.
type PortalConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	ShiftUpsertPath string `mapstructure:"shift_upsert_path"`
	HistoryPath     string `mapstructure:"history_path"`
	HealthPath      string `mapstructure:"health_path"`
	SessionCookie   string `mapstructure:"session_cookie"`
	SessionID       string `mapstructure:"session_id"`
	CSRFToken       string `mapstructure:"csrf_token"`
	Timeout         string `mapstructure:"timeout"`
}

// GetTimeout returns zero (no timeout) when unset or unparseable.
func (p PortalConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

type StateStorage struct {
	Type       string `mapstructure:"type"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	FilePath   string `mapstructure:"file_path"` // For SQLite
	URI        string `mapstructure:"uri"`       // For Mongo
	Collection string `mapstructure:"collection"`
}

type SyncConfig struct {
	WorkerID      string `mapstructure:"worker_id"`
	RetentionDays int    `mapstructure:"retention_days"`
	ProbeInterval string `mapstructure:"probe_interval"`
}

func (s SyncConfig) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(s.ProbeInterval)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
