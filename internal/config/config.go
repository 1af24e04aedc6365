// Package config defines service configuration and its layered loading.
package config

import (
	"errors"
	"time"
)

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

const (
	StorageJSON     = "json"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// Environment selects the log format: "local" (text) or anything else (JSON).
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Addr        string `koanf:"addr" validate:"required"`

	// StorageMode picks the IST event repository.
	StorageMode string `koanf:"storage_mode" validate:"oneof=json sqlite postgres"`
	EventsFile  string `koanf:"events_file" validate:"required_if=StorageMode json"`
	SQLitePath  string `koanf:"sqlite_path" validate:"required_if=StorageMode sqlite"`
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=StorageMode postgres"`

	// ISTServiceURL is the base URL of the extraction service.
	ISTServiceURL  string        `koanf:"ist_service_url" validate:"omitempty,url"`
	MockExtraction bool          `koanf:"mock_extraction"`
	HTTPTimeout    time.Duration `koanf:"http_timeout" validate:"gt=0"`
	// MaxRetryTime bounds retries of a failing extraction; 0 disables them.
	MaxRetryTime time.Duration `koanf:"max_retry_time" validate:"gte=0"`
	// HistoryLimit bounds the recent IST events sent as extraction context.
	HistoryLimit int `koanf:"history_limit" validate:"gte=0"`

	ReportMaxSkills    int     `koanf:"report_max_skills" validate:"gte=0"`
	ReportGapThreshold float64 `koanf:"report_gap_threshold" validate:"gte=0"`

	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Environment:        "local",
		LogLevel:           "info",
		Addr:               ":8080",
		StorageMode:        StorageJSON,
		EventsFile:         "data/ist/events.json",
		SQLitePath:         "data/ist/events.db",
		ISTServiceURL:      "http://localhost:8000",
		HTTPTimeout:        25 * time.Second,
		MaxRetryTime:       45 * time.Second,
		HistoryLimit:       5,
		ReportMaxSkills:    10,
		ReportGapThreshold: 0.02,
		CacheTTL:           5 * time.Minute,
		CacheSize:          256,
	}
}
