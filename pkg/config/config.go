// Package config loads service configuration from a YAML file with
// environment-variable overrides declared through `env` struct tags.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/zots0127/tempstore/pkg/types"
)

const (
	defaultTotalQuota  = 5 * 1024 * 1024 * 1024 // 5 GiB
	defaultMaxFileSize = 100 * 1024 * 1024      // 100 MiB
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Quota   QuotaConfig   `yaml:"quota" json:"quota"`
	Expiry  ExpiryConfig  `yaml:"expiry" json:"expiry"`
	Cleanup CleanupConfig `yaml:"cleanup" json:"cleanup"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host" json:"host" env:"SERVER_HOST"`
	Port string `yaml:"port" json:"port" env:"SERVER_PORT"`
}

// StorageConfig holds object-storage configuration for the delete capability
type StorageConfig struct {
	Bucket        string        `yaml:"bucket" json:"bucket" env:"STORAGE_BUCKET"`
	Region        string        `yaml:"region" json:"region" env:"STORAGE_REGION"`
	Endpoint      string        `yaml:"endpoint" json:"endpoint" env:"STORAGE_ENDPOINT"`
	DeleteTimeout time.Duration `yaml:"delete_timeout" json:"delete_timeout" env:"STORAGE_DELETE_TIMEOUT"`
	// Enabled selects the S3 implementation; when false a no-op client
	// is wired so deletes only touch the registry.
	Enabled bool `yaml:"enabled" json:"enabled" env:"STORAGE_ENABLED"`
}

// QuotaConfig holds the defaults applied to users seen for the first time
type QuotaConfig struct {
	TotalQuota           int64   `yaml:"total_quota" json:"total_quota" env:"QUOTA_TOTAL_BYTES"`
	MaxFileSize          int64   `yaml:"max_file_size" json:"max_file_size" env:"QUOTA_MAX_FILE_SIZE"`
	MaxConcurrentUploads int     `yaml:"max_concurrent_uploads" json:"max_concurrent_uploads" env:"QUOTA_MAX_CONCURRENT_UPLOADS"`
	WarningThreshold     float64 `yaml:"warning_threshold" json:"warning_threshold" env:"QUOTA_WARNING_THRESHOLD"`
}

// ExpiryConfig holds file and session expiry defaults
type ExpiryConfig struct {
	DefaultFileHours    int `yaml:"default_file_hours" json:"default_file_hours" env:"EXPIRY_DEFAULT_FILE_HOURS"`
	DefaultSessionHours int `yaml:"default_session_hours" json:"default_session_hours" env:"EXPIRY_DEFAULT_SESSION_HOURS"`
}

// CleanupConfig holds janitor scheduling, policy seeding and history settings
type CleanupConfig struct {
	// Schedule is a cron expression; the scheduled sweep runs with an
	// empty CleanupRequest, same entry point as manual triggers.
	Schedule string `yaml:"schedule" json:"schedule" env:"CLEANUP_SCHEDULE"`
	// HistoryDB is the SQLite file for sweep reports. Empty disables history.
	HistoryDB string `yaml:"history_db" json:"history_db" env:"CLEANUP_HISTORY_DB"`
	// PruneExpiredSessions removes expired sessions with no remaining
	// member files after each sweep. Off by default: sessions are
	// retained as audit records.
	PruneExpiredSessions bool                  `yaml:"prune_expired_sessions" json:"prune_expired_sessions" env:"CLEANUP_PRUNE_SESSIONS"`
	Policies             []types.CleanupPolicy `yaml:"policies" json:"policies"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path" json:"path" env:"METRICS_PATH"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Storage: StorageConfig{
			Bucket:        "tempstore-uploads",
			Region:        "us-east-1",
			DeleteTimeout: 10 * time.Second,
			Enabled:       false,
		},
		Quota: QuotaConfig{
			TotalQuota:           defaultTotalQuota,
			MaxFileSize:          defaultMaxFileSize,
			MaxConcurrentUploads: 5,
			WarningThreshold:     80,
		},
		Expiry: ExpiryConfig{
			DefaultFileHours:    24,
			DefaultSessionHours: 24,
		},
		Cleanup: CleanupConfig{
			Schedule:  "@hourly",
			HistoryDB: "./cleanup_history.db",
			Policies:  DefaultPolicies(),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DefaultPolicies returns the policies seeded when the config file
// declares none.
func DefaultPolicies() []types.CleanupPolicy {
	return []types.CleanupPolicy{
		{
			ID:          "expired-files",
			Name:        "Expired files",
			Description: "Remove files that expired or failed",
			IsActive:    true,
			Priority:    1,
			Conditions: types.PolicyConditions{
				MaxAgeHours: 0,
				Statuses:    []types.FileStatus{types.StatusExpired, types.StatusFailed},
			},
			Actions: types.PolicyActions{DeleteFile: true, LogEvent: true},
		},
		{
			ID:          "old-completed-files",
			Name:        "Old completed files",
			Description: "Remove completed files older than one week",
			IsActive:    true,
			Priority:    2,
			Conditions: types.PolicyConditions{
				MaxAgeHours: 168,
				Statuses:    []types.FileStatus{types.StatusCompleted},
			},
			Actions: types.PolicyActions{DeleteFile: true, NotifyUser: true, LogEvent: true},
		},
	}
}

// Load reads configuration from path (falling back to defaults when the
// file is absent) and applies environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = "config.yaml"
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
		}
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(reflect.ValueOf(config).Elem()); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if len(config.Cleanup.Policies) == 0 {
		config.Cleanup.Policies = DefaultPolicies()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	if c.Quota.TotalQuota <= 0 {
		return fmt.Errorf("quota.total_quota must be positive, got %d", c.Quota.TotalQuota)
	}
	if c.Quota.MaxFileSize <= 0 {
		return fmt.Errorf("quota.max_file_size must be positive, got %d", c.Quota.MaxFileSize)
	}
	if c.Quota.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("quota.max_concurrent_uploads must be positive, got %d", c.Quota.MaxConcurrentUploads)
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold > 100 {
		return fmt.Errorf("quota.warning_threshold must be in (0,100], got %v", c.Quota.WarningThreshold)
	}
	if c.Expiry.DefaultFileHours <= 0 {
		return fmt.Errorf("expiry.default_file_hours must be positive, got %d", c.Expiry.DefaultFileHours)
	}
	if c.Expiry.DefaultSessionHours <= 0 {
		return fmt.Errorf("expiry.default_session_hours must be positive, got %d", c.Expiry.DefaultSessionHours)
	}
	if c.Storage.DeleteTimeout <= 0 {
		return fmt.Errorf("storage.delete_timeout must be positive, got %v", c.Storage.DeleteTimeout)
	}
	if c.Cleanup.Schedule == "" {
		return fmt.Errorf("cleanup.schedule must not be empty")
	}
	return nil
}

// applyEnv recursively applies env-tagged overrides to struct fields
func applyEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			if field.Kind() == reflect.Struct {
				if err := applyEnv(field); err != nil {
					return err
				}
			}
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setField parses an environment string into a config field
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
			return nil
		}
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64:
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%g", &floatValue); err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		lower := strings.ToLower(value)
		field.SetBool(lower == "true" || lower == "1" || lower == "yes" || lower == "on")
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}
