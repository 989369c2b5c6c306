// Package config provides configuration types for tenantguard.
//
// Configuration comes from a tenantguard.yaml file and TENANTGUARD_*
// environment variables. Every field is optional: an empty configuration
// runs the core on in-memory storage with default-deny policy.
package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration.
type Config struct {
	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode enables development features (verbose logging, tracing).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// Server configures the ops HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage selects the entity and audit backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Policy configures where policy contexts come from.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Audit configures the audit mirror of the memory backend.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Retention configures the periodic audit retention sweep.
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`

	// Tracing configures OpenTelemetry spans.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ServerConfig configures the ops HTTP server (/healthz, /metrics).
type ServerConfig struct {
	// HTTPAddr is the address to listen on.
	// Defaults to "127.0.0.1:9090" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres". Defaults to "memory".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=memory sqlite postgres"`

	// DSN is the driver connection string. For sqlite it is a file path
	// (empty means an in-memory database); postgres requires it.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// PolicyConfig configures policy context storage.
type PolicyConfig struct {
	// ContextsFile is a JSON file of stored policy contexts. When set it
	// replaces the storage backend as the context source.
	ContextsFile string `yaml:"contexts_file" mapstructure:"contexts_file"`

	// DefaultAuditLevel applies to tenants without any stored context.
	// Valid values: "BASIC", "FULL". Defaults to "FULL".
	DefaultAuditLevel string `yaml:"default_audit_level" mapstructure:"default_audit_level" validate:"omitempty,oneof=BASIC FULL"`
}

// AuditConfig configures where the memory backend mirrors audit events.
type AuditConfig struct {
	// Output is "stdout" or "file:///absolute/path". Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`
}

// FilePath returns the mirror file path when Output is a file URL.
func (c AuditConfig) FilePath() (string, bool) {
	if !strings.HasPrefix(c.Output, "file://") {
		return "", false
	}
	return strings.TrimPrefix(c.Output, "file://"), true
}

// RetentionConfig configures the retention scheduler.
type RetentionConfig struct {
	// Enabled starts the scheduler with "serve". Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Interval between sweeps (e.g., "24h"). Defaults to "24h".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`

	// DefaultDays applies to listed tenants without explicit days.
	// Defaults to 90.
	DefaultDays int `yaml:"default_days" mapstructure:"default_days" validate:"omitempty,min=1"`

	// Parallelism bounds concurrent tenant runs in a sweep. Defaults to 4.
	Parallelism int `yaml:"parallelism" mapstructure:"parallelism" validate:"omitempty,min=1,max=64"`

	// Tenants lists tenants to sweep. A tenant-scope stored context with
	// retention_days adds or overrides entries.
	Tenants []TenantRetentionConfig `yaml:"tenants" mapstructure:"tenants" validate:"omitempty,dive"`
}

// IntervalDuration parses Interval. Invalid values fall back to 24h;
// Validate rejects them before this is reached.
func (c RetentionConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// TenantRetentionConfig is one configured tenant.
type TenantRetentionConfig struct {
	TenantID string `yaml:"tenant_id" mapstructure:"tenant_id" validate:"required"`
	// Days is the retention period. 0 uses RetentionConfig.DefaultDays.
	Days int `yaml:"days" mapstructure:"days" validate:"omitempty,min=1"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	// Enabled exports spans to stderr.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDevDefaults applies development defaults. No-op unless DevMode is set.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.LogLevel = "debug"
	c.Tracing.Enabled = true
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only. Network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}

	if c.Policy.DefaultAuditLevel == "" {
		c.Policy.DefaultAuditLevel = "FULL"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}

	if c.Retention.Interval == "" {
		c.Retention.Interval = "24h"
	}
	if c.Retention.DefaultDays == 0 {
		c.Retention.DefaultDays = 90
	}
	if c.Retention.Parallelism == 0 {
		c.Retention.Parallelism = 4
	}
}
