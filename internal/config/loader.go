package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper points v at the configuration file and environment variables.
// If configFile is empty, it searches for tenantguard.yaml/.yml in standard
// locations. The search requires an explicit YAML extension so the binary
// itself is never matched.
func InitViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// Without search paths ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig tolerates.
		v.SetConfigName("tenantguard")
		v.SetConfigType("yaml")
	}

	// Environment variable support: TENANTGUARD_SERVER_HTTP_ADDR
	v.SetEnvPrefix("TENANTGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindNestedEnvKeys(v)
}

// findConfigFile searches standard locations for a tenantguard config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".tenantguard"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "tenantguard"))
		}
	} else {
		paths = append(paths, "/etc/tenantguard")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for tenantguard.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tenantguard"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so that, for example,
// TENANTGUARD_STORAGE_DSN overrides storage.dsn.
func bindNestedEnvKeys(v *viper.Viper) {
	_ = v.BindEnv("log_level")
	_ = v.BindEnv("dev_mode")

	_ = v.BindEnv("server.http_addr")

	_ = v.BindEnv("storage.driver")
	_ = v.BindEnv("storage.dsn")

	_ = v.BindEnv("policy.contexts_file")
	_ = v.BindEnv("policy.default_audit_level")

	_ = v.BindEnv("audit.output")

	_ = v.BindEnv("retention.enabled")
	_ = v.BindEnv("retention.interval")
	_ = v.BindEnv("retention.default_days")
	_ = v.BindEnv("retention.parallelism")
	// Note: retention.tenants is an array, use the config file for it

	_ = v.BindEnv("tracing.enabled")
}

// LoadConfig reads the configuration, applies defaults and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg, err := LoadConfigRaw(v)
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !v.IsSet("retention.enabled") {
		cfg.Retention.Enabled = true
	}
	return &cfg, nil
}
