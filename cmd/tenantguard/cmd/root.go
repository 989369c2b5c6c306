// Package cmd provides the CLI commands for tenantguard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/tenantguard/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tenantguard",
	Short: "tenantguard - tenant-scoped policy and audit core",
	Long: `tenantguard authorizes mutating commands against tenant policy contexts,
records every decision in an append-only audit trail and applies per-tenant
audit retention.

Quick start:
  1. Create a config file: tenantguard.yaml
  2. Apply policy contexts: tenantguard policy apply --file contexts.yaml
  3. Run: tenantguard serve

Configuration:
  Config is loaded from tenantguard.yaml in the current directory,
  $HOME/.tenantguard/, or /etc/tenantguard/.

  Environment variables can override config values with the TENANTGUARD_ prefix.
  Example: TENANTGUARD_STORAGE_DRIVER=sqlite

Commands:
  serve       Start the retention scheduler and the ops endpoints
  stop        Stop the running server
  policy      Evaluate, apply and list policy contexts
  board       Create boards
  task        Run task commands through the policy pipeline
  audit       Export audit events
  retention   Apply audit retention
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tenantguard.yaml)")
}

func initConfig() {
	config.InitViper(viper.GetViper(), cfgFile)
}

// loadConfig reads the configuration, applies the --dev override and
// validates the result.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
