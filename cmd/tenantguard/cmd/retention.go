package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tenantguard/internal/service"
)

var (
	retentionTenant string
	retentionDays   int
	retentionDryRun bool
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply audit retention",
}

var retentionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Delete audit events older than the retention period",
	Long: `Delete audit events older than the retention period and print the results.

Without --tenant, every tenant of the retention plan is swept (configured
tenants plus tenant-scope contexts that set retention_days).

Examples:
  # Preview what a 30-day policy would remove for one tenant
  tenantguard retention run --tenant t1 --days 30 --dry-run

  # Sweep the configured plan
  tenantguard retention run`,
	RunE: runRetention,
}

func init() {
	retentionRunCmd.Flags().StringVar(&retentionTenant, "tenant", "", "tenant id (default: sweep the plan)")
	retentionRunCmd.Flags().IntVar(&retentionDays, "days", 0, "retention days for --tenant (default: retention.default_days)")
	retentionRunCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "count matching events without deleting")

	retentionCmd.AddCommand(retentionRunCmd)
	rootCmd.AddCommand(retentionCmd)
}

func runRetention(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if retentionTenant != "" {
		days := retentionDays
		if days == 0 {
			days = a.cfg.Retention.DefaultDays
		}
		result, err := a.retention.Run(ctx, retentionTenant, days, retentionDryRun)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), []service.RetentionResult{result})
	}

	plan, err := a.planner.Plan(ctx)
	if err != nil {
		return err
	}
	results, err := a.retention.Sweep(ctx, plan, a.cfg.Retention.Parallelism, retentionDryRun)
	if results == nil {
		results = []service.RetentionResult{}
	}
	if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil {
		return werr
	}
	return err
}
