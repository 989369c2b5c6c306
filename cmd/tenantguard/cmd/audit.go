package cmd

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/audit"
)

var (
	exportTenant  string
	exportSince   string
	exportAction  string
	exportActor   string
	exportOutcome string
	exportLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit events as JSON lines",
	Long: `Export a tenant's audit events, oldest first, one JSON object per line.

Examples:
  # Denials of the last day
  tenantguard audit export --tenant t1 --since 24h --outcome DENY`,
	RunE: runAuditExport,
}

func init() {
	auditExportCmd.Flags().StringVar(&exportTenant, "tenant", "", "tenant id")
	auditExportCmd.Flags().StringVar(&exportSince, "since", "", "lower bound: duration (24h) or RFC 3339 time")
	auditExportCmd.Flags().StringVar(&exportAction, "action", "", "filter by action")
	auditExportCmd.Flags().StringVar(&exportActor, "actor", "", "filter by actor id")
	auditExportCmd.Flags().StringVar(&exportOutcome, "outcome", "", "filter by outcome (ALLOW or DENY)")
	auditExportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum number of events (0 = all)")
	_ = auditExportCmd.MarkFlagRequired("tenant")

	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	since, err := parseSince(exportSince, time.Now())
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.auditLog.Query(cmd.Context(), audit.Filter{
		TenantID: exportTenant,
		Action:   exportAction,
		ActorID:  exportActor,
		Outcome:  audit.Outcome(exportOutcome),
		Since:    since,
		Limit:    exportLimit,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
