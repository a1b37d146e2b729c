package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
)

var (
	auditUser  string
	auditEvent string
	auditSince time.Duration
	auditLimit int
	auditJSON  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `List recorded sign-in, sign-out, denial and recovery events, newest first.

Requires audit.output to be a sqlite:// database.

Examples:
  # Last 20 denials
  dashgate audit --event access.denied --limit 20

  # Everything one user did in the last day
  dashgate audit --user 6f1c... --since 24h`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditUser, "user", "", "only records of this user ID")
	auditCmd.Flags().StringVar(&auditEvent, "event", "", "only records of this event type")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only records newer than this (e.g. 1h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum number of records (max 1000)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print records as JSON lines")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(cfg.Audit.Output, "sqlite://") {
		return fmt.Errorf("audit queries need a sqlite:// audit output, got %q", cfg.Audit.Output)
	}

	store, err := sqlite.Open(cmd.Context(), sqlite.DSN(cfg.Audit.Output))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := audit.Filter{
		Event:  audit.EventType(auditEvent),
		UserID: auditUser,
		Limit:  auditLimit,
	}
	if auditSince > 0 {
		filter.Since = time.Now().Add(-auditSince)
	}
	records, err := store.Query(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("query audit trail: %w", err)
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		enc := json.NewEncoder(out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tUSER\tEMAIL\tIP\tREASON")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Event, r.UserID, r.Email, r.RemoteIP, r.Reason)
	}
	return tw.Flush()
}
