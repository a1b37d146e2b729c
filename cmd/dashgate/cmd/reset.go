package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/dashgate/internal/config"
	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

var (
	resetIncludeAudit bool
	resetForce        bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all persisted auth state",
	Long: `Remove every key of the auth namespace from the local storage file.

Keys outside the namespace (the cookie prefix, "sb-" by default) are kept,
so unrelated settings stored next to the session survive. The server is
not contacted: use logout to also revoke the session.

Optional flags:
  --include-audit   Also remove the audit log file or database
  --force           Skip confirmation prompt

Examples:
  # Reset auth state (interactive confirmation)
  dashgate reset

  # Reset everything without prompting
  dashgate reset --include-audit --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove the audit log file or database")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	// Validation is skipped: reset must work with a broken config.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	logger := newLogger(cfg, os.Stderr)
	ctx := cmd.Context()

	path := resolveStoragePath(cfg)
	store := authstate.NewStore(cfg.Auth.CookiePrefix, logger, state.NewLocalStorage(path, logger))

	keys := make([]string, 0)
	for key := range store.ListKeys(ctx) {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var auditPaths []string
	if resetIncludeAudit {
		if p := auditPath(cfg.Audit.Output); p != "" {
			for _, candidate := range []string{p, p + "-wal", p + "-shm"} {
				if _, err := os.Stat(candidate); err == nil {
					auditPaths = append(auditPaths, candidate)
				}
			}
		}
	}

	if len(keys) == 0 && len(auditPaths) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset: no auth state found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, key := range keys {
		fmt.Fprintf(os.Stderr, "  - %s (auth state in %s)\n", key, path)
	}
	for _, p := range auditPaths {
		fmt.Fprintf(os.Stderr, "  - %s (audit log)\n", p)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	removed := store.ClearAll(ctx)
	fmt.Fprintf(os.Stderr, "  Removed %d auth state key(s)\n", removed)

	var errors int
	for _, p := range auditPaths {
		if err := os.Remove(p); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", p, err)
			errors++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", p)
		}
	}
	if errors > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errors)
	}
	if removed < len(keys) {
		return fmt.Errorf("%d auth state key(s) could not be removed", len(keys)-removed)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. Sign in again with: dashgate login")
	return nil
}

// auditPath returns the file behind a file:// or sqlite:// audit output.
func auditPath(output string) string {
	if strings.HasPrefix(output, "sqlite://") {
		return parseFileURI("file://" + strings.TrimPrefix(output, "sqlite://"))
	}
	return parseFileURI(output)
}
