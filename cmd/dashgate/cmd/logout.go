package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutAll bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the local session",
	Long: `Revoke the stored session at the auth backend and remove it locally.

A failed revocation is logged and the local session is removed anyway.

Optional flags:
  --all   Also clear every other key of the auth namespace (cookies,
          local storage, session storage), the same sweep recovery runs

Examples:
  # Sign out
  dashgate logout

  # Sign out and sweep leftover auth state
  dashgate logout --all`,
	RunE: runLogout,
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "also clear every key of the auth namespace")
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	env, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.runtime.SignOut(cmd.Context()); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Signed out.")

	if logoutAll {
		removed := env.runtime.Store().ClearAll(cmd.Context())
		fmt.Fprintf(out, "  Removed %d other auth state key(s)\n", removed)
	}
	return nil
}
