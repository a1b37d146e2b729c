// Package cmd provides the CLI commands for dashgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/config"
)

var cfgFile string
var storagePath string

var rootCmd = &cobra.Command{
	Use:   "dashgate",
	Short: "dashgate - admin dashboard session gate",
	Long: `dashgate guards an admin dashboard behind a hosted auth backend.

It validates the session cookie of every request, refreshes expiring
sessions, admits only privileged roles and forwards allowed requests to
the dashboard upstream with the viewer identity attached.

Quick start:
  1. Create a config file: dashgate.yaml
  2. Run: dashgate start

Configuration:
  Config is loaded from dashgate.yaml in the current directory,
  $HOME/.dashgate/, or /etc/dashgate/.

  Environment variables can override config values with the DASHGATE_ prefix.
  Example: DASHGATE_BACKEND_URL=https://abcdefgh.supabase.co

Commands:
  start       Start the gate server
  stop        Stop the running server
  login       Sign in and persist the session locally
  whoami      Show the signed-in user and profile (--watch keeps it fresh)
  logout      Sign out and clear the local session
  passwd      Change the signed-in user's password
  reset       Clear all persisted auth state
  config      Print the effective configuration
  audit       Query the audit trail
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dashgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "path to the local session storage file (default: ~/.dashgate/storage.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
