package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

// minPasswordLength matches the auth backend's default policy.
const minPasswordLength = 6

var passwdPasswordStdin bool

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the signed-in user's password",
	Long: `Set a new password for the user of the locally stored session.

The stored session is refreshed first when it is about to expire. The
session stays valid after the change.

Examples:
  # Prompt for the new password
  dashgate passwd

  # Read the new password from stdin
  echo "$NEW_PASSWORD" | dashgate passwd --password-stdin`,
	RunE: runPasswd,
}

func init() {
	passwdCmd.Flags().BoolVar(&passwdPasswordStdin, "password-stdin", false, "read the new password from stdin")
	rootCmd.AddCommand(passwdCmd)
}

func runPasswd(cmd *cobra.Command, args []string) error {
	if !passwdPasswordStdin {
		fmt.Fprint(cmd.ErrOrStderr(), "New password: ")
	}
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := checkNewPassword(password); err != nil {
		return err
	}

	env, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	user, err := env.runtime.UpdatePassword(cmd.Context(), password)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return errors.New("not signed in: run 'dashgate login' first")
		}
		var be *auth.BackendError
		if errors.As(err, &be) && !auth.IsTransient(err) {
			return fmt.Errorf("password change rejected: %s", be.Message)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %s\n", user.Email)
	return nil
}

func checkNewPassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}
