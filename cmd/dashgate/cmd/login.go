package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

var (
	loginEmail         string
	loginPasswordStdin bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and persist the session locally",
	Long: `Sign in to the auth backend with email and password.

The session is written to the local storage file and mirrored into the
session cookie, so whoami and logout can use it later.

Examples:
  # Prompt for the password
  dashgate login --email admin@example.com

  # Read the password from stdin
  echo "$PASSWORD" | dashgate login --email admin@example.com --password-stdin`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	if !loginPasswordStdin {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	}
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	env, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	session, err := env.runtime.SignIn(cmd.Context(), loginEmail, password)
	if err != nil {
		var be *auth.BackendError
		if errors.As(err, &be) && !auth.IsTransient(err) {
			return fmt.Errorf("sign-in rejected: %s", be.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Signed in as %s\n", session.User.Email)
	fmt.Fprintf(out, "  Session expires: %s\n", session.ExpiresAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "  Stored in:       %s\n", env.local.Path())
	return nil
}

// readPassword reads one line from r without the trailing newline.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
