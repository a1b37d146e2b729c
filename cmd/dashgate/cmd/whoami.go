package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/dashgate/internal/client"
	"github.com/Sentinel-Gate/dashgate/internal/domain/events"
	"github.com/Sentinel-Gate/dashgate/internal/domain/profile"
)

var (
	whoamiJSON     bool
	whoamiWatch    bool
	whoamiInterval time.Duration
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user and profile",
	Long: `Show the user and profile of the locally stored session.

The stored session is checked first. A session that cannot be used is
cleared from every storage surface and the login URL is printed.

With --watch the command keeps running: the session is refreshed in the
background every --interval and each auth state change is printed until
interrupted, or until repeated auth errors reset the session.

Examples:
  # Show the current user
  dashgate whoami

  # Keep the session fresh and follow its changes
  dashgate whoami --watch --interval 30s`,
	RunE: runWhoami,
}

func init() {
	whoamiCmd.Flags().BoolVar(&whoamiJSON, "json", false, "print the result as JSON")
	whoamiCmd.Flags().BoolVar(&whoamiWatch, "watch", false, "keep refreshing the session and print auth state changes")
	whoamiCmd.Flags().DurationVar(&whoamiInterval, "interval", time.Minute, "background refresh interval for --watch")
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	env, err := openClient(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	if env.runtime.CheckStartup(cmd.Context()) {
		fmt.Fprintf(out, "Stored session was unusable and has been cleared.\nSign in again: %s\n", env.runtime.NavigatedTo())
		return nil
	}

	res := env.runtime.Profiles().GetCurrent(cmd.Context())
	if target := env.runtime.NavigatedTo(); target != "" {
		fmt.Fprintf(out, "Session recovery ran after repeated auth errors.\nSign in again: %s\n", target)
		return nil
	}

	if whoamiJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printCurrent(out, res)
	}
	if !whoamiWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()
	return watchSession(ctx, out, env.runtime, whoamiInterval)
}

func printCurrent(out io.Writer, res profile.Result) {
	if res.User == nil {
		fmt.Fprintln(out, "Not signed in.")
		return
	}
	fmt.Fprintf(out, "User:  %s (%s)\n", res.User.Email, res.User.ID)
	if res.Profile == nil {
		fmt.Fprintln(out, "Role:  unknown (no profile)")
		return
	}
	fmt.Fprintf(out, "Name:  %s\n", res.Profile.Name)
	fmt.Fprintf(out, "Role:  %s\n", res.Profile.Role)
}

// watchSession keeps rt's session fresh and prints every auth state change
// until ctx ends or the runtime navigates away.
func watchSession(ctx context.Context, out io.Writer, rt *client.Runtime, interval time.Duration) error {
	var mu sync.Mutex
	unsubscribe := rt.Events().Subscribe(func(_ context.Context, ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, formatEvent(time.Now(), ev))
	})
	defer unsubscribe()

	rt.StartAutoRefresh(interval)
	mu.Lock()
	fmt.Fprintf(out, "Watching session, refreshing every %s. Press Ctrl+C to stop.\n", interval)
	mu.Unlock()

	select {
	case <-ctx.Done():
		return nil
	case <-rt.Done():
	}
	mu.Lock()
	defer mu.Unlock()
	if target := rt.NavigatedTo(); target != "" {
		fmt.Fprintf(out, "Session recovery ran after repeated auth errors.\nSign in again: %s\n", target)
	}
	return nil
}

func formatEvent(at time.Time, ev events.Event) string {
	line := at.Format(time.RFC3339) + "  " + string(ev.Type)
	if ev.UserID != "" {
		line += "  user=" + ev.UserID
	}
	return line
}
