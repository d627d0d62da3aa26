package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/casesync/internal/api"
	"github.com/matheus3301/casesync/internal/session"
)

var (
	sessionFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "casectl",
	Short:         "Control a running casesyncd session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withClient dials the session daemon and runs fn with a bounded context.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	sessionName := session.Resolve(sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
