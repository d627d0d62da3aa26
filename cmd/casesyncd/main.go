package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/matheus3301/casesync/internal/daemon"
	"github.com/matheus3301/casesync/internal/session"
)

var (
	sessionFlag string
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "casesyncd",
	Short:         "Run the conversation sync daemon for one session",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionName := session.Resolve(sessionFlag)
		if err := session.ValidateName(sessionName); err != nil {
			return err
		}

		app := fx.New(
			daemon.Module(daemon.Params{
				SessionName: sessionName,
				ConfigPath:  configFlag,
			}),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "config file (default ~/.casesync/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
