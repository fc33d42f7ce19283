package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tgflix/internal/app"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tgflix: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tgflix",
		Short: "Token-gated file delivery bot",
		Long: `tgflix serves files from a Telegram archive channel to users who periodically pass
a shortened-link verification, and indexes new archive uploads into a public catalog.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				_ = os.Setenv("TGFLIX_CONFIG", configPath)
			}
		},
		// без подкоманды — как serve
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), app.Components{Bot: true, Gate: true})
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default config/config.yaml or $TGFLIX_CONFIG)")
	cmd.AddCommand(
		newRunCmd("serve", "Run bot, gate, ingestion worker and schedulers", app.Components{Bot: true, Gate: true}),
		newRunCmd("bot", "Run bot, ingestion worker and schedulers without the gate", app.Components{Bot: true}),
		newRunCmd("gate", "Run only the verification gate HTTP server", app.Components{Gate: true}),
		newMigrateCmd(),
	)
	return cmd
}

func newRunCmd(use, short string, comps app.Components) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), comps)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded SQL migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate()
		},
	}
}
