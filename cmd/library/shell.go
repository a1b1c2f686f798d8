package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"SmartLibrary/internal/config"
	"SmartLibrary/internal/library"
	"SmartLibrary/internal/shell"
	"SmartLibrary/pkg/kit"
)

func newShellCmd(configPath *string) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Browse and add books interactively in the terminal",
		Long: `Starts a local session with the seeded catalog. Type "help" for commands.
The catalog lives only as long as the shell does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			level := cfg.LogLevel
			if !verbose {
				level = "warn"
			}
			log, err := kit.NewLogger(service, level)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			log.Debug("shell session started", zap.String("default_category", library.DefaultCategory.String()))

			sh := shell.New(library.NewSession(), cmd.OutOrStdout(), log)
			return sh.Run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at the configured level instead of warn")
	return cmd
}
