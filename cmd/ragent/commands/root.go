// Package commands defines all Cobra CLI commands for the ragent binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragent-go/internal/audit"
	"github.com/54b3r/ragent-go/internal/config"
	"github.com/54b3r/ragent-go/internal/logging"
)

// rootFlags holds the persistent flag values.
type rootFlags struct {
	// configPath is the --config YAML override.
	configPath string
	// envFile is the --env-file dotenv override.
	envFile string
}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "ragent",
		Short: "Agentic RAG question answering over your document corpus",
		Long: `ragent answers questions over an indexed document corpus.

Each question is routed, planned into tool steps (retrieve, calculate,
budget_analyst), executed with reflection and bounded replanning, and answered
from the gathered evidence. Sessions keep a small memory of extracted figures
so follow-up questions can reuse them.

Settings come from the environment, a .env file (--env-file) and a YAML config
file (--config, RAGENT_CONFIG, ~/.ragent/config.yaml or ./ragent.yaml).
Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootstrap := slog.Default()

			if _, err := config.LoadEnvFile(flags.envFile, bootstrap); err != nil {
				return err
			}
			path, err := config.Load(flags.configPath, bootstrap)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may come from either file.
			log := logging.New()
			slog.SetDefault(log)
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to YAML config file (default: ~/.ragent/config.yaml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to a dotenv file (default: ./.env when present)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewIndexCmd(),
		NewVersionCmd(),
	)

	return root
}
