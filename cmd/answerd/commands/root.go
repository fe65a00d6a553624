// Package commands defines all Cobra CLI commands for the answerd binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/answerd/answerd/internal/audit"
	"github.com/answerd/answerd/internal/config"
	"github.com/answerd/answerd/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "answerd",
		Short: "answerd — grounded question answering over your documents",
		Long: `answerd answers natural language questions grounded in your own documents.

Each question is embedded, matched against a vector store of reference text,
and the retrieved passages are injected into the model prompt so the answer
sticks to what your documents actually say. Questions can be asked one-shot
from the CLI or served over HTTP with both a synchronous endpoint and an
asynchronous submit-and-poll job queue.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.answerd/config.yaml).
See 'answerd --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.answerd/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
