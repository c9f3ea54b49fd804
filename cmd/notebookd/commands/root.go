// Package commands defines all Cobra CLI commands for the notebookd binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/notebookd/notebookd/internal/config"
	"github.com/notebookd/notebookd/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notebookd",
		Short: "notebookd — a local-first notebook server for document Q&A",
		Long: `notebookd organises documents into notebooks, indexes them into a Qdrant
vector store, and answers questions against each notebook's corpus using the
LLM and embedding providers the notebook was created with.

Service settings come from a YAML config file (~/.notebookd/config.yaml) or
environment variables; env vars always win. Each notebook declares its own
model providers at creation time.
See 'notebookd --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A .env file next to the binary is a convenient place for API
			// keys during local development. Missing file is not an error.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			if _, err := config.Load(configPath, log); err != nil {
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.notebookd/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewDiagnoseCmd(),
		NewVersionCmd(),
	)

	return root
}
