// Package commands defines all Cobra CLI commands for the dbrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/dataplane-ai/dbrag-go/internal/audit"
	"github.com/dataplane-ai/dbrag-go/internal/config"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dbrag",
		Short: "dbrag — ask your distributed SQL platform questions in plain language",
		Long: `dbrag answers natural language questions about a distributed SQL data
platform by retrieving indexed schema metadata, data lineage, log summaries,
and metric summaries, then generating grounded answers with an LLM.

A single question can span several concerns ("show the schema and any recent
errors for orders") — dbrag detects every intent and answers each one from
its own slice of the knowledge base.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.dbrag/config.yaml).
See 'dbrag --help' for available commands.`,
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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.dbrag/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewRcaCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
