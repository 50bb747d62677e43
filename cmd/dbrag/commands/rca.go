package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dataplane-ai/dbrag-go/internal/logging"
	"github.com/dataplane-ai/dbrag-go/internal/provider"
	"github.com/dataplane-ai/dbrag-go/internal/rca"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
)

// NewRcaCmd constructs the `dbrag rca` command, which runs root-cause
// analysis over the documents retrieved for a question and prints the
// resulting signals, root cause, and recommended fixes as JSON.
func NewRcaCmd() *cobra.Command {
	var cluster, keyspace, table string

	cmd := &cobra.Command{
		Use:   "rca [question]",
		Short: "Run root-cause analysis for a platform incident question",
		Long: `Retrieve the documents relevant to an incident question and run the
deterministic root-cause pipeline over them: detect error, anomaly, and
threshold-violation signals, rank them by correlation with the question,
and derive a root cause with recommended fixes.

Examples:
  dbrag rca "why are writes to orders timing out?"
  dbrag rca --cluster prod-west "what caused the latency spike this morning?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("rca: failed to initialise model provider: %w", err)
			}

			orchestrator, _, _, closeStore, err := buildOrchestrator(ctx, chatModel, prometheus.NewRegistry(), log)
			if err != nil {
				return fmt.Errorf("rca: %w", err)
			}
			defer closeStore()

			question := strings.Join(args, " ")
			candidates, _ := orchestrator.Collect(ctx, question, rewrite.EntityParams{
				Cluster:  cluster,
				Keyspace: keyspace,
				Table:    table,
			})

			result := rca.NewPipeline().Analyze(ctx, question, candidates)

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("rca: failed to encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", "", "Cluster scope for the question")
	cmd.Flags().StringVar(&keyspace, "keyspace", "", "Keyspace scope for the question")
	cmd.Flags().StringVar(&table, "table", "", "Table scope for the question")

	return cmd
}
