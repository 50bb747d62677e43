package commands

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dataplane-ai/dbrag-go/internal/answer"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
	"github.com/dataplane-ai/dbrag-go/internal/provider"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
)

// NewAskCmd constructs the `dbrag ask` command, which answers a single
// natural language question about the platform and prints the result.
func NewAskCmd() *cobra.Command {
	var cluster, keyspace, table string
	var topK, maxTokens int
	var temperature float32
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your data platform",
		Long: `Ask a natural language question about schema, lineage, logs, or metrics.

A question can span several concerns at once; each detected intent is
answered from its own slice of the knowledge base and the sections are
merged into one response.

Examples:
  dbrag ask "what columns does the orders table have?"
  dbrag ask --cluster prod-west "any errors in the last 24 hours?"
  dbrag ask "show the schema and p99 latency for user_events"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			orchestrator, _, _, closeStore, err := buildOrchestrator(ctx, chatModel, prometheus.NewRegistry(), log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeStore()

			question := strings.Join(args, " ")
			result := orchestrator.AskWith(ctx, question, rewrite.EntityParams{
				Cluster:  cluster,
				Keyspace: keyspace,
				Table:    table,
			}, answer.AskOptions{
				TopK:           topK,
				TotalMaxTokens: maxTokens,
				Temperature:    temperature,
			})

			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)

			if verbose {
				names := make([]string, 0, len(result.Intents))
				for _, in := range result.Intents {
					names = append(names, in.Name)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "\nintents: %s\nconfidence: %.2f\nretrieval: %dms, generation: %dms\n",
					strings.Join(names, ", "), result.Confidence, result.RetrievalMs, result.GenerationMs)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", "", "Cluster scope for the question")
	cmd.Flags().StringVar(&keyspace, "keyspace", "", "Keyspace scope for the question")
	cmd.Flags().StringVar(&table, "table", "", "Table scope for the question")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Candidates retrieved per intent (0 = configured default)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Total response token budget (0 = configured default)")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "Model temperature (0 = configured default)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print detected intents and timings to stderr")

	return cmd
}
