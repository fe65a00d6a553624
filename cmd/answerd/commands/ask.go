package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/answerd/answerd/internal/chat"
	"github.com/answerd/answerd/internal/logging"
	"github.com/answerd/answerd/internal/provider"
)

// NewAskCmd constructs the `answerd ask` command, which runs the full
// pipeline once for a single question and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the grounded answer",
		Long: `Ask a single natural language question.

The question is embedded, matched against the configured vector store, and
answered by the model with the retrieved passages as grounding context.
With --top-k 0 retrieval is skipped and the model answers alone.

Examples:
  answerd ask "what is the refund policy?"
  answerd ask --top-k 8 "how do I rotate the signing keys?"
  QDRANT_HOST=localhost answerd ask "who approves vendor contracts?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			retriever, _, closeRetriever, err := buildRetriever(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeRetriever()

			// An explicit --top-k 0 is honoured; the env var / default only
			// apply when the flag is absent.
			topK := flagIntOrEnv(cmd, "top-k", "ANSWERD_TOP_K")
			dispatcher, err := chat.NewDispatcher(chatModel, retriever, topK)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise dispatcher: %w", err)
			}

			answer, err := dispatcher.Answer(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer)
			return nil
		},
	}

	cmd.Flags().IntP("top-k", "k", chat.DefaultTopK, "Number of documents to retrieve (0 disables retrieval)")

	return cmd
}
