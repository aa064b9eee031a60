package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

type askOptions struct {
	topK     int
	followUp bool
	stream   bool
	asJSON   bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the digital twin one question",
		Long: `Ask one question and print the answer.

Examples:
  # Plain answer
  digitaltwin ask "What programming languages do you know?"

  # Stream the answer as it is generated
  digitaltwin ask --stream "Tell me about your thesis"

  # Full result with sources, follow-up question and usage
  digitaltwin ask --json --follow-up "What did you build at university?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logQuiet)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if opts.stream {
				return streamAnswer(cmd, a.service, query, opts)
			}

			res, err := a.service.QueryWithResponse(ctx, query, rag.QueryOptions{
				TopK:             opts.topK,
				GenerateFollowUp: opts.followUp,
			})
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printAnswer(out, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.topK, "top-k", 0, "number of profile facts to retrieve (default retrieval.top_k)")
	cmd.Flags().BoolVar(&opts.followUp, "follow-up", false, "also suggest a follow-up question")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	cmd.MarkFlagsMutuallyExclusive("stream", "json")
	return cmd
}

func printAnswer(out io.Writer, res *rag.QueryResult) {
	fmt.Fprintln(out, res.Response)
	if res.FollowUpQuestion != "" {
		fmt.Fprintf(out, "\n%s\n", res.FollowUpQuestion)
	}
	fmt.Fprintf(out, "\n(%d sources, %d tokens, $%.5f)\n",
		len(res.SearchResults), res.UsageStats.TotalTokens, res.UsageStats.Cost)
}

// streamAnswer prints chunks as they arrive. Follow-ups are not generated
// on the streaming path.
func streamAnswer(cmd *cobra.Command, svc *rag.Service, query string, opts askOptions) error {
	out := cmd.OutOrStdout()
	var sources int
	return svc.StreamQuery(cmd.Context(), query, rag.QueryOptions{TopK: opts.topK}, func(ev rag.Event) error {
		switch ev.Type {
		case rag.EventSearchResults:
			sources = len(ev.Results)
		case rag.EventChunk:
			_, err := io.WriteString(out, ev.Content)
			return err
		case rag.EventComplete:
			fmt.Fprintf(out, "\n\n(%d sources)\n", sources)
		}
		return nil
	})
}
