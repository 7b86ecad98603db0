package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragent-go/internal/agent"
	"github.com/54b3r/ragent-go/internal/logging"
)

// NewAskCmd constructs the `ragent ask` command, which answers a single
// question and prints the answer with its references.
func NewAskCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question from the indexed corpus",
		Long: `Ask the agent one question. The answer is printed followed by the
references it was grounded on.

With --session the turn joins a persisted conversation (see RAGENT_TRACE_DB),
so follow-up questions can reuse figures from earlier turns.

Examples:
  ragent ask "What was the 2023 operating margin?"
  ragent ask --session q3-review "And if marketing spend is cut by 10%?"
  ragent ask --json "Summarize the risk factors" | jq .traces`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			opts := stackOptions{persist: sessionID != ""}
			if verbose {
				opts.progress = func(stage string, ms float64, detail string) {
					fmt.Fprintf(errOut, "  %-22s %8.1fms  %s\n", stage, ms, detail)
				}
			}
			rt, err := buildStack(ctx, log, opts)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			res, err := rt.sessions.Ask(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			log.Debug("ask complete",
				slog.String("run_id", res.RunID),
				slog.String("route", string(res.Route)),
				slog.Int("rounds", res.Rounds))

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue (enables persistence)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print stage timings to stderr")

	return cmd
}

// printResult writes the answer and its references.
func printResult(cmd *cobra.Command, res *agent.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Answer)
	if len(res.References) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "References:")
		for _, line := range formatReferences(res.References) {
			fmt.Fprintln(out, "  "+line)
		}
	}
	if res.RerankerMessage != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "reranker: %s\n", res.RerankerMessage)
	}
}
