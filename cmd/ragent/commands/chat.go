package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragent-go/internal/logging"
)

// Chat REPL commands.
const (
	replReset  = ":reset"
	replMemory = ":memory"
	replTools  = ":tools"
	replQuit   = ":quit"
)

// NewChatCmd constructs the `ragent chat` command, an interactive session
// that keeps memory and history across turns.
func NewChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question-answering session",
		Long: `Start an interactive session. Each line is one question; the session keeps
extracted figures and prior turns so follow-ups can refer back to them.

Commands:
  :reset    clear the session memory and history
  :memory   show the session memory
  :tools    list the available tools
  :quit     exit (also Ctrl-D)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			rt, err := buildStack(ctx, logging.FromContext(ctx), stackOptions{persist: true})
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer rt.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			fmt.Fprintf(out, "session %s (type %s to exit)\n", sessionID, replQuit)

			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch line {
				case "":
					continue
				case replQuit, "exit":
					return nil
				case replReset:
					if err := rt.sessions.Reset(ctx, sessionID); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, "session reset")
					continue
				case replMemory:
					if summary, ok := rt.sessions.Summary(sessionID); ok && summary != "" {
						fmt.Fprintln(out, summary)
					} else {
						fmt.Fprintln(out, "(empty)")
					}
					continue
				case replTools:
					for _, n := range rt.registry.Names() {
						fmt.Fprintln(out, n)
					}
					continue
				}

				res, err := rt.sessions.Ask(ctx, sessionID, line)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					continue
				}
				printResult(cmd, res)
				fmt.Fprintln(out)
			}
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to resume (default: a new one)")

	return cmd
}
