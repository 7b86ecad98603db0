// Command ragent is the entry point for the agentic RAG question-answering
// engine. It answers questions from the command line, runs an interactive
// chat, serves the JSON API and rebuilds the retrieval index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/54b3r/ragent-go/cmd/ragent/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := commands.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
