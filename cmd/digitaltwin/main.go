// Package main implements the digitaltwin CLI: the HTTP and MCP servers,
// index maintenance, and a terminal chat against the portfolio profile.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/digitaltwin/config.yaml
	configPath string
	// logLevel overrides logging.level when set
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "digitaltwin",
		Short: "Answer questions about a portfolio profile in the first person",
		Long: `digitaltwin indexes a structured portfolio profile into a vector store and
answers questions about it as its owner would, with retrieval-augmented
generation over an OpenAI-compatible chat API.

Examples:
  # Serve the HTTP API with MCP mounted at /mcp
  digitaltwin serve

  # Serve MCP on stdio for a desktop client
  digitaltwin mcp

  # Rebuild the index from the profile document
  digitaltwin index --reset

  # Ask a single question
  digitaltwin ask "What programming languages do you know?"`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/digitaltwin/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newIndexCmd(),
		newResetCmd(),
		newAskCmd(),
		newChatCmd(),
	)
	return root
}
