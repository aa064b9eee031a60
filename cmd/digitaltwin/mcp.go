package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/digitaltwin/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Long: `Serve the digital twin tools over the MCP stdio transport. Logs go to
stderr; stdout carries protocol frames only.

Example client entry:
  {"command": "digitaltwin", "args": ["mcp"]}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logStderr)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := mcp.NewServer(&mcp.Config{
				Name:    "digitaltwin",
				Version: version,
				Logger:  a.logger.Underlying().Named("mcp"),
			}, a.service)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return s.Run(ctx)
		},
	}
}
