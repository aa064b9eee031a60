package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/digitaltwin/internal/rag"
)

func newIndexCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the profile document into the vector store",
		Long: `Load the profile document, chunk it and upsert every chunk into the
configured vector store. An index that already holds vectors is left as is
unless --reset is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logStderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if reset {
				if err := a.service.Reset(ctx); err != nil {
					return fmt.Errorf("failed to reset index: %w", err)
				}
			}
			if err := a.service.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to index profile: %w", err)
			}
			return printStatus(cmd, a.service.SystemInfo(ctx))
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "delete every vector before indexing")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete every vector and clear usage counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logStderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset index: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Index cleared.")
			return nil
		},
	}
}

// printStatus writes a short status report. A degraded store is reported,
// not treated as a failure.
func printStatus(cmd *cobra.Command, info rag.SystemInfo) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized: %t\n", info.IsInitialized)
	fmt.Fprintf(out, "Store:       %s\n", info.StoreStatus)
	if info.StoreError != "" {
		fmt.Fprintf(out, "Store error: %s\n", info.StoreError)
	}
	if info.VectorInfo != nil {
		fmt.Fprintf(out, "Provider:    %s\n", info.VectorInfo.Provider)
		fmt.Fprintf(out, "Vectors:     %d\n", info.VectorInfo.VectorCount)
		fmt.Fprintf(out, "Dimension:   %d\n", info.VectorInfo.Dimension)
	}
	return nil
}
