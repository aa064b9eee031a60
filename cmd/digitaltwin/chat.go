package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/digitaltwin/internal/tui"
)

func newChatCmd() *cobra.Command {
	var (
		topK     int
		followUp bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the digital twin in the terminal",
		Long: `Open an interactive chat. The conversation so far is sent with every
question so follow-up suggestions stay on topic.

Keys: enter ask, ctrl+f toggle follow-ups, ctrl+l clear, esc quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, logQuiet)
			if err != nil {
				return err
			}
			defer a.Close()

			name := a.cfg.Generation.Persona.Name
			model := tui.NewModel(ctx, a.service, tui.Options{
				Name:     name,
				TopK:     topK,
				FollowUp: followUp,
			})
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of profile facts to retrieve (default retrieval.top_k)")
	cmd.Flags().BoolVar(&followUp, "follow-up", true, "suggest a follow-up question after each answer")
	return cmd
}
