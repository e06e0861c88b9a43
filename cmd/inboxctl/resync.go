package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/classify"
	"guest-inbox/internal/usecase"
)

func newResyncCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Re-apply the newest stored classification to a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID = strings.TrimSpace(conversationID)
			if conversationID == "" {
				return errors.New("--conversation is required")
			}
			base, err := bootstrap.NewBase(cmd.Context(), "inboxctl")
			if err != nil {
				return err
			}
			svc, err := usecase.NewAnalyzeService(base.Store, classify.NewEngine(nil, ""), classify.NewCoherenceChecker(), base.Config.HistoryLimit)
			if err != nil {
				return err
			}
			out, err := svc.Resync(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			status := "applied"
			if !out.Applied {
				status = "skipped, a newer classification is projected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpriority=%d\t%s\n", conversationID, out.Record.Tag, out.Record.PriorityLevel, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	return cmd
}
