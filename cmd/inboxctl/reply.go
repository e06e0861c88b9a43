package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/usecase"
)

func newReplyCmd() *cobra.Command {
	var (
		in usecase.ReplyInput
		at string
	)

	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Record a reply already sent to a guest",
		Long:  "Stores an outbound reply on a conversation. Automated replies are cross-checked against later classifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				in.At = t
			}
			base, err := bootstrap.NewBase(cmd.Context(), "inboxctl")
			if err != nil {
				return err
			}
			svc, err := usecase.NewReplyService(base.Store)
			if err != nil {
				return err
			}
			out, err := svc.RecordReply(cmd.Context(), in)
			if err != nil {
				return err
			}
			status := "recorded"
			if out.Duplicate {
				status = "already recorded"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", out.MessageID, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.ConversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&in.Content, "text", "", "reply content")
	cmd.Flags().BoolVar(&in.Automated, "auto", false, "reply was generated by the reply bot")
	cmd.Flags().StringVar(&in.ExternalMessageID, "external-id", "", "provider message id, makes the call idempotent")
	cmd.Flags().StringVar(&at, "at", "", "send time, RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
