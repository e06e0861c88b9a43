package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"guest-inbox/internal/bootstrap"
	"guest-inbox/internal/classify"
	"guest-inbox/internal/domain"
)

type classifyOutput struct {
	Tag             string  `json:"tag"`
	Confidence      float64 `json:"confidence"`
	NeedsAttention  bool    `json:"needs_attention"`
	Explanation     string  `json:"explanation"`
	SuggestedAction string  `json:"suggested_action,omitempty"`
	Source          string  `json:"source"`
	Priority        int     `json:"priority"`
	HasIncoherence  bool    `json:"has_incoherence,omitempty"`
	Rule            string  `json:"rule,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	var (
		texts   []string
		reply   string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify guest messages",
		Long: "Classifies the last of the given guest messages, earlier ones serving as history. " +
			"With --reply, the text is treated as the automated reply sent before the last message and coherence is checked. " +
			"--offline uses the keyword tier only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(texts) == 0 {
				return errors.New("at least one --text is required")
			}
			engine := classify.NewEngine(nil, "")
			if !offline {
				base, err := bootstrap.NewBase(cmd.Context(), "inboxctl")
				if err != nil {
					return err
				}
				engine, err = bootstrap.NewEngine(cmd.Context(), base.Params, base.Config, zerolog.Nop())
				if err != nil {
					return err
				}
			}
			out := runClassify(cmd.Context(), engine, texts, reply)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringArrayVar(&texts, "text", nil, "guest message, repeatable, oldest first")
	cmd.Flags().StringVar(&reply, "reply", "", "automated reply sent before the last message")
	cmd.Flags().BoolVar(&offline, "offline", false, "use keyword classification only")
	return cmd
}

func runClassify(ctx context.Context, engine *classify.Engine, texts []string, reply string) classifyOutput {
	start := time.Now().UTC().Add(-time.Hour)
	history := make([]domain.Message, 0, len(texts)+1)
	for i, t := range texts {
		if i == len(texts)-1 && reply != "" {
			history = append(history, domain.Message{
				ID:        "reply",
				Content:   reply,
				Direction: domain.DirectionOutbound,
				Type:      domain.MessageTypeAIReply,
				CreatedAt: start.Add(time.Duration(2*i) * time.Second),
			})
		}
		history = append(history, domain.Message{
			ID:        "guest",
			Content:   t,
			Direction: domain.DirectionInbound,
			Type:      domain.MessageTypeText,
			CreatedAt: start.Add(time.Duration(2*i+1) * time.Second),
		})
	}

	res := engine.Classify(ctx, history, domain.PropertyContext{}, "")
	res = classify.NewCoherenceChecker().Check(res, reply, texts[len(texts)-1])
	return classifyOutput{
		Tag:             string(res.Tag),
		Confidence:      res.Confidence,
		NeedsAttention:  res.NeedsAttention,
		Explanation:     res.Explanation,
		SuggestedAction: res.SuggestedAction,
		Source:          string(res.Source),
		Priority:        res.Priority(),
		HasIncoherence:  res.HasIncoherence,
		Rule:            res.Rule,
	}
}
