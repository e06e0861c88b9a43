package classify

import (
	"fmt"
	"strings"

	"guest-inbox/internal/domain"
)

const defaultHistoryTurns = 10

func buildPromptMessages(history []domain.Message, property domain.PropertyContext, customInstructions string, maxTurns int) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildTaxonomyPrompt()},
		{Role: "system", Content: buildPropertyContextPrompt(property, customInstructions)},
	}

	if maxTurns <= 0 {
		maxTurns = defaultHistoryTurns
	}
	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}
	for _, m := range history[start:] {
		if turn, ok := historyToPromptMessage(m); ok {
			messages = append(messages, turn)
		}
	}
	return messages
}

func buildTaxonomyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You triage guest messages for a short-term rental host.",
		"",
		"Task:",
		"Classify the most recent guest message, using the earlier turns only as context.",
		"Decide whether the host must personally look at the conversation.",
		"",
		"Tags:",
		taxonomyRules(),
		"",
		"Rules:",
		"1) Safety first: anything involving water, fire, gas, electricity, injury, intrusion or a guest unable to get in is urgent_critical.",
		"2) When two tags fit, pick the one listed first above.",
		"3) Use known_answer only if the property context or an earlier reply fully answers the guest.",
		"4) When unsure, prefer ai_uncertain with needs_attention=true over none.",
		"5) The guest may write in any language; answer in English.",
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func taxonomyRules() string {
	return strings.Join([]string{
		"- urgent_critical: emergencies and safety issues that need action now.",
		"- behavioral_escalation: anger, threats, insults, review or refund threats.",
		"- dissatisfied_guest: complaints about cleanliness, noise, equipment or comfort.",
		"- host_intervention_required: requests only the host can decide (booking changes, refunds, exceptions, a call).",
		"- ai_uncertain: a question the available information cannot answer.",
		"- known_answer: a question answered by the property context, or a simple acknowledgement.",
		"- none: small talk that needs no reply or action.",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with keys tag (string, one of the tags above), confidence (number between 0 and 1), " +
		"needs_attention (boolean), explanation (one short sentence) and suggested_action (one short sentence for the host)."
}

func buildPropertyContextPrompt(p domain.PropertyContext, customInstructions string) string {
	var b strings.Builder
	b.WriteString("Property Context:\n")
	fmt.Fprintf(&b, "\nName: %s", normalizePromptInput(p.Name))
	fmt.Fprintf(&b, "\nAddress: %s", normalizePromptInput(p.Address))
	if len(p.Amenities) > 0 {
		fmt.Fprintf(&b, "\nAmenities: %s", normalizePromptInput(strings.Join(p.Amenities, ", ")))
	}
	if s := normalizePromptInput(p.Rules); s != "" {
		fmt.Fprintf(&b, "\n\nHouse Rules:\n%s", s)
	}
	if s := strings.TrimSpace(p.FAQ); s != "" {
		fmt.Fprintf(&b, "\n\nFAQ:\n%s", s)
	}
	if s := normalizePromptInput(p.AIInstructions); s != "" {
		fmt.Fprintf(&b, "\n\nProperty Instructions:\n%s", s)
	}
	if s := normalizePromptInput(customInstructions); s != "" {
		fmt.Fprintf(&b, "\n\nHost Instructions:\n%s", s)
	}
	return b.String()
}

func historyToPromptMessage(m domain.Message) (domain.ChatMessage, bool) {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return domain.ChatMessage{}, false
	}
	role := "user"
	if m.Direction == domain.DirectionOutbound {
		role = "assistant"
	}
	return domain.ChatMessage{Role: role, Content: content}, true
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
