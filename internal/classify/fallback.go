package classify

import "fmt"

// Fallback classifies a single guest message with the keyword tiers. It
// never fails: unmatched messages are AIUncertain and flagged for a human.
func Fallback(content string) Result {
	m := newMatcher(content)
	for _, tier := range fallbackTiers {
		kw, ok := m.first(tier.keywords)
		if !ok {
			continue
		}
		return Result{
			Tag:             tier.tag,
			Confidence:      tier.confidence,
			NeedsAttention:  tier.needsAttention,
			Explanation:     fmt.Sprintf("keyword match: %q", kw),
			SuggestedAction: tier.suggestedAction,
			Source:          SourceFallback,
		}
	}
	return Result{
		Tag:             TagAIUncertain,
		Confidence:      defaultFallbackConfidence,
		NeedsAttention:  true,
		Explanation:     "no keyword matched; defaulting to uncertain",
		SuggestedAction: defaultFallbackAction,
		Source:          SourceFallback,
	}
}
