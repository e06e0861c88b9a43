// Package classify decides whether a guest message needs host attention.
//
// Classification runs in two tiers: a model-based tier that asks an external
// chat-completion collaborator for a structured verdict, and a deterministic
// keyword tier used whenever the model tier is unavailable or returns
// something unusable. Engine.Classify always produces a Result.
package classify

import (
	"fmt"
	"strings"
)

// Tag is a member of the urgency/attention taxonomy.
type Tag string

const (
	TagUrgentCritical           Tag = "urgent_critical"
	TagBehavioralEscalation     Tag = "behavioral_escalation"
	TagDissatisfiedGuest        Tag = "dissatisfied_guest"
	TagHostInterventionRequired Tag = "host_intervention_required"
	TagAIUncertain              Tag = "ai_uncertain"
	TagKnownAnswer              Tag = "known_answer"
	TagAIIncoherence            Tag = "ai_incoherence"
	TagNone                     Tag = "none"
)

// modelTags are the tags the model tier may return. AIIncoherence is only
// ever produced by the coherence checker.
var modelTags = []Tag{
	TagUrgentCritical,
	TagBehavioralEscalation,
	TagDissatisfiedGuest,
	TagHostInterventionRequired,
	TagAIUncertain,
	TagKnownAnswer,
	TagNone,
}

// ParseTag accepts wire names, CamelCase names and the legacy
// "unknown_response" alias.
func ParseTag(s string) (Tag, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "urgent_critical", "urgentcritical":
		return TagUrgentCritical, nil
	case "behavioral_escalation", "behavioralescalation":
		return TagBehavioralEscalation, nil
	case "dissatisfied_guest", "dissatisfiedguest":
		return TagDissatisfiedGuest, nil
	case "host_intervention_required", "hostinterventionrequired":
		return TagHostInterventionRequired, nil
	case "ai_uncertain", "aiuncertain", "unknown_response", "unknownresponse":
		return TagAIUncertain, nil
	case "known_answer", "knownanswer":
		return TagKnownAnswer, nil
	case "ai_incoherence", "aiincoherence":
		return TagAIIncoherence, nil
	case "none", "":
		return TagNone, nil
	}
	return "", fmt.Errorf("classify: unknown tag %q", s)
}

// RequiresAttention reports whether a tag always needs a human, regardless
// of what the model said about needs_attention.
func (t Tag) RequiresAttention() bool {
	switch t {
	case TagUrgentCritical, TagBehavioralEscalation, TagDissatisfiedGuest,
		TagHostInterventionRequired, TagAIUncertain, TagAIIncoherence:
		return true
	}
	return false
}

func (t Tag) benign() bool {
	return t == TagNone || t == TagKnownAnswer
}

// Source identifies which tier produced a Result.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
	SourceEmpty    Source = "empty"
)

// Result is the classification verdict for the latest guest message.
type Result struct {
	Tag             Tag
	Confidence      float64
	NeedsAttention  bool
	Explanation     string
	SuggestedAction string
	Source          Source

	// Set by CoherenceChecker.
	HasIncoherence bool
	UnderlyingTag  Tag
	Rule           string
}

// Priority returns the numeric priority of the result, honoring the
// underlying tag of an incoherence override.
func (r Result) Priority() int {
	if r.Tag == TagAIIncoherence {
		return PriorityWithUnderlying(r.Tag, r.UnderlyingTag)
	}
	return Priority(r.Tag)
}

const noMessageExplanation = "no message to analyze"

func emptyResult() Result {
	return Result{
		Tag:            TagNone,
		Confidence:     1.0,
		NeedsAttention: false,
		Explanation:    noMessageExplanation,
		Source:         SourceEmpty,
	}
}
