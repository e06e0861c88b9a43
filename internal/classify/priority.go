package classify

const (
	PriorityLowest  = 1
	PriorityDefault = 2
	PriorityHighest = 5
)

var priorities = map[Tag]int{
	TagUrgentCritical:           5,
	TagBehavioralEscalation:     4,
	TagDissatisfiedGuest:        3,
	TagHostInterventionRequired: 3,
	TagAIUncertain:              2,
	TagKnownAnswer:              1,
	TagNone:                     1,
	TagAIIncoherence:            5,
}

// Priority maps a tag to 1..5. It is total: unknown tags get
// PriorityDefault.
func Priority(tag Tag) int {
	if p, ok := priorities[tag]; ok {
		return p
	}
	return PriorityDefault
}

// PriorityWithUnderlying is Priority for an AIIncoherence override that kept
// the tag it replaced.
func PriorityWithUnderlying(tag, underlying Tag) int {
	if tag != TagAIIncoherence {
		return Priority(tag)
	}
	p := PriorityHighest
	if u := Priority(underlying); underlying != "" && u > p {
		p = u
	}
	return p
}
