package classify

import "strings"

// uncertaintyPhrases are what the reply bot says when it lacks information.
var uncertaintyPhrases = []string{
	"je ne sais pas", "je n'ai pas cette information", "je n'ai pas l'information",
	"je n'ai pas d'information", "je ne suis pas sûr", "je ne suis pas certain",
	"je vais vérifier", "je vérifie", "je vais me renseigner", "je me renseigne",
	"je vais demander", "je reviens vers vous", "je transmets", "l'hôte vous répondra",
	"l'hôte reviendra vers vous", "je n'ai pas de réponse",
	"i don't know", "i do not know", "i'm not sure", "i am not sure",
	"i don't have that information", "i don't have this information",
	"i'll check", "i will check", "let me check", "i'll ask", "i will ask",
	"i'll get back to you", "i will get back to you", "the host will get back to you",
}

// Rule detects one kind of contradiction between a classification and the
// automated reply that preceded the guest message.
type Rule interface {
	Name() string
	Match(res Result, reply string, guestMessage string) bool
}

// RuleFunc adapts a function to Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(res Result, reply string, guestMessage string) bool
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Match(res Result, reply, guestMessage string) bool {
	return r.Fn(res, reply, guestMessage)
}

func replyIsUnsure(reply string) bool {
	return newMatcher(reply).containsAny(uncertaintyPhrases)
}

// UncertainButConfidentReply flags an uncertain classification when the bot
// answered without hedging.
var UncertainButConfidentReply Rule = RuleFunc{
	RuleName: "uncertain_but_confident_reply",
	Fn: func(res Result, reply, _ string) bool {
		return res.Tag == TagAIUncertain && !replyIsUnsure(reply)
	},
}

// KnownButReplyUnsure flags a known-answer classification when the bot
// itself said it did not know.
var KnownButReplyUnsure Rule = RuleFunc{
	RuleName: "known_but_reply_unsure",
	Fn: func(res Result, reply, _ string) bool {
		return res.Tag == TagKnownAnswer && replyIsUnsure(reply)
	},
}

// DefaultRules returns the built-in contradiction rules.
func DefaultRules() []Rule {
	return []Rule{UncertainButConfidentReply, KnownButReplyUnsure}
}

// CoherenceChecker cross-checks a classification against the previous
// automated reply.
type CoherenceChecker struct {
	rules []Rule
}

// NewCoherenceChecker registers rules in evaluation order. With no rules the
// defaults are used.
func NewCoherenceChecker(rules ...Rule) *CoherenceChecker {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &CoherenceChecker{rules: rules}
}

// Check returns res unchanged when priorReply is empty. On the first matching
// rule it forces NeedsAttention and replaces a benign tag with AIIncoherence,
// keeping the replaced tag in UnderlyingTag.
func (c *CoherenceChecker) Check(res Result, priorReply string, guestMessage string) Result {
	res.HasIncoherence = false
	if strings.TrimSpace(priorReply) == "" {
		return res
	}
	for _, rule := range c.rules {
		if !rule.Match(res, priorReply, guestMessage) {
			continue
		}
		res.HasIncoherence = true
		res.NeedsAttention = true
		res.Rule = rule.Name()
		if res.Tag.benign() {
			res.UnderlyingTag = res.Tag
			res.Tag = TagAIIncoherence
		}
		return res
	}
	return res
}
