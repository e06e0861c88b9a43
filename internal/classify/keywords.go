package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// keywordTier is one rung of the fallback precedence ladder.
type keywordTier struct {
	tag             Tag
	confidence      float64
	needsAttention  bool
	suggestedAction string
	keywords        []string
}

// fallbackTiers is evaluated top to bottom; the first tier with a match wins.
var fallbackTiers = []keywordTier{
	{
		tag:             TagUrgentCritical,
		confidence:      0.9,
		needsAttention:  true,
		suggestedAction: "Contact the guest immediately and dispatch help if needed.",
		keywords: []string{
			"fuite d'eau", "fuite", "ça coule", "inondation", "inondé", "dégât des eaux",
			"incendie", "au feu", "fumée", "odeur de gaz", "fuite de gaz",
			"urgence", "urgent", "pompiers", "samu", "ambulance", "police",
			"blessé", "blessée", "accident", "malaise", "cambriolage", "effraction",
			"on nous a volé", "électrocuté", "court-circuit", "étincelles",
			"panne de courant", "plus d'électricité", "plus de courant", "coupure d'eau",
			"plus d'eau", "bloqué dehors", "bloquée dehors", "enfermé", "enfermée",
			"water leak", "leaking", "flood", "flooding", "fire", "smoke", "gas leak",
			"smell of gas", "emergency", "injured", "break-in", "burglary",
			"locked out", "power outage", "no electricity", "no water",
		},
	},
	{
		tag:             TagBehavioralEscalation,
		confidence:      0.85,
		needsAttention:  true,
		suggestedAction: "Reply personally and de-escalate before the situation worsens.",
		keywords: []string{
			"inacceptable", "inadmissible", "scandaleux", "scandale", "honteux", "honte",
			"arnaque", "arnaqueur", "escroc", "escroquerie", "avocat", "porter plainte",
			"remboursement immédiat", "remboursez-moi", "mauvais avis", "avis négatif",
			"une étoile", "1 étoile", "signaler à airbnb", "service client", "je vais vous signaler",
			"n'importe quoi", "foutez", "menace",
			"unacceptable", "outrageous", "scam", "fraud", "lawyer", "sue you",
			"refund me now", "bad review", "negative review", "one star", "1 star",
			"report you", "disgusting",
		},
	},
	{
		tag:             TagDissatisfiedGuest,
		confidence:      0.8,
		needsAttention:  true,
		suggestedAction: "Acknowledge the problem and propose a fix or a gesture.",
		keywords: []string{
			"déçu", "déçue", "décevant", "déception", "pas content", "pas contente",
			"pas satisfait", "pas satisfaite", "mécontent", "mécontente",
			"sale", "pas propre", "saleté", "poussière", "bruyant", "trop de bruit",
			"cafard", "cafards", "punaises", "moisissure",
			"ne fonctionne pas", "ne marche pas", "cassé", "cassée", "en panne",
			"pas de chauffage", "pas d'eau chaude", "pas de wifi", "pas de serviettes",
			"disappointed", "disappointing", "unhappy", "not satisfied", "dirty", "not clean",
			"noisy", "cockroach", "bed bugs", "mold", "broken", "not working", "doesn't work",
			"no hot water", "no wifi",
		},
	},
	{
		tag:             TagHostInterventionRequired,
		confidence:      0.75,
		needsAttention:  true,
		suggestedAction: "The guest asks for something only the host can decide.",
		keywords: []string{
			"parler à l'hôte", "parler au propriétaire", "appelez-moi", "rappelez-moi",
			"pouvez-vous m'appeler", "annuler", "annulation", "modifier ma réservation",
			"prolonger", "une nuit de plus", "remboursement", "arrivée anticipée",
			"check-in anticipé", "départ tardif", "late check-out", "late checkout",
			"early check-in", "cancel", "cancellation", "refund", "speak to the host",
			"call me", "extend my stay", "change my booking",
		},
	},
	{
		tag:             TagKnownAnswer,
		confidence:      0.7,
		needsAttention:  false,
		suggestedAction: "No action needed.",
		keywords: []string{
			"merci", "parfait", "super", "génial", "top", "d'accord", "ok", "très bien",
			"c'est noté", "bien reçu", "bien arrivé", "bien arrivés", "tout est parfait",
			"thank you", "thanks", "great", "perfect", "awesome", "got it", "all good",
		},
	},
}

const (
	defaultFallbackConfidence = 0.5
	defaultFallbackAction     = "Review the message; the automatic classifier could not decide."
)

var quoteReplacer = strings.NewReplacer("\u2019", "'", "\u2018", "'", "`", "'", "\u00a0", " ")

// Ligatures do not decompose under NFD.
var ligatureReplacer = strings.NewReplacer("œ", "oe", "æ", "ae")

// prepareText composes, lowercases, straightens quotes and collapses
// whitespace.
func prepareText(s string) string {
	s = quoteReplacer.Replace(strings.ToLower(norm.NFC.String(s)))
	return strings.Join(strings.Fields(s), " ")
}

// foldAccents strips combining marks. A transform chain is stateful, so
// each call builds its own.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return ligatureReplacer.Replace(s)
	}
	return ligatureReplacer.Replace(folded)
}

// matcher holds one message in plain and accent-folded forms.
type matcher struct {
	text   string
	folded string
}

func newMatcher(content string) matcher {
	text := prepareText(content)
	return matcher{text: text, folded: foldAccents(text)}
}

// first returns the first keyword present in the message.
func (m matcher) first(keywords []string) (string, bool) {
	for _, kw := range keywords {
		kw = prepareText(kw)
		if containsPhrase(m.text, kw) || containsPhrase(m.folded, foldAccents(kw)) {
			return kw, true
		}
	}
	return "", false
}

func (m matcher) containsAny(phrases []string) bool {
	_, ok := m.first(phrases)
	return ok
}

// containsPhrase reports whether phrase occurs in text on letter boundaries,
// so "feu" does not match "feuille".
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for offset := 0; offset <= len(text)-len(phrase); {
		idx := strings.Index(text[offset:], phrase)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
