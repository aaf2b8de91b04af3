package detector

import (
	"strings"

	"github.com/basket/go-concierge/internal/state"
)

// lowConfidenceIntents are the primary-detector results the learned
// vocabulary is allowed to upgrade. A confident primary match is never
// downgraded or replaced.
var lowConfidenceIntents = map[state.Intent]bool{
	state.IntentUnknown:  true,
	state.IntentGreeting: true,
}

// RefineWithVocabulary consults a tenant's learned vocabulary (terms and
// intents inferred from past conversations) to upgrade a low-confidence
// classification. It returns the primary intent unchanged when the primary
// result is already specific, when no term matches, or when the matched term
// would map to another low-confidence class.
func RefineWithVocabulary(primary state.Intent, text string, vocabulary []state.VocabularyTerm) state.Intent {
	if !lowConfidenceIntents[primary] || len(vocabulary) == 0 {
		return primary
	}
	normalized := Normalize(text)
	if normalized == "" {
		return primary
	}
	for _, term := range vocabulary {
		if term.Term == "" || lowConfidenceIntents[term.Intent] || term.Intent == "" {
			continue
		}
		if strings.Contains(normalized, Normalize(term.Term)) {
			return term.Intent
		}
	}
	return primary
}
