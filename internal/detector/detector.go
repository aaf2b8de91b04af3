// Package detector performs pattern-based intent, scoring-signal and
// structured-data extraction from raw message text. Everything here is a pure
// function of text plus configuration: no I/O, no errors — unmatched input
// degrades to IntentUnknown / empty results.
package detector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/basket/go-concierge/internal/state"
)

// Detector evaluates a pattern table against inbound text.
type Detector struct {
	patterns *PatternSet
}

// New creates a Detector. A nil pattern set selects the built-in table.
func New(patterns *PatternSet) *Detector {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &Detector{patterns: patterns}
}

// diacriticReplacer folds the Spanish diacritics that appear in chat text.
var diacriticReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// Normalize lower-cases text and strips diacritics so patterns can be
// written in plain ASCII.
func Normalize(text string) string {
	return diacriticReplacer.Replace(strings.ToLower(strings.TrimSpace(text)))
}

// DetectIntent maps message text to the first matching intent in the pattern
// table's priority order, or IntentUnknown.
func (d *Detector) DetectIntent(text string) state.Intent {
	normalized := Normalize(text)
	if normalized == "" {
		return state.IntentUnknown
	}
	for _, entry := range d.patterns.Entries {
		for _, pat := range entry.Patterns {
			if pat.MatchString(normalized) {
				return entry.Intent
			}
		}
	}
	return state.IntentUnknown
}

// DetectSignals scans tenant-configured keyword rules and emits at most one
// signal per rule per message.
func (d *Detector) DetectSignals(text string, rules []state.ScoringRule) []state.Signal {
	normalized := Normalize(text)
	if normalized == "" || len(rules) == 0 {
		return nil
	}
	var signals []state.Signal
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(normalized, Normalize(kw)) {
				signals = append(signals, state.Signal{Name: rule.Name, Points: rule.Points})
				break
			}
		}
	}
	return signals
}

var (
	emailPattern = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// Regional mobile/landline numbers: optional +52/+34 country prefix,
	// then 9-10 digits with optional separators.
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s\-]?)?(\d[\s.\-]?){8,11}\d`)
	datePattern  = regexp.MustCompile(`\b(hoy|pasado manana|manana|lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`)
	groupDigits  = regexp.MustCompile(`\D`)
)

// timeOfDayPhrases maps normalized phrases to a canonical time preference.
// Bare "manana" is deliberately absent: it is ambiguous with the relative
// date "tomorrow" and only counts when qualified ("por la manana").
var timeOfDayPhrases = []struct {
	phrase string
	value  string
}{
	{"por la manana", "morning"},
	{"en la manana", "morning"},
	{"temprano", "morning"},
	{"por la tarde", "afternoon"},
	{"en la tarde", "afternoon"},
	{"mediodia", "afternoon"},
	{"por la noche", "evening"},
	{"en la noche", "evening"},
}

var painLevels = []struct {
	pattern *regexp.Regexp
	level   int
}{
	{regexp.MustCompile(`(insoportable|no (aguanto|soporto)|peor dolor)`), 5},
	{regexp.MustCompile(`((mucho|muchisimo) dolor|dolor (muy )?(fuerte|intenso)|me duele mucho)`), 4},
	{regexp.MustCompile(`(me duele|tengo dolor|con dolor)`), 3},
	{regexp.MustCompile(`(molestia|sensible|sensibilidad|incomodidad)`), 2},
	{regexp.MustCompile(`(dolor leve|un poco de dolor|apenas duele)`), 1},
}

var priceSensitivityPattern = regexp.MustCompile(`(barato|economico|descuento|promocion|muy caro|esta caro|mas barato|no tengo (mucho |tanto )?dinero)`)

// ExtractData detects email, phone, relative dates, time-of-day preference,
// a 0-5 pain-level heuristic and price sensitivity. Fields it cannot find are
// left zero; the caller merges non-destructively via ExtractedData.Merge.
func (d *Detector) ExtractData(text string) state.ExtractedData {
	var out state.ExtractedData
	normalized := Normalize(text)
	if normalized == "" {
		return out
	}

	if m := emailPattern.FindString(normalized); m != "" {
		out.Email = m
	}

	// Strip the email before phone matching so the local part's digits
	// cannot masquerade as a number.
	phoneSource := normalized
	if out.Email != "" {
		phoneSource = strings.ReplaceAll(phoneSource, out.Email, " ")
	}
	if m := phonePattern.FindString(phoneSource); m != "" {
		digits := groupDigits.ReplaceAllString(m, "")
		if len(digits) >= 9 && len(digits) <= 13 {
			out.Phone = digits
		}
	}

	// Time-of-day before dates: "por la manana" must not also count as the
	// relative date "manana".
	dateSource := normalized
	for _, tod := range timeOfDayPhrases {
		if strings.Contains(normalized, tod.phrase) {
			out.TimePreference = tod.value
			dateSource = strings.ReplaceAll(dateSource, tod.phrase, " ")
			break
		}
	}
	if m := datePattern.FindString(dateSource); m != "" {
		out.PreferredDate = m
	}

	for _, pl := range painLevels {
		if pl.pattern.MatchString(normalized) {
			level := pl.level
			out.PainLevel = &level
			break
		}
	}

	if priceSensitivityPattern.MatchString(normalized) {
		out.PriceSensitive = true
	}

	return out
}

// ParseGroupSize extracts the first standalone number from text, used by the
// special-event detector for party sizes. Returns 0 when none is found.
func ParseGroupSize(text string) int {
	m := regexp.MustCompile(`\b(\d{1,3})\b`).FindString(Normalize(text))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}
