// Package safety classifies inbound messages against vertical-specific
// emergency, allergy and special-event pattern tables. Like the intent
// detector it is pure pattern evaluation: no I/O, no errors, unmatched input
// yields zero-value results.
package safety

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/basket/go-concierge/internal/detector"
	"github.com/basket/go-concierge/internal/state"
)

// Analyzer evaluates the safety pattern tables for one message.
type Analyzer struct {
	config *PatternConfig
}

// New creates an Analyzer. A nil config selects the built-in table.
func New(config *PatternConfig) *Analyzer {
	if config == nil {
		config = DefaultPatternConfig()
	}
	return &Analyzer{config: config}
}

// EmergencyResult is the outcome of DetectEmergency.
type EmergencyResult struct {
	IsEmergency       bool
	Type              string
	Severity          int
	RecommendedAction string
	Message           string
}

// DetectEmergency evaluates the vertical's emergency tiers critical-first and
// returns the first matching tier. Any vertical additionally checks the
// accident patterns: an accident forces an emergency of severity 4 unless a
// higher-severity tier already matched.
func (a *Analyzer) DetectEmergency(text string, vertical state.Vertical) EmergencyResult {
	normalized := detector.Normalize(text)
	if normalized == "" {
		return EmergencyResult{}
	}

	var out EmergencyResult
	for _, tier := range a.config.EmergencyTiers[vertical] {
		if matchAny(tier.Patterns, normalized) {
			out = EmergencyResult{
				IsEmergency:       tier.Emergency,
				Type:              tier.Type,
				Severity:          tier.Severity,
				RecommendedAction: tier.Action,
				Message:           tier.Message,
			}
			break
		}
	}

	if out.Severity < 4 && matchAny(a.config.Accident, normalized) {
		out = EmergencyResult{
			IsEmergency:       true,
			Type:              "accident",
			Severity:          4,
			RecommendedAction: ActionUrgentCare,
			Message:           "Accidente reportado. Ofrecer atencion el mismo dia.",
		}
	}
	return out
}

// RequirementsResult is the outcome of DetectSafetyRequirements.
type RequirementsResult struct {
	RequiresHuman     bool
	AllergySeverity   string // "", "moderate", "severe"
	SafetyDisclaimer  string
	MedicalConditions []string
}

// DetectSafetyRequirements detects allergy mentions and, for health
// verticals, known medical conditions. A severe allergy requires a human
// hand-off; a moderate one only attaches a disclaimer to the reply.
func (a *Analyzer) DetectSafetyRequirements(text string, vertical state.Vertical) RequirementsResult {
	normalized := detector.Normalize(text)
	if normalized == "" {
		return RequirementsResult{}
	}

	var out RequirementsResult
	switch {
	case matchAny(a.config.SevereAllergy, normalized):
		out.AllergySeverity = "severe"
		out.RequiresHuman = true
		out.SafetyDisclaimer = "Alergia grave reportada: un miembro del equipo confirmara los detalles antes de continuar."
	case matchAny(a.config.ModerateAllergy, normalized):
		out.AllergySeverity = "moderate"
		out.SafetyDisclaimer = "Por favor confirma tus alergias o restricciones al llegar."
	}

	if vertical.IsHealth() {
		for name, pat := range a.config.MedicalConditions {
			if pat.MatchString(normalized) {
				out.MedicalConditions = append(out.MedicalConditions, name)
			}
		}
		sort.Strings(out.MedicalConditions)
	}
	return out
}

// EventResult is the outcome of DetectSpecialEvent.
type EventResult struct {
	IsSpecialEvent      bool
	EventType           string
	GroupSize           int
	SpecialRequirements []string
	RequiresEscalation  bool
}

// DetectSpecialEvent applies only to the restaurant vertical; every other
// vertical gets a zero result. Groups of 10 or more escalate, as does any
// request with two or more special requirements.
func (a *Analyzer) DetectSpecialEvent(text string, vertical state.Vertical) EventResult {
	if vertical != state.VerticalRestaurant {
		return EventResult{}
	}
	normalized := detector.Normalize(text)
	if normalized == "" {
		return EventResult{}
	}

	var out EventResult
	for name, pat := range a.config.EventTypes {
		if pat.MatchString(normalized) {
			out.IsSpecialEvent = true
			if out.EventType == "" || name < out.EventType {
				out.EventType = name
			}
		}
	}

	for _, pat := range a.config.GroupSize {
		m := pat.FindStringSubmatch(normalized)
		if len(m) < 2 {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			out.GroupSize = n
			break
		}
	}

	for name, pat := range a.config.Requirements {
		if pat.MatchString(normalized) {
			out.SpecialRequirements = append(out.SpecialRequirements, name)
		}
	}
	// Map iteration order is random; traces and tests need determinism.
	sort.Strings(out.SpecialRequirements)

	if out.GroupSize >= 10 {
		out.IsSpecialEvent = true
		out.RequiresEscalation = true
	}
	if len(out.SpecialRequirements) >= 2 {
		out.IsSpecialEvent = true
		out.RequiresEscalation = true
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, pat := range patterns {
		if pat.MatchString(text) {
			return true
		}
	}
	return false
}
