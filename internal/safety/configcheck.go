package safety

import (
	"sort"

	"github.com/basket/go-concierge/internal/state"
)

// ConfigCompleteness reports how well a tenant's business context is filled
// out. The score is 0-100; any missing critical field caps it at 50 so a
// half-configured tenant can never look healthy.
type ConfigCompleteness struct {
	Score              int      `json:"score"`
	MissingCritical    []string `json:"missing_critical,omitempty"`
	MissingRecommended []string `json:"missing_recommended,omitempty"`
}

type configField struct {
	name     string
	critical bool
	present  func(state.BusinessContext) bool
}

func configFields(vertical state.Vertical) []configField {
	fields := []configField{
		{"business_name", true, func(bc state.BusinessContext) bool { return bc.BusinessName != "" }},
		{"phone", true, func(bc state.BusinessContext) bool { return bc.Phone != "" }},
		{"hours", true, func(bc state.BusinessContext) bool { return bc.Hours != "" }},
		{"email", false, func(bc state.BusinessContext) bool { return bc.Email != "" }},
		{"scoring_rules", false, func(bc state.BusinessContext) bool { return len(bc.ScoringRules) > 0 }},
	}
	switch vertical {
	case state.VerticalDental, state.VerticalMedical:
		fields = append(fields,
			configField{"address", true, func(bc state.BusinessContext) bool { return bc.Address != "" }},
			configField{"services", true, func(bc state.BusinessContext) bool { return len(bc.Services) > 0 }},
		)
	case state.VerticalRestaurant:
		fields = append(fields,
			configField{"address", true, func(bc state.BusinessContext) bool { return bc.Address != "" }},
			configField{"services", false, func(bc state.BusinessContext) bool { return len(bc.Services) > 0 }},
		)
	default:
		fields = append(fields,
			configField{"address", false, func(bc state.BusinessContext) bool { return bc.Address != "" }},
			configField{"services", false, func(bc state.BusinessContext) bool { return len(bc.Services) > 0 }},
		)
	}
	return fields
}

// ValidateBusinessConfiguration scores the business context against the
// field requirements of its vertical.
func (a *Analyzer) ValidateBusinessConfiguration(bc state.BusinessContext) ConfigCompleteness {
	fields := configFields(bc.Vertical)

	var out ConfigCompleteness
	present := 0
	for _, f := range fields {
		if f.present(bc) {
			present++
			continue
		}
		if f.critical {
			out.MissingCritical = append(out.MissingCritical, f.name)
		} else {
			out.MissingRecommended = append(out.MissingRecommended, f.name)
		}
	}
	sort.Strings(out.MissingCritical)
	sort.Strings(out.MissingRecommended)

	out.Score = present * 100 / len(fields)
	if len(out.MissingCritical) > 0 && out.Score > 50 {
		out.Score = 50
	}
	return out
}
