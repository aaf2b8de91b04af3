// Package state holds the shared conversation data model: the per-turn
// working record mutated by the supervisor, the tenant business context it
// reads, and the enums both sides agree on.
package state

import (
	"time"
)

// Vertical is the business category of a tenant.
type Vertical string

const (
	VerticalDental     Vertical = "dental"
	VerticalMedical    Vertical = "medical"
	VerticalRestaurant Vertical = "restaurant"
	VerticalBeauty     Vertical = "beauty"
	VerticalGeneral    Vertical = "general"
)

// IsHealth reports whether the vertical handles patient health information.
func (v Vertical) IsHealth() bool {
	return v == VerticalDental || v == VerticalMedical
}

// Intent is the closed-enum classification of a message's purpose.
type Intent string

const (
	IntentUrgentPain      Intent = "URGENT_PAIN"
	IntentHumanRequest    Intent = "HUMAN_REQUEST"
	IntentBooking         Intent = "BOOKING"
	IntentReschedule      Intent = "RESCHEDULE"
	IntentCancellation    Intent = "CANCELLATION"
	IntentInvoiceRequest  Intent = "INVOICE_REQUEST"
	IntentPriceInquiry    Intent = "PRICE_INQUIRY"
	IntentServiceInquiry  Intent = "SERVICE_INQUIRY"
	IntentHoursInquiry    Intent = "HOURS_INQUIRY"
	IntentLocationInquiry Intent = "LOCATION_INQUIRY"
	IntentGreeting        Intent = "GREETING"
	IntentUnknown         Intent = "UNKNOWN"
)

// Signal is a scored keyword match contributing to a lead-value delta.
type Signal struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// ExtractedData holds structured fields pulled out of message text.
// Pointer/zero semantics matter: empty means "not extracted this turn".
type ExtractedData struct {
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	PreferredDate  string `json:"preferred_date,omitempty"`
	TimePreference string `json:"time_preference,omitempty"`
	PainLevel      *int   `json:"pain_level,omitempty"`
	PriceSensitive bool   `json:"price_sensitive,omitempty"`
}

// Merge copies fields from other into d without overwriting fields that are
// already populated. Later turns only add information.
func (d *ExtractedData) Merge(other ExtractedData) {
	if d.Email == "" {
		d.Email = other.Email
	}
	if d.Phone == "" {
		d.Phone = other.Phone
	}
	if d.PreferredDate == "" {
		d.PreferredDate = other.PreferredDate
	}
	if d.TimePreference == "" {
		d.TimePreference = other.TimePreference
	}
	if d.PainLevel == nil {
		d.PainLevel = other.PainLevel
	}
	if !d.PriceSensitive {
		d.PriceSensitive = other.PriceSensitive
	}
}

// Control is the supervisor's loop-control block.
type Control struct {
	ShouldEscalate   bool   `json:"should_escalate"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	IterationCount   int    `json:"iteration_count"`
}

// SafetyAnalysis aggregates the three safety detector outputs for a turn.
type SafetyAnalysis struct {
	EmergencyDetected   bool     `json:"emergency_detected"`
	EmergencyType       string   `json:"emergency_type,omitempty"`
	EmergencySeverity   int      `json:"emergency_severity,omitempty"`
	RecommendedAction   string   `json:"recommended_action,omitempty"`
	EmergencyMessage    string   `json:"emergency_message,omitempty"`
	RequiresHuman       bool     `json:"requires_human"`
	SafetyDisclaimer    string   `json:"safety_disclaimer,omitempty"`
	MedicalConditions   []string `json:"medical_conditions,omitempty"`
	SpecialEventType    string   `json:"special_event_type,omitempty"`
	GroupSize           int      `json:"group_size,omitempty"`
	SpecialRequirements []string `json:"special_requirements,omitempty"`
	EventEscalation     bool     `json:"event_escalation"`
	ConfigCompleteness  int      `json:"config_completeness_score"`
}

// AgentTrace is one immutable entry in the per-turn decision trace.
type AgentTrace struct {
	Agent      string    `json:"agent"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// ConversationState is the per-turn working record. It is created per inbound
// message and owned exclusively by the supervisor during a single routing
// pass; IterationCount in Control is monotonically non-decreasing within a
// conversation and guards against routing cycles.
type ConversationState struct {
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	Vertical       Vertical          `json:"vertical"`
	Channel        string            `json:"channel"`
	Message        string            `json:"message"`
	Intent         Intent            `json:"detected_intent"`
	Signals        []Signal          `json:"detected_signals"`
	Extracted      ExtractedData     `json:"extracted_data"`
	Control        Control           `json:"control"`
	Safety         SafetyAnalysis    `json:"safety_analysis"`
	NextStage      string            `json:"next_agent"`
	RoutingReason  string            `json:"routing_reason,omitempty"`
	ScoreChange    int               `json:"score_change"`
	Trace          []AgentTrace      `json:"agent_trace"`
}

// AppendTrace records an agent decision on the state.
func (s *ConversationState) AppendTrace(agent, input, output string, started time.Time) {
	s.Trace = append(s.Trace, AgentTrace{
		Agent:      agent,
		Input:      input,
		Output:     output,
		DurationMs: time.Since(started).Milliseconds(),
		At:         started.UTC(),
	})
}
