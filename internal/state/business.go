package state

// Service is one entry in a tenant's service catalog.
type Service struct {
	Name            string `json:"name"`
	Price           string `json:"price,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// ScoringRule is a tenant-configured keyword rule that emits a scored signal.
type ScoringRule struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Points   int      `json:"points"`
}

// VocabularyTerm is a tenant-specific learned term mapped to an intent,
// inferred from past conversations.
type VocabularyTerm struct {
	Term   string `json:"term"`
	Intent Intent `json:"intent"`
}

// BusinessContext is the tenant configuration the core consumes. It is
// produced by the tenant configuration provider and treated as read-only
// during a routing pass.
type BusinessContext struct {
	TenantID     string    `json:"tenant_id"`
	BusinessName string    `json:"business_name"`
	Vertical     Vertical  `json:"vertical"`
	Address      string    `json:"address,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Hours        string    `json:"hours,omitempty"`
	Services     []Service `json:"services,omitempty"`

	ScoringRules         []ScoringRule    `json:"scoring_rules,omitempty"`
	AutoEscalateKeywords []string         `json:"auto_escalate_keywords,omitempty"`
	LearnedVocabulary    []VocabularyTerm `json:"learned_vocabulary,omitempty"`

	// MaxTurnsBeforeEscalation overrides the global iteration cap when > 0.
	MaxTurnsBeforeEscalation int `json:"max_turns_before_escalation,omitempty"`
}
