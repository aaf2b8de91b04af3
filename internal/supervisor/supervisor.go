// Package supervisor is the per-turn decision engine. It runs the intent
// detector and the safety analyzer over an inbound message, computes the
// escalation decision, picks the next processing stage and appends the
// decision trace. One Process call handles exactly one turn of one
// conversation; concurrent turns of the same conversation are not defended
// against.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/detector"
	"github.com/basket/go-concierge/internal/safety"
	"github.com/basket/go-concierge/internal/shared"
	"github.com/basket/go-concierge/internal/state"
)

// DefaultMaxIterations caps routing turns per conversation unless the tenant
// overrides it.
const DefaultMaxIterations = 5

// Supervisor wires the detectors together. Zero-config collaborators (nil
// bus) are tolerated so tests can construct it piecemeal.
type Supervisor struct {
	detector *detector.Detector
	safety   *safety.Analyzer
	logger   *slog.Logger
	bus      *bus.Bus

	maxIterations int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDetector substitutes the intent detector.
func WithDetector(d *detector.Detector) Option {
	return func(s *Supervisor) { s.detector = d }
}

// WithSafetyAnalyzer substitutes the safety analyzer.
func WithSafetyAnalyzer(a *safety.Analyzer) Option {
	return func(s *Supervisor) { s.safety = a }
}

// WithBus attaches the in-process event bus for escalation/routing events.
func WithBus(b *bus.Bus) Option {
	return func(s *Supervisor) { s.bus = b }
}

// WithMaxIterations overrides the default iteration cap.
func WithMaxIterations(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// New creates a Supervisor with the built-in pattern tables.
func New(logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		detector:      detector.New(nil),
		safety:        safety.New(nil),
		logger:        logger.With("component", "supervisor"),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// escalation is a forced (escalate, reason) decision.
type escalation struct {
	reason string
}

// overrideRule inspects the safety findings and may force an escalation.
// Rules are evaluated in slice order and the first non-nil result wins,
// replacing the base decision outright.
type overrideRule struct {
	name  string
	apply func(em safety.EmergencyResult, req safety.RequirementsResult, ev safety.EventResult) *escalation
}

var overrideRules = []overrideRule{
	{
		name: "critical_emergency",
		apply: func(em safety.EmergencyResult, _ safety.RequirementsResult, _ safety.EventResult) *escalation {
			if em.IsEmergency && em.Severity >= 4 {
				return &escalation{reason: fmt.Sprintf("emergency detected (%s, severity %d)", em.Type, em.Severity)}
			}
			return nil
		},
	},
	{
		name: "allergy_requires_human",
		apply: func(_ safety.EmergencyResult, req safety.RequirementsResult, _ safety.EventResult) *escalation {
			if req.RequiresHuman {
				return &escalation{reason: "severe allergy requires human attention"}
			}
			return nil
		},
	},
	{
		name: "special_event",
		apply: func(_ safety.EmergencyResult, _ safety.RequirementsResult, ev safety.EventResult) *escalation {
			if ev.RequiresEscalation {
				return &escalation{reason: "special event requires human coordination"}
			}
			return nil
		},
	},
}

// highValueSignalPoints is the per-signal threshold for the multi-signal
// escalation rule.
const highValueSignalPoints = 15

// Process executes one supervisor turn over st, mutating it in place. It
// never returns an error: any internal panic is converted into a forced
// escalation with the failure recorded in the trace.
func (s *Supervisor) Process(ctx context.Context, st *state.ConversationState, bc state.BusinessContext) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			st.Control.ShouldEscalate = true
			st.Control.EscalationReason = fmt.Sprintf("internal supervisor error: %v", r)
			st.NextStage = StageEscalation
			st.RoutingReason = st.Control.EscalationReason
			st.AppendTrace("supervisor_error", st.Message, st.Control.EscalationReason, started)
			st.Control.IterationCount++
			s.logger.Error("supervisor panicked, forcing escalation",
				"trace_id", shared.TraceID(ctx),
				"tenant_id", st.TenantID,
				"conversation_id", st.ConversationID,
				"panic", fmt.Sprint(r))
		}
	}()

	// Detecting.
	intent := s.detector.DetectIntent(st.Message)
	intent = detector.RefineWithVocabulary(intent, st.Message, bc.LearnedVocabulary)
	st.Intent = intent
	st.Signals = s.detector.DetectSignals(st.Message, bc.ScoringRules)
	st.Extracted.Merge(s.detector.ExtractData(st.Message))

	// SafetyChecking. The three checks are independent of one another.
	em := s.safety.DetectEmergency(st.Message, st.Vertical)
	req := s.safety.DetectSafetyRequirements(st.Message, st.Vertical)
	ev := s.safety.DetectSpecialEvent(st.Message, st.Vertical)
	cc := s.safety.ValidateBusinessConfiguration(bc)
	st.Safety = state.SafetyAnalysis{
		EmergencyDetected:   em.IsEmergency,
		EmergencyType:       em.Type,
		EmergencySeverity:   em.Severity,
		RecommendedAction:   em.RecommendedAction,
		EmergencyMessage:    em.Message,
		RequiresHuman:       req.RequiresHuman,
		SafetyDisclaimer:    req.SafetyDisclaimer,
		MedicalConditions:   req.MedicalConditions,
		SpecialEventType:    ev.EventType,
		GroupSize:           ev.GroupSize,
		SpecialRequirements: ev.SpecialRequirements,
		EventEscalation:     ev.RequiresEscalation,
		ConfigCompleteness:  cc.Score,
	}

	// EscalationDeciding: base decision by precedence, then safety overrides.
	escalate, reason := s.baseEscalation(st, bc)
	for _, rule := range overrideRules {
		if o := rule.apply(em, req, ev); o != nil {
			escalate, reason = true, o.reason
			break
		}
	}
	st.Control.ShouldEscalate = escalate
	st.Control.EscalationReason = reason

	// Routed.
	switch {
	case escalate && em.RecommendedAction == safety.ActionUrgentCare:
		st.NextStage = StageUrgentCare
	case escalate:
		st.NextStage = StageEscalation
	default:
		st.NextStage = stageFor(intent, st.Vertical)
	}
	st.RoutingReason = routingReason(escalate, reason, intent)

	for _, sig := range st.Signals {
		st.ScoreChange += sig.Points
	}

	st.AppendTrace("supervisor", st.Message,
		fmt.Sprintf("intent=%s stage=%s escalate=%t", intent, st.NextStage, escalate), started)
	st.Control.IterationCount++

	s.logger.Info("turn routed",
		"trace_id", shared.TraceID(ctx),
		"tenant_id", st.TenantID,
		"conversation_id", st.ConversationID,
		"intent", string(intent),
		"next_stage", st.NextStage,
		"should_escalate", escalate,
		"score_change", st.ScoreChange,
		"duration_ms", time.Since(started).Milliseconds())
	s.publish(st, escalate, reason)
}

func (s *Supervisor) baseEscalation(st *state.ConversationState, bc state.BusinessContext) (bool, string) {
	switch st.Intent {
	case state.IntentHumanRequest:
		return true, "customer asked for a human"
	case state.IntentUrgentPain:
		return true, "urgent pain reported"
	}

	normalized := detector.Normalize(st.Message)
	for _, kw := range bc.AutoEscalateKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(normalized, detector.Normalize(kw)) {
			return true, fmt.Sprintf("auto-escalate keyword %q matched", kw)
		}
	}

	highValue := 0
	for _, sig := range st.Signals {
		if sig.Points >= highValueSignalPoints {
			highValue++
		}
	}
	if highValue >= 2 {
		return true, fmt.Sprintf("%d high-value signals detected", highValue)
	}
	return false, ""
}

func routingReason(escalate bool, reason string, intent state.Intent) string {
	if escalate {
		return reason
	}
	return fmt.Sprintf("intent %s", intent)
}

func (s *Supervisor) publish(st *state.ConversationState, escalated bool, reason string) {
	if s.bus == nil {
		return
	}
	if escalated {
		s.bus.Publish(bus.TopicEscalationRaised, bus.EscalationEvent{
			TenantID:       st.TenantID,
			ConversationID: st.ConversationID,
			Reason:         reason,
			NextStage:      st.NextStage,
		})
	}
	s.bus.Publish(bus.TopicConversationRouted, st.NextStage)
}

// MaxIterations resolves the per-tenant iteration cap.
func (s *Supervisor) MaxIterations(bc state.BusinessContext) int {
	if bc.MaxTurnsBeforeEscalation > 0 {
		return bc.MaxTurnsBeforeEscalation
	}
	return s.maxIterations
}

// Route is the outer control loop's stage resolver: it forces the escalation
// stage whenever the supervisor asked for one or the conversation has hit its
// iteration cap, preventing routing cycles.
func (s *Supervisor) Route(st *state.ConversationState, bc state.BusinessContext) string {
	if st.Control.ShouldEscalate {
		if st.NextStage == StageUrgentCare {
			return StageUrgentCare
		}
		return StageEscalation
	}
	if st.Control.IterationCount >= s.MaxIterations(bc) {
		st.Control.ShouldEscalate = true
		st.Control.EscalationReason = fmt.Sprintf("iteration cap reached (%d turns)", st.Control.IterationCount)
		return StageEscalation
	}
	return st.NextStage
}
