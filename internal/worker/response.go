package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/basket/go-concierge/internal/breaker"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/generator"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/shared"
	"github.com/basket/go-concierge/internal/state"
	"github.com/basket/go-concierge/internal/supervisor"
)

// escalationPriority is applied to the delivery job of an escalated reply so
// it jumps the send queue.
const escalationPriority = 10

// ResponsePayload is the payload of a response_generation job: one inbound
// message awaiting a routed reply.
type ResponsePayload struct {
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Message        string `json:"message"`
	IterationCount int    `json:"iteration_count,omitempty"`
}

// ResponseResult is stored on the completed job.
type ResponseResult struct {
	MessageID      string `json:"message_id"`
	NextStage      string `json:"next_stage"`
	ShouldEscalate bool   `json:"should_escalate"`
	UsedFallback   bool   `json:"used_fallback"`
}

// ResponseHandler runs the full turn for one inbound message: supervisor
// routing, reply generation behind the circuit breaker, and enqueueing of the
// delivery and score-update jobs.
type ResponseHandler struct {
	store      *persistence.Store
	supervisor *supervisor.Supervisor
	breaker    *breaker.Breaker
	primary    generator.Responder
	fallback   generator.Responder
	logger     *slog.Logger
}

// NewResponseHandler wires the turn pipeline. primary may be nil when no
// model is configured; every reply then takes the fallback responder.
func NewResponseHandler(
	store *persistence.Store,
	sup *supervisor.Supervisor,
	brk *breaker.Breaker,
	primary, fallback generator.Responder,
	logger *slog.Logger,
) *ResponseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseHandler{
		store:      store,
		supervisor: sup,
		breaker:    brk,
		primary:    primary,
		fallback:   fallback,
		logger:     logger.With("component", "response_handler"),
	}
}

// Handle implements Handler.
func (h *ResponseHandler) Handle(ctx context.Context, job *persistence.Job) (string, error) {
	var payload ResponsePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode response payload: %w", err)
	}
	if payload.ConversationID == "" || payload.Channel == "" {
		return "", fmt.Errorf("response payload missing conversation_id or channel")
	}
	ctx = shared.WithConversationID(ctx, payload.ConversationID)

	bc, err := h.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		return "", fmt.Errorf("load tenant %s: %w", job.TenantID, err)
	}

	st := &state.ConversationState{
		TenantID:       job.TenantID,
		ConversationID: payload.ConversationID,
		Vertical:       bc.Vertical,
		Channel:        payload.Channel,
		Message:        payload.Message,
		Control:        state.Control{IterationCount: payload.IterationCount},
	}
	h.supervisor.Process(ctx, st, bc)
	st.NextStage = h.supervisor.Route(st, bc)

	reply, usedFallback, err := h.generate(ctx, bc, st)
	if err != nil {
		return "", err
	}

	messageID, err := h.store.CreateOutboundMessage(ctx, persistence.OutboundMessage{
		TenantID:       job.TenantID,
		ConversationID: payload.ConversationID,
		Channel:        payload.Channel,
		Recipient:      payload.Recipient,
		Body:           reply,
		SourceJobID:    job.ID,
	})
	if err != nil {
		return "", fmt.Errorf("record outbound message: %w", err)
	}

	sendType, err := deliveryJobType(payload.Channel)
	if err != nil {
		return "", err
	}
	sendPayload, _ := json.Marshal(SendPayload{MessageID: messageID})
	priority := 0
	if st.Control.ShouldEscalate {
		priority = escalationPriority
	}
	if _, err := h.store.EnqueueJob(ctx, job.TenantID, sendType, string(sendPayload),
		persistence.EnqueueOptions{Priority: priority}); err != nil {
		return "", fmt.Errorf("enqueue delivery job: %w", err)
	}

	if st.ScoreChange != 0 {
		scorePayload, _ := json.Marshal(ScorePayload{
			ConversationID: payload.ConversationID,
			Delta:          st.ScoreChange,
		})
		if _, err := h.store.EnqueueJob(ctx, job.TenantID, persistence.JobTypeUpdateScore,
			string(scorePayload), persistence.EnqueueOptions{}); err != nil {
			return "", fmt.Errorf("enqueue score job: %w", err)
		}
	}

	result, err := json.Marshal(ResponseResult{
		MessageID:      messageID,
		NextStage:      st.NextStage,
		ShouldEscalate: st.Control.ShouldEscalate,
		UsedFallback:   usedFallback,
	})
	if err != nil {
		return "", fmt.Errorf("encode response result: %w", err)
	}
	return string(result), nil
}

// generate produces the reply text, routing through the breaker when a
// primary responder is configured.
func (h *ResponseHandler) generate(ctx context.Context, bc state.BusinessContext, st *state.ConversationState) (string, bool, error) {
	req := generator.Request{Business: bc, State: st}

	if h.primary == nil || h.breaker == nil {
		reply, err := h.fallback.GenerateResponse(ctx, req)
		if err != nil {
			return "", true, fmt.Errorf("fallback responder: %w", err)
		}
		return reply, true, nil
	}

	reply, usedFallback, err := h.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) (string, error) {
			return h.primary.GenerateResponse(ctx, req)
		},
		func(ctx context.Context) (string, error) {
			return h.fallback.GenerateResponse(ctx, req)
		},
	)
	if err != nil {
		return "", usedFallback, fmt.Errorf("generate reply: %w", err)
	}
	return reply, usedFallback, nil
}

func deliveryJobType(channel string) (persistence.JobType, error) {
	switch channel {
	case channels.ChannelWhatsApp:
		return persistence.JobTypeSendWhatsApp, nil
	case channels.ChannelInstagram:
		return persistence.JobTypeSendInstagram, nil
	default:
		return "", fmt.Errorf("no delivery job type for channel %q", channel)
	}
}
