package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/persistence"
)

// SendPayload is the payload of send_whatsapp and send_instagram jobs.
type SendPayload struct {
	MessageID string `json:"message_id"`
}

// SendHandler delivers one recorded outbound message through its channel
// sender and advances the delivery ledger. Redelivery of an already-sent
// message is a no-op, which makes retries and the recovery sweep idempotent.
type SendHandler struct {
	store    *persistence.Store
	registry *channels.Registry
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewSendHandler wires the delivery path. b may be nil.
func NewSendHandler(store *persistence.Store, registry *channels.Registry, b *bus.Bus, logger *slog.Logger) *SendHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendHandler{
		store:    store,
		registry: registry,
		bus:      b,
		logger:   logger.With("component", "send_handler"),
	}
}

// Handle implements Handler.
func (h *SendHandler) Handle(ctx context.Context, job *persistence.Job) (string, error) {
	var payload SendPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode send payload: %w", err)
	}
	if payload.MessageID == "" {
		return "", fmt.Errorf("send payload missing message_id")
	}

	msg, err := h.store.GetOutboundMessage(ctx, payload.MessageID)
	if err != nil {
		return "", fmt.Errorf("load outbound message %s: %w", payload.MessageID, err)
	}
	if msg.Status.Sent() {
		h.logger.Info("message already sent, skipping",
			"message_id", msg.ID, "status", string(msg.Status))
		return `{"skipped":"already_sent"}`, nil
	}

	sender, err := h.registry.Sender(msg.Channel)
	if err != nil {
		return "", err
	}

	if sendErr := sender.Send(ctx, msg.Recipient, msg.Body); sendErr != nil {
		if markErr := h.store.MarkMessageFailed(ctx, msg.ID, sendErr.Error()); markErr != nil {
			h.logger.Error("marking message failed failed",
				"message_id", msg.ID, "error", markErr.Error())
		}
		if h.bus != nil {
			h.bus.Publish(bus.TopicMessageSendFailed, bus.MessageSentEvent{
				MessageID: msg.ID,
				TenantID:  msg.TenantID,
				Channel:   msg.Channel,
				Recovered: msg.RecoveredBy != "",
			})
		}
		return "", fmt.Errorf("deliver message %s via %s: %w", msg.ID, msg.Channel, sendErr)
	}

	if err := h.store.MarkMessageSent(ctx, msg.ID); err != nil {
		// The message went out; losing the status write must not trigger a
		// redelivery attempt.
		h.logger.Error("marking message sent failed",
			"message_id", msg.ID, "error", err.Error())
	}
	if h.bus != nil {
		h.bus.Publish(bus.TopicMessageSent, bus.MessageSentEvent{
			MessageID: msg.ID,
			TenantID:  msg.TenantID,
			Channel:   msg.Channel,
			Recovered: msg.RecoveredBy != "",
		})
	}
	return fmt.Sprintf(`{"message_id":%q,"channel":%q}`, msg.ID, msg.Channel), nil
}
