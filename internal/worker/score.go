package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/basket/go-concierge/internal/persistence"
)

// ScorePayload is the payload of an update_score job.
type ScorePayload struct {
	ConversationID string `json:"conversation_id"`
	Delta          int    `json:"delta"`
}

// ScoreHandler applies signal deltas to the running lead score of a
// conversation, kept in the kv store under score:<tenant>:<conversation>.
type ScoreHandler struct {
	store  *persistence.Store
	logger *slog.Logger
}

// NewScoreHandler wires the score accumulator.
func NewScoreHandler(store *persistence.Store, logger *slog.Logger) *ScoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreHandler{store: store, logger: logger.With("component", "score_handler")}
}

func scoreKey(tenantID, conversationID string) string {
	return "score:" + tenantID + ":" + conversationID
}

// Handle implements Handler.
func (h *ScoreHandler) Handle(ctx context.Context, job *persistence.Job) (string, error) {
	var payload ScorePayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("decode score payload: %w", err)
	}
	if payload.ConversationID == "" {
		return "", fmt.Errorf("score payload missing conversation_id")
	}

	key := scoreKey(job.TenantID, payload.ConversationID)
	current := 0
	if raw, ok, err := h.store.GetKV(ctx, key); err != nil {
		return "", fmt.Errorf("read score: %w", err)
	} else if ok {
		current, err = strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("corrupt score value %q for %s: %w", raw, key, err)
		}
	}

	next := current + payload.Delta
	if err := h.store.SetKV(ctx, key, strconv.Itoa(next)); err != nil {
		return "", fmt.Errorf("write score: %w", err)
	}

	h.logger.Info("lead score updated",
		"tenant_id", job.TenantID,
		"conversation_id", payload.ConversationID,
		"delta", payload.Delta,
		"score", next)
	return fmt.Sprintf(`{"score":%d}`, next), nil
}

// ConversationScore reads the current lead score for a conversation.
func ConversationScore(ctx context.Context, store *persistence.Store, tenantID, conversationID string) (int, error) {
	raw, ok, err := store.GetKV(ctx, scoreKey(tenantID, conversationID))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(raw)
}
