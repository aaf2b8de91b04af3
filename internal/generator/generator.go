// Package generator produces outbound reply text. The primary responder
// calls a language model; the template responder is the degraded path the
// circuit breaker falls back to when the model is unavailable.
package generator

import (
	"context"

	"github.com/basket/go-concierge/internal/state"
)

// Request carries everything a responder needs for one reply.
type Request struct {
	Business state.BusinessContext
	State    *state.ConversationState
}

// Responder turns a routed conversation turn into reply text.
type Responder interface {
	GenerateResponse(ctx context.Context, req Request) (string, error)
}
