// Package channels delivers outbound messages to the customer-facing
// messaging platforms and raises operator alerts.
package channels

import (
	"context"
	"errors"
	"fmt"
)

// Channel names as persisted on outbound messages and job types.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelInstagram = "instagram"
)

// Sender delivers one message body to one recipient on a channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, recipient, body string) error
}

// ErrChannelNotConfigured is returned when a send job targets a channel the
// deployment has no credentials for.
var ErrChannelNotConfigured = errors.New("channel not configured")

// Registry resolves channel names to configured senders.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry builds a registry from the configured senders; nils are
// skipped.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[string]Sender)}
	for _, s := range senders {
		if s != nil {
			r.senders[s.Name()] = s
		}
	}
	return r
}

// Sender returns the sender for the named channel.
func (r *Registry) Sender(name string) (Sender, error) {
	s, ok := r.senders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotConfigured, name)
	}
	return s, nil
}
