// Package recovery reconciles the outbound message ledger against the job
// queue: a crash between recording a reply and delivering it leaves a message
// stuck in queued (or failed) with no send job, and this sweep re-enqueues
// the delivery.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/worker"
)

// DefaultMaxAge bounds the sweep window: messages older than this are left
// for manual triage rather than re-sent long after the conversation moved on.
const DefaultMaxAge = 30 * time.Minute

// recoveredPriority puts recovered deliveries ahead of fresh ones.
const recoveredPriority = 5

// Report summarizes one sweep.
type Report struct {
	Scanned  int // unsent messages in the window
	Requeued int // deliveries re-enqueued by this sweep
	Skipped  int // already sent, already pending, or tagged by another sweep
}

// Sweeper scans for unsent messages and re-enqueues their delivery jobs.
type Sweeper struct {
	store    *persistence.Store
	eventBus *bus.Bus
	logger   *slog.Logger
}

// NewSweeper builds a sweeper. b may be nil.
func NewSweeper(store *persistence.Store, b *bus.Bus, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		eventBus: b,
		logger:   logger.With("component", "recovery"),
	}
}

// RecoverUnsentMessages re-enqueues delivery for queued or failed messages
// created within maxAge. Each message is tagged with this sweep's identity
// before its job is enqueued; losing the tag race means another instance owns
// the recovery and the message is skipped. Item failures are collected and
// returned together so one broken row cannot stall the rest of the sweep.
func (s *Sweeper) RecoverUnsentMessages(ctx context.Context, maxAge time.Duration) (Report, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	sweepID := "recovery-" + uuid.NewString()[:8]

	messages, err := s.store.ListUnsentMessagesSince(ctx, maxAge)
	if err != nil {
		return Report{}, fmt.Errorf("scan unsent messages: %w", err)
	}

	report := Report{Scanned: len(messages)}
	var itemErrs []error
	for _, msg := range messages {
		requeued, err := s.recoverOne(ctx, sweepID, msg)
		if err != nil {
			itemErrs = append(itemErrs, fmt.Errorf("message %s: %w", msg.ID, err))
			continue
		}
		if requeued {
			report.Requeued++
		} else {
			report.Skipped++
		}
	}

	if report.Requeued > 0 || len(itemErrs) > 0 {
		s.logger.Info("recovery sweep finished",
			"sweep_id", sweepID,
			"scanned", report.Scanned,
			"requeued", report.Requeued,
			"skipped", report.Skipped,
			"errors", len(itemErrs))
	}
	return report, errors.Join(itemErrs...)
}

func (s *Sweeper) recoverOne(ctx context.Context, sweepID string, msg persistence.OutboundMessage) (bool, error) {
	// The scan already filters on status, but the window between scan and
	// recovery is live.
	if msg.Status.Sent() {
		return false, nil
	}

	pending, err := s.store.HasPendingDeliveryJob(ctx, msg.ID)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	jobType, err := deliveryJobType(msg.Channel)
	if err != nil {
		return false, err
	}

	tagged, err := s.store.TagMessageRecovered(ctx, msg.ID, sweepID)
	if err != nil {
		return false, err
	}
	if !tagged {
		return false, nil
	}

	payload, _ := json.Marshal(worker.SendPayload{MessageID: msg.ID})
	if _, err := s.store.EnqueueJob(ctx, msg.TenantID, jobType, string(payload),
		persistence.EnqueueOptions{Priority: recoveredPriority}); err != nil {
		return false, fmt.Errorf("enqueue recovered delivery: %w", err)
	}

	s.logger.Info("unsent message recovered",
		"sweep_id", sweepID,
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"channel", msg.Channel,
		"status", string(msg.Status))
	if s.eventBus != nil {
		s.eventBus.Publish(bus.TopicJobRecovered, bus.MessageSentEvent{
			MessageID: msg.ID,
			TenantID:  msg.TenantID,
			Channel:   msg.Channel,
			Recovered: true,
		})
	}
	return true, nil
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
