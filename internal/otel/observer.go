package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/go-concierge/internal/bus"
)

// Observer translates bus events into metric increments, keeping the
// instrumented packages free of metric plumbing.
type Observer struct {
	metrics *Metrics
}

// NewObserver wraps the instruments.
func NewObserver(m *Metrics) *Observer {
	return &Observer{metrics: m}
}

// Watch consumes bus events until the subscription closes. Subscribe with an
// empty prefix so every topic is seen.
func (o *Observer) Watch(sub *bus.Subscription) {
	ctx := context.Background()
	for ev := range sub.Ch() {
		switch ev.Topic {
		case bus.TopicJobRetrying:
			o.metrics.JobRetries.Add(ctx, 1, jobAttrs(ev.Payload))
		case bus.TopicJobFailed:
			o.metrics.JobFailures.Add(ctx, 1, jobAttrs(ev.Payload))
		case bus.TopicEscalationRaised:
			if payload, ok := ev.Payload.(bus.EscalationEvent); ok {
				o.metrics.Escalations.Add(ctx, 1, metric.WithAttributes(
					AttrTenantID.String(payload.TenantID),
					AttrStage.String(payload.NextStage),
				))
			}
		case bus.TopicMessageSent:
			if payload, ok := ev.Payload.(bus.MessageSentEvent); ok {
				o.metrics.MessagesSent.Add(ctx, 1, metric.WithAttributes(
					AttrChannel.String(payload.Channel),
				))
				if payload.Recovered {
					o.metrics.RecoveryRequeues.Add(ctx, 1)
				}
			}
		case bus.TopicMessageSendFailed:
			if payload, ok := ev.Payload.(bus.MessageSentEvent); ok {
				o.metrics.SendFailures.Add(ctx, 1, metric.WithAttributes(
					AttrChannel.String(payload.Channel),
				))
			}
		}
	}
}

func jobAttrs(payload interface{}) metric.MeasurementOption {
	if ev, ok := payload.(bus.JobFailedEvent); ok {
		return metric.WithAttributes(
			AttrJobType.String(ev.JobType),
			attribute.Bool("terminal", ev.Terminal),
		)
	}
	return metric.WithAttributes()
}
