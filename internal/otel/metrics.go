package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/go-concierge/internal/persistence"
)

// Metrics holds all go-concierge metric instruments.
type Metrics struct {
	JobDuration      metric.Float64Histogram
	JobRetries       metric.Int64Counter
	JobFailures      metric.Int64Counter
	LLMCallDuration  metric.Float64Histogram
	BreakerTrips     metric.Int64Counter
	FallbackReplies  metric.Int64Counter
	Escalations      metric.Int64Counter
	MessagesSent     metric.Int64Counter
	SendFailures     metric.Int64Counter
	RecoveryRequeues metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.JobDuration, err = meter.Float64Histogram("goconcierge.job.duration",
		metric.WithDescription("Job processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.JobRetries, err = meter.Int64Counter("goconcierge.job.retries",
		metric.WithDescription("Jobs requeued for retry"),
	)
	if err != nil {
		return nil, err
	}

	m.JobFailures, err = meter.Int64Counter("goconcierge.job.failures",
		metric.WithDescription("Jobs failed terminally"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("goconcierge.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BreakerTrips, err = meter.Int64Counter("goconcierge.breaker.trips",
		metric.WithDescription("Circuit breaker open transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.FallbackReplies, err = meter.Int64Counter("goconcierge.generator.fallbacks",
		metric.WithDescription("Replies produced by the fallback responder"),
	)
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("goconcierge.escalations",
		metric.WithDescription("Conversations escalated to a human"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesSent, err = meter.Int64Counter("goconcierge.messages.sent",
		metric.WithDescription("Outbound messages delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.SendFailures, err = meter.Int64Counter("goconcierge.messages.failures",
		metric.WithDescription("Outbound delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.RecoveryRequeues, err = meter.Int64Counter("goconcierge.recovery.requeues",
		metric.WithDescription("Deliveries re-enqueued by the recovery sweep"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterQueueDepthGauge registers an observable gauge reporting the number
// of jobs per status, sampled from the store on each metric collection.
func RegisterQueueDepthGauge(meter metric.Meter, store *persistence.Store) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("goconcierge.queue.depth",
		metric.WithDescription("Jobs per status"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := store.JobCounts(ctx)
		if err != nil {
			return err
		}
		for status, n := range counts {
			o.ObserveInt64(gauge, n,
				metric.WithAttributes(attribute.String("status", string(status))))
		}
		return nil
	}, gauge)
}
