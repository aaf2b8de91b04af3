// Package smoke holds end-to-end tests that run the whole message pipeline
// in-process: queue, supervisor routing, breaker-guarded generation, delivery
// and compliance logging, against a real store.
package smoke

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/go-concierge/internal/breaker"
	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/generator"
	"github.com/basket/go-concierge/internal/incident"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/state"
	"github.com/basket/go-concierge/internal/supervisor"
	"github.com/basket/go-concierge/internal/worker"
)

type fakeSender struct {
	name  string
	sends atomic.Int32
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(context.Context, string, string) error {
	f.sends.Add(1)
	return nil
}

type fakeResponder struct {
	reply string
}

func (f *fakeResponder) GenerateResponse(context.Context, generator.Request) (string, error) {
	return f.reply, nil
}

type pipeline struct {
	store  *persistence.Store
	bus    *bus.Bus
	sender *fakeSender
	pool   *worker.Pool
}

func startPipeline(t *testing.T, primary generator.Responder) *pipeline {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	eventBus := bus.New()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "concierge.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.UpsertTenant(context.Background(), state.BusinessContext{
		TenantID:     "t1",
		BusinessName: "Clinica Sonrisa",
		Vertical:     state.VerticalDental,
		Phone:        "5512345678",
		Address:      "Av. Reforma 100",
		Hours:        "L-V 9-19",
		Services:     []state.Service{{Name: "limpieza", Price: "$800"}},
		ScoringRules: []state.ScoringRule{{Name: "price_inquiry", Keywords: []string{"cuesta", "precio"}, Points: 20}},
	}); err != nil {
		t.Fatalf("upsert tenant: %v", err)
	}

	sender := &fakeSender{name: channels.ChannelWhatsApp}
	registry := channels.NewRegistry(sender)

	sup := supervisor.New(logger, supervisor.WithBus(eventBus))
	brk := breaker.New("llm", logger)
	fallback := generator.NewTemplateResponder()

	pool := worker.NewPool(store, logger,
		worker.WithSize(2),
		worker.WithPollInterval(20*time.Millisecond),
	)
	pool.Register(persistence.JobTypeResponseGeneration,
		worker.NewResponseHandler(store, sup, brk, primary, fallback, logger))
	sendHandler := worker.NewSendHandler(store, registry, eventBus, logger)
	pool.Register(persistence.JobTypeSendWhatsApp, sendHandler)
	pool.Register(persistence.JobTypeSendInstagram, sendHandler)
	pool.Register(persistence.JobTypeUpdateScore, worker.NewScoreHandler(store, logger))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &pipeline{store: store, bus: eventBus, sender: sender, pool: pool}
}

func (p *pipeline) enqueueInbound(t *testing.T, conversationID, message string) {
	t.Helper()
	payload, _ := json.Marshal(worker.ResponsePayload{
		ConversationID: conversationID,
		Channel:        channels.ChannelWhatsApp,
		Recipient:      "5215512345678",
		Message:        message,
	})
	if _, err := p.store.EnqueueJob(context.Background(), "t1",
		persistence.JobTypeResponseGeneration, string(payload), persistence.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue inbound: %v", err)
	}
}

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPipeline_InboundMessageToDelivery(t *testing.T) {
	p := startPipeline(t, &fakeResponder{reply: "Con gusto, la limpieza cuesta $800."})

	p.enqueueInbound(t, "c1", "cuanto cuesta una limpieza")

	waitFor(t, 5*time.Second, func() bool {
		return p.sender.sends.Load() == 1
	})

	// Every job in the chain must end terminal-complete, nothing stuck.
	waitFor(t, 5*time.Second, func() bool {
		counts, err := p.store.JobCounts(context.Background())
		if err != nil {
			return false
		}
		return counts[persistence.JobStatusPending] == 0 &&
			counts[persistence.JobStatusProcessing] == 0 &&
			counts[persistence.JobStatusFailed] == 0
	})
}

func TestPipeline_EmergencyEscalatesAndRecordsIncident(t *testing.T) {
	p := startPipeline(t, &fakeResponder{reply: "La atendemos de inmediato."})

	sink, err := incident.NewSink(p.store, p.bus, t.TempDir(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("incident sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	go sink.Watch(p.bus.Subscribe(bus.TopicEscalationRaised))

	p.enqueueInbound(t, "c2", "me duele mucho la muela, no aguanto el dolor")

	waitFor(t, 5*time.Second, func() bool {
		return p.sender.sends.Load() == 1
	})
	waitFor(t, 5*time.Second, func() bool {
		incidents, err := p.store.ListIncidents(context.Background(), "t1", 10)
		if err != nil {
			return false
		}
		for _, inc := range incidents {
			if inc.Category == "escalation" && inc.ConversationID == "c2" {
				return true
			}
		}
		return false
	})
}

func TestPipeline_ScoreAccumulatesAcrossTurns(t *testing.T) {
	p := startPipeline(t, &fakeResponder{reply: "Claro que si."})

	p.enqueueInbound(t, "c3", "cuanto cuesta una limpieza")

	waitFor(t, 5*time.Second, func() bool {
		score, err := worker.ConversationScore(context.Background(), p.store, "t1", "c3")
		return err == nil && score > 0
	})
}
