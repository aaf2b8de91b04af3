package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/go-concierge/internal/breaker"
	"github.com/basket/go-concierge/internal/channels"
	"github.com/basket/go-concierge/internal/generator"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/state"
	"github.com/basket/go-concierge/internal/supervisor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "concierge.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTenant(t *testing.T, store *persistence.Store) state.BusinessContext {
	t.Helper()
	bc := state.BusinessContext{
		TenantID:     "t1",
		BusinessName: "Clinica Sonrisa",
		Vertical:     state.VerticalDental,
		Phone:        "5512345678",
		Address:      "Av. Reforma 100",
		Hours:        "L-V 9-19",
		Services: []state.Service{
			{Name: "limpieza", Price: "$800"},
		},
	}
	if err := store.UpsertTenant(context.Background(), bc); err != nil {
		t.Fatalf("upsert tenant: %v", err)
	}
	return bc
}

// fakeSender records sends and can be told to fail.
type fakeSender struct {
	name  string
	fail  error
	sends atomic.Int32
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(context.Context, string, string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sends.Add(1)
	return nil
}

// fakeResponder returns a fixed reply or error.
type fakeResponder struct {
	reply string
	err   error
	calls atomic.Int32
}

func (f *fakeResponder) GenerateResponse(context.Context, generator.Request) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

func enqueueResponseJob(t *testing.T, store *persistence.Store, message string) string {
	t.Helper()
	payload, _ := json.Marshal(ResponsePayload{
		ConversationID: "c1",
		Channel:        channels.ChannelWhatsApp,
		Recipient:      "5215512345678",
		Message:        message,
	})
	jobID, err := store.EnqueueJob(context.Background(), "t1",
		persistence.JobTypeResponseGeneration, string(payload), persistence.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return jobID
}

func TestResponseHandler_HappyPath(t *testing.T) {
	store := newTestStore(t)
	seedTenant(t, store)
	ctx := context.Background()

	primary := &fakeResponder{reply: "Con gusto le comparto los precios."}
	fallback := &fakeResponder{reply: "fallback reply"}
	brk := breaker.New("llm", discardLogger())
	h := NewResponseHandler(store, supervisor.New(discardLogger()), brk, primary, fallback, discardLogger())

	jobID := enqueueResponseJob(t, store, "cuanto cuesta una limpieza")
	job, err := store.ClaimNextJob(ctx, "w1")
	if err != nil || job == nil || job.ID != jobID {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	result, err := h.Handle(ctx, job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var res ResponseResult
	if err := json.Unmarshal([]byte(result), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.NextStage != supervisor.StagePricing {
		t.Fatalf("next_stage = %q, want pricing", res.NextStage)
	}
	if res.ShouldEscalate || res.UsedFallback {
		t.Fatalf("result = %+v, want no escalation and primary reply", res)
	}
	if fallback.calls.Load() != 0 {
		t.Fatal("fallback should not run when primary succeeds")
	}

	msg, err := store.GetOutboundMessage(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Body != primary.reply || msg.Channel != channels.ChannelWhatsApp || msg.SourceJobID != jobID {
		t.Fatalf("message = %+v", msg)
	}

	// A delivery job referencing the message must now be pending.
	pending, err := store.HasPendingDeliveryJob(ctx, res.MessageID)
	if err != nil || !pending {
		t.Fatalf("pending delivery job = %v, %v", pending, err)
	}
}

func TestResponseHandler_FallbackOnPrimaryFailure(t *testing.T) {
	store := newTestStore(t)
	seedTenant(t, store)
	ctx := context.Background()

	primary := &fakeResponder{err: errors.New("model down")}
	fallback := &fakeResponder{reply: "fallback reply"}
	h := NewResponseHandler(store, supervisor.New(discardLogger()),
		breaker.New("llm", discardLogger()), primary, fallback, discardLogger())

	enqueueResponseJob(t, store, "hola")
	job, _ := store.ClaimNextJob(ctx, "w1")

	result, err := h.Handle(ctx, job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var res ResponseResult
	_ = json.Unmarshal([]byte(result), &res)
	if !res.UsedFallback {
		t.Fatal("expected fallback reply")
	}
	msg, err := store.GetOutboundMessage(ctx, res.MessageID)
	if err != nil || msg.Body != "fallback reply" {
		t.Fatalf("message = %+v, %v", msg, err)
	}
}

func TestResponseHandler_EscalationBumpsDeliveryPriority(t *testing.T) {
	store := newTestStore(t)
	seedTenant(t, store)
	ctx := context.Background()

	h := NewResponseHandler(store, supervisor.New(discardLogger()), nil, nil,
		&fakeResponder{reply: "la atenderemos de inmediato"}, discardLogger())

	enqueueResponseJob(t, store, "me duele mucho la muela, no aguanto el dolor")
	job, _ := store.ClaimNextJob(ctx, "w1")

	result, err := h.Handle(ctx, job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var res ResponseResult
	_ = json.Unmarshal([]byte(result), &res)
	if !res.ShouldEscalate {
		t.Fatal("urgent pain must escalate")
	}

	// The delivery job is the highest-priority pending job now.
	send, err := store.ClaimNextJob(ctx, "w2")
	if err != nil || send == nil {
		t.Fatalf("claim send job: %v, %v", send, err)
	}
	if send.Type != persistence.JobTypeSendWhatsApp || send.Priority != escalationPriority {
		t.Fatalf("send job = type %s priority %d", send.Type, send.Priority)
	}
}

func TestResponseHandler_UnknownTenantFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	h := NewResponseHandler(store, supervisor.New(discardLogger()), nil, nil,
		&fakeResponder{reply: "x"}, discardLogger())

	payload, _ := json.Marshal(ResponsePayload{ConversationID: "c1", Channel: "whatsapp", Message: "hola"})
	_, err := store.EnqueueJob(ctx, "ghost", persistence.JobTypeResponseGeneration, string(payload), persistence.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, _ := store.ClaimNextJob(ctx, "w1")

	if _, err := h.Handle(ctx, job); !errors.Is(err, persistence.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

func TestSendHandler_DeliversAndMarksSent(t *testing.T) {
	store := newTestStore(t)
	seedTenant(t, store)
	ctx := context.Background()

	sender := &fakeSender{name: channels.ChannelWhatsApp}
	h := NewSendHandler(store, channels.NewRegistry(sender), nil, discardLogger())

	msgID, err := store.CreateOutboundMessage(ctx, persistence.OutboundMessage{
		TenantID:       "t1",
		ConversationID: "c1",
		Channel:        channels.ChannelWhatsApp,
		Recipient:      "5215512345678",
		Body:           "hola",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	payload, _ := json.Marshal(SendPayload{MessageID: msgID})
	_, err = store.EnqueueJob(ctx, "t1", persistence.JobTypeSendWhatsApp, string(payload), persistence.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, _ := store.ClaimNextJob(ctx, "w1")

	if _, err := h.Handle(ctx, job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sender.sends.Load() != 1 {
		t.Fatalf("sends = %d", sender.sends.Load())
	}
	msg, _ := store.GetOutboundMessage(ctx, msgID)
	if msg.Status != persistence.MessageStatusSent {
		t.Fatalf("status = %s", msg.Status)
	}

	// Redelivery is a no-op.
	out, err := h.Handle(ctx, job)
	if err != nil || !strings.Contains(out, "already_sent") {
		t.Fatalf("redelivery = %q, %v", out, err)
	}
	if sender.sends.Load() != 1 {
		t.Fatal("redelivery must not send again")
	}
}

func TestSendHandler_FailureMarksMessageFailed(t *testing.T) {
	store := newTestStore(t)
	seedTenant(t, store)
	ctx := context.Background()

	sender := &fakeSender{name: channels.ChannelWhatsApp, fail: errors.New("rate limited")}
	h := NewSendHandler(store, channels.NewRegistry(sender), nil, discardLogger())

	msgID, _ := store.CreateOutboundMessage(ctx, persistence.OutboundMessage{
		TenantID: "t1", ConversationID: "c1", Channel: channels.ChannelWhatsApp,
		Recipient: "5215512345678", Body: "hola",
	})
	payload, _ := json.Marshal(SendPayload{MessageID: msgID})
	_, _ = store.EnqueueJob(ctx, "t1", persistence.JobTypeSendWhatsApp, string(payload), persistence.EnqueueOptions{})
	job, _ := store.ClaimNextJob(ctx, "w1")

	if _, err := h.Handle(ctx, job); err == nil {
		t.Fatal("expected delivery error")
	}
	msg, _ := store.GetOutboundMessage(ctx, msgID)
	if msg.Status != persistence.MessageStatusFailed || !strings.Contains(msg.ErrorMessage, "rate limited") {
		t.Fatalf("message = %+v", msg)
	}
}

func TestScoreHandler_Accumulates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := NewScoreHandler(store, discardLogger())

	apply := func(delta int) {
		t.Helper()
		payload, _ := json.Marshal(ScorePayload{ConversationID: "c1", Delta: delta})
		jobID, err := store.EnqueueJob(ctx, "t1", persistence.JobTypeUpdateScore, string(payload), persistence.EnqueueOptions{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		job, err := store.ClaimNextJob(ctx, "w1")
		if err != nil || job == nil || job.ID != jobID {
			t.Fatalf("claim: %v, %v", job, err)
		}
		if _, err := h.Handle(ctx, job); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if err := store.CompleteJob(ctx, job.ID, "{}"); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	apply(20)
	apply(15)
	apply(-5)

	score, err := ConversationScore(ctx, store, "t1", "c1")
	if err != nil || score != 30 {
		t.Fatalf("score = %d, %v, want 30", score, err)
	}
}

func TestPool_ProcessesJobsAndDrains(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	pool := NewPool(store, discardLogger(), WithSize(3), WithPollInterval(20*time.Millisecond))
	pool.Register(persistence.JobTypeUpdateScore, HandlerFunc(func(_ context.Context, job *persistence.Job) (string, error) {
		handled.Add(1)
		return "{}", nil
	}))

	const jobs = 8
	for i := 0; i < jobs; i++ {
		if _, err := store.EnqueueJob(ctx, "t1", persistence.JobTypeUpdateScore, `{"conversation_id":"c1","delta":1}`, persistence.EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for handled.Load() < jobs {
		select {
		case <-deadline:
			t.Fatalf("handled %d of %d jobs before timeout", handled.Load(), jobs)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not drain after cancel")
	}

	counts, err := store.JobCounts(context.Background())
	if err != nil {
		t.Fatalf("job counts: %v", err)
	}
	if counts[persistence.JobStatusCompleted] != jobs {
		t.Fatalf("completed = %d, want %d", counts[persistence.JobStatusCompleted], jobs)
	}
}

func TestPool_HandlerErrorRoutesThroughFailJob(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewPool(store, discardLogger(), WithSize(1), WithPollInterval(20*time.Millisecond))
	pool.Register(persistence.JobTypeUpdateScore, HandlerFunc(func(context.Context, *persistence.Job) (string, error) {
		return "", errors.New("boom")
	}))

	jobID, err := store.EnqueueJob(ctx, "t1", persistence.JobTypeUpdateScore, "{}", persistence.EnqueueOptions{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		job, err := store.GetJob(ctx, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == persistence.JobStatusFailed {
			if !strings.Contains(job.ErrorMessage, "boom") {
				t.Fatalf("error = %q", job.ErrorMessage)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job still %s before timeout", job.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPool_UnregisteredTypeFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pool := NewPool(store, discardLogger())
	if _, err := store.EnqueueJob(ctx, "t1", persistence.JobTypeSendWhatsApp, "{}", persistence.EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := store.ClaimNextJob(ctx, "w1")
	if err != nil || job == nil {
		t.Fatalf("claim: %v, %v", job, err)
	}
	if _, err := pool.dispatch(ctx, job); err == nil || !strings.Contains(err.Error(), "no handler registered") {
		t.Fatalf("err = %v", err)
	}
}

func TestPool_RecoversHandlerPanic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pool := NewPool(store, discardLogger())
	pool.Register(persistence.JobTypeUpdateScore, HandlerFunc(func(context.Context, *persistence.Job) (string, error) {
		panic("bad payload")
	}))

	_, err := store.EnqueueJob(ctx, "t1", persistence.JobTypeUpdateScore, "{}", persistence.EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, _ := store.ClaimNextJob(ctx, "w1")

	_, err = pool.dispatch(ctx, job)
	if err == nil || !strings.Contains(err.Error(), "handler panicked") {
		t.Fatalf("err = %v", err)
	}
}
