package incident

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/persistence"
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

func newTestSink(t *testing.T, store *persistence.Store, b *bus.Bus) (*Sink, string) {
	t.Helper()
	home := t.TempDir()
	sink, err := NewSink(store, b, home, discardLogger())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink, filepath.Join(home, "logs", "incidents.jsonl")
}

func readLines(t *testing.T, path string) []entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()

	var out []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parse jsonl line %q: %v", scanner.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecord_DualWrites(t *testing.T) {
	store := newTestStore(t)
	sink, jsonlPath := newTestSink(t, store, nil)
	ctx := context.Background()

	sink.Record(ctx, persistence.Incident{
		TenantID:       "t1",
		ConversationID: "c1",
		Category:       "emergency",
		Severity:       5,
		Detail:         `{"type":"dental_emergency"}`,
	})

	lines := readLines(t, jsonlPath)
	if len(lines) != 1 {
		t.Fatalf("jsonl lines = %d", len(lines))
	}
	if lines[0].Category != "emergency" || lines[0].Severity != 5 || lines[0].TenantID != "t1" {
		t.Fatalf("line = %+v", lines[0])
	}

	incidents, err := store.ListIncidents(ctx, "t1", 10)
	if err != nil || len(incidents) != 1 {
		t.Fatalf("incidents = %v, %v", incidents, err)
	}
	if incidents[0].Category != "emergency" || incidents[0].Severity != 5 {
		t.Fatalf("incident = %+v", incidents[0])
	}
	if sink.Count() != 1 {
		t.Fatalf("count = %d", sink.Count())
	}
}

func TestRecord_RedactsSecretsInDetail(t *testing.T) {
	store := newTestStore(t)
	sink, jsonlPath := newTestSink(t, store, nil)
	ctx := context.Background()

	sink.Record(ctx, persistence.Incident{
		TenantID:       "t1",
		ConversationID: "c1",
		Category:       "escalation",
		Detail:         "api_key=sk_live_0123456789abcdef0123 leaked in trace",
	})

	lines := readLines(t, jsonlPath)
	if strings.Contains(lines[0].Detail, "sk_live_") {
		t.Fatalf("secret leaked to jsonl: %q", lines[0].Detail)
	}
	if !strings.Contains(lines[0].Detail, "[REDACTED]") {
		t.Fatalf("detail not redacted: %q", lines[0].Detail)
	}

	incidents, _ := store.ListIncidents(ctx, "t1", 10)
	if strings.Contains(incidents[0].Detail, "sk_live_") {
		t.Fatalf("secret leaked to store: %q", incidents[0].Detail)
	}
}

func TestWatch_RecordsEscalationEvents(t *testing.T) {
	store := newTestStore(t)
	b := bus.New()
	sink, _ := newTestSink(t, store, nil)

	sub := b.Subscribe(bus.TopicEscalationRaised)
	go sink.Watch(sub)

	b.Publish(bus.TopicEscalationRaised, bus.EscalationEvent{
		TenantID:       "t1",
		ConversationID: "c9",
		Reason:         "urgent pain reported",
		NextStage:      "urgent_care",
	})

	deadline := time.After(3 * time.Second)
	for {
		incidents, err := store.ListIncidents(context.Background(), "t1", 10)
		if err != nil {
			t.Fatalf("list incidents: %v", err)
		}
		if len(incidents) == 1 {
			if incidents[0].Category != "escalation" || incidents[0].ConversationID != "c9" {
				t.Fatalf("incident = %+v", incidents[0])
			}
			if !strings.Contains(incidents[0].Detail, "urgent pain reported") {
				t.Fatalf("detail = %q", incidents[0].Detail)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("escalation incident not recorded before timeout")
		case <-time.After(10 * time.Millisecond):
		}
	}
	b.Unsubscribe(sub)
}

func TestRecord_PublishesIncidentTopic(t *testing.T) {
	store := newTestStore(t)
	b := bus.New()
	sink, _ := newTestSink(t, store, b)

	sub := b.Subscribe(bus.TopicIncidentRecorded)
	defer b.Unsubscribe(sub)

	sink.Record(context.Background(), persistence.Incident{
		TenantID:       "t1",
		ConversationID: "c1",
		Category:       "special_event",
	})

	select {
	case ev := <-sub.Ch():
		if ev.Payload != "special_event" {
			t.Fatalf("payload = %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("incident.recorded event not published")
	}
}
