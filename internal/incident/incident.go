// Package incident is the compliance sink for safety findings: emergencies,
// severe allergies, escalated special events. Every finding is written to an
// append-only JSONL file and to the incidents table, with secrets redacted
// before persistence.
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/shared"
)

// entry is one line of incidents.jsonl.
type entry struct {
	Timestamp      string `json:"timestamp"`
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
	Category       string `json:"category"`
	Severity       int    `json:"severity,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// Sink dual-writes incidents to disk and to the store.
type Sink struct {
	store    *persistence.Store
	eventBus *bus.Bus
	logger   *slog.Logger

	mu   sync.Mutex
	file *os.File

	count atomic.Int64
}

// NewSink opens logs/incidents.jsonl under homeDir and returns the sink.
// b may be nil.
func NewSink(store *persistence.Store, b *bus.Bus, homeDir string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create incident log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "incidents.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open incident log: %w", err)
	}
	return &Sink{
		store:    store,
		eventBus: b,
		logger:   logger.With("component", "incident"),
		file:     f,
	}, nil
}

// Close flushes and closes the JSONL file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Count returns the number of incidents recorded since startup.
func (s *Sink) Count() int64 {
	return s.count.Load()
}

// Record persists one incident. Failures are logged, never propagated: a
// broken compliance sink must not block message processing.
func (s *Sink) Record(ctx context.Context, inc persistence.Incident) {
	inc.Detail = shared.Redact(inc.Detail)
	s.count.Add(1)

	s.mu.Lock()
	if s.file != nil {
		line, err := json.Marshal(entry{
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
			TenantID:       inc.TenantID,
			ConversationID: inc.ConversationID,
			Category:       inc.Category,
			Severity:       inc.Severity,
			Detail:         inc.Detail,
		})
		if err == nil {
			_, _ = s.file.Write(append(line, '\n'))
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.RecordIncident(ctx, inc); err != nil {
			s.logger.Error("recording incident failed",
				"tenant_id", inc.TenantID,
				"category", inc.Category,
				"error", err.Error())
		}
	}
	if s.eventBus != nil {
		s.eventBus.Publish(bus.TopicIncidentRecorded, inc.Category)
	}
}

// Watch consumes escalation events until the subscription closes, recording
// each as an incident. Run it in its own goroutine and unsubscribe on
// shutdown.
func (s *Sink) Watch(sub *bus.Subscription) {
	for ev := range sub.Ch() {
		payload, ok := ev.Payload.(bus.EscalationEvent)
		if !ok {
			continue
		}
		detail, _ := json.Marshal(map[string]string{
			"reason":     payload.Reason,
			"next_stage": payload.NextStage,
		})
		s.Record(context.Background(), persistence.Incident{
			TenantID:       payload.TenantID,
			ConversationID: payload.ConversationID,
			Category:       "escalation",
			Detail:         string(detail),
		})
	}
}
