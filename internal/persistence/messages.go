package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of an outbound message.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Sent reports whether the message reached the channel ("sent" or later).
func (m MessageStatus) Sent() bool {
	return m == MessageStatusSent || m == MessageStatusDelivered
}

// ErrMessageNotFound is returned when a message ID does not exist.
var ErrMessageNotFound = errors.New("outbound message not found")

// OutboundMessage is one row of the delivery ledger. SourceJobID links the
// message back to the generation job that produced it; RecoveredBy carries
// provenance when the recovery sweep re-enqueued its delivery.
type OutboundMessage struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	ConversationID string        `json:"conversation_id"`
	Channel        string        `json:"channel"`
	Recipient      string        `json:"recipient"`
	Body           string        `json:"body"`
	Status         MessageStatus `json:"status"`
	SourceJobID    string        `json:"source_job_id,omitempty"`
	RecoveredBy    string        `json:"recovered_by,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// CreateOutboundMessage records a queued message and returns its ID.
func (s *Store) CreateOutboundMessage(ctx context.Context, m OutboundMessage) (string, error) {
	if m.TenantID == "" || m.ConversationID == "" || m.Channel == "" {
		return "", errors.New("tenant_id, conversation_id and channel required")
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO outbound_messages (id, tenant_id, conversation_id, channel, recipient, body, status, source_job_id)
			VALUES (?, ?, ?, ?, ?, ?, 'queued', NULLIF(?, ''));
		`, id, m.TenantID, m.ConversationID, m.Channel, m.Recipient, m.Body, m.SourceJobID)
		if err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

const messageColumns = `id, tenant_id, conversation_id, channel, recipient, body, status,
	COALESCE(source_job_id, ''), COALESCE(recovered_by, ''), COALESCE(error_message, ''),
	created_at, updated_at`

func scanMessage(scanFn func(dest ...any) error) (*OutboundMessage, error) {
	var m OutboundMessage
	if err := scanFn(
		&m.ID, &m.TenantID, &m.ConversationID, &m.Channel, &m.Recipient, &m.Body,
		&m.Status, &m.SourceJobID, &m.RecoveredBy, &m.ErrorMessage,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetOutboundMessage fetches a message by ID.
func (s *Store) GetOutboundMessage(ctx context.Context, id string) (*OutboundMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE id = ?;`, id)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select outbound message: %w", err)
	}
	return m, nil
}

// MarkMessageSent transitions a message to sent.
func (s *Store) MarkMessageSent(ctx context.Context, id string) error {
	return s.setMessageStatus(ctx, id, MessageStatusSent, "")
}

// MarkMessageDelivered transitions a message to delivered (channel callback).
func (s *Store) MarkMessageDelivered(ctx context.Context, id string) error {
	return s.setMessageStatus(ctx, id, MessageStatusDelivered, "")
}

// MarkMessageFailed records a delivery failure.
func (s *Store) MarkMessageFailed(ctx context.Context, id, errorMessage string) error {
	return s.setMessageStatus(ctx, id, MessageStatusFailed, errorMessage)
}

func (s *Store) setMessageStatus(ctx context.Context, id string, status MessageStatus, errorMessage string) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE outbound_messages
			SET status = ?,
				error_message = NULLIF(?, ''),
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, string(status), errorMessage, id)
		if err != nil {
			return fmt.Errorf("update message status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("message status rows affected: %w", err)
		}
		if affected != 1 {
			return ErrMessageNotFound
		}
		return nil
	})
}

// TagMessageRecovered stamps provenance on a message whose delivery the
// recovery sweep re-enqueued. A message already tagged is left alone so a
// second sweep cannot double-recover it; the bool reports whether this call
// won the tag.
func (s *Store) TagMessageRecovered(ctx context.Context, id, recoveredBy string) (bool, error) {
	var tagged bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE outbound_messages
			SET recovered_by = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND recovered_by IS NULL;
		`, recoveredBy, id)
		if err != nil {
			return fmt.Errorf("tag recovered message: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("tag rows affected: %w", err)
		}
		tagged = affected == 1
		return nil
	})
	return tagged, err
}

// ListUnsentMessagesSince returns queued or failed messages created within
// the window, oldest first. This is the recovery sweep's scan set.
func (s *Store) ListUnsentMessagesSince(ctx context.Context, maxAge time.Duration) ([]OutboundMessage, error) {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	seconds := int(maxAge / time.Second)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM outbound_messages
		WHERE status IN ('queued', 'failed')
		  AND created_at >= datetime(CURRENT_TIMESTAMP, ?)
		ORDER BY created_at ASC;
	`, fmt.Sprintf("-%d seconds", seconds))
	if err != nil {
		return nil, fmt.Errorf("list unsent messages: %w", err)
	}
	defer rows.Close()

	var out []OutboundMessage
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan outbound message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbound message rows: %w", err)
	}
	return out, nil
}

// HasPendingDeliveryJob reports whether a pending or in-flight send job
// already references the message ID in its payload. The recovery sweep uses
// this to avoid double-enqueueing a delivery.
func (s *Store) HasPendingDeliveryJob(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM jobs
		WHERE job_type IN ('send_whatsapp', 'send_instagram')
		  AND status IN ('pending', 'processing')
		  AND payload LIKE '%' || ? || '%';
	`, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count delivery jobs: %w", err)
	}
	return n > 0, nil
}
