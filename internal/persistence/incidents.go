package persistence

import (
	"context"
	"fmt"
	"time"
)

// Incident is one compliance-relevant safety finding (emergency, severe
// allergy, escalated special event) kept for audit.
type Incident struct {
	IncidentID     int64     `json:"incident_id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Category       string    `json:"category"`
	Severity       int       `json:"severity"`
	Detail         string    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordIncident appends to the incident ledger.
func (s *Store) RecordIncident(ctx context.Context, inc Incident) error {
	if inc.Detail == "" {
		inc.Detail = "{}"
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO incidents (tenant_id, conversation_id, category, severity, detail)
			VALUES (?, ?, ?, ?, ?);
		`, inc.TenantID, inc.ConversationID, inc.Category, inc.Severity, inc.Detail)
		if err != nil {
			return fmt.Errorf("insert incident: %w", err)
		}
		return nil
	})
}

// ListIncidents returns a tenant's incidents, newest first.
func (s *Store) ListIncidents(ctx context.Context, tenantID string, limit int) ([]Incident, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, tenant_id, conversation_id, category, severity, detail, created_at
		FROM incidents
		WHERE tenant_id = ?
		ORDER BY incident_id DESC
		LIMIT ?;
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(&inc.IncidentID, &inc.TenantID, &inc.ConversationID, &inc.Category, &inc.Severity, &inc.Detail, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("incident rows: %w", err)
	}
	return out, nil
}
