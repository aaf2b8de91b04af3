package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/basket/go-concierge/internal/state"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrTenantNotFound is returned when no context exists for a tenant.
var ErrTenantNotFound = errors.New("tenant not found")

// businessContextSchema validates tenant configuration before it is
// persisted. Structural mistakes in tenant JSON should fail loudly at upsert
// time, not surface as odd routing later.
const businessContextSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["tenant_id", "business_name", "vertical"],
	"properties": {
		"tenant_id": {"type": "string", "minLength": 1},
		"business_name": {"type": "string", "minLength": 1},
		"vertical": {"enum": ["dental", "medical", "restaurant", "beauty", "general"]},
		"address": {"type": "string"},
		"phone": {"type": "string"},
		"email": {"type": "string"},
		"hours": {"type": "string"},
		"services": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"price": {"type": "string"},
					"duration_minutes": {"type": "integer", "minimum": 0}
				}
			}
		},
		"scoring_rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "keywords", "points"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1},
					"points": {"type": "integer"}
				}
			}
		},
		"auto_escalate_keywords": {"type": "array", "items": {"type": "string"}},
		"learned_vocabulary": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["term", "intent"],
				"properties": {
					"term": {"type": "string", "minLength": 1},
					"intent": {"type": "string"}
				}
			}
		},
		"max_turns_before_escalation": {"type": "integer", "minimum": 1}
	}
}`

var (
	tenantSchemaOnce sync.Once
	tenantSchema     *jsonschema.Schema
	tenantSchemaErr  error
)

func compiledTenantSchema() (*jsonschema.Schema, error) {
	tenantSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(businessContextSchema))
		if err != nil {
			tenantSchemaErr = fmt.Errorf("parse tenant schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("tenant.schema.json", doc); err != nil {
			tenantSchemaErr = fmt.Errorf("add tenant schema resource: %w", err)
			return
		}
		tenantSchema, tenantSchemaErr = compiler.Compile("tenant.schema.json")
	})
	return tenantSchema, tenantSchemaErr
}

// UpsertTenant validates and persists a tenant's business context.
func (s *Store) UpsertTenant(ctx context.Context, bc state.BusinessContext) error {
	raw, err := json.Marshal(bc)
	if err != nil {
		return fmt.Errorf("marshal business context: %w", err)
	}

	schema, err := compiledTenantSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("parse business context: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid business context for tenant %q: %w", bc.TenantID, err)
	}

	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tenants (tenant_id, context, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(tenant_id) DO UPDATE SET
				context = excluded.context,
				updated_at = CURRENT_TIMESTAMP;
		`, bc.TenantID, string(raw))
		if err != nil {
			return fmt.Errorf("upsert tenant: %w", err)
		}
		return nil
	})
}

// GetTenant loads a tenant's business context.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (state.BusinessContext, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM tenants WHERE tenant_id = ?;`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return state.BusinessContext{}, ErrTenantNotFound
	}
	if err != nil {
		return state.BusinessContext{}, fmt.Errorf("select tenant: %w", err)
	}
	var bc state.BusinessContext
	if err := json.Unmarshal([]byte(raw), &bc); err != nil {
		return state.BusinessContext{}, fmt.Errorf("unmarshal business context: %w", err)
	}
	return bc, nil
}
