package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetKV stores a key/value pair, overwriting any previous value.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("kv key required")
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP;
		`, key, value)
		if err != nil {
			return fmt.Errorf("set kv %q: %w", key, err)
		}
		return nil
	})
}

// GetKV returns the value for key. The bool reports whether the key exists.
func (s *Store) GetKV(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %q: %w", key, err)
	}
	return value.String, true, nil
}

// DeleteKV removes a key if present.
func (s *Store) DeleteKV(ctx context.Context, key string) error {
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?;`, key); err != nil {
			return fmt.Errorf("delete kv %q: %w", key, err)
		}
		return nil
	})
}
