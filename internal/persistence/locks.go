package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LockResult reports one acquisition attempt. When Acquired is false, HeldBy
// names the current holder (best effort; the row may change immediately
// after the read).
type LockResult struct {
	Acquired  bool      `json:"acquired"`
	LockName  string    `json:"lock_name"`
	HeldBy    string    `json:"held_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// TryAcquireLock makes a single atomic attempt to take the named lock.
// Mutual exclusion comes from the primary key on lock_name, not from
// application logic: the insert either succeeds or hits the unique
// constraint. On a constraint hit we delete any expired row and insert
// again; if a concurrent reclaimer wins that race, the second insert also
// fails and the caller is told who holds the lock.
func (s *Store) TryAcquireLock(ctx context.Context, name, holderID string, ttl time.Duration) (LockResult, error) {
	if name == "" || holderID == "" {
		return LockResult{}, errors.New("lock name and holder required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	// All lock timestamps live in sqlite's clock domain so expiry
	// comparisons against CURRENT_TIMESTAMP are exact.
	ttlSeconds := int(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	insert := func() (bool, error) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO locks (lock_name, acquired_by, acquired_at, expires_at)
			VALUES (?, ?, CURRENT_TIMESTAMP, datetime(CURRENT_TIMESTAMP, ?));
		`, name, holderID, fmt.Sprintf("+%d seconds", ttlSeconds))
		if err == nil {
			return true, nil
		}
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert lock %s: %w", name, err)
	}

	var out LockResult
	err := retryOnBusy(ctx, 5, func() error {
		out = LockResult{LockName: name}

		ok, err := insert()
		if err != nil {
			return err
		}
		if !ok {
			// Reclaim path: clear an expired row, then race to insert.
			if _, err := s.db.ExecContext(ctx, `
				DELETE FROM locks WHERE lock_name = ? AND expires_at <= CURRENT_TIMESTAMP;
			`, name); err != nil {
				return fmt.Errorf("delete expired lock %s: %w", name, err)
			}
			ok, err = insert()
			if err != nil {
				return err
			}
		}
		if ok {
			out.Acquired = true
			out.HeldBy = holderID
			if err := s.db.QueryRowContext(ctx, `
				SELECT expires_at FROM locks WHERE lock_name = ?;
			`, name).Scan(&out.ExpiresAt); err != nil {
				return fmt.Errorf("read acquired lock expiry %s: %w", name, err)
			}
			return nil
		}

		var heldBy string
		var heldUntil time.Time
		err = s.db.QueryRowContext(ctx, `
			SELECT acquired_by, expires_at FROM locks WHERE lock_name = ?;
		`, name).Scan(&heldBy, &heldUntil)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read lock holder %s: %w", name, err)
		}
		out.HeldBy = heldBy
		out.ExpiresAt = heldUntil
		return nil
	})
	if err != nil {
		return LockResult{}, err
	}
	return out, nil
}

// ReleaseLock deletes the row only when holderID still owns it, so a holder
// whose lock expired and was reclaimed cannot release the new owner's lock.
// Returns true when a row was actually deleted.
func (s *Store) ReleaseLock(ctx context.Context, name, holderID string) (bool, error) {
	var released bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM locks WHERE lock_name = ? AND acquired_by = ?;
		`, name, holderID)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("release rows affected: %w", err)
		}
		released = affected == 1
		return nil
	})
	return released, err
}

// ExtendLock pushes expires_at forward by extra, but only while holderID
// still owns an unexpired row. Returns true when the lease was extended.
func (s *Store) ExtendLock(ctx context.Context, name, holderID string, extra time.Duration) (bool, error) {
	if extra <= 0 {
		return false, errors.New("extension must be positive")
	}
	extraSeconds := int(extra / time.Second)
	if extraSeconds < 1 {
		extraSeconds = 1
	}
	var extended bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE locks SET expires_at = datetime(expires_at, ?)
			WHERE lock_name = ? AND acquired_by = ? AND expires_at > CURRENT_TIMESTAMP;
		`, fmt.Sprintf("+%d seconds", extraSeconds), name, holderID)
		if err != nil {
			return fmt.Errorf("extend lock %s: %w", name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("extend rows affected: %w", err)
		}
		extended = affected == 1
		return nil
	})
	return extended, err
}

// SweepExpiredLocks opportunistically clears every expired row. Reclaim in
// TryAcquireLock does this per-name; the sweep keeps abandoned names from
// accumulating.
func (s *Store) SweepExpiredLocks(ctx context.Context) (int64, error) {
	var deleted int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM locks WHERE expires_at <= CURRENT_TIMESTAMP;
		`)
		if err != nil {
			return fmt.Errorf("sweep expired locks: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sweep rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}
