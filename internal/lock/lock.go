// Package lock is the coordination layer over the persisted lock table.
// Periodic maintenance and recovery sweeps take a named lock before running
// so that only one worker in the fleet does the work; TTL bounds the damage
// of a holder that dies without releasing.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/go-concierge/internal/persistence"
)

// retryInterval is the fixed poll interval while waiting for a held lock.
const retryInterval = 500 * time.Millisecond

// Service acquires and releases named locks for one holder identity
// (typically the worker ID).
type Service struct {
	store    *persistence.Store
	holderID string
	logger   *slog.Logger
}

// NewService creates a lock service for holderID.
func NewService(store *persistence.Store, holderID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		holderID: holderID,
		logger:   logger.With("component", "lock", "holder", holderID),
	}
}

// HolderID returns the identity this service acquires locks as.
func (s *Service) HolderID() string {
	return s.holderID
}

// Acquire attempts to take the named lock. With wait <= 0 it is a single
// attempt; otherwise it retries every 500ms until the wait window elapses.
// The returned result reports the holder on failure.
func (s *Service) Acquire(ctx context.Context, name string, ttl, wait time.Duration) (persistence.LockResult, error) {
	deadline := time.Now().Add(wait)
	for {
		res, err := s.store.TryAcquireLock(ctx, name, s.holderID, ttl)
		if err != nil {
			return persistence.LockResult{}, err
		}
		if res.Acquired {
			s.logger.Debug("lock acquired", "lock", name, "expires_at", res.ExpiresAt)
			return res, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return persistence.LockResult{}, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Release drops the named lock if this holder still owns it.
func (s *Service) Release(ctx context.Context, name string) (bool, error) {
	released, err := s.store.ReleaseLock(ctx, name, s.holderID)
	if err != nil {
		return false, err
	}
	if !released {
		s.logger.Warn("lock release skipped, no longer the holder", "lock", name)
	}
	return released, nil
}

// Extend pushes the lease forward while this holder still owns it.
func (s *Service) Extend(ctx context.Context, name string, extra time.Duration) (bool, error) {
	return s.store.ExtendLock(ctx, name, s.holderID, extra)
}

// ErrNotAcquired is wrapped into WithLock's error when the lock is held
// elsewhere.
type ErrNotAcquired struct {
	Name   string
	HeldBy string
}

func (e *ErrNotAcquired) Error() string {
	return fmt.Sprintf("lock %q not acquired, held by %q", e.Name, e.HeldBy)
}

// WithLock runs fn while holding the named lock and guarantees release on
// every exit path, including a panicking fn. A lock held elsewhere returns
// *ErrNotAcquired without running fn.
func (s *Service) WithLock(ctx context.Context, name string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	res, err := s.Acquire(ctx, name, ttl, wait)
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !res.Acquired {
		return &ErrNotAcquired{Name: name, HeldBy: res.HeldBy}
	}
	defer func() {
		// Release on a fresh context: the caller's ctx may already be
		// canceled and the row would otherwise linger until TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.store.ReleaseLock(releaseCtx, name, s.holderID); err != nil {
			s.logger.Error("lock release failed", "lock", name, "error", err.Error())
		}
	}()
	return fn(ctx)
}

// SweepExpired clears all expired lock rows.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.SweepExpiredLocks(ctx)
}
