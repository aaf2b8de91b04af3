package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/go-concierge/internal/persistence"
	"github.com/basket/go-concierge/internal/recovery"
)

// StandardTaskConfig tunes the built-in housekeeping tasks.
type StandardTaskConfig struct {
	JobRetentionDays int           // terminal jobs older than this are deleted (default 30)
	StaleClaimAge    time.Duration // processing claims older than this are requeued (default 10m)
	RecoveryWindow   time.Duration // unsent-message scan window (default 30m)

	CleanupCron   string // default "0 3 * * *"
	StaleCron     string // default "*/5 * * * *"
	RecoveryCron  string // default "*/2 * * * *"
	LockSweepCron string // default "*/10 * * * *"
}

func (c *StandardTaskConfig) applyDefaults() {
	if c.JobRetentionDays <= 0 {
		c.JobRetentionDays = 30
	}
	if c.StaleClaimAge <= 0 {
		c.StaleClaimAge = 10 * time.Minute
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = recovery.DefaultMaxAge
	}
	if c.CleanupCron == "" {
		c.CleanupCron = "0 3 * * *"
	}
	if c.StaleCron == "" {
		c.StaleCron = "*/5 * * * *"
	}
	if c.RecoveryCron == "" {
		c.RecoveryCron = "*/2 * * * *"
	}
	if c.LockSweepCron == "" {
		c.LockSweepCron = "*/10 * * * *"
	}
}

// RegisterStandardTasks wires the built-in sweeps onto the scheduler:
// terminal-job cleanup, stale-claim recovery, unsent-message recovery and
// expired-lock sweeping.
func (s *Scheduler) RegisterStandardTasks(store *persistence.Store, sweeper *recovery.Sweeper, cfg StandardTaskConfig) error {
	cfg.applyDefaults()

	if err := s.Register("job_cleanup", cfg.CleanupCron, func(ctx context.Context) error {
		deleted, err := store.CleanupOldJobs(ctx, cfg.JobRetentionDays)
		if err != nil {
			return fmt.Errorf("cleanup old jobs: %w", err)
		}
		if deleted > 0 {
			s.logger.Info("old jobs deleted", "count", deleted)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Register("stale_claim_recovery", cfg.StaleCron, func(ctx context.Context) error {
		recovered, err := store.RecoverStaleProcessing(ctx, cfg.StaleClaimAge)
		if err != nil {
			return fmt.Errorf("recover stale claims: %w", err)
		}
		if recovered > 0 {
			s.logger.Warn("stale processing claims requeued", "count", recovered)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.Register("unsent_message_recovery", cfg.RecoveryCron, func(ctx context.Context) error {
		_, err := sweeper.RecoverUnsentMessages(ctx, cfg.RecoveryWindow)
		return err
	}); err != nil {
		return err
	}

	return s.Register("lock_sweep", cfg.LockSweepCron, func(ctx context.Context) error {
		if _, err := store.SweepExpiredLocks(ctx); err != nil {
			return fmt.Errorf("sweep expired locks: %w", err)
		}
		return nil
	})
}
