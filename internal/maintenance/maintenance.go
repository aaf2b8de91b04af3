// Package maintenance runs the periodic housekeeping sweeps: terminal-job
// cleanup, stale-claim recovery, unsent-message recovery and expired-lock
// sweeping. Every sweep runs under a distributed lock so that exactly one
// instance of a fleet executes it per schedule slot.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/go-concierge/internal/lock"
	"github.com/basket/go-concierge/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// taskLockTTL bounds how long a sweep may hold its lock; a crashed instance
// frees the slot after this.
const taskLockTTL = 5 * time.Minute

// Task is one scheduled sweep.
type Task struct {
	Name     string
	CronExpr string
	Run      func(ctx context.Context) error

	schedule cronlib.Schedule
	nextRun  time.Time
}

// Config holds the scheduler dependencies.
type Config struct {
	Store    *persistence.Store
	Locks    *lock.Service
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 30 seconds if zero
}

// Scheduler ticks at a fixed interval and fires every registered task whose
// cron schedule has come due since the last tick.
type Scheduler struct {
	store    *persistence.Store
	locks    *lock.Service
	logger   *slog.Logger
	interval time.Duration
	tasks    []*Task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		locks:    cfg.Locks,
		logger:   logger.With("component", "maintenance"),
		interval: interval,
	}
}

// Register adds a task. The first firing happens on the startup tick; the
// cron expression governs every firing after that.
func (s *Scheduler) Register(name, cronExpr string, run func(ctx context.Context) error) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q for %s: %w", cronExpr, name, err)
	}
	s.tasks = append(s.tasks, &Task{
		Name:     name,
		CronExpr: cronExpr,
		Run:      run,
		schedule: schedule,
	})
	return nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started",
		"interval", s.interval, "tasks", len(s.tasks))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, task := range s.tasks {
		if task.nextRun.After(now) {
			continue
		}
		s.fire(ctx, task)
		task.nextRun = task.schedule.Next(now)
	}
}

// fire runs one task under its distributed lock. A lock held by another
// instance means that instance owns this slot; the task simply waits for its
// next schedule.
func (s *Scheduler) fire(ctx context.Context, task *Task) {
	started := time.Now()
	err := s.locks.WithLock(ctx, "maintenance:"+task.Name, taskLockTTL, 0, task.Run)

	var notAcquired *lock.ErrNotAcquired
	if errors.As(err, &notAcquired) {
		s.logger.Debug("maintenance task skipped, lock held elsewhere",
			"task", task.Name, "held_by", notAcquired.HeldBy)
		return
	}
	if err != nil {
		s.logger.Error("maintenance task failed",
			"task", task.Name, "error", err.Error())
		return
	}

	if kvErr := s.store.SetKV(ctx, "maintenance:last_run:"+task.Name,
		started.UTC().Format(time.RFC3339)); kvErr != nil {
		s.logger.Warn("recording maintenance run failed",
			"task", task.Name, "error", kvErr.Error())
	}
	s.logger.Info("maintenance task finished",
		"task", task.Name,
		"duration_ms", time.Since(started).Milliseconds())
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
