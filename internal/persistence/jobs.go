package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basket/go-concierge/internal/bus"
	"github.com/google/uuid"
)

// JobType enumerates the work the processor pool knows how to execute.
type JobType string

const (
	JobTypeResponseGeneration JobType = "response_generation"
	JobTypeSendWhatsApp       JobType = "send_whatsapp"
	JobTypeSendInstagram      JobType = "send_instagram"
	JobTypeUpdateScore        JobType = "update_score"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// allowedJobTransitions gates every status change. pending->pending covers
// the retry requeue path (attempt bookkeeping changes, status does not).
var allowedJobTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusPending: {
		JobStatusProcessing: {},
		JobStatusFailed:     {},
	},
	JobStatusProcessing: {
		JobStatusCompleted: {},
		JobStatusFailed:    {},
		JobStatusPending:   {}, // retry requeue and crash recovery
	},
}

func canTransitionJob(from, to JobStatus) bool {
	next, ok := allowedJobTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ErrJobNotFound is returned when a job ID does not exist.
var ErrJobNotFound = errors.New("job not found")

// Job is one persisted queue entry.
type Job struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Type         JobType    `json:"job_type"`
	Payload      string     `json:"payload"`
	Status       JobStatus  `json:"status"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Result       string     `json:"result,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

const defaultMaxAttempts = 3

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	Priority     int
	MaxAttempts  int       // 0 means default (3)
	ScheduledFor time.Time // zero means now
}

// EnqueueJob inserts a pending job and returns its ID.
func (s *Store) EnqueueJob(ctx context.Context, tenantID string, jobType JobType, payload string, opts EnqueueOptions) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant_id required")
	}
	if payload == "" {
		payload = "{}"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	jobID := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin enqueue tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// Immediate jobs take the column default so eligibility comparisons
		// against CURRENT_TIMESTAMP stay in the same clock domain.
		if opts.ScheduledFor.IsZero() {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO jobs (id, tenant_id, job_type, payload, status, priority, attempts, max_attempts)
				VALUES (?, ?, ?, ?, 'pending', ?, 0, ?);
			`, jobID, tenantID, string(jobType), payload, opts.Priority, maxAttempts)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO jobs (id, tenant_id, job_type, payload, status, priority, attempts, max_attempts, scheduled_for)
				VALUES (?, ?, ?, ?, 'pending', ?, 0, ?, ?);
			`, jobID, tenantID, string(jobType), payload, opts.Priority, maxAttempts, opts.ScheduledFor.UTC())
		}
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if err := appendJobEventTx(ctx, tx, jobID, "job.enqueued", "", JobStatusPending, ""); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicJobEnqueued, jobID)
	}
	return jobID, nil
}

const jobColumns = `id, tenant_id, job_type, payload, status, priority, attempts, max_attempts,
	scheduled_for, started_at, completed_at, COALESCE(claimed_by, ''),
	COALESCE(error_message, ''), COALESCE(result, ''), created_at, updated_at`

func scanJob(scanFn func(dest ...any) error) (*Job, error) {
	var job Job
	var startedAt, completedAt sql.NullTime
	if err := scanFn(
		&job.ID,
		&job.TenantID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledFor,
		&startedAt,
		&completedAt,
		&job.ClaimedBy,
		&job.ErrorMessage,
		&job.Result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, jobID)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the highest-priority eligible pending job
// for workerID: select, transition to processing, stamp started_at and bump
// attempts inside one transaction. Two workers can never claim the same job;
// the UPDATE re-checks status so a lost race simply claims nothing.
// Returns (nil, nil) when no job is eligible.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*Job, error) {
	var claimed *Job
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = 'pending' AND scheduled_for <= CURRENT_TIMESTAMP
			ORDER BY priority DESC, created_at ASC
			LIMIT 1;
		`)
		job, err := scanJob(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("select claimable job: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'processing',
				attempts = attempts + 1,
				started_at = CURRENT_TIMESTAMP,
				claimed_by = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'pending';
		`, workerID, job.ID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected != 1 {
			claimed = nil
			return nil
		}
		if err := appendJobEventTx(ctx, tx, job.ID, "job.claimed", JobStatusPending, JobStatusProcessing, workerID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim tx: %w", err)
		}

		now := time.Now().UTC()
		job.Status = JobStatusProcessing
		job.Attempts++
		job.StartedAt = &now
		job.ClaimedBy = workerID
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed != nil && s.bus != nil {
		s.bus.Publish(bus.TopicJobClaimed, claimed.ID)
	}
	return claimed, nil
}

// CompleteJob transitions a processing job to completed and stores its result.
func (s *Store) CompleteJob(ctx context.Context, jobID, result string) error {
	var tenantID string
	var jobType JobType
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin complete tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var status JobStatus
		if err := tx.QueryRowContext(ctx, `SELECT status, tenant_id, job_type FROM jobs WHERE id = ?;`, jobID).
			Scan(&status, &tenantID, &jobType); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return fmt.Errorf("select job for completion: %w", err)
		}
		if !canTransitionJob(status, JobStatusCompleted) {
			return fmt.Errorf("illegal transition %s -> completed for job %s", status, jobID)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'completed',
				result = ?,
				completed_at = CURRENT_TIMESTAMP,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?;
		`, result, jobID, status); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if err := appendJobEventTx(ctx, tx, jobID, "job.completed", status, JobStatusCompleted, ""); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicJobCompleted, bus.JobCompletedEvent{
			JobID:    jobID,
			TenantID: tenantID,
			JobType:  string(jobType),
		})
	}
	return nil
}

// FailJob records a failure. While attempts remain it requeues the job as
// pending with an exponential backoff of 2^attempts seconds; once attempts
// are exhausted it marks the job permanently failed and stamps completed_at.
func (s *Store) FailJob(ctx context.Context, jobID, errorMessage string) error {
	var (
		terminal bool
		tenantID string
		jobType  JobType
	)
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin fail tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var status JobStatus
		var attempts, maxAttempts int
		if err := tx.QueryRowContext(ctx, `
			SELECT status, attempts, max_attempts, tenant_id, job_type FROM jobs WHERE id = ?;
		`, jobID).Scan(&status, &attempts, &maxAttempts, &tenantID, &jobType); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrJobNotFound
			}
			return fmt.Errorf("select job for failure: %w", err)
		}

		if attempts < maxAttempts {
			if !canTransitionJob(status, JobStatusPending) {
				return fmt.Errorf("illegal transition %s -> pending for job %s", status, jobID)
			}
			backoff := time.Duration(1<<uint(attempts)) * time.Second
			retryAt := time.Now().UTC().Add(backoff)
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'pending',
					scheduled_for = ?,
					error_message = ?,
					claimed_by = NULL,
					started_at = NULL,
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = ?;
			`, retryAt, errorMessage, jobID, status); err != nil {
				return fmt.Errorf("requeue job: %w", err)
			}
			if err := appendJobEventTx(ctx, tx, jobID, "job.retrying", status, JobStatusPending,
				fmt.Sprintf("attempt %d/%d, backoff %s", attempts, maxAttempts, backoff)); err != nil {
				return err
			}
			terminal = false
			return tx.Commit()
		}

		if !canTransitionJob(status, JobStatusFailed) {
			return fmt.Errorf("illegal transition %s -> failed for job %s", status, jobID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
				error_message = ?,
				completed_at = CURRENT_TIMESTAMP,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?;
		`, errorMessage, jobID, status); err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if err := appendJobEventTx(ctx, tx, jobID, "job.failed", status, JobStatusFailed, errorMessage); err != nil {
			return err
		}
		terminal = true
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		topic := bus.TopicJobRetrying
		if terminal {
			topic = bus.TopicJobFailed
		}
		s.bus.Publish(topic, bus.JobFailedEvent{
			JobID:    jobID,
			TenantID: tenantID,
			JobType:  string(jobType),
			Error:    errorMessage,
			Terminal: terminal,
		})
	}
	return nil
}

// CleanupOldJobs deletes terminal jobs (and their events) whose completed_at
// is older than daysOld days. Returns the number of jobs removed.
func (s *Store) CleanupOldJobs(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysOld)

	var deleted int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cleanup tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM job_events
			WHERE job_id IN (
				SELECT id FROM jobs
				WHERE status IN ('completed', 'failed') AND completed_at < ?
			);
		`, cutoff); err != nil {
			return fmt.Errorf("delete old job events: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE status IN ('completed', 'failed') AND completed_at < ?;
		`, cutoff)
		if err != nil {
			return fmt.Errorf("delete old jobs: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("cleanup rows affected: %w", err)
		}
		return tx.Commit()
	})
	return deleted, err
}

// RecoverStaleProcessing requeues jobs stuck in processing longer than
// maxAge. Run at startup and periodically: a worker that died mid-job leaves
// its claim behind, and requeueing is the only recourse.
func (s *Store) RecoverStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	var recovered int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin recover tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM jobs WHERE status = 'processing' AND started_at < ?;
		`, cutoff)
		if err != nil {
			return fmt.Errorf("select stale jobs: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale job: %w", err)
			}
			stale = append(stale, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("stale job rows: %w", err)
		}

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'pending',
					claimed_by = NULL,
					started_at = NULL,
					scheduled_for = CURRENT_TIMESTAMP,
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND status = 'processing';
			`, id); err != nil {
				return fmt.Errorf("requeue stale job %s: %w", id, err)
			}
			if err := appendJobEventTx(ctx, tx, id, "job.recovered", JobStatusProcessing, JobStatusPending, "stale processing claim"); err != nil {
				return err
			}
		}
		recovered = int64(len(stale))
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 && s.bus != nil {
		s.bus.Publish(bus.TopicJobRecovered, recovered)
	}
	return recovered, nil
}

// JobCounts returns the number of jobs per status, for queue-depth gauges.
func (s *Store) JobCounts(ctx context.Context) (map[JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int64)
	for rows.Next() {
		var status JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job count rows: %w", err)
	}
	return counts, nil
}

// ListJobEvents returns the append-only event ledger for one job.
func (s *Store) ListJobEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, job_id, event_type, COALESCE(status_from, ''), status_to, detail, created_at
		FROM job_events
		WHERE job_id = ?
		ORDER BY event_id ASC;
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	var out []JobEvent
	for rows.Next() {
		var ev JobEvent
		var from string
		if err := rows.Scan(&ev.EventID, &ev.JobID, &ev.EventType, &from, &ev.StatusTo, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		ev.StatusFrom = JobStatus(from)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job event rows: %w", err)
	}
	return out, nil
}

// JobEvent is one row of the append-only job ledger.
type JobEvent struct {
	EventID    int64     `json:"event_id"`
	JobID      string    `json:"job_id"`
	EventType  string    `json:"event_type"`
	StatusFrom JobStatus `json:"status_from,omitempty"`
	StatusTo   JobStatus `json:"status_to"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func appendJobEventTx(ctx context.Context, tx *sql.Tx, jobID, eventType string, from, to JobStatus, detail string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_events (job_id, event_type, status_from, status_to, detail)
		VALUES (?, ?, NULLIF(?, ''), ?, ?);
	`, jobID, eventType, string(from), string(to), detail); err != nil {
		return fmt.Errorf("insert job_event: %w", err)
	}
	return nil
}
