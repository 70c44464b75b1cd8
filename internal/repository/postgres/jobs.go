package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// JobRepo implements executor.Store against PostgreSQL.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job queue repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

// ClaimDue claims up to limit due jobs for one worker. SKIP LOCKED keeps
// concurrent workers from fighting over rows; the join excludes runs halted
// between scheduling and now. A retried job is due on next_retry_at, a fresh
// one on fire_at.
func (r *JobRepo) ClaimDue(ctx context.Context, workerID string, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH due AS (
			SELECT j.id
			FROM distribution_jobs j
			JOIN distribution_runs r ON r.id = j.run_id
			WHERE j.status = 'pending'
			  AND COALESCE(j.next_retry_at, j.fire_at) <= NOW()
			  AND r.halted = false
			ORDER BY COALESCE(j.next_retry_at, j.fire_at)
			LIMIT $2
			FOR UPDATE OF j SKIP LOCKED
		)
		UPDATE distribution_jobs j
		SET status = 'in_flight', worker_id = $1, claimed_at = NOW(), updated_at = NOW()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.run_id, j.account_id, j.variant_id, j.fire_at,
		          j.account_class, j.account_age_days, j.attempts,
		          COALESCE(j.last_error_category,''), j.idempotency_key
	`, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j := domain.Job{Status: domain.JobInFlight, WorkerID: workerID}
		if err := rows.Scan(
			&j.ID, &j.RunID, &j.AccountID, &j.VariantID, &j.FireAt,
			&j.AccountClass, &j.AccountAgeDays, &j.Attempts,
			&j.LastError, &j.IdempotencyKey,
		); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ReleaseClaim returns a claimed job to pending. If the run was halted while
// the job was claimed, the one-shot cancel sweep has already passed it by and
// halted runs are never claimed again, so the job is cancelled here instead
// of being stranded in pending.
func (r *JobRepo) ReleaseClaim(ctx context.Context, jobID string, retryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE distribution_jobs j
		SET status = 'pending', worker_id = NULL, claimed_at = NULL,
		    next_retry_at = $2, updated_at = NOW()
		FROM distribution_runs r
		WHERE j.id = $1 AND j.status = 'in_flight'
		  AND r.id = j.run_id AND r.halted = false
	`, jobID, retryAt)
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release claim rows: %w", err)
	}
	if n == 0 {
		return r.cancelIfHalted(ctx, jobID)
	}
	return nil
}

func (r *JobRepo) MarkSucceeded(ctx context.Context, jobID, publishedPostID string) error {
	return r.finish(ctx, jobID, "succeeded_count", `
		UPDATE distribution_jobs
		SET status = 'succeeded', attempts = attempts + 1,
		    published_post_id = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, publishedPostID)
}

// MarkRetry requeues a failed attempt, unless the run was halted mid-attempt,
// in which case the job is cancelled instead (same stranding hazard as
// ReleaseClaim).
func (r *JobRepo) MarkRetry(ctx context.Context, jobID string, category domain.ErrorCategory, retryAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE distribution_jobs j
		SET status = 'pending', attempts = attempts + 1,
		    last_error_category = $2, next_retry_at = $3,
		    worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		FROM distribution_runs r
		WHERE j.id = $1 AND j.status = 'in_flight'
		  AND r.id = j.run_id AND r.halted = false
	`, jobID, category, retryAt)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark retry rows: %w", err)
	}
	if n == 0 {
		return r.cancelIfHalted(ctx, jobID)
	}
	return nil
}

// cancelIfHalted cancels a still-claimed job of a halted run, bumping the
// run's cancelled count. A no-op when the run is not halted or the job has
// already moved on.
func (r *JobRepo) cancelIfHalted(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, "cancelled_count", `
		UPDATE distribution_jobs
		SET status = 'cancelled', worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'
		  AND (SELECT halted FROM distribution_runs WHERE id = run_id)
	`, jobID)
}

func (r *JobRepo) MarkFailed(ctx context.Context, jobID string, category domain.ErrorCategory) error {
	return r.finish(ctx, jobID, "failed_count", `
		UPDATE distribution_jobs
		SET status = 'failed_terminal', attempts = attempts + 1,
		    last_error_category = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, category)
}

func (r *JobRepo) MarkCancelled(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, "cancelled_count", `
		UPDATE distribution_jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1
	`, jobID)
}

// RequeueStuck returns jobs claimed before the cutoff to the queue. The
// worker that claimed them is presumed dead; its account leases have expired
// by the time the sweep runs.
func (r *JobRepo) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE distribution_jobs
		SET status = 'pending', worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'in_flight' AND claimed_at < $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stuck rows: %w", err)
	}
	return int(n), nil
}

// finish applies a terminal job update and bumps the matching run counter in
// one transaction. The run flips to complete when every queued job has
// reached a terminal state; revision increases on every change so status
// pollers can detect it.
func (r *JobRepo) finish(ctx context.Context, jobID, counter, jobQuery string, args ...interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish job: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, jobQuery, args...)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job rows: %w", err)
	}
	if n == 0 {
		// Job already settled elsewhere; counting it again would corrupt
		// the run aggregates.
		return tx.Commit()
	}

	runQuery := fmt.Sprintf(`
		UPDATE distribution_runs
		SET %[1]s = %[1]s + 1, revision = revision + 1, updated_at = NOW(),
		    status = CASE
		        WHEN status = 'active'
		         AND succeeded_count + failed_count + cancelled_count + 1 >= queued_count
		        THEN 'complete' ELSE status END
		WHERE id = (SELECT run_id FROM distribution_jobs WHERE id = $1)
	`, counter)
	if _, err := tx.ExecContext(ctx, runQuery, jobID); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish job: %w", err)
	}
	return nil
}
