// Package postgres persists distribution runs and jobs with raw SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/orchestrator"
)

// RunRepo implements orchestrator.Repository against PostgreSQL.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

const runColumns = `
	id, content_ref, requested_count, COALESCE(niche,''), window_seconds,
	status, COALESCE(reason,''), risk_score, risk_decision, risk_factors,
	queued_count, succeeded_count, failed_count, cancelled_count,
	revision, created_at, updated_at`

func (r *RunRepo) CreateRun(ctx context.Context, run *domain.DistributionRun, jobs []domain.Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	defer tx.Rollback()

	var score float64
	var decision string
	factors := []byte("[]")
	if run.Assessment != nil {
		score = run.Assessment.Score
		decision = string(run.Assessment.Decision)
		if factors, err = json.Marshal(run.Assessment.Factors); err != nil {
			return fmt.Errorf("marshal risk factors: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO distribution_runs
			(id, content_ref, requested_count, niche, window_seconds, status,
			 reason, risk_score, risk_decision, risk_factors,
			 queued_count, revision, halted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false, NOW(), NOW())
	`, run.ID, run.ContentRef, run.Requested, run.Niche, int(run.Window.Seconds()),
		run.Status, run.Reason, score, decision, factors, run.Queued, run.Revision)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i := range jobs {
		j := &jobs[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO distribution_jobs
				(id, run_id, account_id, variant_id, fire_at,
				 account_class, account_age_days, status, attempts,
				 idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, NOW(), NOW())
		`, j.ID, j.RunID, j.AccountID, j.VariantID, j.FireAt,
			j.AccountClass, j.AccountAgeDays, j.Status, j.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("insert job for account %s: %w", j.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.DistributionRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM distribution_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, orchestrator.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, f orchestrator.ListFilter) ([]domain.DistributionRun, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + runColumns + ` FROM distribution_runs`
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" WHERE status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.DistributionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *RunRepo) CancelPendingJobs(ctx context.Context, runID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE distribution_jobs
		SET status = 'cancelled', updated_at = NOW()
		WHERE run_id = $1 AND status = 'pending'
	`, runID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs rows: %w", err)
	}
	return int(n), nil
}

func (r *RunRepo) MarkRunHalted(ctx context.Context, runID string, cancelled int) (*domain.DistributionRun, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE distribution_runs
		SET status = 'halted', halted = true,
		    cancelled_count = cancelled_count + $2,
		    revision = revision + 1, updated_at = NOW()
		WHERE id = $1
	`, runID, cancelled)
	if err != nil {
		return nil, fmt.Errorf("mark run halted: %w", err)
	}
	return r.GetRun(ctx, runID)
}

func (r *RunRepo) RecentFlagCount(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM distribution_jobs
		WHERE status = 'failed_terminal'
		  AND last_error_category IN ('authentication','forbidden','checkpoint','shadowban')
		  AND updated_at >= $1
	`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recent flag count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.DistributionRun, error) {
	run := &domain.DistributionRun{}
	var windowSeconds int
	var score float64
	var decision string
	var factors []byte
	if err := row.Scan(
		&run.ID, &run.ContentRef, &run.Requested, &run.Niche, &windowSeconds,
		&run.Status, &run.Reason, &score, &decision, &factors,
		&run.Queued, &run.Succeeded, &run.Failed, &run.Cancelled,
		&run.Revision, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Window = time.Duration(windowSeconds) * time.Second
	if decision != "" {
		a := &domain.RiskAssessment{Score: score, Decision: domain.RiskDecision(decision)}
		if len(factors) > 0 {
			if err := json.Unmarshal(factors, &a.Factors); err != nil {
				return nil, fmt.Errorf("unmarshal risk factors: %w", err)
			}
		}
		run.Assessment = a
	}
	return run, nil
}
