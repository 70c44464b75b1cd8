package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/orchestrator"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func runRows(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "content_ref", "requested_count", "niche", "window_seconds",
		"status", "reason", "risk_score", "risk_decision", "risk_factors",
		"queued_count", "succeeded_count", "failed_count", "cancelled_count",
		"revision", "created_at", "updated_at",
	}).AddRow(
		id, "content-123", 10, "fitness", 7200,
		"active", "", 25.0, "allow", []byte(`[{"name":"batch_size","weight":50,"value":25}]`),
		10, 3, 1, 0,
		5, now, now,
	)
}

func TestGetRun(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM distribution_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRows("run-1"))

	run, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 2*time.Hour, run.Window)
	assert.Equal(t, domain.RunActive, run.Status)
	assert.Equal(t, int64(5), run.Revision)
	require.NotNil(t, run.Assessment)
	assert.Equal(t, domain.DecisionAllow, run.Assessment.Decision)
	require.Len(t, run.Assessment.Factors, 1)
	assert.Equal(t, "batch_size", run.Assessment.Factors[0].Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM distribution_runs WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func TestCreateRunWithJobs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	run := &domain.DistributionRun{
		ID:         "run-1",
		ContentRef: "content-123",
		Requested:  2,
		Window:     2 * time.Hour,
		Status:     domain.RunActive,
		Queued:     2,
		Revision:   1,
		Assessment: &domain.RiskAssessment{Score: 25, Decision: domain.DecisionAllow},
	}
	jobs := []domain.Job{
		{ID: "job-1", RunID: "run-1", AccountID: "acc-1", VariantID: "v1",
			FireAt: time.Now(), Status: domain.JobPending, IdempotencyKey: "run-1:acc-1"},
		{ID: "job-2", RunID: "run-1", AccountID: "acc-2", VariantID: "v2",
			FireAt: time.Now(), Status: domain.JobPending, IdempotencyKey: "run-1:acc-2"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO distribution_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO distribution_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO distribution_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateRun(context.Background(), run, jobs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunRollsBackOnJobError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	run := &domain.DistributionRun{ID: "run-1", Status: domain.RunActive, Window: time.Hour}
	jobs := []domain.Job{{ID: "job-1", RunID: "run-1", AccountID: "acc-1"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO distribution_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO distribution_jobs").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.CreateRun(context.Background(), run, jobs)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelPendingJobs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	mock.ExpectExec("UPDATE distribution_jobs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.CancelPendingJobs(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestMarkRunHalted(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	mock.ExpectExec("UPDATE distribution_runs").
		WithArgs("run-1", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM distribution_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(runRows("run-1"))

	run, err := repo.MarkRunHalted(context.Background(), "run-1", 7)
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentFlagCount(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRunRepo(db)

	mock.ExpectQuery("SELECT COUNT(.+) FROM distribution_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.RecentFlagCount(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
