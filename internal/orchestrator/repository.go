package orchestrator

import (
	"context"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// ListFilter narrows and pages a run listing.
type ListFilter struct {
	Status domain.RunStatus
	Limit  int
	Offset int
}

// Repository persists distribution runs and their jobs.
// Implemented by repository/postgres; tests use an in-memory fake.
type Repository interface {
	// CreateRun stores the run and its jobs in one transaction.
	CreateRun(ctx context.Context, run *domain.DistributionRun, jobs []domain.Job) error

	// GetRun returns the current run snapshot, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*domain.DistributionRun, error)

	// ListRuns returns runs newest first, filtered and paged.
	ListRuns(ctx context.Context, filter ListFilter) ([]domain.DistributionRun, error)

	// CancelPendingJobs atomically flips every still-pending job of the run
	// to cancelled and reports how many were flipped. Jobs already claimed
	// (in_flight) or terminal are untouched.
	CancelPendingJobs(ctx context.Context, runID string) (int, error)

	// MarkRunHalted records the halt: status, cancelled count, revision bump.
	// Returns the updated run.
	MarkRunHalted(ctx context.Context, runID string, cancelled int) (*domain.DistributionRun, error)

	// RecentFlagCount counts account-level failure flags (auto-pause
	// categories) raised since the given time, feeding the risk assessor.
	RecentFlagCount(ctx context.Context, since time.Time) (int, error)
}

// CandidateSource supplies the current account pool.
type CandidateSource interface {
	Candidates(ctx context.Context, niche string) ([]domain.AccountCandidate, error)
}

// VariantSource resolves the content variant assigned to one account.
type VariantSource interface {
	Variant(ctx context.Context, contentRef, accountID string) (string, error)
}

// RunHalter fans a halt signal out to the executor fleet.
type RunHalter interface {
	Halt(ctx context.Context, runID string) error
}
