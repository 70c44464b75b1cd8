// Package orchestrator drives a distribution from accepted request to queued
// jobs: risk gate, account selection, variant resolution, slot scheduling,
// and the run/job persistence that hands work to the executor.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/logger"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/risk"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/schedule"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/selection"
)

// Service implements the distribution lifecycle operations backing the API.
type Service struct {
	repo       Repository
	candidates CandidateSource
	variants   VariantSource
	halter     RunHalter
	assessor   *risk.Assessor
	selector   *selection.Selector
	scheduler  *schedule.Scheduler

	// injectable for tests
	now func() time.Time
}

// NewService wires the orchestrator from its collaborators.
func NewService(repo Repository, candidates CandidateSource, variants VariantSource, halter RunHalter,
	assessor *risk.Assessor, selector *selection.Selector, scheduler *schedule.Scheduler) *Service {
	return &Service{
		repo:       repo,
		candidates: candidates,
		variants:   variants,
		halter:     halter,
		assessor:   assessor,
		selector:   selector,
		scheduler:  scheduler,
		now:        time.Now,
	}
}

// Start accepts a distribution request and queues its jobs.
//
// A blocked run is persisted with its assessment and returned together with
// ErrRunBlocked. A selection that survives with zero accounts yields a run in
// the empty status and no error; a shortfall below the requested count is not
// an error either. Per-account variant failures drop the account, never the
// run.
func (s *Service) Start(ctx context.Context, req domain.DistributionRequest) (*domain.DistributionRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	assessment, pool, err := s.assess(ctx, req, now)
	if err != nil {
		return nil, err
	}

	run := &domain.DistributionRun{
		ID:         uuid.New().String(),
		ContentRef: req.ContentRef,
		Requested:  req.Count,
		Niche:      req.Niche,
		Window:     req.Window,
		Assessment: &assessment,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if assessment.Decision == domain.DecisionBlock {
		run.Status = domain.RunBlocked
		run.Reason = fmt.Sprintf("risk score %.0f at or above threshold", assessment.Score)
		if err := s.repo.CreateRun(ctx, run, nil); err != nil {
			return nil, fmt.Errorf("persist blocked run: %w", err)
		}
		logger.Warn("distribution blocked",
			"run_id", run.ID, "content_ref", req.ContentRef, "score", assessment.Score)
		return run, ErrRunBlocked
	}

	selected, stats := s.selector.Select(ctx, pool, req.Count, req.ExcludeIDs)
	pairs := s.resolveVariants(ctx, req.ContentRef, selected)

	if len(pairs) == 0 {
		run.Status = domain.RunEmpty
		run.Reason = fmt.Sprintf("no usable accounts (input %d, ineligible %d, excluded %d, quota-exhausted %d)",
			stats.Input, stats.IneligibleState, stats.Excluded, stats.QuotaExhausted)
		if err := s.repo.CreateRun(ctx, run, nil); err != nil {
			return nil, fmt.Errorf("persist empty run: %w", err)
		}
		logger.Warn("distribution selected zero accounts",
			"run_id", run.ID, "content_ref", req.ContentRef, "reason", run.Reason)
		return run, nil
	}

	byID := make(map[string]domain.AccountCandidate, len(selected))
	for _, acct := range selected {
		byID[acct.ID] = acct
	}

	slots := s.scheduler.Schedule(pairs, req.Window, now)
	jobs := make([]domain.Job, 0, len(slots))
	for _, slot := range slots {
		acct := byID[slot.AccountID]
		jobs = append(jobs, domain.Job{
			ID:             uuid.New().String(),
			RunID:          run.ID,
			AccountID:      slot.AccountID,
			VariantID:      slot.VariantID,
			FireAt:         slot.FireAt,
			AccountClass:   acct.Class,
			AccountAgeDays: acct.AgeDays,
			Status:         domain.JobPending,
			IdempotencyKey: fmt.Sprintf("%s:%s", run.ID, slot.AccountID),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	run.Status = domain.RunActive
	run.Queued = len(jobs)
	if err := s.repo.CreateRun(ctx, run, jobs); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	logger.Info("distribution started",
		"run_id", run.ID, "content_ref", req.ContentRef,
		"requested", req.Count, "queued", run.Queued, "score", assessment.Score)
	return run, nil
}

// Preview runs the risk assessment for a request without creating anything.
func (s *Service) Preview(ctx context.Context, req domain.DistributionRequest) (*domain.RiskAssessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	assessment, _, err := s.assess(ctx, req, s.now())
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

// Status returns the current run snapshot.
func (s *Service) Status(ctx context.Context, runID string) (*domain.DistributionRun, error) {
	return s.repo.GetRun(ctx, runID)
}

// List returns runs newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.DistributionRun, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.repo.ListRuns(ctx, filter)
}

// Cancel halts a run: every still-pending job flips to cancelled in one
// atomic transition, and a halt flag tells workers to drop anything they
// claim from this run afterwards. Jobs already in flight finish their
// current attempt. Idempotent: cancelling a halted or terminal run returns
// the run unchanged.
func (s *Service) Cancel(ctx context.Context, runID string) (*domain.DistributionRun, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunHalted || run.Terminal() {
		return run, nil
	}

	// Best effort: the SQL transition below is the correctness guarantee,
	// the flag only saves workers a wasted claim.
	if err := s.halter.Halt(ctx, runID); err != nil {
		logger.Warn("halt flag not set, relying on job cancellation",
			"run_id", runID, "error", err.Error())
	}

	cancelled, err := s.repo.CancelPendingJobs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("cancel pending jobs for run %s: %w", runID, err)
	}

	run, err = s.repo.MarkRunHalted(ctx, runID, cancelled)
	if err != nil {
		return nil, fmt.Errorf("mark run %s halted: %w", runID, err)
	}

	logger.Info("distribution halted", "run_id", runID, "cancelled_jobs", cancelled)
	return run, nil
}

// assess gathers the assessor's inputs and scores the request. The returned
// pool is the full candidate snapshot; pool size for scoring counts only
// eligible accounts.
func (s *Service) assess(ctx context.Context, req domain.DistributionRequest, now time.Time) (domain.RiskAssessment, []domain.AccountCandidate, error) {
	pool, err := s.candidates.Candidates(ctx, req.Niche)
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("fetch candidate pool: %w", err)
	}

	eligible := 0
	for _, c := range pool {
		if c.Eligible() {
			eligible++
		}
	}

	flags, err := s.repo.RecentFlagCount(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return domain.RiskAssessment{}, nil, fmt.Errorf("count recent flags: %w", err)
	}

	return s.assessor.Assess(req, eligible, flags, now.Hour()), pool, nil
}

// resolveVariants maps each selected account to its content variant. An
// account whose variant cannot be resolved is dropped from the run.
func (s *Service) resolveVariants(ctx context.Context, contentRef string, selected []domain.AccountCandidate) []schedule.Pair {
	pairs := make([]schedule.Pair, 0, len(selected))
	for _, acct := range selected {
		variantID, err := s.variants.Variant(ctx, contentRef, acct.ID)
		if err != nil {
			logger.Warn("variant resolution failed, dropping account from run",
				"account_id", acct.ID, "content_ref", contentRef, "error", err.Error())
			continue
		}
		pairs = append(pairs, schedule.Pair{AccountID: acct.ID, VariantID: variantID})
	}
	return pairs
}
