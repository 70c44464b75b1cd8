package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/risk"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/schedule"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/selection"
)

// fakeRepo is an in-memory Repository whose cancel semantics mirror the SQL:
// one locked pass flips pending jobs only.
type fakeRepo struct {
	mu        sync.Mutex
	runs      map[string]*domain.DistributionRun
	jobs      map[string][]domain.Job
	flagCount int
	flagErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		runs: make(map[string]*domain.DistributionRun),
		jobs: make(map[string][]domain.Job),
	}
}

func (f *fakeRepo) CreateRun(_ context.Context, run *domain.DistributionRun, jobs []domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	f.jobs[run.ID] = append([]domain.Job(nil), jobs...)
	return nil
}

func (f *fakeRepo) GetRun(_ context.Context, runID string) (*domain.DistributionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRepo) ListRuns(_ context.Context, filter ListFilter) ([]domain.DistributionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DistributionRun
	for _, run := range f.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (f *fakeRepo) CancelPendingJobs(_ context.Context, runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	jobs := f.jobs[runID]
	for i := range jobs {
		if jobs[i].Status == domain.JobPending {
			jobs[i].Status = domain.JobCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) MarkRunHalted(_ context.Context, runID string, cancelled int) (*domain.DistributionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	run.Status = domain.RunHalted
	run.Cancelled += cancelled
	run.Revision++
	cp := *run
	return &cp, nil
}

func (f *fakeRepo) RecentFlagCount(_ context.Context, _ time.Time) (int, error) {
	if f.flagErr != nil {
		return 0, f.flagErr
	}
	return f.flagCount, nil
}

// setJobStatus simulates a concurrent worker claim.
func (f *fakeRepo) setJobStatus(runID string, idx int, status domain.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[runID][idx].Status = status
}

type fakeCandidates struct {
	pool []domain.AccountCandidate
	err  error
}

func (f *fakeCandidates) Candidates(_ context.Context, _ string) ([]domain.AccountCandidate, error) {
	return f.pool, f.err
}

type fakeVariants struct {
	failFor map[string]bool
}

func (f *fakeVariants) Variant(_ context.Context, contentRef, accountID string) (string, error) {
	if f.failFor[accountID] {
		return "", errors.New("no variant available")
	}
	return "variant-" + accountID, nil
}

type fakeHalter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeHalter) Halt(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runID)
	return f.err
}

type allowAllQuota struct{}

func (allowAllQuota) HasCapacity(context.Context, string, domain.AccountClass, int) (bool, error) {
	return true, nil
}

func activePool(n int) []domain.AccountCandidate {
	pool := make([]domain.AccountCandidate, 0, n)
	for i := 0; i < n; i++ {
		pool = append(pool, domain.AccountCandidate{
			ID:           fmt.Sprintf("acc-%d", i),
			State:        domain.AccountActive,
			Class:        domain.ClassPersonal,
			HealthScore:  80,
			AgeDays:      90,
			LastActivity: time.Now().Add(-24 * time.Hour),
		})
	}
	return pool
}

func newTestService(repo *fakeRepo, cands *fakeCandidates, vars *fakeVariants, halter *fakeHalter) *Service {
	riskCfg := config.RiskConfig{
		BatchSizeWeight:  50,
		RecentFlagWeight: 30,
		OffPeakWeight:    20,
		BlockThreshold:   80,
		PeakHourStart:    18,
		PeakHourEnd:      22,
		FlagSaturation:   10,
	}
	selCfg := config.SelectionConfig{HealthWeight: 0.7, RecencyWeight: 0.3, RecencyHalfLifeHours: 12}
	schedCfg := config.ScheduleConfig{
		JitterMinSeconds: 120, JitterMaxSeconds: 900,
		PeakHourStart: 18, PeakHourEnd: 22,
	}

	svc := NewService(repo, cands, vars, halter,
		risk.NewAssessor(riskCfg),
		selection.NewSelector(selCfg, allowAllQuota{}),
		schedule.NewScheduler(schedCfg))
	// Fixed clock inside the peak window so the off-peak factor stays zero
	svc.now = func() time.Time { return time.Date(2026, 8, 30, 19, 0, 0, 0, time.UTC) }
	return svc
}

func validRequest(count int) domain.DistributionRequest {
	return domain.DistributionRequest{
		ContentRef: "content-123",
		Count:      count,
		Window:     2 * time.Hour,
	}
}

func TestStartHappyPath(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: activePool(20)}, &fakeVariants{}, &fakeHalter{})

	run, err := svc.Start(context.Background(), validRequest(10))
	require.NoError(t, err)

	assert.Equal(t, domain.RunActive, run.Status)
	assert.Equal(t, 10, run.Queued)
	assert.Equal(t, 10, run.Requested)
	require.NotNil(t, run.Assessment)
	assert.Equal(t, domain.DecisionAllow, run.Assessment.Decision)

	jobs := repo.jobs[run.ID]
	require.Len(t, jobs, 10)

	now := svc.now()
	end := now.Add(2 * time.Hour)
	seen := make(map[string]bool)
	for _, j := range jobs {
		assert.Equal(t, domain.JobPending, j.Status)
		assert.Equal(t, run.ID, j.RunID)
		assert.False(t, seen[j.AccountID], "account %s scheduled twice", j.AccountID)
		seen[j.AccountID] = true
		assert.Equal(t, "variant-"+j.AccountID, j.VariantID)
		assert.Equal(t, run.ID+":"+j.AccountID, j.IdempotencyKey)
		assert.False(t, j.FireAt.Before(now))
		assert.False(t, j.FireAt.After(end))
	}
}

func TestStartBlockedByRisk(t *testing.T) {
	repo := newFakeRepo()
	repo.flagCount = 12 // saturates the flag factor
	svc := newTestService(repo, &fakeCandidates{pool: activePool(10)}, &fakeVariants{}, &fakeHalter{})

	// Requesting the entire pool maxes the batch factor: 50 + 30 = 80
	run, err := svc.Start(context.Background(), validRequest(10))
	require.ErrorIs(t, err, ErrRunBlocked)
	require.NotNil(t, run)

	assert.Equal(t, domain.RunBlocked, run.Status)
	assert.NotEmpty(t, run.Reason)
	require.NotNil(t, run.Assessment)
	assert.Equal(t, domain.DecisionBlock, run.Assessment.Decision)
	assert.GreaterOrEqual(t, run.Assessment.Score, 80.0)

	// Blocked runs are persisted for audit, with no jobs
	stored, err := repo.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunBlocked, stored.Status)
	assert.Empty(t, repo.jobs[run.ID])
}

func TestStartEmptySelection(t *testing.T) {
	pool := activePool(5)
	for i := range pool {
		pool[i].State = domain.AccountPaused
	}
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: pool}, &fakeVariants{}, &fakeHalter{})

	run, err := svc.Start(context.Background(), validRequest(5))
	require.NoError(t, err)

	assert.Equal(t, domain.RunEmpty, run.Status)
	assert.NotEmpty(t, run.Reason)
	assert.Zero(t, run.Queued)
	assert.Empty(t, repo.jobs[run.ID])
	assert.True(t, run.Terminal())
}

func TestStartShortfallStillRuns(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: activePool(4)}, &fakeVariants{}, &fakeHalter{})

	run, err := svc.Start(context.Background(), validRequest(10))
	require.NoError(t, err)

	assert.Equal(t, domain.RunActive, run.Status)
	assert.Equal(t, 4, run.Queued, "short selection runs with what it has")
}

func TestStartVariantFailureDropsAccountOnly(t *testing.T) {
	repo := newFakeRepo()
	vars := &fakeVariants{failFor: map[string]bool{"acc-1": true}}
	svc := newTestService(repo, &fakeCandidates{pool: activePool(3)}, vars, &fakeHalter{})

	run, err := svc.Start(context.Background(), validRequest(3))
	require.NoError(t, err)

	assert.Equal(t, domain.RunActive, run.Status)
	assert.Equal(t, 2, run.Queued)
	for _, j := range repo.jobs[run.ID] {
		assert.NotEqual(t, "acc-1", j.AccountID)
	}
}

func TestStartRejectsInvalidRequest(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: activePool(5)}, &fakeVariants{}, &fakeHalter{})

	_, err := svc.Start(context.Background(), domain.DistributionRequest{
		ContentRef: "content-123",
		Count:      0,
		Window:     2 * time.Hour,
	})
	require.Error(t, err)
	assert.Empty(t, repo.runs, "invalid requests must not be persisted")
}

func TestStartCandidateSourceError(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{err: errors.New("directory down")}, &fakeVariants{}, &fakeHalter{})

	_, err := svc.Start(context.Background(), validRequest(5))
	require.Error(t, err)
	assert.Empty(t, repo.runs)
}

func TestCancelFlipsPendingJobs(t *testing.T) {
	repo := newFakeRepo()
	halter := &fakeHalter{}
	svc := newTestService(repo, &fakeCandidates{pool: activePool(20)}, &fakeVariants{}, halter)

	run, err := svc.Start(context.Background(), validRequest(10))
	require.NoError(t, err)

	halted, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunHalted, halted.Status)
	assert.Equal(t, 10, halted.Cancelled)
	assert.Greater(t, halted.Revision, run.Revision)
	assert.Equal(t, []string{run.ID}, halter.calls)

	for _, j := range repo.jobs[run.ID] {
		assert.Equal(t, domain.JobCancelled, j.Status)
	}
}

func TestCancelLeavesClaimedJobsAlone(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: activePool(20)}, &fakeVariants{}, &fakeHalter{})

	run, err := svc.Start(context.Background(), validRequest(10))
	require.NoError(t, err)

	// A worker claimed one job between the cancel request and the flip
	repo.setJobStatus(run.ID, 3, domain.JobInFlight)

	halted, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, 9, halted.Cancelled, "the claimed job must not be cancelled")
	assert.Equal(t, domain.JobInFlight, repo.jobs[run.ID][3].Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	halter := &fakeHalter{}
	svc := newTestService(repo, &fakeCandidates{pool: activePool(20)}, &fakeVariants{}, halter)

	run, err := svc.Start(context.Background(), validRequest(10))
	require.NoError(t, err)

	first, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	second, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Cancelled, second.Cancelled)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Len(t, halter.calls, 1, "repeated cancels must not re-signal the fleet")
}

func TestCancelHalterFailureStillCancels(t *testing.T) {
	repo := newFakeRepo()
	halter := &fakeHalter{err: errors.New("redis down")}
	svc := newTestService(repo, &fakeCandidates{pool: activePool(20)}, &fakeVariants{}, halter)

	run, err := svc.Start(context.Background(), validRequest(5))
	require.NoError(t, err)

	halted, err := svc.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunHalted, halted.Status)
	assert.Equal(t, run.Queued, halted.Cancelled)
}

func TestCancelUnknownRun(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeCandidates{}, &fakeVariants{}, &fakeHalter{})
	_, err := svc.Cancel(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStatusUnknownRun(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeCandidates{}, &fakeVariants{}, &fakeHalter{})
	_, err := svc.Status(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCandidates{pool: activePool(10)}, &fakeVariants{}, &fakeHalter{})

	assessment, err := svc.Preview(context.Background(), validRequest(2))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionAllow, assessment.Decision)
	assert.Empty(t, repo.runs)
}
