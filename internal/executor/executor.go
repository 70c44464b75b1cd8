// Package executor drains the job queue: it claims due jobs, serializes work
// per account, spends quota, publishes, and drives the retry state machine.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// Store is the job queue persistence the executor drives.
// Implemented by repository/postgres.
type Store interface {
	// ClaimDue atomically claims up to limit due pending jobs for this
	// worker, skipping jobs of halted runs and jobs claimed by other
	// workers. Claimed jobs are in_flight.
	ClaimDue(ctx context.Context, workerID string, limit int) ([]domain.Job, error)

	// ReleaseClaim returns a claimed job to pending without consuming an
	// attempt, to be retried no earlier than retryAt.
	ReleaseClaim(ctx context.Context, jobID string, retryAt time.Time) error

	// MarkSucceeded finishes the job and bumps the run's succeeded count.
	MarkSucceeded(ctx context.Context, jobID, publishedPostID string) error

	// MarkRetry records a failed attempt and requeues the job for retryAt.
	MarkRetry(ctx context.Context, jobID string, category domain.ErrorCategory, retryAt time.Time) error

	// MarkFailed finishes the job as failed_terminal and bumps the run's
	// failed count.
	MarkFailed(ctx context.Context, jobID string, category domain.ErrorCategory) error

	// MarkCancelled finishes the job as cancelled and bumps the run's
	// cancelled count. Used when the halt flag is seen after a claim.
	MarkCancelled(ctx context.Context, jobID string) error

	// RequeueStuck returns in_flight jobs older than the cutoff to pending
	// and reports how many were recovered.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// Publisher performs one publish attempt against the platform.
type Publisher interface {
	Publish(ctx context.Context, accountID, variantID, idempotencyKey string) (publishedPostID string, err error)
}

// QuotaConsumer spends one unit of an account's sliding-window quota.
type QuotaConsumer interface {
	TryConsume(ctx context.Context, accountID string, class domain.AccountClass, ageDays int) (bool, error)
}

// AccountPauser emits the auto-pause signal for an account.
type AccountPauser interface {
	SetPaused(ctx context.Context, accountID, reason string) error
}

// HaltChecker reports whether a run has been halted.
type HaltChecker interface {
	IsHalted(ctx context.Context, runID string) (bool, error)
}

// Requeue delays for conditions that are not publish failures: a busy
// account lease clears quickly, an exhausted quota window takes longer.
const (
	lockBusyDelay       = 30 * time.Second
	quotaExhaustedDelay = 10 * time.Minute
)

// Executor runs the worker pool.
type Executor struct {
	cfg       config.ExecutorConfig
	store     Store
	quota     QuotaConsumer
	publisher Publisher
	pauser    AccountPauser
	halt      HaltChecker
	locks     Locker

	workerID string
	stop     chan struct{}
	wg       sync.WaitGroup

	// now is injectable for tests
	now func() time.Time
}

// New creates an executor. The worker ID identifies this process in job
// claims so stuck claims can be traced to a host.
func New(cfg config.ExecutorConfig, store Store, quota QuotaConsumer, publisher Publisher,
	pauser AccountPauser, halt HaltChecker, locks Locker) *Executor {
	host, _ := os.Hostname()
	return &Executor{
		cfg:       cfg,
		store:     store,
		quota:     quota,
		publisher: publisher,
		pauser:    pauser,
		halt:      halt,
		locks:     locks,
		workerID:  fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start launches the worker pool. Workers poll until Stop is called or the
// context is cancelled.
func (e *Executor) Start(ctx context.Context) {
	log.Printf("[Executor] starting %d workers (id=%s, poll=%s)",
		e.cfg.NumWorkers, e.workerID, e.cfg.PollInterval())
	for i := 0; i < e.cfg.NumWorkers; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i)
	}
}

// Stop signals the workers and waits for in-progress jobs to finish.
func (e *Executor) Stop() {
	close(e.stop)
	e.wg.Wait()
	log.Printf("[Executor] stopped")
}

func (e *Executor) runWorker(ctx context.Context, n int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		default:
		}

		jobs, err := e.store.ClaimDue(ctx, e.workerID, e.cfg.BatchSize)
		if err != nil {
			log.Printf("[Executor] worker %d claim failed: %v", n, err)
			e.sleep(ctx, e.cfg.PollInterval())
			continue
		}
		if len(jobs) == 0 {
			e.sleep(ctx, e.cfg.PollInterval())
			continue
		}
		for i := range jobs {
			e.process(ctx, &jobs[i])
		}
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-e.stop:
	case <-time.After(d):
	}
}

// process runs one claimed job to its next state. Order matters: the halt
// check costs nothing, the account lease serializes per-account execution,
// and quota is spent only when a publish attempt is really about to happen.
func (e *Executor) process(ctx context.Context, job *domain.Job) {
	halted, err := e.halt.IsHalted(ctx, job.RunID)
	if err != nil {
		// Advisory flag only: the claim query already excludes runs that
		// were halted before the claim.
		log.Printf("[Executor] halt check failed for run %s: %v", job.RunID, err)
	}
	if halted {
		if err := e.store.MarkCancelled(ctx, job.ID); err != nil {
			log.Printf("[Executor] cancel of job %s failed: %v", job.ID, err)
		}
		return
	}

	lock, ok, err := e.locks.Acquire(ctx, job.AccountID)
	if err != nil || !ok {
		if err != nil {
			log.Printf("[Executor] lease for account %s errored: %v", job.AccountID, err)
		}
		e.release(ctx, job.ID, e.now().Add(lockBusyDelay))
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.Printf("[Executor] lease release for account %s failed: %v", job.AccountID, err)
		}
	}()

	ok, err = e.quota.TryConsume(ctx, job.AccountID, job.AccountClass, job.AccountAgeDays)
	if err != nil {
		log.Printf("[Executor] quota check for account %s failed: %v", job.AccountID, err)
		e.release(ctx, job.ID, e.now().Add(lockBusyDelay))
		return
	}
	if !ok {
		log.Printf("[Executor] account %s quota exhausted, deferring job %s", job.AccountID, job.ID)
		e.release(ctx, job.ID, e.now().Add(quotaExhaustedDelay))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout())
	postID, err := e.publisher.Publish(pubCtx, job.AccountID, job.VariantID, job.IdempotencyKey)
	cancel()

	if err == nil {
		if err := e.store.MarkSucceeded(ctx, job.ID, postID); err != nil {
			log.Printf("[Executor] success record for job %s failed: %v", job.ID, err)
		}
		log.Printf("[Executor] job %s published as %s (account %s, attempt %d)",
			job.ID, postID, job.AccountID, job.Attempts+1)
		return
	}
	e.fail(ctx, job, err)
}

// fail applies the taxonomy to a publish failure: pause-category failures
// end the job and flag the account, retryable ones requeue with backoff
// until the attempt budget runs out.
func (e *Executor) fail(ctx context.Context, job *domain.Job, pubErr error) {
	category := domain.Classify(pubErr)
	attempt := job.Attempts + 1

	if category.PausesAccount() {
		if err := e.pauser.SetPaused(ctx, job.AccountID, string(category)); err != nil {
			log.Printf("[Executor] auto-pause of account %s failed: %v", job.AccountID, err)
		}
		if err := e.store.MarkFailed(ctx, job.ID, category); err != nil {
			log.Printf("[Executor] failure record for job %s failed: %v", job.ID, err)
		}
		log.Printf("[Executor] job %s failed terminally (%s), account %s paused",
			job.ID, category, job.AccountID)
		return
	}

	if category.Retryable() && attempt < e.attemptBudget(category) {
		// A halt raised while the attempt was in flight means the cancel
		// sweep has already passed this job by; requeueing it would strand
		// it, since halted runs are never claimed again. The store applies
		// the same guard against the run row in case the flag is missing.
		if halted, herr := e.halt.IsHalted(ctx, job.RunID); herr == nil && halted {
			if err := e.store.MarkCancelled(ctx, job.ID); err != nil {
				log.Printf("[Executor] cancel of job %s failed: %v", job.ID, err)
			}
			log.Printf("[Executor] job %s cancelled, run %s halted mid-attempt", job.ID, job.RunID)
			return
		}
		retryAt := e.now().Add(e.cfg.Backoff(attempt))
		if err := e.store.MarkRetry(ctx, job.ID, category, retryAt); err != nil {
			log.Printf("[Executor] retry record for job %s failed: %v", job.ID, err)
		}
		log.Printf("[Executor] job %s attempt %d failed (%s), retrying at %s",
			job.ID, attempt, category, retryAt.Format(time.RFC3339))
		return
	}

	if err := e.store.MarkFailed(ctx, job.ID, category); err != nil {
		log.Printf("[Executor] failure record for job %s failed: %v", job.ID, err)
	}
	log.Printf("[Executor] job %s failed terminally (%s) after %d attempts",
		job.ID, category, attempt)
}

// attemptBudget caps unknown failures at a single retry; everything else
// gets the full budget.
func (e *Executor) attemptBudget(category domain.ErrorCategory) int {
	if category == domain.ErrUnknown {
		return 2
	}
	return domain.MaxAttempts
}

func (e *Executor) release(ctx context.Context, jobID string, retryAt time.Time) {
	if err := e.store.ReleaseClaim(ctx, jobID, retryAt); err != nil {
		log.Printf("[Executor] release of job %s failed: %v", jobID, err)
	}
}
