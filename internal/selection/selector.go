// Package selection filters and ranks candidate accounts for a distribution.
//
// Selection is best-effort by design: candidate snapshots and health scores
// are eventually-consistent reads, and the quota check here is advisory (the
// executor re-checks authoritatively at fire time). A short selection is a
// valid selection; the orchestrator decides what a shortfall means.
package selection

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/pkg/logger"
)

// QuotaChecker reports whether an account has room left in both of its
// sliding windows. Implemented by quota.Tracker.
type QuotaChecker interface {
	HasCapacity(ctx context.Context, accountID string, class domain.AccountClass, ageDays int) (bool, error)
}

// CandidateSource supplies account snapshots for selection.
// Implemented by the platform directory client.
type CandidateSource interface {
	Candidates(ctx context.Context, niche string) ([]domain.AccountCandidate, error)
}

// FilterStats breaks down why candidates were dropped, for run reporting.
type FilterStats struct {
	Input          int `json:"input"`
	IneligibleState int `json:"ineligible_state"`
	Excluded       int `json:"excluded"`
	QuotaExhausted int `json:"quota_exhausted"`
	Survivors      int `json:"survivors"`
}

// Selector ranks candidates by health and recency, with a bounded random
// rotation so repeated runs over an unchanged pool do not always lead with
// the identical accounts.
type Selector struct {
	cfg   config.SelectionConfig
	quota QuotaChecker

	// injectable for tests
	now func() time.Time
	rng *rand.Rand
}

// NewSelector creates a selector with the given scoring weights.
func NewSelector(cfg config.SelectionConfig, quota QuotaChecker) *Selector {
	return &Selector{
		cfg:   cfg,
		quota: quota,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select filters and ranks candidates, returning at most desiredCount
// accounts. Fewer survivors than desired is not an error; the stats carry
// the shortfall breakdown for the caller.
func (s *Selector) Select(ctx context.Context, candidates []domain.AccountCandidate, desiredCount int, excludeIDs []string) ([]domain.AccountCandidate, FilterStats) {
	stats := FilterStats{Input: len(candidates)}
	if desiredCount <= 0 {
		return nil, stats
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var pool []domain.AccountCandidate
	for _, c := range candidates {
		if !c.Eligible() {
			stats.IneligibleState++
			continue
		}
		if excluded[c.ID] {
			stats.Excluded++
			continue
		}
		ok, err := s.quota.HasCapacity(ctx, c.ID, c.Class, c.AgeDays)
		if err != nil {
			// Quota state unavailable: keep the account. The executor
			// re-checks at fire time, which is the enforcement point.
			logger.Warn("selection quota check failed, keeping account",
				"account_id", c.ID, "error", err.Error())
		} else if !ok {
			stats.QuotaExhausted++
			continue
		}
		pool = append(pool, c)
	}
	stats.Survivors = len(pool)
	if len(pool) == 0 {
		return nil, stats
	}

	now := s.now()
	scores := make(map[string]float64, len(pool))
	for _, c := range pool {
		scores[c.ID] = s.score(c, now)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return scores[pool[i].ID] > scores[pool[j].ID]
	})

	pool = s.rotateTop(pool)

	if len(pool) > desiredCount {
		pool = pool[:desiredCount]
	}
	return pool, stats
}

// score combines the external health score with a recency bonus. The bonus
// saturates toward 100 as the account's last activity recedes, spreading
// load across the pool instead of exhausting a favorite subset.
func (s *Selector) score(c domain.AccountCandidate, now time.Time) float64 {
	idle := now.Sub(c.LastActivity).Hours()
	if idle < 0 {
		idle = 0
	}
	halfLife := float64(s.cfg.RecencyHalfLifeHours)
	if halfLife <= 0 {
		halfLife = 1
	}
	recencyBonus := 100 * idle / (idle + halfLife)

	return s.cfg.HealthWeight*float64(c.HealthScore) + s.cfg.RecencyWeight*recencyBonus
}

// rotateTop rotates the ranked list by a random offset within the top
// quartile. This is an anti-pattern-detection measure, not a correctness
// requirement: it keeps repeated runs from always leading with the same
// accounts while still drawing from the strongest candidates.
func (s *Selector) rotateTop(pool []domain.AccountCandidate) []domain.AccountCandidate {
	quartile := len(pool) / 4
	if quartile < 1 {
		return pool
	}
	offset := s.rng.Intn(quartile + 1)
	if offset == 0 {
		return pool
	}
	rotated := make([]domain.AccountCandidate, 0, len(pool))
	rotated = append(rotated, pool[offset:]...)
	rotated = append(rotated, pool[:offset]...)
	return rotated
}
