package selection

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// fakeQuota marks specific accounts as exhausted.
type fakeQuota struct {
	exhausted map[string]bool
	err       error
}

func (f *fakeQuota) HasCapacity(_ context.Context, id string, _ domain.AccountClass, _ int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.exhausted[id], nil
}

func testSelector(q QuotaChecker) *Selector {
	s := NewSelector(config.SelectionConfig{
		HealthWeight:         0.7,
		RecencyWeight:        0.3,
		RecencyHalfLifeHours: 12,
	}, q)
	// Deterministic clock and rotation for assertions
	s.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	s.rng = rand.New(rand.NewSource(1))
	return s
}

func candidate(id string, state domain.AccountState, health int, idleHours int) domain.AccountCandidate {
	return domain.AccountCandidate{
		ID:           id,
		State:        state,
		Class:        domain.ClassPersonal,
		HealthScore:  health,
		AgeDays:      90,
		LastActivity: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).Add(-time.Duration(idleHours) * time.Hour),
	}
}

func TestSelectFiltersIneligibleStates(t *testing.T) {
	s := testSelector(&fakeQuota{})

	cands := []domain.AccountCandidate{
		candidate("a", domain.AccountActive, 80, 24),
		candidate("b", domain.AccountPaused, 90, 24),
		candidate("c", domain.AccountSuspended, 90, 24),
		candidate("d", domain.AccountBanned, 90, 24),
		candidate("e", domain.AccountWarmingUp, 70, 24),
		candidate("f", domain.AccountNew, 60, 24),
	}

	picked, stats := s.Select(context.Background(), cands, 10, nil)

	assert.Len(t, picked, 3)
	assert.Equal(t, 3, stats.IneligibleState)
	assert.Equal(t, 3, stats.Survivors)
	for _, c := range picked {
		assert.NotContains(t, []string{"b", "c", "d"}, c.ID)
	}
}

func TestSelectHonorsExclusions(t *testing.T) {
	s := testSelector(&fakeQuota{})

	cands := []domain.AccountCandidate{
		candidate("a", domain.AccountActive, 80, 24),
		candidate("b", domain.AccountActive, 80, 24),
	}

	picked, stats := s.Select(context.Background(), cands, 10, []string{"a"})

	assert.Len(t, picked, 1)
	assert.Equal(t, "b", picked[0].ID)
	assert.Equal(t, 1, stats.Excluded)
}

func TestSelectDropsQuotaExhausted(t *testing.T) {
	s := testSelector(&fakeQuota{exhausted: map[string]bool{"a": true, "c": true}})

	cands := []domain.AccountCandidate{
		candidate("a", domain.AccountActive, 95, 24),
		candidate("b", domain.AccountActive, 80, 24),
		candidate("c", domain.AccountActive, 90, 24),
	}

	picked, stats := s.Select(context.Background(), cands, 10, nil)

	assert.Len(t, picked, 1)
	assert.Equal(t, "b", picked[0].ID)
	assert.Equal(t, 2, stats.QuotaExhausted)
}

func TestSelectShortfallIsNotAnError(t *testing.T) {
	s := testSelector(&fakeQuota{exhausted: map[string]bool{"d": true, "e": true}})

	// 5 requested, 3 paused, 2 quota-exhausted: zero survive
	cands := []domain.AccountCandidate{
		candidate("a", domain.AccountPaused, 80, 24),
		candidate("b", domain.AccountPaused, 80, 24),
		candidate("c", domain.AccountPaused, 80, 24),
		candidate("d", domain.AccountActive, 80, 24),
		candidate("e", domain.AccountActive, 80, 24),
	}

	picked, stats := s.Select(context.Background(), cands, 5, nil)

	assert.Empty(t, picked)
	assert.Equal(t, 3, stats.IneligibleState)
	assert.Equal(t, 2, stats.QuotaExhausted)
	assert.Equal(t, 0, stats.Survivors)
}

func TestSelectTruncatesToDesiredCount(t *testing.T) {
	s := testSelector(&fakeQuota{})

	var cands []domain.AccountCandidate
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		cands = append(cands, candidate(id, domain.AccountActive, 80, 24))
	}

	picked, _ := s.Select(context.Background(), cands, 3, nil)
	assert.Len(t, picked, 3)
}

func TestSelectPrefersHealthyIdleAccounts(t *testing.T) {
	s := testSelector(&fakeQuota{})

	cands := []domain.AccountCandidate{
		candidate("fresh-poster", domain.AccountActive, 90, 0),
		candidate("healthy-idle", domain.AccountActive, 90, 72),
		candidate("weak", domain.AccountActive, 20, 72),
	}

	picked, _ := s.Select(context.Background(), cands, 1, nil)

	// Rotation only kicks in at pool >= 4, so ranking is exact here
	assert.Equal(t, "healthy-idle", picked[0].ID)
}

func TestSelectQuotaErrorKeepsAccount(t *testing.T) {
	s := testSelector(&fakeQuota{err: assert.AnError})

	cands := []domain.AccountCandidate{
		candidate("a", domain.AccountActive, 80, 24),
	}

	picked, _ := s.Select(context.Background(), cands, 1, nil)
	assert.Len(t, picked, 1, "quota backend outage must not empty the selection")
}

func TestRotationVariesLeadingAccount(t *testing.T) {
	q := &fakeQuota{}
	cands := make([]domain.AccountCandidate, 0, 12)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		cands = append(cands, candidate(id, domain.AccountActive, 80, 24))
	}

	leaders := make(map[string]bool)
	for seed := int64(0); seed < 20; seed++ {
		s := testSelector(q)
		s.rng = rand.New(rand.NewSource(seed))
		picked, _ := s.Select(context.Background(), cands, 6, nil)
		leaders[picked[0].ID] = true
	}

	assert.Greater(t, len(leaders), 1, "repeated runs should not always lead with the same account")
	// The rotation is bounded: leaders must come from the top quartile
	for id := range leaders {
		assert.Contains(t, []string{"a", "b", "c", "d"}, id)
	}
}

func TestSelectZeroDesired(t *testing.T) {
	s := testSelector(&fakeQuota{})
	picked, _ := s.Select(context.Background(), []domain.AccountCandidate{
		candidate("a", domain.AccountActive, 80, 24),
	}, 0, nil)
	assert.Empty(t, picked)
}
