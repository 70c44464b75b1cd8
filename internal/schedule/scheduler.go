// Package schedule maps selected accounts to fire timestamps inside a
// spread window.
//
// The schedule is a non-uniform point process: a running cursor advances by
// the base interval plus per-step jitter, slots landing in low-activity
// hours may be pulled back into the preceding peak window, and any overflow
// from jitter accumulation is shaved off the gaps that sit above the jitter
// floor. No slot is ever placed outside [now, now+window].
package schedule

import (
	"math/rand"
	"time"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// Pair is one account/variant assignment to be scheduled.
type Pair struct {
	AccountID string
	VariantID string
}

// nudgeProbability is the chance an off-peak slot is pulled back into the
// preceding peak window.
const nudgeProbability = 0.5

// Scheduler assigns fire timestamps. Construct once; safe for sequential
// use only (the PRNG is not synchronized).
type Scheduler struct {
	cfg config.ScheduleConfig
	rng *rand.Rand
}

// NewScheduler creates a scheduler with the given jitter and peak tuning.
func NewScheduler(cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Schedule produces one slot per pair, in input order, all inside
// [now, now+window]. Guarantees:
//   - every FireAt lies within the window (inclusive)
//   - any two slots are at least the jitter floor apart whenever the window
//     is large enough (N * floor <= window); tighter windows compress the
//     spacing toward window/N instead of failing
func (s *Scheduler) Schedule(pairs []Pair, window time.Duration, now time.Time) []domain.ScheduleSlot {
	n := len(pairs)
	if n == 0 {
		return nil
	}

	steps := s.steps(n, window)

	end := now.Add(window)
	slots := make([]domain.ScheduleSlot, 0, n)
	placed := make([]time.Time, 0, n)
	cursor := now
	for i, p := range pairs {
		cursor = cursor.Add(steps[i])
		if cursor.After(end) {
			cursor = end
		}
		fireAt := s.nudgeToPeak(cursor, now, placed)
		slots = append(slots, domain.ScheduleSlot{
			AccountID: p.AccountID,
			VariantID: p.VariantID,
			FireAt:    fireAt,
		})
		placed = append(placed, fireAt)
	}
	return slots
}

// steps draws the cursor increments. The first step is pure jitter (a single
// slot needs no interval math); later steps are the base interval with the
// jitter recentered around zero so the expected final cursor stays near the
// window end. If the drawn schedule overflows the window the excess is
// shaved off each step in proportion to its headroom above the floor, so the
// final cursor lands inside the window without any step dropping below the
// floor.
func (s *Scheduler) steps(n int, window time.Duration) []time.Duration {
	jitterMin := s.cfg.JitterMin()
	jitterMax := s.cfg.JitterMax()
	avgJitter := (jitterMin + jitterMax) / 2
	base := window / time.Duration(n)

	floor := jitterMin
	if minTotal := floor * time.Duration(n); minTotal > window {
		// Window too tight for the configured floor: compress.
		floor = window / time.Duration(n)
	}

	steps := make([]time.Duration, n)
	var total time.Duration
	for i := range steps {
		jit := s.jitter(jitterMin, jitterMax)
		var step time.Duration
		if i == 0 {
			step = jit
		} else {
			step = base - avgJitter + jit
		}
		if step < floor {
			step = floor
		}
		steps[i] = step
		total += step
	}

	if total > window {
		// The floor fits the window (it was compressed above otherwise), so
		// the combined headroom always covers the excess and no step needs
		// to be clamped back up afterwards.
		excess := total - window
		headroom := total - floor*time.Duration(n)
		for i := range steps {
			cut := time.Duration(float64(steps[i]-floor) / float64(headroom) * float64(excess))
			steps[i] -= cut
		}
	}
	return steps
}

func (s *Scheduler) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// nudgeToPeak pulls an off-peak slot back into the preceding peak window
// with probability nudgeProbability. The nudge is skipped when no peak
// instant exists at or after now, or when the target would land within the
// jitter floor of an already-placed slot (spacing wins over peak
// preference).
func (s *Scheduler) nudgeToPeak(t, now time.Time, placed []time.Time) time.Time {
	if s.inPeak(t.Hour()) || s.rng.Float64() >= nudgeProbability {
		return t
	}

	target, ok := s.latestPeakInstant(t, now)
	if !ok {
		return t
	}

	floor := s.cfg.JitterMin()
	for _, p := range placed {
		if absDiff(target, p) < floor {
			return t
		}
	}
	return target
}

// latestPeakInstant finds the latest time at or before t, no earlier than
// now, whose hour falls in the peak window. Returns false if none exists.
func (s *Scheduler) latestPeakInstant(t, now time.Time) (time.Time, bool) {
	u := t
	for !u.Before(now) {
		if s.inPeak(u.Hour()) {
			return u, true
		}
		// Jump to the end of the previous hour
		u = u.Truncate(time.Hour).Add(-time.Second)
	}
	return time.Time{}, false
}

func (s *Scheduler) inPeak(hour int) bool {
	start, end := s.cfg.PeakHourStart, s.cfg.PeakHourEnd
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
