// Package risk scores proposed distributions before any work is queued.
//
// Scoring is additive over independent factors, each clamped to
// [0, its weight], with the total clamped to [0,100]. The assessor is a
// pure function of its inputs so it can be tested without any wiring.
package risk

import (
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

// Assessor computes risk assessments from static signals. Weights and the
// block threshold come from configuration; construct once at startup.
type Assessor struct {
	cfg config.RiskConfig
}

// NewAssessor creates a risk assessor with the given tuning.
func NewAssessor(cfg config.RiskConfig) *Assessor {
	return &Assessor{cfg: cfg}
}

// Assess scores a proposed distribution. poolSize is the number of candidate
// accounts currently available, recentFlagCount the health/alert flags raised
// across the pool in the trailing 24h, and currentHour the local hour of day
// [0,24).
func (a *Assessor) Assess(req domain.DistributionRequest, poolSize, recentFlagCount, currentHour int) domain.RiskAssessment {
	factors := []domain.RiskFactor{
		a.batchSizeFactor(req.Count, poolSize),
		a.recentFlagFactor(recentFlagCount),
		a.offPeakFactor(currentHour),
	}

	var total float64
	for _, f := range factors {
		total += f.Value
	}
	total = clamp(total, 0, 100)

	decision := domain.DecisionAllow
	if total >= a.cfg.BlockThreshold {
		decision = domain.DecisionBlock
	}

	return domain.RiskAssessment{
		Score:    total,
		Factors:  factors,
		Decision: decision,
	}
}

// batchSizeFactor scales with the requested fan-out relative to the pool.
// Asking for the whole pool at once is the strongest automation signature
// this assessor can see.
func (a *Assessor) batchSizeFactor(count, poolSize int) domain.RiskFactor {
	w := a.cfg.BatchSizeWeight
	var ratio float64
	if poolSize > 0 {
		ratio = float64(count) / float64(poolSize)
	} else {
		ratio = 1 // no pool information: assume worst case
	}
	return domain.RiskFactor{
		Name:   "batch_size",
		Weight: w,
		Value:  clamp(ratio*w, 0, w),
	}
}

// recentFlagFactor scales linearly until FlagSaturation flags, then caps.
func (a *Assessor) recentFlagFactor(flags int) domain.RiskFactor {
	w := a.cfg.RecentFlagWeight
	sat := a.cfg.FlagSaturation
	if sat <= 0 {
		sat = 1
	}
	return domain.RiskFactor{
		Name:   "recent_flags",
		Weight: w,
		Value:  clamp(float64(flags)/float64(sat)*w, 0, w),
	}
}

// offPeakFactor applies a fixed penalty outside the configured peak hours.
func (a *Assessor) offPeakFactor(hour int) domain.RiskFactor {
	w := a.cfg.OffPeakWeight
	f := domain.RiskFactor{Name: "off_peak", Weight: w}
	if !hourInPeak(hour, a.cfg.PeakHourStart, a.cfg.PeakHourEnd) {
		f.Value = w
	}
	return f
}

// hourInPeak handles windows that wrap midnight (e.g. 22-2).
func hourInPeak(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
