package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/config"
	"github.com/talhaakhtargithub/insta-distribution-sub000/internal/domain"
)

func testConfig() config.RiskConfig {
	return config.RiskConfig{
		BatchSizeWeight:  50,
		RecentFlagWeight: 30,
		OffPeakWeight:    20,
		BlockThreshold:   80,
		PeakHourStart:    18,
		PeakHourEnd:      22,
		FlagSaturation:   10,
	}
}

func req(count int) domain.DistributionRequest {
	return domain.DistributionRequest{ContentRef: "content-1", Count: count, Window: time.Hour}
}

func TestAssessLowRiskAllows(t *testing.T) {
	a := NewAssessor(testConfig())

	// 10 of 100 accounts, no flags, peak hour
	got := a.Assess(req(10), 100, 0, 20)

	assert.Equal(t, domain.DecisionAllow, got.Decision)
	assert.Less(t, got.Score, 80.0)
	assert.Len(t, got.Factors, 3)
}

func TestAssessFullPoolOffPeakBlocks(t *testing.T) {
	a := NewAssessor(testConfig())

	// Whole pool, heavy flags, 3am: 50 + 30 + 20 = 100
	got := a.Assess(req(100), 100, 25, 3)

	assert.Equal(t, domain.DecisionBlock, got.Decision)
	assert.Equal(t, 100.0, got.Score)
}

func TestAssessThresholdBoundary(t *testing.T) {
	a := NewAssessor(testConfig())

	// 100% batch (50) + saturated flags (30) at peak = exactly 80
	got := a.Assess(req(100), 100, 10, 20)
	assert.Equal(t, 80.0, got.Score)
	assert.Equal(t, domain.DecisionBlock, got.Decision, "score equal to threshold must block")

	// One notch below: 96% batch = 48 + 30 = 78
	got = a.Assess(req(96), 100, 10, 20)
	assert.Equal(t, domain.DecisionAllow, got.Decision)
}

func TestFactorsClampedToWeight(t *testing.T) {
	a := NewAssessor(testConfig())

	// Requesting more than the pool holds must not push the factor past
	// its weight.
	got := a.Assess(req(200), 10, 1000, 3)
	for _, f := range got.Factors {
		assert.GreaterOrEqual(t, f.Value, 0.0, f.Name)
		assert.LessOrEqual(t, f.Value, f.Weight, f.Name)
	}
	assert.LessOrEqual(t, got.Score, 100.0)
}

func TestEmptyPoolAssumesWorstCase(t *testing.T) {
	a := NewAssessor(testConfig())

	got := a.Assess(req(5), 0, 0, 20)
	assert.Equal(t, 50.0, got.Factors[0].Value, "batch factor should saturate with no pool info")
}

func TestOffPeakPenalty(t *testing.T) {
	a := NewAssessor(testConfig())

	peak := a.Assess(req(10), 100, 0, 19)
	offPeak := a.Assess(req(10), 100, 0, 4)

	assert.Equal(t, peak.Score+20, offPeak.Score)
}

func TestPeakWindowWrappingMidnight(t *testing.T) {
	cfg := testConfig()
	cfg.PeakHourStart = 22
	cfg.PeakHourEnd = 2
	a := NewAssessor(cfg)

	assert.Equal(t, 0.0, a.Assess(req(1), 100, 0, 23).Factors[2].Value)
	assert.Equal(t, 0.0, a.Assess(req(1), 100, 0, 1).Factors[2].Value)
	assert.Equal(t, 20.0, a.Assess(req(1), 100, 0, 12).Factors[2].Value)
}

func TestAssessIsPure(t *testing.T) {
	a := NewAssessor(testConfig())
	r := req(10)

	first := a.Assess(r, 100, 3, 20)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Assess(r, 100, 3, 20))
	}
}
