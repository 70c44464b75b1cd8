package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest marks request validation failures so transport layers
// can map them to client errors.
var ErrInvalidRequest = errors.New("invalid distribution request")

// DistributionRequest describes one fan-out: a single piece of content
// published across up to Count accounts inside the spread window.
// Immutable once accepted.
type DistributionRequest struct {
	ContentRef string        `json:"content_ref"`
	Count      int           `json:"count"`
	Niche      string        `json:"niche,omitempty"`
	ExcludeIDs []string      `json:"exclude_ids,omitempty"`
	Window     time.Duration `json:"-"` // wire form is window_hours, owned by the API layer
}

// Request size bounds. The upper bound exists because a 200+ account burst
// from one content item is itself a detection signal, independent of risk
// scoring.
const (
	MinRequestCount = 1
	MaxRequestCount = 200
	MinWindow       = time.Hour
	MaxWindow       = 168 * time.Hour
)

// Validate checks request bounds. It does not consult any external state.
func (r DistributionRequest) Validate() error {
	if r.ContentRef == "" {
		return fmt.Errorf("%w: content_ref is required", ErrInvalidRequest)
	}
	if r.Count < MinRequestCount || r.Count > MaxRequestCount {
		return fmt.Errorf("%w: count must be between %d and %d", ErrInvalidRequest, MinRequestCount, MaxRequestCount)
	}
	if r.Window < MinWindow || r.Window > MaxWindow {
		return fmt.Errorf("%w: window must be between %s and %s", ErrInvalidRequest, MinWindow, MaxWindow)
	}
	return nil
}

// RiskDecision is the outcome of a risk assessment.
type RiskDecision string

const (
	DecisionAllow RiskDecision = "allow"
	DecisionBlock RiskDecision = "block"
)

// RiskFactor is one additive contribution to a risk score. Value is already
// clamped to [0, Weight].
type RiskFactor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// RiskAssessment is created once per request and never mutated.
type RiskAssessment struct {
	Score    float64      `json:"score"` // 0-100
	Factors  []RiskFactor `json:"factors"`
	Decision RiskDecision `json:"decision"`
}

// RunStatus tracks whether a distribution run can still produce work.
type RunStatus string

const (
	RunBlocked  RunStatus = "blocked"  // risk assessor refused, no jobs created
	RunEmpty    RunStatus = "empty"    // selection produced zero accounts
	RunActive   RunStatus = "active"   // jobs queued or executing
	RunHalted   RunStatus = "halted"   // emergency halt requested
	RunComplete RunStatus = "complete" // every job reached a terminal state
)

// DistributionRun aggregates the outcome of one request. Counts are updated
// by the executor as jobs finish; Revision increases on every mutation so
// status pollers can detect change cheaply.
type DistributionRun struct {
	ID         string          `json:"id"`
	ContentRef string          `json:"content_ref"`
	Requested  int             `json:"requested"`
	Niche      string          `json:"niche,omitempty"`
	Window     time.Duration   `json:"-"` // wire form is window_seconds, owned by the API layer
	Status     RunStatus       `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Assessment *RiskAssessment `json:"assessment,omitempty"`

	Queued    int `json:"queued"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether no further state change is possible for the run.
func (r *DistributionRun) Terminal() bool {
	switch r.Status {
	case RunBlocked, RunEmpty:
		return true
	}
	return r.Queued > 0 && r.Succeeded+r.Failed+r.Cancelled >= r.Queued
}
