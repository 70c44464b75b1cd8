package orchestrator

import "errors"

var (
	// ErrRunNotFound is returned when the run ID does not exist.
	ErrRunNotFound = errors.New("distribution run not found")

	// ErrRunBlocked is returned by Start when the risk assessor refuses the
	// request. The blocked run is still persisted and returned alongside so
	// callers can surface the assessment.
	ErrRunBlocked = errors.New("distribution blocked by risk assessment")
)
