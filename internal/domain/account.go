package domain

import "time"

// AccountState enumerates the lifecycle states of a platform account.
// State transitions are owned by the external account directory; this core
// only reads the state and emits pause signals.
type AccountState string

const (
	AccountNew       AccountState = "new"
	AccountWarmingUp AccountState = "warming_up"
	AccountActive    AccountState = "active"
	AccountPaused    AccountState = "paused"
	AccountSuspended AccountState = "suspended"
	AccountBanned    AccountState = "banned"
)

// AccountClass distinguishes personal from business accounts. The platform
// grants business accounts higher activity ceilings.
type AccountClass string

const (
	ClassPersonal AccountClass = "personal"
	ClassBusiness AccountClass = "business"
)

// AccountCandidate is a read-only snapshot of an account at selection time.
// Staleness of a few seconds is acceptable; selection is best-effort, not
// linearizable with health-score updates.
type AccountCandidate struct {
	ID           string       `json:"id"`
	State        AccountState `json:"state"`
	Class        AccountClass `json:"class"`
	HealthScore  int          `json:"health_score"` // 0-100, externally computed
	AgeDays      int          `json:"age_days"`
	LastActivity time.Time    `json:"last_activity"`
	Niche        string       `json:"niche,omitempty"`
}

// Eligible reports whether the account may participate in a distribution at
// all. Paused, suspended, and banned accounts never post.
func (c AccountCandidate) Eligible() bool {
	switch c.State {
	case AccountPaused, AccountSuspended, AccountBanned:
		return false
	}
	return true
}
