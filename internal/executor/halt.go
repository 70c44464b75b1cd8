package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const haltKey = "halt:%s" // run id

// haltTTL outlives the longest possible spread window so the flag cannot
// expire while the run still has claimable jobs.
const haltTTL = 8 * 24 * time.Hour

// HaltFlag fans a run halt out to the executor fleet through Redis. The flag
// is a fast-path hint: the database cancel transition is the correctness
// guarantee, the flag just saves workers a wasted publish on jobs claimed in
// the race window.
type HaltFlag struct {
	redis *redis.Client
}

// NewHaltFlag creates a halt flag store.
func NewHaltFlag(client *redis.Client) *HaltFlag {
	return &HaltFlag{redis: client}
}

// Halt marks the run halted.
func (h *HaltFlag) Halt(ctx context.Context, runID string) error {
	return h.redis.Set(ctx, fmt.Sprintf(haltKey, runID), "1", haltTTL).Err()
}

// IsHalted reports whether the run has been halted.
func (h *HaltFlag) IsHalted(ctx context.Context, runID string) (bool, error) {
	n, err := h.redis.Exists(ctx, fmt.Sprintf(haltKey, runID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
