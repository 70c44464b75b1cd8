package executor

import (
	"context"
	"log"
)

// RecoverStuck requeues jobs a crashed worker left in_flight past the
// configured cutoff. Safe to run on a schedule from any worker: the
// per-account lease TTL has expired by then, so a recovered job re-enters
// the normal claim path. The publish idempotency key protects against a
// double post if the original attempt actually landed.
func (e *Executor) RecoverStuck(ctx context.Context) (int, error) {
	n, err := e.store.RequeueStuck(ctx, e.cfg.StuckAfter())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Executor] recovered %d stuck jobs", n)
	}
	return n, nil
}
