package scheduler

import (
	"context"
	"fmt"

	"github.com/lance13c/deltawatch/internal/logging"
)

// claim marks a monitor busy in the store. The claim outlives a full check so
// a crashed process blocks the monitor for one check window at most.
func (s *Scheduler) claim(ctx context.Context, id int64) (bool, error) {
	now := s.now()
	until := now.Add(s.opts.CheckTimeout + 2*persistTimeout)
	ok, err := s.deps.Store.ClaimCheck(ctx, id, now, until)
	if err != nil {
		return false, fmt.Errorf("failed to claim monitor %d: %w", id, err)
	}
	return ok, nil
}

// release drops the claim even when ctx is already cancelled
func (s *Scheduler) release(ctx context.Context, id int64) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.deps.Store.ReleaseCheck(releaseCtx, id); err != nil {
		logging.Error("Monitor %d: failed to release check claim: %v", id, err)
	}
}
