package synapse

import (
	"context"
	"time"
)

// startDecayWorker runs a background goroutine that periodically sweeps
// every memory's decay score and prunes dead memories and stale waypoint
// edges (spec §4.4 Decay). Grounded on the teacher's decay_worker.go
// ticker/cancel pattern, swapped from log.Printf to the structured logger.
func (s *Synapse) startDecayWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDecay = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runDecaySweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runDecaySweep applies one periodic sweep: the store recomputes and
// persists each memory's decay_score from its salience and the time since
// last_seen_at, deletes memories whose score falls below MinDecayScore,
// ages waypoint edge weights and drops the weakest edges, and removes
// waypoints left with no members. Search does not read decay_score; its
// re-rank applies its own recency term (CompositeScore's exp(-0.02·days)
// over last_seen_at), so reads between sweeps still weigh how recently a
// memory was seen without waiting for the next sweep.
func (s *Synapse) runDecaySweep() {
	updated, deleted, err := s.store.RunDecaySweep(s.config.MinDecayScore, s.config.decayRates)
	if err != nil {
		s.log.Errorw("decay sweep failed", "error", err)
		return
	}
	s.metrics.recordDecaySweep(context.Background(), updated, deleted)
	if updated > 0 || deleted > 0 {
		s.log.Infow("decay sweep complete", "updated", updated, "deleted", deleted)
	}
}
