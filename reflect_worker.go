package synapse

import (
	"context"
	"time"
)

// startReflectionWorker runs a background goroutine that periodically
// triggers reflective synthesis for every user with stored memories. Only
// started when Config.ReflectionProvider is set (SPEC_FULL §4: opt-in,
// never auto-constructed).
func (s *Synapse) startReflectionWorker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelReflect = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runReflectionCycle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// runReflectionCycle finds users with stored memories and triggers synthesis.
func (s *Synapse) runReflectionCycle(ctx context.Context) {
	userIDs, err := s.store.GetActiveUserIDs()
	if err != nil {
		s.log.Warnw("reflection cycle: get users failed", "error", err)
		return
	}

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := s.Reflect(ctx, ReflectOptions{
			UserID:       userID,
			MemoryWindow: 50,
			MinMemories:  5,
		})
		if err != nil {
			s.log.Warnw("reflection failed", "user_id", userID, "error", err)
		} else if len(results) > 0 {
			s.log.Infow("generated reflections", "count", len(results), "user_id", userID)
		}
	}
}
