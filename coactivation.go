package synapse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const coactivationMaxRetries = 5

// coactivationEngine reconciles query-time co-occurrence into waypoint edge
// weights (C7). In CoactivationCron mode (default) every completed Search
// that returns two or more results enqueues a durable coactivation_jobs
// row; a worker polls pending jobs and
// applies them with bounded retry — never an in-memory buffer, so a process
// restart never silently drops a coactivation. CoactivationInterval mode
// instead buffers co-occurrence batches in memory and flushes on a ticker,
// preserved for parity with the teacher's ticker-based decay/reflection
// workers. CoactivationDisabled turns off all bookkeeping.
type coactivationEngine struct {
	store   MetadataStore
	mode    CoactivationMode
	log     *zap.SugaredLogger
	metrics *Metrics
	cancel  context.CancelFunc

	bufMu sync.Mutex
	buf   [][]string // interval mode only
}

func newCoactivationEngine(store MetadataStore, cfg Config, log *zap.SugaredLogger) *coactivationEngine {
	return &coactivationEngine{store: store, mode: cfg.CoactivationMode, log: log}
}

func (c *coactivationEngine) start() {
	if c.mode == CoactivationDisabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.runCycle()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *coactivationEngine) stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// enqueue records a completed query's co-activated memory ids.
func (c *coactivationEngine) enqueue(memoryIDs []string) {
	switch c.mode {
	case CoactivationDisabled:
		return
	case CoactivationInterval:
		c.bufMu.Lock()
		c.buf = append(c.buf, memoryIDs)
		c.bufMu.Unlock()
	default: // cron
		if _, err := c.store.EnqueueCoactivationJob(memoryIDs); err != nil {
			c.log.Warnw("enqueue coactivation job failed", "error", err)
			return
		}
		c.metrics.recordCoactivationEnqueued(context.Background())
	}
}

func (c *coactivationEngine) runCycle() {
	if c.mode == CoactivationInterval {
		c.flushBuffer()
		return
	}
	c.drainJobs()
}

func (c *coactivationEngine) flushBuffer() {
	c.bufMu.Lock()
	batches := c.buf
	c.buf = nil
	c.bufMu.Unlock()

	for _, ids := range batches {
		if err := c.applyPairwise(ids); err != nil {
			c.log.Warnw("interval coactivation flush failed", "error", err)
		}
	}
}

func (c *coactivationEngine) drainJobs() {
	jobs, err := c.store.ClaimPendingJobs(50)
	if err != nil {
		c.log.Warnw("claim coactivation jobs failed", "error", err)
		return
	}
	for _, j := range jobs {
		if err := c.applyPairwise(j.MemoryIDs); err != nil {
			if mErr := c.store.MarkJobFailed(j.ID, err, coactivationMaxRetries); mErr != nil {
				c.log.Warnw("mark job failed error", "job_id", j.ID, "error", mErr)
			}
			c.metrics.recordCoactivationFailed(context.Background())
			continue
		}
		if err := c.store.MarkJobDone(j.ID); err != nil {
			c.log.Warnw("mark job done error", "job_id", j.ID, "error", err)
		}
	}
	if len(jobs) > 0 {
		c.log.Infow("coactivation cycle complete", "jobs", len(jobs))
	}
}

// applyPairwise increments the waypoint edge weight between every pair of
// waypoints touched by the co-activated memories — a fixed bump per
// co-occurring pair (spec §5).
func (c *coactivationEngine) applyPairwise(memoryIDs []string) error {
	const bump = 0.05

	waypointSet := make(map[string]bool)
	for _, id := range memoryIDs {
		wps, err := c.store.GetWaypointsForMemory(id)
		if err != nil {
			return err
		}
		for _, wp := range wps {
			waypointSet[wp] = true
		}
	}
	waypoints := make([]string, 0, len(waypointSet))
	for wp := range waypointSet {
		waypoints = append(waypoints, wp)
	}

	for i := 0; i < len(waypoints); i++ {
		for j := i + 1; j < len(waypoints); j++ {
			if err := c.store.BumpWaypointEdge(waypoints[i], waypoints[j], bump); err != nil {
				return err
			}
		}
	}
	return nil
}
