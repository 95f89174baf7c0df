package synapse

import (
	"testing"

	"go.uber.org/zap"
)

func testCoactivationEngine(t *testing.T, mode CoactivationMode) (*coactivationEngine, *Store) {
	t.Helper()
	s := testStore(t)
	cfg := Config{CoactivationMode: mode}
	c := newCoactivationEngine(s, cfg, zap.NewNop().Sugar())
	c.metrics = &Metrics{}
	return c, s
}

func TestCoactivationEnqueueDisabledIsNoOp(t *testing.T) {
	c, s := testCoactivationEngine(t, CoactivationDisabled)
	c.enqueue([]string{"m1", "m2"})

	n, err := s.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no job to be enqueued while disabled, got %d pending", n)
	}
}

func TestCoactivationEnqueueCronPersistsJob(t *testing.T) {
	c, s := testCoactivationEngine(t, CoactivationCron)
	c.enqueue([]string{"m1", "m2"})

	n, err := s.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 pending job, got %d", n)
	}
}

func TestCoactivationEnqueueIntervalBuffersInMemory(t *testing.T) {
	c, s := testCoactivationEngine(t, CoactivationInterval)
	c.enqueue([]string{"m1", "m2"})

	n, err := s.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("interval mode must not write a durable job row")
	}
	if len(c.buf) != 1 {
		t.Errorf("expected the batch to land in the in-memory buffer, got %d entries", len(c.buf))
	}
}

func TestApplyPairwiseBumpsEveryEdgePair(t *testing.T) {
	c, s := testCoactivationEngine(t, CoactivationCron)

	v := l2Normalize([]float32{1, 0, 0})
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.InsertMemory(Memory{ID: id, Content: id, Sector: SectorSemantic, UserID: "u1"}); err != nil {
			t.Fatal(err)
		}
	}
	// Three dissimilar vectors so each memory forms its own waypoint.
	if err := assignWaypoint(s, SectorSemantic, "m1", l2Normalize([]float32{1, 0, 0}), 0.99, 50); err != nil {
		t.Fatal(err)
	}
	if err := assignWaypoint(s, SectorSemantic, "m2", l2Normalize([]float32{0, 1, 0}), 0.99, 50); err != nil {
		t.Fatal(err)
	}
	if err := assignWaypoint(s, SectorSemantic, "m3", l2Normalize([]float32{0, 0, 1}), 0.99, 50); err != nil {
		t.Fatal(err)
	}
	_ = v

	if err := c.applyPairwise([]string{"m1", "m2", "m3"}); err != nil {
		t.Fatal(err)
	}

	wps, err := s.GetWaypointsBySector(SectorSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 3 {
		t.Fatalf("expected 3 distinct waypoints, got %d", len(wps))
	}
	neighbors, err := s.GetWaypointNeighbors(wps[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Errorf("expected the first waypoint to have picked up edges to the other two, got %d", len(neighbors))
	}
}

func TestDrainJobsMarksDoneOnSuccess(t *testing.T) {
	c, s := testCoactivationEngine(t, CoactivationCron)

	for _, id := range []string{"m1", "m2"} {
		if err := s.InsertMemory(Memory{ID: id, Content: id, Sector: SectorSemantic, UserID: "u1"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := assignWaypoint(s, SectorSemantic, "m1", l2Normalize([]float32{1, 0, 0}), 0.99, 50); err != nil {
		t.Fatal(err)
	}
	if err := assignWaypoint(s, SectorSemantic, "m2", l2Normalize([]float32{0, 1, 0}), 0.99, 50); err != nil {
		t.Fatal(err)
	}

	c.enqueue([]string{"m1", "m2"})
	c.drainJobs()

	n, err := s.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected the job to be marked done and no longer pending, got %d", n)
	}
}
