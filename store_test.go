package synapse

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

// testStore opens a throwaway SQLite-backed Store in a temp dir, grounded
// on the teacher's testStore helper (store_test.go).
func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVectorEncodeDecode(t *testing.T) {
	original := []float32{1.0, -0.5, 0.333, 0, 42.0}
	decoded := DecodeVector(EncodeVector(original))

	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if original[i] != decoded[i] {
			t.Errorf("index %d: expected %f, got %f", i, original[i], decoded[i])
		}
	}
}

func TestVectorEncodeDecodeEmpty(t *testing.T) {
	decoded := DecodeVector(EncodeVector(nil))
	if len(decoded) != 0 {
		t.Errorf("expected empty, got %d elements", len(decoded))
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	s := testStore(t)

	mem := Memory{
		ID:       newID(),
		Content:  "visited Tokyo",
		Sector:   SectorEpisodic,
		Sectors:  []Sector{SectorEpisodic},
		Tags:     []string{"tokyo", "travel"},
		Salience: 0.7,
		UserID:   "user1",
	}
	if err := s.InsertMemory(mem); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertVector(mem.ID, SectorEpisodic, mem.UserID, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(mem.ID, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "visited Tokyo" {
		t.Errorf("content mismatch: %s", got.Content)
	}
	if got.Sector != SectorEpisodic {
		t.Errorf("sector mismatch: %s", got.Sector)
	}
	if len(got.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", got.Tags)
	}

	mwvs, err := s.GetMemoriesWithVectors("user1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(mwvs) != 1 || len(mwvs[0].Vector) != 3 {
		t.Fatalf("expected 1 memory with a 3-dim vector, got %+v", mwvs)
	}
}

func TestGetMemoryOwnershipMismatchIsNotFound(t *testing.T) {
	s := testStore(t)

	mem := Memory{ID: newID(), Content: "secret", Sector: SectorSemantic, Salience: 0.5, UserID: "owner"}
	if err := s.InsertMemory(mem); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetMemory(mem.ID, "intruder"); err == nil {
		t.Fatal("expected not-found error for cross-user access")
	} else if synErr, ok := err.(*Error); !ok || synErr.Kind != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestGetMemoriesFiltersByUser(t *testing.T) {
	s := testStore(t)

	s.InsertMemory(Memory{ID: newID(), Content: "mem1", Sector: SectorSemantic, Salience: 0.5, UserID: "user1"})
	s.InsertMemory(Memory{ID: newID(), Content: "mem2", Sector: SectorSemantic, Salience: 0.5, UserID: "user2"})

	mwvs, err := s.GetMemoriesWithVectors("user1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(mwvs) != 1 {
		t.Errorf("expected 1 memory for user1, got %d", len(mwvs))
	}
}

func TestReinforceSalience(t *testing.T) {
	s := testStore(t)

	mem := Memory{ID: newID(), Content: "test", Sector: SectorSemantic, Salience: 0.5, UserID: "u1"}
	if err := s.InsertMemory(mem); err != nil {
		t.Fatal(err)
	}
	if err := s.ReinforceSalience(mem.ID, 0.15); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(mem.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Salience-0.65) > 0.01 {
		t.Errorf("expected salience ~0.65 after boost, got %.2f", got.Salience)
	}
}

func TestReinforceSalienceCapsAtOne(t *testing.T) {
	s := testStore(t)

	mem := Memory{ID: newID(), Content: "test", Sector: SectorSemantic, Salience: 0.95, UserID: "u1"}
	s.InsertMemory(mem)
	s.ReinforceSalience(mem.ID, 0.15)

	got, _ := s.GetMemory(mem.ID, "u1")
	if got.Salience > 1.0 {
		t.Errorf("salience should cap at 1.0, got %.2f", got.Salience)
	}
}

func TestRunDecaySweep(t *testing.T) {
	s := testStore(t)

	fading := Memory{ID: newID(), Content: "fading", Sector: SectorSemantic, Salience: 0.001, UserID: "u1"}
	strong := Memory{ID: newID(), Content: "strong", Sector: SectorSemantic, Salience: 0.9, UserID: "u1"}
	s.InsertMemory(fading)
	s.InsertMemory(strong)

	_, deleted, err := s.RunDecaySweep(0.01, DefaultDecayRates())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected the fading memory to be pruned, deleted=%d", deleted)
	}

	if _, err := s.GetMemory(strong.ID, "u1"); err != nil {
		t.Errorf("strong memory should have survived the sweep: %v", err)
	}
	if _, err := s.GetMemory(fading.ID, "u1"); err == nil {
		t.Error("fading memory should have been deleted")
	}
}

func TestEnforceMemoryLimit(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		s.InsertMemory(Memory{ID: newID(), Content: "mem", Sector: SectorSemantic, Salience: 0.5, UserID: "u1"})
	}

	if err := s.EnforceMemoryLimit("u1", 3); err != nil {
		t.Fatal(err)
	}

	mems, err := s.ListMemories("u1", "", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 3 {
		t.Errorf("expected 3 memories after enforce, got %d", len(mems))
	}
}

func TestEnforceMemoryLimitNoOp(t *testing.T) {
	s := testStore(t)

	s.InsertMemory(Memory{ID: newID(), Content: "mem", Sector: SectorSemantic, Salience: 0.5, UserID: "u1"})

	if err := s.EnforceMemoryLimit("u1", 100); err != nil {
		t.Fatal(err)
	}

	mems, _ := s.ListMemories("u1", "", 100, 0)
	if len(mems) != 1 {
		t.Errorf("expected 1 memory, got %d", len(mems))
	}
}

func TestWaypointCRUD(t *testing.T) {
	s := testStore(t)

	wp := Waypoint{ID: newID(), Sector: SectorEpisodic, MeanV: []float32{0.1, 0.2}, Members: nil}
	if err := s.InsertWaypoint(wp); err != nil {
		t.Fatal(err)
	}

	mem := Memory{ID: newID(), Content: "visited tokyo", Sector: SectorEpisodic, Salience: 0.5, UserID: "u1"}
	s.InsertMemory(mem)

	wp.Members = []string{mem.ID}
	if err := s.UpdateWaypoint(wp); err != nil {
		t.Fatal(err)
	}

	ids, err := s.GetWaypointsForMemory(mem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != wp.ID {
		t.Errorf("expected waypoint %s, got %v", wp.ID, ids)
	}

	waypoints, err := s.GetWaypointsBySector(SectorEpisodic)
	if err != nil {
		t.Fatal(err)
	}
	if len(waypoints) != 1 || len(waypoints[0].MeanV) != 2 {
		t.Fatalf("expected 1 waypoint with a 2-dim centroid, got %+v", waypoints)
	}
}

func TestDeleteMemoryRemovesWaypointMembership(t *testing.T) {
	s := testStore(t)

	mem := Memory{ID: newID(), Content: "ephemeral", Sector: SectorEpisodic, Salience: 0.5, UserID: "u1"}
	s.InsertMemory(mem)

	wp := Waypoint{ID: newID(), Sector: SectorEpisodic, MeanV: []float32{0.1}, Members: []string{mem.ID}}
	s.InsertWaypoint(wp)

	if err := s.DeleteMemory(mem.ID, "u1"); err != nil {
		t.Fatal(err)
	}

	waypoints, err := s.GetWaypointsBySector(SectorEpisodic)
	if err != nil {
		t.Fatal(err)
	}
	if len(waypoints) != 1 || len(waypoints[0].Members) != 0 {
		t.Errorf("expected the waypoint to persist with an empty member list, got %+v", waypoints)
	}
}

func TestBumpWaypointEdgeIsCommutativeAndAccumulates(t *testing.T) {
	s := testStore(t)

	if err := s.BumpWaypointEdge("b", "a", 0.1); err != nil {
		t.Fatal(err)
	}
	if err := s.BumpWaypointEdge("a", "b", 0.2); err != nil {
		t.Fatal(err)
	}

	edges, err := s.GetWaypointNeighbors("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].A != "a" || edges[0].B != "b" {
		t.Errorf("expected canonicalized (a, b), got (%s, %s)", edges[0].A, edges[0].B)
	}
	if math.Abs(edges[0].Weight-0.3) > 0.001 {
		t.Errorf("expected accumulated weight 0.3, got %f", edges[0].Weight)
	}
}

func TestCoactivationJobLifecycle(t *testing.T) {
	s := testStore(t)

	id, err := s.EnqueueCoactivationJob([]string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a non-empty job id")
	}

	n, err := s.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending job, got %d", n)
	}

	jobs, err := s.ClaimPendingJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || len(jobs[0].MemoryIDs) != 2 {
		t.Fatalf("expected 1 claimed job with 2 member ids, got %+v", jobs)
	}

	if err := s.MarkJobDone(jobs[0].ID); err != nil {
		t.Fatal(err)
	}
	n, _ = s.PendingJobCount()
	if n != 0 {
		t.Errorf("expected 0 pending jobs after MarkJobDone, got %d", n)
	}
}

func TestCoactivationJobEnqueueNeedsAtLeastTwoMembers(t *testing.T) {
	s := testStore(t)

	id, err := s.EnqueueCoactivationJob([]string{"m1"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected no job to be enqueued for a single member, got id %q", id)
	}
}

func TestNewStoreCreatesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "nested", "test.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
}

func TestDaysSinceUnit(t *testing.T) {
	d := DaysSince(time.Now())
	if d > 0.001 {
		t.Errorf("expected ~0 days, got %.4f", d)
	}
}
