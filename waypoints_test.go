package synapse

import "testing"

func TestL2Normalize(t *testing.T) {
	v := l2Normalize([]float32{3, 4})
	const want = 1.0
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if diff := sumSq - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected unit norm, got sum-of-squares %.3f", sumSq)
	}
}

func TestL2NormalizeZeroVectorIsUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	out := l2Normalize(v)
	for _, x := range out {
		if x != 0 {
			t.Errorf("zero vector should stay zero, got %v", out)
		}
	}
}

func TestIncrementalCentroidBlendsTowardNewMember(t *testing.T) {
	mean := l2Normalize([]float32{1, 0})
	next := l2Normalize([]float32{0, 1})
	out := incrementalCentroid(mean, next, 2)
	if out[0] <= 0 || out[1] <= 0 {
		t.Errorf("expected the centroid to move toward both members, got %v", out)
	}
}

func TestAssignWaypointCreatesFirstWaypoint(t *testing.T) {
	s := testStore(t)
	v := l2Normalize([]float32{1, 0, 0})

	if err := assignWaypoint(s, SectorSemantic, "m1", v, 0.8, 50); err != nil {
		t.Fatal(err)
	}

	wps, err := s.GetWaypointsBySector(SectorSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 1 {
		t.Fatalf("expected 1 waypoint, got %d", len(wps))
	}
	if len(wps[0].Members) != 1 || wps[0].Members[0] != "m1" {
		t.Errorf("expected waypoint to contain m1, got %v", wps[0].Members)
	}
}

func TestAssignWaypointJoinsSimilarCluster(t *testing.T) {
	s := testStore(t)
	v1 := l2Normalize([]float32{1, 0, 0})
	v2 := l2Normalize([]float32{0.95, 0.05, 0}) // nearly identical direction

	if err := assignWaypoint(s, SectorSemantic, "m1", v1, 0.8, 50); err != nil {
		t.Fatal(err)
	}
	if err := assignWaypoint(s, SectorSemantic, "m2", v2, 0.8, 50); err != nil {
		t.Fatal(err)
	}

	wps, err := s.GetWaypointsBySector(SectorSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 1 {
		t.Fatalf("expected both memories to join one waypoint, got %d waypoints", len(wps))
	}
	if len(wps[0].Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(wps[0].Members))
	}
}

func TestAssignWaypointSplitsDissimilarContent(t *testing.T) {
	s := testStore(t)
	v1 := l2Normalize([]float32{1, 0, 0})
	v2 := l2Normalize([]float32{0, 1, 0}) // orthogonal

	if err := assignWaypoint(s, SectorSemantic, "m1", v1, 0.8, 50); err != nil {
		t.Fatal(err)
	}
	if err := assignWaypoint(s, SectorSemantic, "m2", v2, 0.8, 50); err != nil {
		t.Fatal(err)
	}

	wps, err := s.GetWaypointsBySector(SectorSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 2 {
		t.Fatalf("expected 2 distinct waypoints for orthogonal content, got %d", len(wps))
	}
}

func TestAssignWaypointRespectsCapacity(t *testing.T) {
	s := testStore(t)
	v := l2Normalize([]float32{1, 0, 0})

	if err := assignWaypoint(s, SectorSemantic, "m1", v, 0.8, 1); err != nil {
		t.Fatal(err)
	}
	// Waypoint already at its max of 1 member, so a second near-identical
	// vector must start a new waypoint rather than grow the first.
	if err := assignWaypoint(s, SectorSemantic, "m2", v, 0.8, 1); err != nil {
		t.Fatal(err)
	}

	wps, err := s.GetWaypointsBySector(SectorSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(wps) != 2 {
		t.Fatalf("expected capacity to force a second waypoint, got %d", len(wps))
	}
}

func TestExpandWaypointsRespectsMaxExpansion(t *testing.T) {
	s := testStore(t)

	seedMem := Memory{ID: "seed", Content: "seed", Sector: SectorSemantic, UserID: "u1"}
	if err := s.InsertMemory(seedMem); err != nil {
		t.Fatal(err)
	}
	v := l2Normalize([]float32{1, 0, 0})
	if err := assignWaypoint(s, SectorSemantic, "seed", v, 0.8, 50); err != nil {
		t.Fatal(err)
	}

	linkedIDs := []string{"l1", "l2", "l3"}
	for _, id := range linkedIDs {
		if err := s.InsertMemory(Memory{ID: id, Content: id, Sector: SectorSemantic, UserID: "u1"}); err != nil {
			t.Fatal(err)
		}
		if err := assignWaypoint(s, SectorSemantic, id, v, 0.8, 50); err != nil {
			t.Fatal(err)
		}
	}

	seeds := []memoryWithVector{{Memory: seedMem, Vector: v}}
	linkWeights, _ := expandWaypoints(s, seeds, "u1", 2)
	if len(linkWeights) > 2 {
		t.Errorf("expected expansion to respect the max cap of 2, got %d results", len(linkWeights))
	}
}

func TestExpandWaypointsExcludesSeeds(t *testing.T) {
	s := testStore(t)

	seedMem := Memory{ID: "seed", Content: "seed", Sector: SectorSemantic, UserID: "u1"}
	if err := s.InsertMemory(seedMem); err != nil {
		t.Fatal(err)
	}
	v := l2Normalize([]float32{1, 0, 0})
	if err := assignWaypoint(s, SectorSemantic, "seed", v, 0.8, 50); err != nil {
		t.Fatal(err)
	}

	seeds := []memoryWithVector{{Memory: seedMem, Vector: v}}
	linkWeights, _ := expandWaypoints(s, seeds, "u1", 10)
	if _, ok := linkWeights["seed"]; ok {
		t.Error("expected the seed memory to be excluded from its own expansion results")
	}
}
