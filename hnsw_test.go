package synapse

import "testing"

func TestHNSWSearchReturnsNearestFirst(t *testing.T) {
	g := newHNSWGraph(8, 32)

	g.insert("close", []float32{1, 0, 0})
	g.insert("far", []float32{0, 1, 0})
	g.insert("query-ish", []float32{0.9, 0.1, 0})

	results := g.search([]float32{1, 0, 0}, 10)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].ID != "close" {
		t.Errorf("expected 'close' to rank first, got %q", results[0].ID)
	}
}

func TestHNSWSearchRespectsEf(t *testing.T) {
	g := newHNSWGraph(8, 32)
	for i := 0; i < 20; i++ {
		g.insert(string(rune('a'+i)), []float32{float32(i), 0, 0})
	}

	results := g.search([]float32{0, 0, 0}, 3)
	if len(results) > 3 {
		t.Errorf("expected at most 3 results, got %d", len(results))
	}
}

func TestHNSWSearchEmptyGraphReturnsNil(t *testing.T) {
	g := newHNSWGraph(8, 32)
	results := g.search([]float32{1, 0, 0}, 5)
	if results != nil {
		t.Errorf("expected nil results from an empty graph, got %v", results)
	}
}

func TestHNSWDeleteRemovesNode(t *testing.T) {
	g := newHNSWGraph(8, 32)
	g.insert("a", []float32{1, 0, 0})
	g.insert("b", []float32{0, 1, 0})

	g.delete("a")

	results := g.search([]float32{1, 0, 0}, 10)
	for _, r := range results {
		if r.ID == "a" {
			t.Error("expected the deleted node to be absent from search results")
		}
	}
}

func TestHNSWDeleteEntryPointPicksNewEntry(t *testing.T) {
	g := newHNSWGraph(8, 32)
	g.insert("a", []float32{1, 0, 0})
	g.insert("b", []float32{0, 1, 0})

	entry := g.entryPoint
	g.delete(entry)

	if g.entryPoint == entry {
		t.Error("expected the entry point to be reassigned after its node was deleted")
	}
	if g.entryPoint == "" {
		t.Error("expected a remaining node to become the new entry point")
	}
}

func TestHNSWInsertUpsertsExistingID(t *testing.T) {
	g := newHNSWGraph(8, 32)
	g.insert("a", []float32{1, 0, 0})
	g.insert("a", []float32{0, 0, 1}) // re-insert with a new vector

	if len(g.nodes) != 1 {
		t.Fatalf("expected upsert to keep a single node, got %d", len(g.nodes))
	}
	if g.nodes["a"].Vector[2] != 1 {
		t.Error("expected the re-inserted vector to replace the original")
	}
}
