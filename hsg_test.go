package synapse

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func testEngine(t *testing.T) *Synapse {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DBPath:           filepath.Join(dir, "test.db"),
		VectorBackend:    BackendExactLinear,
		Tier:             TierFast,
		CacheEnabled:     false,
		CoactivationMode: CoactivationDisabled,
		Logger:           zap.NewNop().Sugar(),
	}
	s, err := Init(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertClassifiesAndPersists(t *testing.T) {
	s := testEngine(t)

	mem, err := s.Insert(context.Background(), "I felt really happy about the promotion", AddOptions{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if mem.ID == "" {
		t.Fatal("expected a non-empty id")
	}
	if !mem.Sector.Valid() {
		t.Errorf("expected a valid sector, got %q", mem.Sector)
	}
	if mem.Salience != 0.5 {
		t.Errorf("expected default salience 0.5, got %f", mem.Salience)
	}

	got, err := s.Get(mem.ID, "u1", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != mem.Content {
		t.Errorf("content mismatch: %q vs %q", got.Content, mem.Content)
	}
}

func TestInsertRejectsEmptyContent(t *testing.T) {
	s := testEngine(t)
	if _, err := s.Insert(context.Background(), "", AddOptions{UserID: "u1"}); err == nil {
		t.Fatal("expected an error for empty content")
	}
}

func TestInsertRejectsUnknownSectorHint(t *testing.T) {
	s := testEngine(t)
	if _, err := s.Insert(context.Background(), "hello", AddOptions{UserID: "u1", SectorHint: "made_up"}); err == nil {
		t.Fatal("expected an error for an unknown sector hint")
	}
}

func TestSearchReturnsExactMatchFirst(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	s.Insert(ctx, "the quarterly budget review is on Tuesday", AddOptions{UserID: "u1"})
	s.Insert(ctx, "my favorite color is blue", AddOptions{UserID: "u1"})

	results, err := s.Search(ctx, SearchOptions{Query: "the quarterly budget review is on Tuesday", UserID: "u1", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Content != "the quarterly budget review is on Tuesday" {
		t.Errorf("expected the exact-text match to rank first, got %q", results[0].Content)
	}
}

func TestSearchIsScopedPerUser(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	s.Insert(ctx, "alice's private note", AddOptions{UserID: "u1"})
	s.Insert(ctx, "alice's private note", AddOptions{UserID: "u2"})

	results, err := s.Search(ctx, SearchOptions{Query: "alice's private note", UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.UserID != "u1" {
			t.Errorf("search leaked a result from another user: %+v", r)
		}
	}
}

func TestReinforceBoostsSalience(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	mem, err := s.Insert(ctx, "hello", AddOptions{UserID: "u1", Salience: 0.3})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Reinforce(mem.ID, "u1", 0.2); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(mem.ID, "u1", GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Salience < 0.49 || got.Salience > 0.51 {
		t.Errorf("expected salience ~0.5 after boost, got %f", got.Salience)
	}
}

func TestDeleteRemovesMemory(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	mem, err := s.Insert(ctx, "temporary note", AddOptions{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(mem.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(mem.ID, "u1", GetOptions{}); err == nil {
		t.Error("expected the memory to be gone after delete")
	}
}

func TestWipeRemovesOnlyTargetUser(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	m1, _ := s.Insert(ctx, "u1 memory", AddOptions{UserID: "u1"})
	m2, _ := s.Insert(ctx, "u2 memory", AddOptions{UserID: "u2"})

	if err := s.Wipe("u1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(m1.ID, "u1", GetOptions{}); err == nil {
		t.Error("expected u1's memory to be wiped")
	}
	if _, err := s.Get(m2.ID, "u2", GetOptions{}); err != nil {
		t.Error("u2's memory must survive u1's wipe")
	}
}

func TestWipeRequiresUserID(t *testing.T) {
	s := testEngine(t)
	if err := s.Wipe(""); err == nil {
		t.Fatal("expected wipe with no user id to fail")
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	s := testEngine(t)
	ctx := context.Background()

	s.Insert(ctx, "first", AddOptions{UserID: "u1"})
	s.Insert(ctx, "second", AddOptions{UserID: "u1"})

	mems, err := s.List(ListOptions{UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(mems) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(mems))
	}
	if mems[0].Content != "second" {
		t.Errorf("expected newest-first ordering, got %q first", mems[0].Content)
	}
}
