//go:build integration

package synapse

import (
	"context"
	"os"
	"testing"
	"time"
)

// Postgres-backed store tests require a live database (no in-process
// fixture equivalent to SQLite's ":memory:"), so they're gated behind the
// "integration" build tag and a POSTGRES_TEST_DSN env var, the same pattern
// ehrlich-b-wingthing uses for sandbox tests that need a real OS facility
// (internal/sandbox/jail_test.go). Run with:
//
//	POSTGRES_TEST_DSN=postgres://... go test -tags=integration ./...
func testPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping Postgres-backed tests")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresInsertAndGetMemory(t *testing.T) {
	s := testPostgresStore(t)

	mem := Memory{ID: newID(), Content: "pg memory", Sector: SectorSemantic, Salience: 0.5, UserID: "u1"}
	if err := s.InsertMemory(mem); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemory(mem.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "pg memory" {
		t.Errorf("content mismatch: %s", got.Content)
	}

	if err := s.DeleteMemory(mem.ID, "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresInsertFactAutoCloses(t *testing.T) {
	s := testPostgresStore(t)

	t1 := time.Now()
	id1, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: t1})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: t1.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.GetFact(id1, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first.IsCurrent() {
		t.Error("expected the first fact to have been auto-closed")
	}

	second, err := s.GetFact(id2, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !second.IsCurrent() {
		t.Error("expected the second fact to remain open")
	}
}
