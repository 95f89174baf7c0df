package synapse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Temporal-fact behavior (C5) has no teacher analogue — the assertions here
// follow 2lar-b2's testify style rather than the plain-testing idiom used
// for ported store.go logic.

func TestInsertFactAutoClosesPriorOpenFact(t *testing.T) {
	s := testStore(t)

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	id1, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: t1})
	require.NoError(t, err)

	t2 := t1.AddDate(0, 1, 0)
	id2, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: t2})
	require.NoError(t, err)

	first, err := s.GetFact(id1, "u1")
	require.NoError(t, err)
	assert.False(t, first.IsCurrent())
	assert.NotNil(t, first.ValidTo)
	assert.True(t, first.ValidTo.Equal(t2))

	second, err := s.GetFact(id2, "u1")
	require.NoError(t, err)
	assert.True(t, second.IsCurrent())
}

func TestInsertFactRejectsEmptyFields(t *testing.T) {
	s := testStore(t)

	_, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "", Predicate: "role", Object: "x", ValidFrom: time.Now()})
	require.Error(t, err)
	synErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindInvalidInput, synErr.Kind)
}

func TestInsertFactRejectsInvertedValidity(t *testing.T) {
	s := testStore(t)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "a", Predicate: "p", Object: "o", ValidFrom: from, ValidTo: &to})
	require.Error(t, err)
}

func TestQueryAtAsOf(t *testing.T) {
	s := testStore(t)

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: t1})
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: t2})

	// As of Feb, only "engineer" should be active.
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	facts, err := s.QueryAt("u1", FactPattern{Subject: "alice", Predicate: "role"}, feb, 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "engineer", facts[0].Object)

	// As of now, only "manager" should be active.
	current, err := s.GetCurrent("u1", "alice", "role")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "manager", current.Object)
}

func TestQueryAtScopesToUser(t *testing.T) {
	s := testStore(t)

	now := time.Now()
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: now})
	s.InsertFact(TemporalFact{UserID: "u2", Subject: "alice", Predicate: "role", Object: "intern", ValidFrom: now})

	facts, err := s.QueryAt("u1", FactPattern{Subject: "alice"}, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "engineer", facts[0].Object)
}

func TestInRangeUnionsOverlapAndOpenAt(t *testing.T) {
	s := testStore(t)

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: jan})
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: apr})

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	facts, err := s.InRange("u1", FactPattern{Subject: "alice"}, feb, mar)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "engineer", facts[0].Object)
}

func TestSearchFactsSubstringMatch(t *testing.T) {
	s := testStore(t)

	now := time.Now()
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice smith", Predicate: "role", Object: "engineer", ValidFrom: now})
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "bob jones", Predicate: "role", Object: "designer", ValidFrom: now})

	facts, err := s.SearchFacts("u1", "smith", "subject", time.Now())
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "alice smith", facts[0].Subject)
}

func TestFindConflictingFacts(t *testing.T) {
	s := testStore(t)

	// Two facts for the same (subject, predicate) with different objects,
	// both inserted through InsertFact.
	now := time.Now()
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: now.Add(-time.Hour)})

	// InsertFact's auto-close ends the first fact at the second one's
	// valid_from, so only one fact is active now and there is no conflict.
	s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: now})

	conflicts, err := s.FindConflictingFacts("u1", "alice", "role", time.Now())
	require.NoError(t, err)
	assert.Len(t, conflicts, 1, "auto-close-on-supersession should leave exactly one open fact")
}

func TestUpdateFactConfidenceAndMetadata(t *testing.T) {
	s := testStore(t)

	id, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "a", Predicate: "p", Object: "o", ValidFrom: time.Now(), Confidence: 0.5})
	require.NoError(t, err)

	newConf := 0.9
	require.NoError(t, s.UpdateFact(id, "u1", &newConf, map[string]string{"note": "confirmed"}))

	got, err := s.GetFact(id, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, "confirmed", got.Metadata["note"])
}

func TestInvalidateFactClosesValidity(t *testing.T) {
	s := testStore(t)

	id, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "a", Predicate: "p", Object: "o", ValidFrom: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.InvalidateFact(id, "u1", time.Now()))

	got, err := s.GetFact(id, "u1")
	require.NoError(t, err)
	assert.False(t, got.IsCurrent())
}

func TestDeleteFactEnforcesOwnership(t *testing.T) {
	s := testStore(t)

	id, err := s.InsertFact(TemporalFact{UserID: "owner", Subject: "a", Predicate: "p", Object: "o", ValidFrom: time.Now()})
	require.NoError(t, err)

	err = s.DeleteFact(id, "intruder")
	require.Error(t, err)

	require.NoError(t, s.DeleteFact(id, "owner"))
	_, err = s.GetFact(id, "owner")
	require.Error(t, err)
}

func TestGetRelatedFactsScopedByUser(t *testing.T) {
	s := testStore(t)

	now := time.Now()
	src, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: now})
	require.NoError(t, err)
	dst, err := s.InsertFact(TemporalFact{UserID: "u1", Subject: "alice", Predicate: "team", Object: "platform", ValidFrom: now})
	require.NoError(t, err)

	require.NoError(t, s.InsertEdge(TemporalEdge{SourceID: src, TargetID: dst, RelationType: "relates_to", Weight: 1, ValidFrom: now, UserID: "u1"}))

	related, err := s.GetRelatedFacts(src, "u1")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, dst, related[0].ID)

	// A different user's edge traversal must not surface this relation.
	related, err = s.GetRelatedFacts(src, "u2")
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestBatchInsertFactsAllOrNothing(t *testing.T) {
	s := testStore(t)

	ids, err := s.BatchInsertFacts([]TemporalFact{
		{UserID: "u1", Subject: "a", Predicate: "p", Object: "o1", ValidFrom: time.Now()},
		{UserID: "u1", Subject: "b", Predicate: "p", Object: "o2", ValidFrom: time.Now()},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = s.BatchInsertFacts([]TemporalFact{
		{UserID: "u1", Subject: "c", Predicate: "p", Object: "o3", ValidFrom: time.Now()},
		{UserID: "u1", Subject: "", Predicate: "p", Object: "o4", ValidFrom: time.Now()},
	})
	require.Error(t, err)

	facts, err := s.QueryAt("u1", FactPattern{Subject: "c"}, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, facts, "a failed batch must not leave partial rows behind")
}
