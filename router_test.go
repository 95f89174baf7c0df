package synapse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testSynapse builds a fully wired engine against a temp-dir SQLite store,
// the synthetic embedder, and the exact-linear vector index — fast and
// deterministic enough for the router's C8 dispatch tests.
func testSynapse(t *testing.T) *Synapse {
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
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRouterStoreContextual(t *testing.T) {
	s := testSynapse(t)

	result, err := s.Store(context.Background(), "met alice at the conference", StoreOptions{
		Type:   QueryContextual,
		UserID: "u1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Memory)
	assert.Empty(t, result.FactIDs)
	assert.Equal(t, "met alice at the conference", result.Memory.Content)
}

func TestRouterStoreContextualRequiresContent(t *testing.T) {
	s := testSynapse(t)

	_, err := s.Store(context.Background(), "", StoreOptions{Type: QueryContextual, UserID: "u1"})
	require.Error(t, err)
}

func TestRouterStoreFactual(t *testing.T) {
	s := testSynapse(t)

	result, err := s.Store(context.Background(), "", StoreOptions{
		Type:   QueryFactual,
		UserID: "u1",
		Facts: []TemporalFact{
			{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: time.Now()},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Memory)
	require.Len(t, result.FactIDs, 1)
}

func TestRouterStoreFactualRequiresFacts(t *testing.T) {
	s := testSynapse(t)

	_, err := s.Store(context.Background(), "", StoreOptions{Type: QueryFactual, UserID: "u1"})
	require.Error(t, err)
}

func TestRouterStoreBothCrossLinksSourceMemory(t *testing.T) {
	s := testSynapse(t)

	result, err := s.Store(context.Background(), "alice got promoted", StoreOptions{
		Type:   StoreBoth,
		UserID: "u1",
		Facts: []TemporalFact{
			{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: time.Now()},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Memory)
	require.Len(t, result.FactIDs, 1)

	fact, err := s.GetFact(result.FactIDs[0], "u1")
	require.NoError(t, err)
	assert.Equal(t, result.Memory.ID, fact.Metadata["source_memory_id"])
}

func TestRouterRecallFactualAsOf(t *testing.T) {
	s := testSynapse(t)
	ctx := context.Background()

	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Store(ctx, "", StoreOptions{Type: QueryFactual, UserID: "u1", Facts: []TemporalFact{
		{UserID: "u1", Subject: "alice", Predicate: "role", Object: "engineer", ValidFrom: jan},
	}})
	require.NoError(t, err)
	_, err = s.Store(ctx, "", StoreOptions{Type: QueryFactual, UserID: "u1", Facts: []TemporalFact{
		{UserID: "u1", Subject: "alice", Predicate: "role", Object: "manager", ValidFrom: mar},
	}})
	require.NoError(t, err)

	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	result, err := s.Recall(ctx, "", RecallOptions{
		Type:        QueryFactual,
		UserID:      "u1",
		At:          feb,
		FactPattern: FactPattern{Subject: "alice", Predicate: "role"},
	})
	require.NoError(t, err)
	require.Len(t, result.Factual, 1)
	assert.Equal(t, "engineer", result.Factual[0].Object)
	assert.Empty(t, result.Contextual)
}

func TestRouterRecallContextual(t *testing.T) {
	s := testSynapse(t)
	ctx := context.Background()

	_, err := s.Store(ctx, "alice likes hiking in the mountains", StoreOptions{Type: QueryContextual, UserID: "u1"})
	require.NoError(t, err)

	result, err := s.Recall(ctx, "alice likes hiking in the mountains", RecallOptions{Type: QueryContextual, UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Contextual)
	assert.Empty(t, result.Factual)
}

func TestRouterRecallUnifiedPopulatesBothBlocks(t *testing.T) {
	s := testSynapse(t)
	ctx := context.Background()

	_, err := s.Store(ctx, "alice likes hiking", StoreOptions{Type: QueryContextual, UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Store(ctx, "", StoreOptions{Type: QueryFactual, UserID: "u1", Facts: []TemporalFact{
		{UserID: "u1", Subject: "alice", Predicate: "hobby", Object: "hiking", ValidFrom: time.Now()},
	}})
	require.NoError(t, err)

	result, err := s.Recall(ctx, "alice likes hiking", RecallOptions{
		Type:        QueryUnified,
		UserID:      "u1",
		FactPattern: FactPattern{Subject: "alice"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Contextual)
	assert.NotEmpty(t, result.Factual)
}

func TestRouterUpdateFactPersistsConfidence(t *testing.T) {
	s := testSynapse(t)
	ctx := context.Background()

	result, err := s.Store(ctx, "", StoreOptions{Type: QueryFactual, UserID: "u1", Facts: []TemporalFact{
		{UserID: "u1", Subject: "a", Predicate: "p", Object: "o", ValidFrom: time.Now(), Confidence: 0.5},
	}})
	require.NoError(t, err)

	newConf := 0.9
	require.NoError(t, s.UpdateFact(result.FactIDs[0], "u1", &newConf, nil))

	fact, err := s.GetFact(result.FactIDs[0], "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, fact.Confidence)
}
