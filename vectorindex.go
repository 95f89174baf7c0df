package synapse

import (
	"sort"
)

// ScoredID pairs a memory id with its similarity score to a query.
type ScoredID struct {
	ID    string
	Score float64
}

// VectorIndex is the C2 pluggable vector store contract (spec §4.2). All
// operations are scoped by sector; user scoping is applied where the
// backend can pre-filter (LinearIndex) or must post-filter (HNSWIndex).
type VectorIndex interface {
	// Upsert is idempotent on (id, sector): last write wins.
	Upsert(id string, sector Sector, userID string, vector []float32) error
	// Delete removes one sector row for id, or every sector row when sector is "".
	Delete(id string, sector Sector) error
	// Search returns up to k nearest neighbors by cosine similarity. Backend A
	// (LinearIndex) returns exactly min(k, |matches|). Backend B (HNSWIndex)
	// returns at most k and may return fewer (DegradedRecall, not an error).
	Search(sector Sector, query []float32, k int, userID string) ([]ScoredID, bool, error)
	Get(id string, sector Sector) ([]float32, bool)
	BySector(sector Sector) map[string][]float32
}

// LinearIndex is Backend A: exact-linear brute-force cosine scan, backed by
// a metadata Store. Queries pre-filter by (sector, user) at the SQL layer,
// so results are always exact (spec §4.2 Backend A).
type LinearIndex struct {
	store MetadataStore
}

// NewLinearIndex wraps store as an exact-linear VectorIndex.
func NewLinearIndex(store MetadataStore) *LinearIndex {
	return &LinearIndex{store: store}
}

func (l *LinearIndex) Upsert(id string, sector Sector, userID string, vector []float32) error {
	return l.store.InsertVector(id, sector, userID, vector)
}

func (l *LinearIndex) Delete(id string, sector Sector) error {
	return l.store.DeleteVector(id, sector)
}

func (l *LinearIndex) Search(sector Sector, query []float32, k int, userID string) ([]ScoredID, bool, error) {
	candidates, err := l.store.GetMemoriesWithVectors(userID, sector)
	if err != nil {
		return nil, false, err
	}

	var scored []ScoredID
	for _, c := range candidates {
		if c.Vector == nil {
			continue
		}
		scored = append(scored, ScoredID{ID: c.ID, Score: CosineSimilarity(query, c.Vector)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID // stable tie-break by id ascending (spec invariant 7)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, false, nil // LinearIndex never degrades: exactly min(k, |matches|)
}

func (l *LinearIndex) Get(id string, sector Sector) ([]float32, bool) {
	candidates, err := l.store.GetMemoriesWithVectors("", sector)
	if err != nil {
		return nil, false
	}
	for _, c := range candidates {
		if c.ID == id {
			return c.Vector, c.Vector != nil
		}
	}
	return nil, false
}

func (l *LinearIndex) BySector(sector Sector) map[string][]float32 {
	candidates, err := l.store.GetMemoriesWithVectors("", sector)
	if err != nil {
		return nil
	}
	out := make(map[string][]float32, len(candidates))
	for _, c := range candidates {
		if c.Vector != nil {
			out[c.ID] = c.Vector
		}
	}
	return out
}
