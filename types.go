// Package synapse implements a hybrid cognitive memory engine: a
// Hierarchical Semantic Graph (HSG) for free-form memories and a Temporal
// Knowledge Graph (TKG) for validity-bounded facts, unified behind a
// per-user-isolated query router.
package synapse

import "time"

// Sector is one of the five cognitive categories a memory is classified into.
type Sector string

const (
	SectorEpisodic   Sector = "episodic"   // events, temporal experiences
	SectorSemantic   Sector = "semantic"   // facts, knowledge
	SectorProcedural Sector = "procedural" // skills, capabilities
	SectorEmotional  Sector = "emotional"  // feelings, sentiments
	SectorReflective Sector = "reflective" // insights, meta-cognition
)

// AllSectors lists the fixed taxonomy in tie-break preference order:
// semantic > episodic > procedural > reflective > emotional.
var AllSectors = []Sector{SectorSemantic, SectorEpisodic, SectorProcedural, SectorReflective, SectorEmotional}

// Valid reports whether s is a member of the fixed taxonomy.
func (s Sector) Valid() bool {
	for _, v := range AllSectors {
		if v == s {
			return true
		}
	}
	return false
}

// normalizeSectors returns the full sector set for a memory: primary plus
// every distinct secondary. SectorClassifier implementations return
// secondaries excluding the primary, but the persisted set must satisfy
// "primary sector ∈ secondary sectors" (spec §3 invariant).
func normalizeSectors(primary Sector, secondary []Sector) []Sector {
	out := make([]Sector, 0, len(secondary)+1)
	out = append(out, primary)
	for _, s := range secondary {
		if s != primary {
			out = append(out, s)
		}
	}
	return out
}

// AnonymousUser is the sentinel owner used when no user id is supplied.
const AnonymousUser = "anonymous"

// DefaultDecayRates returns the default per-sector exponential decay rates (per day).
// Lower lambda = slower decay (memories persist longer).
func DefaultDecayRates() map[Sector]float64 {
	return map[Sector]float64{
		SectorEpisodic:   0.005,
		SectorSemantic:   0.02,
		SectorProcedural: 0.02,
		SectorEmotional:  0.005,
		SectorReflective: 0.05,
	}
}

// ScoringWeights controls the composite re-rank formula coefficients (spec §4.4 step 4):
//
//	final_score = α·cosine + β·salience + γ·recency_decay + δ·path_bonus
type ScoringWeights struct {
	Similarity float64 // α, default 0.6
	Salience   float64 // β, default 0.2
	Recency    float64 // γ, default 0.1
	PathBonus  float64 // δ, default 0.1
}

// DefaultScoringWeights returns the standard composite formula weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Similarity: 0.6, Salience: 0.2, Recency: 0.1, PathBonus: 0.1}
}

// Memory is the core HSG unit (spec §3).
type Memory struct {
	ID         string
	UserID     string // AnonymousUser sentinel when unscoped
	Content    string
	Sector     Sector   // primary sector
	Sectors    []Sector // secondary sectors; always includes Sector
	Tags       []string
	Metadata   map[string]string
	Salience   float64
	DecayScore float64
	CreatedAt  time.Time
	LastSeenAt time.Time

	// Projected metadata keys (spec §9: "agreed-upon keys... projected to
	// columns where indexed lookup is required").
	SessionID string
	ParentID  string
}

// memoryWithVector pairs a Memory with its embedding for a given sector.
type memoryWithVector struct {
	Memory
	Vector []float32
}

// Waypoint is a centroid-summarized cluster of memories within one sector (spec §3).
type Waypoint struct {
	ID        string
	Sector    Sector
	MeanV     []float32
	Members   []string // memory ids, size <= K_max
	CreatedAt time.Time
}

// WaypointEdge is an undirected, weight-accumulating association between two waypoints.
type WaypointEdge struct {
	A, B            string // A < B
	Weight          float64
	LastActivatedAt time.Time
}

// Entity is an extracted entity used to seed default tags on insert.
type Entity struct {
	Text string
	Type string // "person", "topic", "place", ...
}

// AddOptions is the input to the programmatic add/store operation (spec §6).
type AddOptions struct {
	UserID     string
	Tags       []string
	Metadata   map[string]string
	SectorHint Sector // optional: skip classification
	Salience   float64

	// Supplemental session-threading fields (SPEC_FULL §4), projected metadata.
	SessionID string
	ParentID  string
}

// SearchOptions is the input to the programmatic search operation (spec §6).
type SearchOptions struct {
	Query       string
	UserID      string
	Limit       int
	Sectors     []Sector
	MinSalience float64
	SessionID   string
	After       *time.Time
	Before      *time.Time
	Deadline    *time.Time
}

// SearchResult is a scored memory returned from retrieval, with its
// explainability path (spec §4.4 step 5).
type SearchResult struct {
	Memory
	CompositeScore float64
	Similarity     float64
	Path           []string // waypoint ids visited to reach this result
	Degraded       bool     // true if the HNSW backend returned fewer than k (DegradedRecall)
}

// ListOptions is the input to the programmatic list operation.
type ListOptions struct {
	UserID string
	Limit  int
	Offset int
	Sector Sector
}

// GetOptions is the input to the programmatic get operation.
type GetOptions struct {
	IncludeVectors bool
}
