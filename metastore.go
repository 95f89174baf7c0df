package synapse

import "time"

// MetadataStore is the persistence contract every component above the
// storage layer (C4 memories and waypoints, C5 temporal facts, C7
// coactivation jobs) depends on. *Store (SQLite, via modernc.org/sqlite)
// and *PostgresStore (via jackc/pgx/v5 + pgvector-go) both satisfy it —
// Config.MetadataBackend picks which one Init constructs (spec §6
// METADATA_BACKEND). Defined as an interface, rather than threading a
// concrete *Store everywhere, so C2's vector index, C4's waypoint
// formation, and C7's coactivation engine are backend-agnostic.
type MetadataStore interface {
	Close() error

	// Memories (C4)
	InsertMemory(m Memory) error
	InsertVector(memoryID string, sector Sector, userID string, vec []float32) error
	DeleteVector(memoryID string, sector Sector) error
	GetMemory(id, userID string) (Memory, error)
	GetMemoriesWithVectors(userID string, sector Sector) ([]memoryWithVector, error)
	GetMemoriesByIDs(ids []string, userID string) ([]memoryWithVector, error)
	GetSessionMemories(sessionID string) ([]Memory, error)
	GetMemoriesInTimeWindow(userID string, after, before time.Time) ([]Memory, error)
	GetRecentMemories(userID string, limit int, sectors []Sector) ([]Memory, error)
	ListMemories(userID string, sector Sector, limit, offset int) ([]Memory, error)
	GetLastSessionID(userID string) (string, error)
	GetActiveUserIDs() ([]string, error)
	DeleteMemory(id, userID string) error
	WipeUser(userID string) error
	UpdateMemorySector(id string, primary Sector, secondary []Sector) error
	ReinforceSalience(memoryID string, boost float64) error
	RunDecaySweep(minScore float64, decayRates map[Sector]float64) (updated int, deleted int, err error)
	EnforceMemoryLimit(userID string, maxCount int) error

	// Waypoints (C4)
	GetWaypointsBySector(sector Sector) ([]Waypoint, error)
	InsertWaypoint(w Waypoint) error
	UpdateWaypoint(w Waypoint) error
	GetWaypointsForMemory(memoryID string) ([]string, error)
	GetMemoriesByWaypoint(waypointID, userID string, excludeIDs map[string]bool) ([]memoryWithVector, error)
	BumpWaypointEdge(a, b string, delta float64) error
	GetWaypointNeighbors(id string) ([]WaypointEdge, error)

	// Temporal facts (C5)
	InsertFact(f TemporalFact) (string, error)
	BatchInsertFacts(facts []TemporalFact) ([]string, error)
	QueryAt(userID string, pattern FactPattern, t time.Time, minConfidence float64) ([]TemporalFact, error)
	GetCurrent(userID, subject, predicate string) (*TemporalFact, error)
	InRange(userID string, pattern FactPattern, from, to time.Time) ([]TemporalFact, error)
	SearchFacts(userID, needle, field string, t time.Time) ([]TemporalFact, error)
	FindConflictingFacts(userID, subject, predicate string, t time.Time) ([]TemporalFact, error)
	GetFact(id, userID string) (TemporalFact, error)
	UpdateFact(id, userID string, confidence *float64, metadata map[string]string) error
	InvalidateFact(id, userID string, at time.Time) error
	DeleteFact(id, userID string) error
	InsertEdge(e TemporalEdge) error
	GetRelatedFacts(factID, userID string) ([]TemporalFact, error)

	// Coactivation job queue (C7)
	EnqueueCoactivationJob(memoryIDs []string) (string, error)
	ClaimPendingJobs(limit int) ([]CoactivationJob, error)
	MarkJobDone(id string) error
	MarkJobFailed(id string, cause error, maxRetries int) error
	PendingJobCount() (int, error)
}

var (
	_ MetadataStore = (*Store)(nil)
)
