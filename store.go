package synapse

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection for HSG + TKG persistence (spec §6
// persisted-state schemas). A Postgres-backed implementation of the same
// surface lives in store_postgres.go.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("synapse: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("synapse: open db: %w", err)
	}

	// Single connection avoids write contention for our scale.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("synapse: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS memories (
				id              TEXT    PRIMARY KEY,
				content         TEXT    NOT NULL,
				sector          TEXT    NOT NULL DEFAULT 'semantic',
				sectors         TEXT    NOT NULL DEFAULT '[]',
				tags            TEXT    NOT NULL DEFAULT '[]',
				metadata        TEXT    NOT NULL DEFAULT '{}',
				salience        REAL    NOT NULL DEFAULT 0.5,
				decay_score     REAL    NOT NULL DEFAULT 0.5,
				last_seen_at    INTEGER NOT NULL,
				created_at      INTEGER NOT NULL,
				user_id         TEXT    NOT NULL,
				session_id      TEXT    NOT NULL DEFAULT '',
				parent_id       TEXT    NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories(user_id);
			CREATE INDEX IF NOT EXISTS idx_memories_sector  ON memories(sector);
			CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
			CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

			CREATE TABLE IF NOT EXISTS vectors (
				memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
				sector    TEXT NOT NULL,
				user_id   TEXT NOT NULL,
				dim       INTEGER NOT NULL,
				v         BLOB NOT NULL,
				PRIMARY KEY (memory_id, sector)
			);
			CREATE INDEX IF NOT EXISTS idx_vectors_user ON vectors(user_id);

			CREATE TABLE IF NOT EXISTS waypoints (
				id         TEXT PRIMARY KEY,
				sector     TEXT NOT NULL,
				mean_v     BLOB NOT NULL,
				member_ids TEXT NOT NULL DEFAULT '[]',
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_waypoints_sector ON waypoints(sector);

			CREATE TABLE IF NOT EXISTS waypoint_edges (
				a                 TEXT NOT NULL,
				b                 TEXT NOT NULL,
				weight            REAL NOT NULL DEFAULT 0,
				last_activated_at TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (a, b)
			);

			CREATE TABLE IF NOT EXISTS temporal_facts (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL,
				subject       TEXT NOT NULL,
				predicate     TEXT NOT NULL,
				object        TEXT NOT NULL,
				valid_from    INTEGER NOT NULL,
				valid_to      INTEGER,
				confidence    REAL NOT NULL DEFAULT 1.0,
				last_updated  INTEGER NOT NULL,
				metadata      TEXT NOT NULL DEFAULT '{}'
			);
			CREATE INDEX IF NOT EXISTS idx_facts_subject   ON temporal_facts(subject);
			CREATE INDEX IF NOT EXISTS idx_facts_object    ON temporal_facts(object);
			CREATE INDEX IF NOT EXISTS idx_facts_predicate ON temporal_facts(predicate, valid_from);
			CREATE INDEX IF NOT EXISTS idx_facts_user      ON temporal_facts(user_id);

			CREATE TABLE IF NOT EXISTS temporal_edges (
				source_id     TEXT NOT NULL,
				target_id     TEXT NOT NULL,
				relation_type TEXT NOT NULL,
				weight        REAL NOT NULL DEFAULT 1.0,
				valid_from    INTEGER NOT NULL,
				valid_to      INTEGER,
				user_id       TEXT NOT NULL,
				PRIMARY KEY (source_id, target_id, relation_type)
			);
			CREATE INDEX IF NOT EXISTS idx_edges_user ON temporal_edges(user_id);

			CREATE TABLE IF NOT EXISTS coactivation_jobs (
				id          TEXT PRIMARY KEY,
				status      TEXT NOT NULL DEFAULT 'pending',
				payload     TEXT NOT NULL,
				retries     INTEGER NOT NULL DEFAULT 0,
				last_error  TEXT NOT NULL DEFAULT '',
				enqueued_at TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_jobs_status ON coactivation_jobs(status);

			PRAGMA foreign_keys = ON;
		`); err != nil {
			return err
		}
		s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	}

	return nil
}

// Close shuts down the database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- Vector encoding ---

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// --- Memory CRUD ---

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// InsertMemory stores a new memory row. Caller must set m.ID.
func (s *Store) InsertMemory(m Memory) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	lastSeenAt := m.LastSeenAt
	if lastSeenAt.IsZero() {
		lastSeenAt = createdAt
	}
	_, err := s.db.Exec(`
		INSERT INTO memories (id, content, sector, sectors, tags, metadata, salience, decay_score, last_seen_at, created_at, user_id, session_id, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Sector), encodeJSON(m.Sectors), encodeJSON(m.Tags), encodeJSON(m.Metadata),
		m.Salience, m.Salience, unixMS(lastSeenAt), unixMS(createdAt), m.UserID, m.SessionID, m.ParentID,
	)
	return err
}

// InsertVector stores an embedding blob linked to a memory, scoped by sector.
// Idempotent on (memory_id, sector): last write wins (spec §4.2).
func (s *Store) InsertVector(memoryID string, sector Sector, userID string, vec []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO vectors (memory_id, sector, user_id, dim, v) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(memory_id, sector) DO UPDATE SET v = excluded.v, dim = excluded.dim`,
		memoryID, string(sector), userID, len(vec), EncodeVector(vec),
	)
	return err
}

// DeleteVector removes the vector row for (memoryID, sector), or every
// sector row for memoryID when sector is empty.
func (s *Store) DeleteVector(memoryID string, sector Sector) error {
	if sector == "" {
		_, err := s.db.Exec(`DELETE FROM vectors WHERE memory_id = ?`, memoryID)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM vectors WHERE memory_id = ? AND sector = ?`, memoryID, string(sector))
	return err
}

const memorySelectCols = `m.id, m.content, m.sector, m.sectors, m.tags, m.metadata, m.salience, m.decay_score,
	m.last_seen_at, m.created_at, m.user_id, m.session_id, m.parent_id`

func scanMemoryRow(scan func(dest ...any) error) (Memory, error) {
	var m Memory
	var sectorsJSON, tagsJSON, metaJSON string
	var lastSeenMS, createdMS int64
	if err := scan(
		&m.ID, &m.Content, &m.Sector, &sectorsJSON, &tagsJSON, &metaJSON, &m.Salience, &m.DecayScore,
		&lastSeenMS, &createdMS, &m.UserID, &m.SessionID, &m.ParentID,
	); err != nil {
		return m, err
	}
	json.Unmarshal([]byte(sectorsJSON), &m.Sectors)
	json.Unmarshal([]byte(tagsJSON), &m.Tags)
	json.Unmarshal([]byte(metaJSON), &m.Metadata)
	m.LastSeenAt = fromUnixMS(lastSeenMS)
	m.CreatedAt = fromUnixMS(createdMS)
	return m, nil
}

// GetMemory loads a single memory row, enforcing ownership when userID is non-empty.
func (s *Store) GetMemory(id, userID string) (Memory, error) {
	row := s.db.QueryRow(`SELECT `+memorySelectCols+` FROM memories m WHERE m.id = ?`, id)
	m, err := scanMemoryRow(row.Scan)
	if err == sql.ErrNoRows {
		return m, errNotFoundForUser("memory", id)
	}
	if err != nil {
		return m, err
	}
	if userID != "" && m.UserID != userID {
		return Memory{}, errNotFoundForUser("memory", id)
	}
	return m, nil
}

// GetMemoriesWithVectors loads memories for a user (every user when userID is
// empty) alongside a vector for the requested sector. When sector is given, the vector joins on that sector
// specifically (not the memory's primary sector column) so a memory whose
// secondary sectors carry their own vector rows is still found by a search
// scoped to that secondary sector (spec §3 invariant 2). A memory with no
// vector row for the requested sector comes back with a nil Vector and is
// filtered out by callers. With sector == "", each memory joins its own
// primary-sector vector, for callers that want "every memory, as classified."
// At the scale this engine targets, scoring in Go after a single bulk load is
// fast enough (exact-linear backend, spec §4.2 Backend A).
func (s *Store) GetMemoriesWithVectors(userID string, sector Sector) ([]memoryWithVector, error) {
	joinCond := "v.sector = m.sector"
	args := []any{}
	if sector != "" {
		joinCond = "v.sector = ?"
		args = append(args, string(sector))
	}
	query := `
		SELECT ` + memorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND ` + joinCond
	if userID != "" {
		query += ` WHERE m.user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY m.created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memoryWithVector
	for rows.Next() {
		var vecBlob []byte
		m, err := scanMemoryRow(func(dest ...any) error {
			return rows.Scan(append(dest, &vecBlob)...)
		})
		if err != nil {
			return nil, err
		}
		mwv := memoryWithVector{Memory: m}
		if vecBlob != nil {
			mwv.Vector = DecodeVector(vecBlob)
		}
		results = append(results, mwv)
	}
	return results, rows.Err()
}

// GetMemoriesByIDs loads memories (with vectors) for a specific id set,
// enforcing ownership when userID is non-empty. Used to hydrate candidate
// ids returned by a VectorIndex search.
func (s *Store) GetMemoriesByIDs(ids []string, userID string) ([]memoryWithVector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := `
		SELECT ` + memorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND v.sector = m.sector
		WHERE m.id IN (` + strings.Join(placeholders, ",") + `)`
	if userID != "" {
		query += ` AND m.user_id = ?`
		args = append(args, userID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memoryWithVector
	for rows.Next() {
		var vecBlob []byte
		m, err := scanMemoryRow(func(dest ...any) error {
			return rows.Scan(append(dest, &vecBlob)...)
		})
		if err != nil {
			return nil, err
		}
		mwv := memoryWithVector{Memory: m}
		if vecBlob != nil {
			mwv.Vector = DecodeVector(vecBlob)
		}
		results = append(results, mwv)
	}
	return results, rows.Err()
}

// GetSessionMemories returns all memories for a session, ordered by creation time.
func (s *Store) GetSessionMemories(sessionID string) ([]Memory, error) {
	rows, err := s.db.Query(`SELECT `+memorySelectCols+` FROM memories m WHERE m.session_id = ? ORDER BY m.created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// GetMemoriesInTimeWindow returns memories for a user within a time range.
func (s *Store) GetMemoriesInTimeWindow(userID string, after, before time.Time) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT `+memorySelectCols+` FROM memories m
		WHERE m.user_id = ? AND m.created_at >= ? AND m.created_at <= ?
		ORDER BY m.created_at DESC`,
		userID, unixMS(after), unixMS(before),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// GetRecentMemories returns the N most recent memories for a user, optionally filtered by sectors.
func (s *Store) GetRecentMemories(userID string, limit int, sectors []Sector) ([]Memory, error) {
	query := `SELECT ` + memorySelectCols + ` FROM memories m WHERE m.user_id = ?`
	args := []any{userID}

	if len(sectors) > 0 {
		placeholders := make([]string, len(sectors))
		for i, sec := range sectors {
			placeholders[i] = "?"
			args = append(args, string(sec))
		}
		query += ` AND m.sector IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// ListMemories pages through a user's memories, newest first.
func (s *Store) ListMemories(userID string, sector Sector, limit, offset int) ([]Memory, error) {
	query := `SELECT ` + memorySelectCols + ` FROM memories m WHERE m.user_id = ?`
	args := []any{userID}
	if sector != "" {
		query += ` AND m.sector = ?`
		args = append(args, string(sector))
	}
	query += ` ORDER BY m.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func scanMemoryRows(rows *sql.Rows) ([]Memory, error) {
	var results []Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// GetLastSessionID returns the most recent session_id for a user.
func (s *Store) GetLastSessionID(userID string) (string, error) {
	var sessionID string
	err := s.db.QueryRow(`
		SELECT session_id FROM memories WHERE user_id = ? AND session_id != ''
		ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return sessionID, err
}

// GetActiveUserIDs returns all distinct user IDs with stored memories.
func (s *Store) GetActiveUserIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMemory removes a memory row, its vectors (cascade), and its
// membership in any waypoint (spec §4.4 delete/wipe). Enforces ownership
// when userID is non-empty.
func (s *Store) DeleteMemory(id, userID string) error {
	m, err := s.GetMemory(id, userID)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, m.ID); err != nil {
		return err
	}
	s.removeMemberEverywhere(m.ID)
	return nil
}

// WipeUser deletes every memory (and cascaded vectors) owned by userID. When
// userID is empty, wipes everything — callers must gate this explicitly.
func (s *Store) WipeUser(userID string) error {
	var ids []string
	rows, err := s.db.Query(`SELECT id FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := s.db.Exec(`DELETE FROM memories WHERE user_id = ?`, userID); err != nil {
		return err
	}
	for _, id := range ids {
		s.removeMemberEverywhere(id)
	}
	return nil
}

// removeMemberEverywhere drops memoryID from every waypoint's member set,
// leaving empty waypoints in place per spec §4.4 ("waypoint persists unless
// empty" — empty waypoints are pruned by the decay sweep, not on delete).
func (s *Store) removeMemberEverywhere(memoryID string) {
	rows, err := s.db.Query(`SELECT id, member_ids FROM waypoints`)
	if err != nil {
		return
	}
	type upd struct {
		id      string
		members []string
	}
	var updates []upd
	for rows.Next() {
		var id, membersJSON string
		if err := rows.Scan(&id, &membersJSON); err != nil {
			continue
		}
		var members []string
		json.Unmarshal([]byte(membersJSON), &members)
		changed := false
		kept := members[:0]
		for _, mid := range members {
			if mid == memoryID {
				changed = true
				continue
			}
			kept = append(kept, mid)
		}
		if changed {
			updates = append(updates, upd{id, kept})
		}
	}
	rows.Close()
	for _, u := range updates {
		s.db.Exec(`UPDATE waypoints SET member_ids = ? WHERE id = ?`, encodeJSON(u.members), u.id)
	}
}

// --- Waypoint CRUD ---

// GetWaypointsBySector loads every waypoint for a sector.
func (s *Store) GetWaypointsBySector(sector Sector) ([]Waypoint, error) {
	rows, err := s.db.Query(`SELECT id, sector, mean_v, member_ids, created_at FROM waypoints WHERE sector = ?`, string(sector))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waypoints []Waypoint
	for rows.Next() {
		var w Waypoint
		var meanBlob []byte
		var membersJSON, created string
		var sec string
		if err := rows.Scan(&w.ID, &sec, &meanBlob, &membersJSON, &created); err != nil {
			return nil, err
		}
		w.Sector = Sector(sec)
		w.MeanV = DecodeVector(meanBlob)
		json.Unmarshal([]byte(membersJSON), &w.Members)
		w.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
		waypoints = append(waypoints, w)
	}
	return waypoints, rows.Err()
}

// InsertWaypoint persists a brand-new waypoint. Caller must set w.ID.
func (s *Store) InsertWaypoint(w Waypoint) error {
	_, err := s.db.Exec(`INSERT INTO waypoints (id, sector, mean_v, member_ids) VALUES (?, ?, ?, ?)`,
		w.ID, string(w.Sector), EncodeVector(w.MeanV), encodeJSON(w.Members))
	return err
}

// UpdateWaypoint persists a waypoint's recomputed centroid and membership.
func (s *Store) UpdateWaypoint(w Waypoint) error {
	_, err := s.db.Exec(`UPDATE waypoints SET mean_v = ?, member_ids = ? WHERE id = ?`,
		EncodeVector(w.MeanV), encodeJSON(w.Members), w.ID)
	return err
}

// GetWaypointsForMemory returns every waypoint id that lists memoryID as a member.
func (s *Store) GetWaypointsForMemory(memoryID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id, member_ids FROM waypoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, membersJSON string
		if err := rows.Scan(&id, &membersJSON); err != nil {
			return nil, err
		}
		var members []string
		json.Unmarshal([]byte(membersJSON), &members)
		for _, mid := range members {
			if mid == memoryID {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, rows.Err()
}

// GetMemoriesByWaypoint returns userID's member memories of the waypoint,
// each with its primary-sector vector, excluding a set of ids. Members are
// not filtered by sector.
func (s *Store) GetMemoriesByWaypoint(waypointID, userID string, excludeIDs map[string]bool) ([]memoryWithVector, error) {
	var membersJSON string
	if err := s.db.QueryRow(`SELECT member_ids FROM waypoints WHERE id = ?`, waypointID).Scan(&membersJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var members []string
	json.Unmarshal([]byte(membersJSON), &members)
	if len(members) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(members))
	args := make([]any, 0, len(members)+1)
	for i, id := range members {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, userID)

	query := `
		SELECT ` + memorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND v.sector = m.sector
		WHERE m.id IN (` + strings.Join(placeholders, ",") + `) AND m.user_id = ?`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memoryWithVector
	for rows.Next() {
		var vecBlob []byte
		m, err := scanMemoryRow(func(dest ...any) error {
			return rows.Scan(append(dest, &vecBlob)...)
		})
		if err != nil {
			return nil, err
		}
		if excludeIDs[m.ID] {
			continue
		}
		mwv := memoryWithVector{Memory: m}
		if vecBlob != nil {
			mwv.Vector = DecodeVector(vecBlob)
		}
		results = append(results, mwv)
	}
	return results, rows.Err()
}

// BumpWaypointEdge atomically increments the weight between two waypoints
// (commutative accumulation, spec §5 ordering guarantees). a,b are
// normalized so the smaller id is always stored first.
func (s *Store) BumpWaypointEdge(a, b string, delta float64) error {
	if a == b {
		return nil
	}
	if a > b {
		a, b = b, a
	}
	_, err := s.db.Exec(`
		INSERT INTO waypoint_edges (a, b, weight, last_activated_at) VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(a, b) DO UPDATE SET weight = weight + excluded.weight, last_activated_at = datetime('now')`,
		a, b, delta,
	)
	return err
}

// GetWaypointNeighbors returns the neighbor waypoint ids of id, weight descending.
func (s *Store) GetWaypointNeighbors(id string) ([]WaypointEdge, error) {
	rows, err := s.db.Query(`
		SELECT a, b, weight, last_activated_at FROM waypoint_edges
		WHERE a = ? OR b = ?
		ORDER BY weight DESC`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []WaypointEdge
	for rows.Next() {
		var e WaypointEdge
		var activated string
		if err := rows.Scan(&e.A, &e.B, &e.Weight, &activated); err != nil {
			return nil, err
		}
		e.LastActivatedAt, _ = time.Parse("2006-01-02 15:04:05", activated)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- Reinforcement ---

// ReinforceSalience boosts a memory's salience and updates its last-seen timestamp.
func (s *Store) ReinforceSalience(memoryID string, boost float64) error {
	_, err := s.db.Exec(`
		UPDATE memories
		SET salience = MIN(salience + ?, 1.0),
		    decay_score = MIN(decay_score + ?, 1.0),
		    last_seen_at = ?
		WHERE id = ?`,
		boost, boost, unixMS(time.Now()), memoryID,
	)
	return err
}

// --- Decay sweep ---

// RunDecaySweep applies exponential decay to all memories, prunes dead ones
// and empty waypoints, and ages waypoint edge weights (spec §4.4 Decay).
func (s *Store) RunDecaySweep(minScore float64, decayRates map[Sector]float64) (updated int, deleted int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id, sector, salience, last_seen_at FROM memories`)
	if err != nil {
		return 0, 0, err
	}

	type decayUpdate struct {
		id    string
		score float64
	}
	var updates []decayUpdate
	var toDelete []string

	now := time.Now()
	for rows.Next() {
		var id, sector string
		var salience float64
		var lastSeenMS int64
		if err := rows.Scan(&id, &sector, &salience, &lastSeenMS); err != nil {
			rows.Close()
			return 0, 0, err
		}

		accessTime := fromUnixMS(lastSeenMS)
		days := now.Sub(accessTime).Hours() / 24.0

		lambda := decayRates[Sector(sector)]
		if lambda == 0 {
			lambda = 0.02
		}

		newScore := salience * math.Exp(-lambda*days/(salience+0.1))
		if newScore < minScore {
			toDelete = append(toDelete, id)
		} else {
			updates = append(updates, decayUpdate{id, newScore})
		}
	}
	rows.Close()

	stmt, err := tx.Prepare(`UPDATE memories SET decay_score = ? WHERE id = ?`)
	if err != nil {
		return 0, 0, err
	}
	for _, u := range updates {
		stmt.Exec(u.score, u.id)
	}
	stmt.Close()

	for _, id := range toDelete {
		tx.Exec(`DELETE FROM memories WHERE id = ?`, id)
	}

	tx.Exec(`UPDATE waypoint_edges SET weight = weight * 0.995`)
	tx.Exec(`DELETE FROM waypoint_edges WHERE weight < 0.05`)

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	for _, id := range toDelete {
		s.removeMemberEverywhere(id)
	}
	s.db.Exec(`DELETE FROM waypoints WHERE member_ids = '[]'`)

	return len(updates), len(toDelete), nil
}

// UpdateMemorySector overwrites a memory's primary and secondary sectors,
// used by the async LLM reclassification path (spec §4.3).
func (s *Store) UpdateMemorySector(id string, primary Sector, secondary []Sector) error {
	_, err := s.db.Exec(`UPDATE memories SET sector = ?, sectors = ? WHERE id = ?`,
		string(primary), encodeJSON(normalizeSectors(primary, secondary)), id)
	return err
}

// --- Coactivation job queue (C7) ---

// EnqueueCoactivationJob persists a durable job recording a set of memory
// ids that co-occurred in a single query result, to be reconciled into
// waypoint edge weights by the coactivation worker (spec §5).
func (s *Store) EnqueueCoactivationJob(memoryIDs []string) (string, error) {
	if len(memoryIDs) < 2 {
		return "", nil
	}
	id := newID()
	_, err := s.db.Exec(`INSERT INTO coactivation_jobs (id, status, payload) VALUES (?, 'pending', ?)`,
		id, encodeJSON(memoryIDs))
	return id, err
}

// CoactivationJob is one durable job row.
type CoactivationJob struct {
	ID        string
	Status    string
	MemoryIDs []string
	Retries   int
	LastError string
}

// ClaimPendingJobs loads up to limit pending jobs and marks them running, so
// a single worker pass doesn't double-process a job (spec §5 durability).
func (s *Store) ClaimPendingJobs(limit int) ([]CoactivationJob, error) {
	rows, err := s.db.Query(`SELECT id, payload, retries FROM coactivation_jobs WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var jobs []CoactivationJob
	for rows.Next() {
		var j CoactivationJob
		var payload string
		if err := rows.Scan(&j.ID, &payload, &j.Retries); err != nil {
			rows.Close()
			return nil, err
		}
		json.Unmarshal([]byte(payload), &j.MemoryIDs)
		j.Status = "running"
		jobs = append(jobs, j)
	}
	rows.Close()

	for _, j := range jobs {
		s.db.Exec(`UPDATE coactivation_jobs SET status = 'running', updated_at = datetime('now') WHERE id = ?`, j.ID)
	}
	return jobs, nil
}

// MarkJobDone deletes a successfully processed job.
func (s *Store) MarkJobDone(id string) error {
	_, err := s.db.Exec(`DELETE FROM coactivation_jobs WHERE id = ?`, id)
	return err
}

// MarkJobFailed records a failure. Once retries reaches maxRetries the job
// is parked as 'failed' rather than retried forever.
func (s *Store) MarkJobFailed(id string, cause error, maxRetries int) error {
	var retries int
	if err := s.db.QueryRow(`SELECT retries FROM coactivation_jobs WHERE id = ?`, id).Scan(&retries); err != nil {
		return err
	}
	retries++
	status := "pending"
	if retries >= maxRetries {
		status = "failed"
	}
	_, err := s.db.Exec(`
		UPDATE coactivation_jobs SET status = ?, retries = ?, last_error = ?, updated_at = datetime('now') WHERE id = ?`,
		status, retries, cause.Error(), id)
	return err
}

// PendingJobCount reports the queue depth, used for metrics (spec SPEC_FULL §2.1/§3 otel wiring).
func (s *Store) PendingJobCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM coactivation_jobs WHERE status IN ('pending', 'running')`).Scan(&n)
	return n, err
}

// --- Memory cap enforcement ---

// EnforceMemoryLimit deletes the oldest low-salience memories if a user exceeds the limit.
func (s *Store) EnforceMemoryLimit(userID string, maxCount int) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return err
	}
	if count <= maxCount {
		return nil
	}

	excess := count - maxCount
	rows, err := s.db.Query(`
		SELECT id FROM memories WHERE user_id = ?
		ORDER BY decay_score ASC, created_at ASC LIMIT ?`, userID, excess)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := s.DeleteMemory(id, ""); err != nil {
			return err
		}
	}
	return nil
}
