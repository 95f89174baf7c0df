package synapse

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore is the MetadataStore implementation backing
// METADATA_BACKEND=postgres. It persists vectors as native pgvector
// columns rather than the SQLite Store's encoded BLOBs, so a Postgres
// deployment can additionally use pgvector's own ANN index (`vector_cosine_ops`)
// as the C2 approximate-graph backend over large member counts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ MetadataStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	sector       TEXT NOT NULL DEFAULT 'semantic',
	sectors      JSONB NOT NULL DEFAULT '[]',
	tags         JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}',
	salience     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	decay_score  DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL DEFAULT '',
	parent_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_sector  ON memories(sector);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);

CREATE TABLE IF NOT EXISTS vectors (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	sector    TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	v         vector NOT NULL,
	PRIMARY KEY (memory_id, sector)
);
CREATE INDEX IF NOT EXISTS idx_vectors_user ON vectors(user_id);
CREATE INDEX IF NOT EXISTS idx_vectors_ann ON vectors USING hnsw (v vector_cosine_ops);

CREATE TABLE IF NOT EXISTS waypoints (
	id         TEXT PRIMARY KEY,
	sector     TEXT NOT NULL,
	mean_v     vector NOT NULL,
	member_ids JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_waypoints_sector ON waypoints(sector);

CREATE TABLE IF NOT EXISTS waypoint_edges (
	a                 TEXT NOT NULL,
	b                 TEXT NOT NULL,
	weight            DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_activated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (a, b)
);

CREATE TABLE IF NOT EXISTS temporal_facts (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	subject      TEXT NOT NULL,
	predicate    TEXT NOT NULL,
	object       TEXT NOT NULL,
	valid_from   TIMESTAMPTZ NOT NULL,
	valid_to     TIMESTAMPTZ,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	last_updated TIMESTAMPTZ NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_facts_subject   ON temporal_facts(subject);
CREATE INDEX IF NOT EXISTS idx_facts_object    ON temporal_facts(object);
CREATE INDEX IF NOT EXISTS idx_facts_predicate ON temporal_facts(predicate, valid_from);
CREATE INDEX IF NOT EXISTS idx_facts_user      ON temporal_facts(user_id);

CREATE TABLE IF NOT EXISTS temporal_edges (
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	weight        DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	valid_from    TIMESTAMPTZ NOT NULL,
	valid_to      TIMESTAMPTZ,
	user_id       TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_edges_user ON temporal_edges(user_id);

CREATE TABLE IF NOT EXISTS coactivation_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'pending',
	payload     JSONB NOT NULL,
	retries     INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON coactivation_jobs(status);
`

// NewPostgresStore opens a connection pool, registers pgvector-go's Vector
// type on each new connection, and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("synapse: parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("synapse: connect postgres: %w", err)
	}

	ps := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("synapse: migrate postgres: %w", err)
	}
	return ps, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Memories ---

func (s *PostgresStore) InsertMemory(m Memory) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO memories (id, content, sector, sectors, tags, metadata, salience, decay_score, user_id, session_id, parent_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.Content, string(m.Sector), jsonbArg(m.Sectors), jsonbArg(m.Tags), jsonbArg(m.Metadata),
		m.Salience, m.Salience, m.UserID, m.SessionID, m.ParentID,
	)
	return err
}

func (s *PostgresStore) InsertVector(memoryID string, sector Sector, userID string, vec []float32) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO vectors (memory_id, sector, user_id, v) VALUES ($1,$2,$3,$4)
		ON CONFLICT (memory_id, sector) DO UPDATE SET v = excluded.v`,
		memoryID, string(sector), userID, pgvector.NewVector(vec),
	)
	return err
}

func (s *PostgresStore) DeleteVector(memoryID string, sector Sector) error {
	if sector == "" {
		_, err := s.pool.Exec(context.Background(), `DELETE FROM vectors WHERE memory_id = $1`, memoryID)
		return err
	}
	_, err := s.pool.Exec(context.Background(), `DELETE FROM vectors WHERE memory_id = $1 AND sector = $2`, memoryID, string(sector))
	return err
}

const pgMemorySelectCols = `m.id, m.content, m.sector, m.sectors, m.tags, m.metadata, m.salience, m.decay_score,
	m.last_seen_at, m.created_at, m.user_id, m.session_id, m.parent_id`

func scanPGMemoryRow(row pgx.Row) (Memory, error) {
	var m Memory
	var sectorsJSON, tagsJSON, metaJSON []byte
	if err := row.Scan(
		&m.ID, &m.Content, &m.Sector, &sectorsJSON, &tagsJSON, &metaJSON, &m.Salience, &m.DecayScore,
		&m.LastSeenAt, &m.CreatedAt, &m.UserID, &m.SessionID, &m.ParentID,
	); err != nil {
		return m, err
	}
	json.Unmarshal(sectorsJSON, &m.Sectors)
	json.Unmarshal(tagsJSON, &m.Tags)
	json.Unmarshal(metaJSON, &m.Metadata)
	return m, nil
}

func (s *PostgresStore) GetMemory(id, userID string) (Memory, error) {
	row := s.pool.QueryRow(context.Background(), `SELECT `+pgMemorySelectCols+` FROM memories m WHERE m.id = $1`, id)
	m, err := scanPGMemoryRow(row)
	if err == pgx.ErrNoRows {
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

// GetMemoriesWithVectors mirrors Store.GetMemoriesWithVectors: with a sector
// given, the join keys on that sector directly so secondary-sector vector
// rows are reachable too, not just a memory's primary sector column.
func (s *PostgresStore) GetMemoriesWithVectors(userID string, sector Sector) ([]memoryWithVector, error) {
	joinCond := "v.sector = m.sector"
	var args []any
	if sector != "" {
		args = append(args, string(sector))
		joinCond = fmt.Sprintf("v.sector = $%d", len(args))
	}
	query := `
		SELECT ` + pgMemorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND ` + joinCond
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(` WHERE m.user_id = $%d`, len(args))
	}
	query += ` ORDER BY m.created_at DESC`

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoriesWithVectors(rows)
}

func (s *PostgresStore) GetMemoriesByIDs(ids []string, userID string) ([]memoryWithVector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + pgMemorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND v.sector = m.sector
		WHERE m.id = ANY($1)`
	args := []any{ids}
	if userID != "" {
		query += ` AND m.user_id = $2`
		args = append(args, userID)
	}

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoriesWithVectors(rows)
}

func scanPGMemoriesWithVectors(rows pgx.Rows) ([]memoryWithVector, error) {
	var results []memoryWithVector
	for rows.Next() {
		var m Memory
		var sectorsJSON, tagsJSON, metaJSON []byte
		var vec *pgvector.Vector
		if err := rows.Scan(
			&m.ID, &m.Content, &m.Sector, &sectorsJSON, &tagsJSON, &metaJSON, &m.Salience, &m.DecayScore,
			&m.LastSeenAt, &m.CreatedAt, &m.UserID, &m.SessionID, &m.ParentID, &vec,
		); err != nil {
			return nil, err
		}
		json.Unmarshal(sectorsJSON, &m.Sectors)
		json.Unmarshal(tagsJSON, &m.Tags)
		json.Unmarshal(metaJSON, &m.Metadata)
		mwv := memoryWithVector{Memory: m}
		if vec != nil {
			mwv.Vector = vec.Slice()
		}
		results = append(results, mwv)
	}
	return results, rows.Err()
}

func (s *PostgresStore) GetSessionMemories(sessionID string) ([]Memory, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT `+pgMemorySelectCols+` FROM memories m WHERE m.session_id = $1 ORDER BY m.created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) GetMemoriesInTimeWindow(userID string, after, before time.Time) ([]Memory, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT `+pgMemorySelectCols+` FROM memories m
		WHERE m.user_id = $1 AND m.created_at >= $2 AND m.created_at <= $3
		ORDER BY m.created_at DESC`, userID, after, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) GetRecentMemories(userID string, limit int, sectors []Sector) ([]Memory, error) {
	query := `SELECT ` + pgMemorySelectCols + ` FROM memories m WHERE m.user_id = $1`
	args := []any{userID}
	if len(sectors) > 0 {
		secStrs := make([]string, len(sectors))
		for i, sec := range sectors {
			secStrs[i] = string(sec)
		}
		query += ` AND m.sector = ANY($2)`
		args = append(args, secStrs)
	}
	query += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func (s *PostgresStore) ListMemories(userID string, sector Sector, limit, offset int) ([]Memory, error) {
	query := `SELECT ` + pgMemorySelectCols + ` FROM memories m WHERE m.user_id = $1`
	args := []any{userID}
	if sector != "" {
		query += ` AND m.sector = $2`
		args = append(args, string(sector))
	}
	query += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGMemoryRows(rows)
}

func scanPGMemoryRows(rows pgx.Rows) ([]Memory, error) {
	var results []Memory
	for rows.Next() {
		m, err := scanPGMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func (s *PostgresStore) GetLastSessionID(userID string) (string, error) {
	var sessionID string
	err := s.pool.QueryRow(context.Background(), `
		SELECT session_id FROM memories WHERE user_id = $1 AND session_id != ''
		ORDER BY created_at DESC LIMIT 1`, userID,
	).Scan(&sessionID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return sessionID, err
}

func (s *PostgresStore) GetActiveUserIDs() ([]string, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT DISTINCT user_id FROM memories`)
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

func (s *PostgresStore) DeleteMemory(id, userID string) error {
	m, err := s.GetMemory(id, userID)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(context.Background(), `DELETE FROM memories WHERE id = $1`, m.ID); err != nil {
		return err
	}
	s.removeMemberEverywhere(m.ID)
	return nil
}

func (s *PostgresStore) WipeUser(userID string) error {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT id FROM memories WHERE user_id = $1`, userID)
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

	if _, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, id := range ids {
		s.removeMemberEverywhere(id)
	}
	return nil
}

func (s *PostgresStore) removeMemberEverywhere(memoryID string) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT id, member_ids FROM waypoints`)
	if err != nil {
		return
	}
	type upd struct {
		id      string
		members []string
	}
	var updates []upd
	for rows.Next() {
		var id string
		var membersJSON []byte
		if err := rows.Scan(&id, &membersJSON); err != nil {
			continue
		}
		var members []string
		json.Unmarshal(membersJSON, &members)
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
		s.pool.Exec(ctx, `UPDATE waypoints SET member_ids = $1 WHERE id = $2`, jsonbArg(u.members), u.id)
	}
}

// --- Waypoints ---

func (s *PostgresStore) GetWaypointsBySector(sector Sector) ([]Waypoint, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT id, sector, mean_v, member_ids, created_at FROM waypoints WHERE sector = $1`, string(sector))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var waypoints []Waypoint
	for rows.Next() {
		var w Waypoint
		var sec string
		var membersJSON []byte
		var vec pgvector.Vector
		if err := rows.Scan(&w.ID, &sec, &vec, &membersJSON, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.Sector = Sector(sec)
		w.MeanV = vec.Slice()
		json.Unmarshal(membersJSON, &w.Members)
		waypoints = append(waypoints, w)
	}
	return waypoints, rows.Err()
}

func (s *PostgresStore) InsertWaypoint(w Waypoint) error {
	_, err := s.pool.Exec(context.Background(), `INSERT INTO waypoints (id, sector, mean_v, member_ids) VALUES ($1,$2,$3,$4)`,
		w.ID, string(w.Sector), pgvector.NewVector(w.MeanV), jsonbArg(w.Members))
	return err
}

func (s *PostgresStore) UpdateWaypoint(w Waypoint) error {
	_, err := s.pool.Exec(context.Background(), `UPDATE waypoints SET mean_v = $1, member_ids = $2 WHERE id = $3`,
		pgvector.NewVector(w.MeanV), jsonbArg(w.Members), w.ID)
	return err
}

func (s *PostgresStore) GetWaypointsForMemory(memoryID string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT id, member_ids FROM waypoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var membersJSON []byte
		if err := rows.Scan(&id, &membersJSON); err != nil {
			return nil, err
		}
		var members []string
		json.Unmarshal(membersJSON, &members)
		for _, mid := range members {
			if mid == memoryID {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetMemoriesByWaypoint(waypointID, userID string, excludeIDs map[string]bool) ([]memoryWithVector, error) {
	ctx := context.Background()
	var membersJSON []byte
	if err := s.pool.QueryRow(ctx, `SELECT member_ids FROM waypoints WHERE id = $1`, waypointID).Scan(&membersJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var members []string
	json.Unmarshal(membersJSON, &members)
	if len(members) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + pgMemorySelectCols + `, v.v
		FROM memories m
		LEFT JOIN vectors v ON v.memory_id = m.id AND v.sector = m.sector
		WHERE m.id = ANY($1) AND m.user_id = $2`

	rows, err := s.pool.Query(ctx, query, members, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanPGMemoriesWithVectors(rows)
	if err != nil {
		return nil, err
	}
	results := all[:0]
	for _, mwv := range all {
		if !excludeIDs[mwv.ID] {
			results = append(results, mwv)
		}
	}
	return results, nil
}

func (s *PostgresStore) BumpWaypointEdge(a, b string, delta float64) error {
	if a == b {
		return nil
	}
	if a > b {
		a, b = b, a
	}
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO waypoint_edges (a, b, weight, last_activated_at) VALUES ($1,$2,$3,now())
		ON CONFLICT (a, b) DO UPDATE SET weight = waypoint_edges.weight + excluded.weight, last_activated_at = now()`,
		a, b, delta)
	return err
}

func (s *PostgresStore) GetWaypointNeighbors(id string) ([]WaypointEdge, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT a, b, weight, last_activated_at FROM waypoint_edges
		WHERE a = $1 OR b = $1
		ORDER BY weight DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []WaypointEdge
	for rows.Next() {
		var e WaypointEdge
		if err := rows.Scan(&e.A, &e.B, &e.Weight, &e.LastActivatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- Reinforcement / decay ---

func (s *PostgresStore) ReinforceSalience(memoryID string, boost float64) error {
	_, err := s.pool.Exec(context.Background(), `
		UPDATE memories
		SET salience = LEAST(salience + $1, 1.0),
		    decay_score = LEAST(decay_score + $1, 1.0),
		    last_seen_at = now()
		WHERE id = $2`, boost, memoryID)
	return err
}

func (s *PostgresStore) RunDecaySweep(minScore float64, decayRates map[Sector]float64) (updated int, deleted int, err error) {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT id, sector, salience, last_seen_at FROM memories`)
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
		var lastSeen time.Time
		if err := rows.Scan(&id, &sector, &salience, &lastSeen); err != nil {
			rows.Close()
			return 0, 0, err
		}
		days := now.Sub(lastSeen).Hours() / 24.0
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

	for _, u := range updates {
		if _, err := tx.Exec(ctx, `UPDATE memories SET decay_score = $1 WHERE id = $2`, u.score, u.id); err != nil {
			return 0, 0, err
		}
	}
	for _, id := range toDelete {
		tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	}
	tx.Exec(ctx, `UPDATE waypoint_edges SET weight = weight * 0.995`)
	tx.Exec(ctx, `DELETE FROM waypoint_edges WHERE weight < 0.05`)

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}

	for _, id := range toDelete {
		s.removeMemberEverywhere(id)
	}
	s.pool.Exec(ctx, `DELETE FROM waypoints WHERE member_ids = '[]'::jsonb`)

	return len(updates), len(toDelete), nil
}

func (s *PostgresStore) UpdateMemorySector(id string, primary Sector, secondary []Sector) error {
	_, err := s.pool.Exec(context.Background(), `UPDATE memories SET sector = $1, sectors = $2 WHERE id = $3`,
		string(primary), jsonbArg(normalizeSectors(primary, secondary)), id)
	return err
}

// --- Coactivation job queue ---

func (s *PostgresStore) EnqueueCoactivationJob(memoryIDs []string) (string, error) {
	if len(memoryIDs) < 2 {
		return "", nil
	}
	id := newID()
	_, err := s.pool.Exec(context.Background(), `INSERT INTO coactivation_jobs (id, status, payload) VALUES ($1, 'pending', $2)`,
		id, jsonbArg(memoryIDs))
	return id, err
}

func (s *PostgresStore) ClaimPendingJobs(limit int) ([]CoactivationJob, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `SELECT id, payload, retries FROM coactivation_jobs WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	var jobs []CoactivationJob
	for rows.Next() {
		var j CoactivationJob
		var payload []byte
		if err := rows.Scan(&j.ID, &payload, &j.Retries); err != nil {
			rows.Close()
			return nil, err
		}
		json.Unmarshal(payload, &j.MemoryIDs)
		j.Status = "running"
		jobs = append(jobs, j)
	}
	rows.Close()

	for _, j := range jobs {
		s.pool.Exec(ctx, `UPDATE coactivation_jobs SET status = 'running', updated_at = now() WHERE id = $1`, j.ID)
	}
	return jobs, nil
}

func (s *PostgresStore) MarkJobDone(id string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM coactivation_jobs WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) MarkJobFailed(id string, cause error, maxRetries int) error {
	ctx := context.Background()
	var retries int
	if err := s.pool.QueryRow(ctx, `SELECT retries FROM coactivation_jobs WHERE id = $1`, id).Scan(&retries); err != nil {
		return err
	}
	retries++
	status := "pending"
	if retries >= maxRetries {
		status = "failed"
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE coactivation_jobs SET status = $1, retries = $2, last_error = $3, updated_at = now() WHERE id = $4`,
		status, retries, cause.Error(), id)
	return err
}

func (s *PostgresStore) PendingJobCount() (int, error) {
	var n int
	err := s.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM coactivation_jobs WHERE status IN ('pending', 'running')`).Scan(&n)
	return n, err
}

func (s *PostgresStore) EnforceMemoryLimit(userID string, maxCount int) error {
	ctx := context.Background()
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return err
	}
	if count <= maxCount {
		return nil
	}
	excess := count - maxCount

	rows, err := s.pool.Query(ctx, `
		SELECT id FROM memories WHERE user_id = $1
		ORDER BY decay_score ASC, created_at ASC LIMIT $2`, userID, excess)
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

// --- Temporal facts ---

func (s *PostgresStore) InsertFact(f TemporalFact) (string, error) {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE temporal_facts SET valid_to = $1, last_updated = $1
		WHERE user_id = $2 AND subject = $3 AND predicate = $4 AND valid_to IS NULL`,
		f.ValidFrom, f.UserID, f.Subject, f.Predicate,
	); err != nil {
		return "", err
	}

	if f.ID == "" {
		f.ID = newID()
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}
	now := time.Now()
	if _, err := tx.Exec(ctx, `
		INSERT INTO temporal_facts (id, user_id, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		f.ID, f.UserID, f.Subject, f.Predicate, f.Object, f.ValidFrom, f.ValidTo, f.Confidence, now, jsonbArg(f.Metadata),
	); err != nil {
		return "", err
	}

	return f.ID, tx.Commit(ctx)
}

func (s *PostgresStore) BatchInsertFacts(facts []TemporalFact) ([]string, error) {
	ids := make([]string, len(facts))
	for i, f := range facts {
		id, err := s.InsertFact(f)
		if err != nil {
			return ids[:i], err
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *PostgresStore) queryFacts(query string, args ...any) ([]TemporalFact, error) {
	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []TemporalFact
	for rows.Next() {
		var f TemporalFact
		var metaJSON []byte
		if err := rows.Scan(&f.ID, &f.UserID, &f.Subject, &f.Predicate, &f.Object,
			&f.ValidFrom, &f.ValidTo, &f.Confidence, &f.LastUpdated, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &f.Metadata)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

const pgFactCols = `id, user_id, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata`

func (s *PostgresStore) QueryAt(userID string, pattern FactPattern, t time.Time, minConfidence float64) ([]TemporalFact, error) {
	query := `SELECT ` + pgFactCols + ` FROM temporal_facts WHERE user_id = $1 AND valid_from <= $2 AND (valid_to IS NULL OR valid_to > $2) AND confidence >= $3`
	args := []any{userID, t, minConfidence}
	if pattern.Subject != "" {
		args = append(args, pattern.Subject)
		query += fmt.Sprintf(` AND subject = $%d`, len(args))
	}
	if pattern.Predicate != "" {
		args = append(args, pattern.Predicate)
		query += fmt.Sprintf(` AND predicate = $%d`, len(args))
	}
	if pattern.Object != "" {
		args = append(args, pattern.Object)
		query += fmt.Sprintf(` AND object = $%d`, len(args))
	}
	return s.queryFacts(query, args...)
}

func (s *PostgresStore) GetCurrent(userID, subject, predicate string) (*TemporalFact, error) {
	facts, err := s.queryFacts(`SELECT `+pgFactCols+` FROM temporal_facts WHERE user_id = $1 AND subject = $2 AND predicate = $3 AND valid_to IS NULL`, userID, subject, predicate)
	if err != nil || len(facts) == 0 {
		return nil, err
	}
	return &facts[0], nil
}

func (s *PostgresStore) InRange(userID string, pattern FactPattern, from, to time.Time) ([]TemporalFact, error) {
	query := `SELECT ` + pgFactCols + ` FROM temporal_facts WHERE user_id = $1 AND valid_from < $2 AND (valid_to IS NULL OR valid_to > $3)`
	args := []any{userID, to, from}
	if pattern.Subject != "" {
		args = append(args, pattern.Subject)
		query += fmt.Sprintf(` AND subject = $%d`, len(args))
	}
	if pattern.Predicate != "" {
		args = append(args, pattern.Predicate)
		query += fmt.Sprintf(` AND predicate = $%d`, len(args))
	}
	if pattern.Object != "" {
		args = append(args, pattern.Object)
		query += fmt.Sprintf(` AND object = $%d`, len(args))
	}
	return s.queryFacts(query, args...)
}

func (s *PostgresStore) SearchFacts(userID, needle, field string, t time.Time) ([]TemporalFact, error) {
	col := "subject"
	switch field {
	case "predicate", "object":
		col = field
	}
	query := fmt.Sprintf(`SELECT %s FROM temporal_facts WHERE user_id = $1 AND %s ILIKE $2 AND valid_from <= $3 AND (valid_to IS NULL OR valid_to > $3)`, pgFactCols, col)
	return s.queryFacts(query, userID, "%"+needle+"%", t)
}

func (s *PostgresStore) FindConflictingFacts(userID, subject, predicate string, t time.Time) ([]TemporalFact, error) {
	query := `SELECT ` + pgFactCols + ` FROM temporal_facts WHERE user_id = $1 AND subject = $2 AND predicate = $3 AND valid_from <= $4 AND (valid_to IS NULL OR valid_to > $4)`
	return s.queryFacts(query, userID, subject, predicate, t)
}

func (s *PostgresStore) GetFact(id, userID string) (TemporalFact, error) {
	facts, err := s.queryFacts(`SELECT `+pgFactCols+` FROM temporal_facts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return TemporalFact{}, err
	}
	if len(facts) == 0 {
		return TemporalFact{}, errNotFoundForUser("fact", id)
	}
	return facts[0], nil
}

func (s *PostgresStore) UpdateFact(id, userID string, confidence *float64, metadata map[string]string) error {
	ctx := context.Background()
	if confidence != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE temporal_facts SET confidence = $1, last_updated = now() WHERE id = $2 AND user_id = $3`, *confidence, id, userID); err != nil {
			return err
		}
	}
	if metadata != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE temporal_facts SET metadata = metadata || $1::jsonb, last_updated = now() WHERE id = $2 AND user_id = $3`, jsonbArg(metadata), id, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) InvalidateFact(id, userID string, at time.Time) error {
	_, err := s.pool.Exec(context.Background(), `UPDATE temporal_facts SET valid_to = $1, last_updated = $1 WHERE id = $2 AND user_id = $3`, at, id, userID)
	return err
}

func (s *PostgresStore) DeleteFact(id, userID string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM temporal_facts WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}

func (s *PostgresStore) InsertEdge(e TemporalEdge) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO temporal_edges (source_id, target_id, relation_type, weight, valid_from, valid_to, user_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET weight = excluded.weight`,
		e.SourceID, e.TargetID, e.RelationType, e.Weight, e.ValidFrom, e.ValidTo, e.UserID)
	return err
}

func (s *PostgresStore) GetRelatedFacts(factID, userID string) ([]TemporalFact, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx, `
		SELECT target_id FROM temporal_edges WHERE source_id = $1 AND user_id = $2
		UNION
		SELECT source_id FROM temporal_edges WHERE target_id = $1 AND user_id = $2`, factID, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryFacts(`SELECT `+pgFactCols+` FROM temporal_facts WHERE id = ANY($1) AND user_id = $2`, ids, userID)
}

// --- Helpers ---

// jsonbArg marshals a Go value for a $N-bound JSONB column.
func jsonbArg(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}
