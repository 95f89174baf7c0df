package synapse

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TemporalFact is a validity-bounded subject-predicate-object triple (C5,
// spec §3/§4.5). Grounded in pattern on the versioned-fact schemas in the
// retrieved corpus (ValidFrom/ValidTo/IsCurrent-style columns).
type TemporalFact struct {
	ID          string
	UserID      string
	Subject     string
	Predicate   string
	Object      string
	ValidFrom   time.Time
	ValidTo     *time.Time // nil == currently open
	Confidence  float64
	LastUpdated time.Time
	Metadata    map[string]string
}

// IsCurrent reports whether the fact has no close time.
func (f TemporalFact) IsCurrent() bool { return f.ValidTo == nil }

// TemporalEdge relates two facts (e.g. "supersedes", "contradicts").
type TemporalEdge struct {
	SourceID     string
	TargetID     string
	RelationType string
	Weight       float64
	ValidFrom    time.Time
	ValidTo      *time.Time
	UserID       string
}

// FactPattern is an equality-match query over subject/predicate/object;
// zero-valued fields act as wildcards (spec §4.5 as-of query).
type FactPattern struct {
	Subject   string
	Predicate string
	Object    string
}

func unixMS(t time.Time) int64 { return t.UnixMilli() }

func fromUnixMS(ms int64) time.Time { return time.UnixMilli(ms) }

// InsertFact auto-closes any prior currently-open fact for the same
// (user, subject, predicate) by setting its valid_to to the new fact's
// valid_from, then inserts the new open fact (spec §4.5 Insert).
func (s *Store) InsertFact(f TemporalFact) (string, error) {
	if f.Subject == "" || f.Predicate == "" || f.Object == "" {
		return "", errInvalidInput("fact subject/predicate/object must be non-empty")
	}
	if f.ValidTo != nil && f.ValidFrom.After(*f.ValidTo) {
		return "", errInvalidInput("valid_from must be <= valid_to")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := closeOpenFact(tx, f.UserID, f.Subject, f.Predicate, f.ValidFrom); err != nil {
		return "", err
	}

	if f.ID == "" {
		f.ID = newID()
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}
	now := time.Now()

	var validTo any
	if f.ValidTo != nil {
		validTo = unixMS(*f.ValidTo)
	}

	if _, err := tx.Exec(`
		INSERT INTO temporal_facts (id, user_id, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Subject, f.Predicate, f.Object, unixMS(f.ValidFrom), validTo, f.Confidence, unixMS(now), encodeJSON(f.Metadata),
	); err != nil {
		return "", err
	}

	return f.ID, tx.Commit()
}

// closeOpenFact sets valid_to = closeAt on the currently-open fact (if any)
// for (userID, subject, predicate). Must run inside tx before the new
// fact is inserted so auto-close is atomic with the insert.
func closeOpenFact(tx *sql.Tx, userID, subject, predicate string, closeAt time.Time) error {
	_, err := tx.Exec(`
		UPDATE temporal_facts SET valid_to = ?, last_updated = ?
		WHERE user_id = ? AND subject = ? AND predicate = ? AND valid_to IS NULL`,
		unixMS(closeAt), unixMS(time.Now()), userID, subject, predicate,
	)
	return err
}

// BatchInsertFacts inserts every fact atomically: all-or-nothing (spec §4.5).
func (s *Store) BatchInsertFacts(facts []TemporalFact) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		if f.Subject == "" || f.Predicate == "" || f.Object == "" {
			return nil, errInvalidInput("fact subject/predicate/object must be non-empty")
		}
		if err := closeOpenFact(tx, f.UserID, f.Subject, f.Predicate, f.ValidFrom); err != nil {
			return nil, err
		}
		if f.ID == "" {
			f.ID = newID()
		}
		if f.Confidence == 0 {
			f.Confidence = 1.0
		}
		var validTo any
		if f.ValidTo != nil {
			validTo = unixMS(*f.ValidTo)
		}
		if _, err := tx.Exec(`
			INSERT INTO temporal_facts (id, user_id, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.UserID, f.Subject, f.Predicate, f.Object, unixMS(f.ValidFrom), validTo, f.Confidence, unixMS(time.Now()), encodeJSON(f.Metadata),
		); err != nil {
			return nil, err
		}
		ids = append(ids, f.ID)
	}

	return ids, tx.Commit()
}

func scanFact(scan func(dest ...any) error) (TemporalFact, error) {
	var f TemporalFact
	var validFromMS, lastUpdatedMS int64
	var validToMS sql.NullInt64
	var metaJSON string

	if err := scan(&f.ID, &f.UserID, &f.Subject, &f.Predicate, &f.Object, &validFromMS, &validToMS, &f.Confidence, &lastUpdatedMS, &metaJSON); err != nil {
		return f, err
	}
	f.ValidFrom = fromUnixMS(validFromMS)
	f.LastUpdated = fromUnixMS(lastUpdatedMS)
	if validToMS.Valid {
		t := fromUnixMS(validToMS.Int64)
		f.ValidTo = &t
	}
	json.Unmarshal([]byte(metaJSON), &f.Metadata)
	return f, nil
}

const factSelectCols = `id, user_id, subject, predicate, object, valid_from, valid_to, confidence, last_updated, metadata`

// QueryAt returns facts active at instant t matching pattern, user scope
// (when userID != ""), and min confidence, ordered by (confidence desc,
// valid_from desc) (spec §4.5 As-of query).
func (s *Store) QueryAt(userID string, pattern FactPattern, t time.Time, minConfidence float64) ([]TemporalFact, error) {
	query := `SELECT ` + factSelectCols + ` FROM temporal_facts WHERE valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`
	args := []any{unixMS(t), unixMS(t)}

	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if pattern.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, pattern.Subject)
	}
	if pattern.Predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, pattern.Predicate)
	}
	if pattern.Object != "" {
		query += ` AND object = ?`
		args = append(args, pattern.Object)
	}
	if minConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, minConfidence)
	}
	query += ` ORDER BY confidence DESC, valid_from DESC`

	return s.queryFacts(query, args...)
}

// GetCurrent returns the single currently-open fact for (userID, subject,
// predicate), or nil if none (spec §4.5 Current).
func (s *Store) GetCurrent(userID, subject, predicate string) (*TemporalFact, error) {
	facts, err := s.QueryAt(userID, FactPattern{Subject: subject, Predicate: predicate}, time.Now(), 0)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		if f.IsCurrent() {
			return &f, nil
		}
	}
	return nil, nil
}

// InRange returns any fact whose validity interval overlaps [from, to] or
// whose valid_from falls inside [from, to] (union of the two predicates,
// spec §4.5 Range query).
func (s *Store) InRange(userID string, pattern FactPattern, from, to time.Time) ([]TemporalFact, error) {
	query := `SELECT ` + factSelectCols + ` FROM temporal_facts WHERE (
		(valid_from <= ? AND (valid_to IS NULL OR valid_to >= ?)) OR
		(valid_from >= ? AND valid_from <= ?)
	)`
	args := []any{unixMS(to), unixMS(from), unixMS(from), unixMS(to)}

	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	if pattern.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, pattern.Subject)
	}
	if pattern.Predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, pattern.Predicate)
	}
	if pattern.Object != "" {
		query += ` AND object = ?`
		args = append(args, pattern.Object)
	}
	query += ` ORDER BY confidence DESC, valid_from DESC`

	return s.queryFacts(query, args...)
}

// SearchFacts does a case-sensitive substring match on field ∈
// {subject, predicate, object}, intersected with as-of t, capped at 100
// results ordered by (confidence desc, valid_from desc) (spec §4.5 Search).
func (s *Store) SearchFacts(userID, needle, field string, t time.Time) ([]TemporalFact, error) {
	col := "subject"
	switch field {
	case "predicate", "object":
		col = field
	}

	query := `SELECT ` + factSelectCols + ` FROM temporal_facts
		WHERE instr(` + col + `, ?) > 0 AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)`
	args := []any{needle, unixMS(t), unixMS(t)}

	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY confidence DESC, valid_from DESC LIMIT 100`

	return s.queryFacts(query, args...)
}

// FindConflictingFacts returns every fact active at t for (userID, subject,
// predicate); ≥2 results means a conflict (spec §4.5 Conflict detection).
func (s *Store) FindConflictingFacts(userID, subject, predicate string, t time.Time) ([]TemporalFact, error) {
	return s.QueryAt(userID, FactPattern{Subject: subject, Predicate: predicate}, t, 0)
}

func (s *Store) queryFacts(query string, args ...any) ([]TemporalFact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []TemporalFact
	for rows.Next() {
		f, err := scanFact(rows.Scan)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetFact loads a single fact, enforcing ownership when userID is non-empty.
func (s *Store) GetFact(id, userID string) (TemporalFact, error) {
	row := s.db.QueryRow(`SELECT `+factSelectCols+` FROM temporal_facts WHERE id = ?`, id)
	f, err := scanFact(row.Scan)
	if err == sql.ErrNoRows {
		return f, errNotFoundForUser("fact", id)
	}
	if err != nil {
		return f, err
	}
	if userID != "" && f.UserID != userID {
		return TemporalFact{}, errNotFoundForUser("fact", id)
	}
	return f, nil
}

// UpdateFact mutates only confidence and/or metadata; subject, predicate,
// and object are immutable (spec §4.5 Update — attempting to change them
// is a ConflictingFact error, caught by this signature not accepting them).
func (s *Store) UpdateFact(id, userID string, confidence *float64, metadata map[string]string) error {
	f, err := s.GetFact(id, userID)
	if err != nil {
		return err
	}
	if confidence != nil {
		f.Confidence = *confidence
	}
	if metadata != nil {
		f.Metadata = metadata
	}
	_, err = s.db.Exec(`UPDATE temporal_facts SET confidence = ?, metadata = ?, last_updated = ? WHERE id = ?`,
		f.Confidence, encodeJSON(f.Metadata), unixMS(time.Now()), f.ID)
	return err
}

// InvalidateFact sets valid_to (default now) on a fact, enforcing ownership.
func (s *Store) InvalidateFact(id, userID string, at time.Time) error {
	f, err := s.GetFact(id, userID)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.Exec(`UPDATE temporal_facts SET valid_to = ?, last_updated = ? WHERE id = ?`,
		unixMS(at), unixMS(time.Now()), f.ID)
	return err
}

// DeleteFact irreversibly removes a fact, enforcing ownership.
func (s *Store) DeleteFact(id, userID string) error {
	if _, err := s.GetFact(id, userID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM temporal_facts WHERE id = ?`, id)
	return err
}

// InsertEdge links two facts with a relation type (e.g. "supersedes").
func (s *Store) InsertEdge(e TemporalEdge) error {
	var validTo any
	if e.ValidTo != nil {
		validTo = unixMS(*e.ValidTo)
	}
	_, err := s.db.Exec(`
		INSERT INTO temporal_edges (source_id, target_id, relation_type, weight, valid_from, valid_to, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET weight = excluded.weight`,
		e.SourceID, e.TargetID, e.RelationType, e.Weight, unixMS(e.ValidFrom), validTo, e.UserID,
	)
	return err
}

// GetRelatedFacts returns facts reachable from factID via temporal_edges,
// scoped at the edge-traversal level (not just the returned facts) when
// userID is non-empty — see DESIGN.md's decision on this spec open question.
func (s *Store) GetRelatedFacts(factID, userID string) ([]TemporalFact, error) {
	query := `SELECT target_id FROM temporal_edges WHERE source_id = ?`
	args := []any{factID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	var targetIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		targetIDs = append(targetIDs, id)
	}
	rows.Close()

	var facts []TemporalFact
	for _, id := range targetIDs {
		f, err := s.GetFact(id, userID)
		if err != nil {
			continue
		}
		facts = append(facts, f)
	}
	return facts, nil
}
