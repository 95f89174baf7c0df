package synapse

import (
	"context"
	"time"
)

// QueryType selects which subsystem(s) a recall/store call targets (spec
// §4.8 C8). QueryUnified runs both C4 and C5 with no cross-system
// re-ranking — the caller merges the two result blocks by semantics.
type QueryType string

const (
	QueryContextual QueryType = "contextual"
	QueryFactual    QueryType = "factual"
	QueryUnified    QueryType = "unified"
)

// RecallOptions is the unified recall(text, opts) contract. Query is the
// text passed to C4's semantic search; FactPattern/At/MinConfidence feed
// C5's as-of query. Type selects which block(s) to populate.
type RecallOptions struct {
	Type        QueryType
	UserID      string
	Limit       int
	Sectors     []Sector
	MinSalience float64
	SessionID   string
	After       *time.Time
	Before      *time.Time
	Deadline    *time.Time

	FactPattern   FactPattern
	At            time.Time // zero value means "now"
	MinConfidence float64
}

// RecallResult carries whichever block(s) RecallOptions.Type requested.
type RecallResult struct {
	Contextual []SearchResult
	Factual    []TemporalFact
}

// Recall dispatches to C4 (contextual), C5 (factual), or both (spec §4.8).
func (s *Synapse) Recall(ctx context.Context, query string, opts RecallOptions) (RecallResult, error) {
	typ := opts.Type
	if typ == "" {
		typ = QueryUnified
	}
	userID := opts.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}

	var out RecallResult

	if typ == QueryContextual || typ == QueryUnified {
		results, err := s.Search(ctx, SearchOptions{
			Query:       query,
			UserID:      userID,
			Limit:       opts.Limit,
			Sectors:     opts.Sectors,
			MinSalience: opts.MinSalience,
			SessionID:   opts.SessionID,
			After:       opts.After,
			Before:      opts.Before,
			Deadline:    opts.Deadline,
		})
		if err != nil {
			return out, err
		}
		out.Contextual = results
	}

	if typ == QueryFactual || typ == QueryUnified {
		facts, err := s.store.QueryAt(userID, opts.FactPattern, at, opts.MinConfidence)
		if err != nil {
			return out, errInternal("query facts", err)
		}
		out.Factual = facts
	}

	return out, nil
}

// StoreOptions is the unified store(text, opts) contract (spec §4.8).
type StoreOptions struct {
	Type QueryType // Contextual, Factual, or "both" (StoreBoth)

	UserID   string
	Tags     []string
	Metadata map[string]string

	SectorHint Sector
	Salience   float64
	SessionID  string
	ParentID   string

	Facts []TemporalFact
}

// StoreBoth requests both a C4 insert and a C5 batch insert, cross-linked
// by source_memory_id (spec §4.8 store type=both).
const StoreBoth QueryType = "both"

// StoreResult carries whichever outputs StoreOptions.Type produced.
type StoreResult struct {
	Memory *Memory
	FactIDs []string
}

// Store dispatches a store(text, opts) call to C4 insert, C5 batch insert,
// or both with cross-linking (spec §4.8).
func (s *Synapse) Store(ctx context.Context, content string, opts StoreOptions) (StoreResult, error) {
	var out StoreResult

	switch opts.Type {
	case QueryFactual:
		if len(opts.Facts) == 0 {
			return out, errInvalidInput("store(type=factual) requires a non-empty facts array")
		}
		ids, err := s.storeFacts(opts.Facts, nil)
		if err != nil {
			return out, err
		}
		out.FactIDs = ids
		return out, nil

	case StoreBoth:
		if content == "" {
			return out, errInvalidInput("store(type=both) requires content")
		}
		if len(opts.Facts) == 0 {
			return out, errInvalidInput("store(type=both) requires a non-empty facts array")
		}
		mem, err := s.Insert(ctx, content, AddOptions{
			UserID:     opts.UserID,
			Tags:       opts.Tags,
			Metadata:   opts.Metadata,
			SectorHint: opts.SectorHint,
			Salience:   opts.Salience,
			SessionID:  opts.SessionID,
			ParentID:   opts.ParentID,
		})
		if err != nil {
			return out, err
		}
		ids, err := s.storeFacts(opts.Facts, map[string]string{"source_memory_id": mem.ID})
		if err != nil {
			return out, err
		}
		out.Memory = &mem
		out.FactIDs = ids
		return out, nil

	default: // QueryContextual or empty
		if content == "" {
			return out, errInvalidInput("store(type=contextual) requires content")
		}
		mem, err := s.Insert(ctx, content, AddOptions{
			UserID:     opts.UserID,
			Tags:       opts.Tags,
			Metadata:   opts.Metadata,
			SectorHint: opts.SectorHint,
			Salience:   opts.Salience,
			SessionID:  opts.SessionID,
			ParentID:   opts.ParentID,
		})
		if err != nil {
			return out, err
		}
		out.Memory = &mem
		return out, nil
	}
}

// GetFact loads a single temporal fact by id.
func (s *Synapse) GetFact(id, userID string) (TemporalFact, error) { return s.store.GetFact(id, userID) }

// DeleteFact permanently removes a temporal fact.
func (s *Synapse) DeleteFact(id, userID string) error {
	if err := s.store.DeleteFact(id, userID); err != nil {
		return err
	}
	s.cache.invalidateUser(userID)
	return nil
}

// InRange returns every fact matching pattern whose validity interval
// overlaps [from, to] (spec §4.5 range query).
func (s *Synapse) InRange(userID string, pattern FactPattern, from, to time.Time) ([]TemporalFact, error) {
	return s.store.InRange(userID, pattern, from, to)
}

// SearchFacts does a substring match over one fact field (subject,
// predicate, or object) among facts current at t.
func (s *Synapse) SearchFacts(userID, needle, field string, t time.Time) ([]TemporalFact, error) {
	return s.store.SearchFacts(userID, needle, field, t)
}

// FindConflictingFacts returns every fact for (subject, predicate) that is
// active at t, whatever its object; two or more results mean a conflict.
func (s *Synapse) FindConflictingFacts(userID, subject, predicate string, t time.Time) ([]TemporalFact, error) {
	return s.store.FindConflictingFacts(userID, subject, predicate, t)
}

// InsertEdge relates two temporal facts (e.g. "supersedes", "contradicts").
func (s *Synapse) InsertEdge(e TemporalEdge) error { return s.store.InsertEdge(e) }

// GetRelatedFacts returns facts connected to factID via a temporal edge,
// scoped to userID at the edge level (see DESIGN.md open question decision).
func (s *Synapse) GetRelatedFacts(factID, userID string) ([]TemporalFact, error) {
	return s.store.GetRelatedFacts(factID, userID)
}

// UpdateFact updates a temporal fact's confidence and/or metadata in place.
func (s *Synapse) UpdateFact(id, userID string, confidence *float64, metadata map[string]string) error {
	if err := s.store.UpdateFact(id, userID, confidence, metadata); err != nil {
		return err
	}
	s.cache.invalidateUser(userID)
	return nil
}

// InvalidateFact closes a temporal fact's validity interval at t.
func (s *Synapse) InvalidateFact(id, userID string, t time.Time) error {
	if err := s.store.InvalidateFact(id, userID, t); err != nil {
		return err
	}
	s.cache.invalidateUser(userID)
	return nil
}

// storeFacts batch-inserts facts, augmenting each fact's metadata with
// extra (e.g. source_memory_id) before persisting.
func (s *Synapse) storeFacts(facts []TemporalFact, extra map[string]string) ([]string, error) {
	if len(extra) > 0 {
		augmented := make([]TemporalFact, len(facts))
		for i, f := range facts {
			md := make(map[string]string, len(f.Metadata)+len(extra))
			for k, v := range f.Metadata {
				md[k] = v
			}
			for k, v := range extra {
				md[k] = v
			}
			f.Metadata = md
			augmented[i] = f
		}
		facts = augmented
	}
	ids, err := s.store.BatchInsertFacts(facts)
	if err != nil {
		return nil, errInternal("batch insert facts", err)
	}
	s.cache.invalidateUser(facts[0].UserID)
	return ids, nil
}
