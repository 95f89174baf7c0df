package synapse

import (
	"context"
	"fmt"
)

// Reflection is a synthesized observation generated from a set of memories.
type Reflection struct {
	Content  string   // the observation/thought text
	Salience float64  // how significant this observation is (0-1)
	Entities []Entity // entities mentioned in the reflection
}

// ReflectionProvider generates reflective observations from a set of
// memories. characterContext is an optional prompt fragment describing a
// character's personality, perspective, or role — it shapes how
// reflections are generated. Never auto-constructed (SPEC_FULL §4): this
// capability only runs when Config.ReflectionProvider is set explicitly.
type ReflectionProvider interface {
	Reflect(ctx context.Context, memories []Memory, characterContext string) ([]Reflection, error)
}

// ReflectOptions controls how reflective synthesis is triggered.
type ReflectOptions struct {
	UserID           string
	CharacterContext string
	MemoryWindow     int      // how many recent memories to consider (default: 50)
	Sectors          []Sector // which sectors to draw from (default: all)
	MinMemories      int      // minimum memories needed before reflecting (default: 5)
}

// Reflect loads recent memories, passes them to the configured
// ReflectionProvider, and stores the resulting observations as new
// reflective-sector memories via Insert — so they get embedded, classified
// into the reflective waypoint graph, and decay/reinforce like any other
// memory. Returns the newly created memories.
func (s *Synapse) Reflect(ctx context.Context, opts ReflectOptions) ([]Memory, error) {
	if s.reflector == nil {
		return nil, fmt.Errorf("synapse: no ReflectionProvider configured")
	}

	if opts.MemoryWindow <= 0 {
		opts.MemoryWindow = 50
	}
	if opts.MinMemories <= 0 {
		opts.MinMemories = 5
	}

	recent, err := s.store.GetRecentMemories(opts.UserID, opts.MemoryWindow, opts.Sectors)
	if err != nil {
		return nil, fmt.Errorf("synapse: load recent memories: %w", err)
	}
	if len(recent) < opts.MinMemories {
		return nil, nil
	}

	var input []Memory
	for _, m := range recent {
		if m.Sector != SectorReflective {
			input = append(input, m)
		}
	}
	if len(input) < opts.MinMemories {
		return nil, nil
	}

	reflections, err := s.reflector.Reflect(ctx, input, opts.CharacterContext)
	if err != nil {
		return nil, fmt.Errorf("synapse: reflection provider: %w", err)
	}
	if len(reflections) == 0 {
		return nil, nil
	}

	reflections = s.deduplicateReflections(ctx, opts.UserID, reflections)
	if len(reflections) == 0 {
		return nil, nil
	}

	var stored []Memory
	for _, ref := range reflections {
		salience := ref.Salience
		if salience <= 0 {
			salience = 0.7
		}
		if salience > 1.0 {
			salience = 1.0
		}

		tags := make([]string, 0, len(ref.Entities))
		for _, e := range ref.Entities {
			tags = append(tags, e.Text)
		}

		mem, err := s.Insert(ctx, ref.Content, AddOptions{
			UserID:     opts.UserID,
			Tags:       tags,
			SectorHint: SectorReflective,
			Salience:   salience,
		})
		if err != nil {
			s.log.Warnw("store reflection failed", "error", err)
			continue
		}
		stored = append(stored, mem)
	}

	if len(stored) > 0 {
		s.log.Infow("generated reflections", "count", len(stored), "user_id", opts.UserID)
	}
	return stored, nil
}

// deduplicateReflections drops reflections that are near-duplicates of an
// existing reflective memory for this user, measured by embedding
// similarity against the threshold below.
func (s *Synapse) deduplicateReflections(ctx context.Context, userID string, reflections []Reflection) []Reflection {
	existing, err := s.store.GetMemoriesWithVectors(userID, SectorReflective)
	if err != nil || len(existing) == 0 {
		return reflections
	}

	var reflectiveVecs []memoryWithVector
	for _, mwv := range existing {
		if mwv.Vector != nil {
			reflectiveVecs = append(reflectiveVecs, mwv)
		}
	}
	if len(reflectiveVecs) == 0 {
		return reflections
	}

	const duplicateThreshold = 0.85

	var unique []Reflection
	for _, ref := range reflections {
		refVec, err := s.embedder.Embed(ctx, ref.Content, "RETRIEVAL_DOCUMENT")
		if err != nil {
			unique = append(unique, ref) // keep if we can't check
			continue
		}

		isDuplicate := false
		for _, ev := range reflectiveVecs {
			if CosineSimilarity(refVec, ev.Vector) > duplicateThreshold {
				isDuplicate = true
				break
			}
		}
		if !isDuplicate {
			unique = append(unique, ref)
		}
	}
	return unique
}
