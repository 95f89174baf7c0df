package synapse

import (
	"math"
	"regexp"
	"strings"
)

// --- Entity extraction (populates default tags, not waypoint membership —
// waypoint formation is similarity-threshold clustering, see below) ---

// DefaultEntityExtractor pulls entities out of memory content using simple
// heuristics: bracketed names, quoted phrases, known-entity lexicons, and
// capitalized multi-word proper nouns. Implements EntityExtractor.
type DefaultEntityExtractor struct {
	knownEntities map[string]string // lowercase text -> type
}

// NewDefaultEntityExtractor builds an extractor seeded with a lexicon of
// known entities (e.g. domain vocabulary) mapped to their entity type.
func NewDefaultEntityExtractor(known map[string]string) *DefaultEntityExtractor {
	return &DefaultEntityExtractor{knownEntities: known}
}

// Extract pulls out entities from memory content.
func (e *DefaultEntityExtractor) Extract(content string) []Entity {
	var entities []Entity
	seen := make(map[string]bool)

	add := func(text, entityType string) {
		text = strings.TrimSpace(text)
		lower := strings.ToLower(text)
		if text == "" || len(text) < 2 || len(text) > 60 || seen[lower] {
			return
		}
		seen[lower] = true
		entities = append(entities, Entity{Text: text, Type: entityType})
	}

	// 1. Bracketed names: [Name]: message
	bracketRe := regexp.MustCompile(`\[([A-Za-z0-9_]+)\]`)
	for _, match := range bracketRe.FindAllStringSubmatch(content, -1) {
		add(match[1], "person")
	}

	// 2. Quoted strings (topics, titles)
	quoteRe := regexp.MustCompile(`"([^"]{2,40})"`)
	for _, match := range quoteRe.FindAllStringSubmatch(content, -1) {
		add(match[1], "topic")
	}

	// 3. Known entities from the configured lexicon
	lower := strings.ToLower(content)
	for text, entityType := range e.knownEntities {
		if strings.Contains(lower, text) {
			add(text, entityType)
		}
	}

	// 4. Capitalized multi-word phrases (potential proper nouns)
	properRe := regexp.MustCompile(`(?:^|[.!?]\s+|\s)([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`)
	for _, match := range properRe.FindAllStringSubmatch(content, 5) {
		text := strings.TrimSpace(match[1])
		if !isCommonPhrase(text) {
			add(text, "topic")
		}
	}

	return entities
}

// isCommonPhrase filters out false-positive proper nouns.
func isCommonPhrase(s string) bool {
	common := []string{
		"The", "This", "That", "What", "When", "Where", "How", "Why",
		"I Am", "You Are", "We Are", "They Are",
	}
	lower := strings.ToLower(s)
	for _, c := range common {
		if strings.ToLower(c) == lower {
			return true
		}
	}
	return false
}

// --- Waypoint formation (spec §3/§4.4: centroid-threshold clustering) ---

// assignWaypoint finds the nearest existing waypoint for sector by cosine
// similarity to v. If the best similarity is >= threshold, the memory is
// added to that waypoint and its mean recomputed as an incremental
// centroid; otherwise a brand-new waypoint is created whose mean is v.
// Enforces K_max: a waypoint at capacity is never grown, forcing a new one.
func assignWaypoint(store MetadataStore, sector Sector, memoryID string, v []float32, threshold float64, maxMembers int) error {
	waypoints, err := store.GetWaypointsBySector(sector)
	if err != nil {
		return err
	}

	var best *Waypoint
	bestSim := -2.0
	for i := range waypoints {
		w := &waypoints[i]
		if len(w.Members) >= maxMembers {
			continue
		}
		sim := CosineSimilarity(v, w.MeanV)
		if sim > bestSim {
			bestSim = sim
			best = w
		}
	}

	if best != nil && bestSim >= threshold {
		best.Members = append(best.Members, memoryID)
		best.MeanV = incrementalCentroid(best.MeanV, v, len(best.Members))
		return store.UpdateWaypoint(*best)
	}

	w := Waypoint{
		ID:      newID(),
		Sector:  sector,
		MeanV:   l2Normalize(v),
		Members: []string{memoryID},
	}
	return store.InsertWaypoint(w)
}

// incrementalCentroid folds a new member into an existing L2-normalized
// mean, then re-normalizes so ‖mean‖₂ ≈ 1 holds (spec §3 waypoint invariant).
func incrementalCentroid(mean []float32, v []float32, newCount int) []float32 {
	if len(mean) != len(v) || newCount <= 0 {
		return l2Normalize(v)
	}
	out := make([]float32, len(mean))
	n := float32(newCount)
	for i := range mean {
		out[i] = mean[i] + (v[i]-mean[i])/n
	}
	return l2Normalize(out)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}

// --- Waypoint graph expansion (spec §4.4 Query step 3) ---

// expandWaypoints performs a bounded breadth-first traversal of the
// waypoint edge graph, starting from the waypoints of the seed memories.
// The maxExpansion cap is checked before adding each neighbor — never
// after a batch — so the hard cap in invariant 6 always holds exactly.
// Reached memories and newly queued neighbor waypoints both count toward it.
// Returns a path-bonus weight per reached memory id and the waypoint path
// (for explainability, spec §4.4 step 5) used to reach it.
func expandWaypoints(store MetadataStore, seeds []memoryWithVector, userID string, maxExpansion int) (map[string]float64, map[string][]string) {
	linkWeights := make(map[string]float64)
	paths := make(map[string][]string)

	seedIDs := make(map[string]bool, len(seeds))
	for _, m := range seeds {
		seedIDs[m.ID] = true
	}

	visitedWaypoints := make(map[string]bool)
	var frontier []string
	for _, m := range seeds {
		wps, err := store.GetWaypointsForMemory(m.ID)
		if err != nil {
			continue
		}
		for _, wp := range wps {
			if !visitedWaypoints[wp] {
				visitedWaypoints[wp] = true
				frontier = append(frontier, wp)
			}
		}
	}

	visitedCount := 0
	for len(frontier) > 0 && visitedCount < maxExpansion {
		wp := frontier[0]
		frontier = frontier[1:]

		linked, err := store.GetMemoriesByWaypoint(wp, userID, seedIDs)
		if err == nil {
			for _, lm := range linked {
				if visitedCount >= maxExpansion {
					break
				}
				visitedCount++
				if w := 0.8; w > linkWeights[lm.ID] {
					linkWeights[lm.ID] = w
					paths[lm.ID] = []string{wp}
				}
			}
		}

		neighbors, err := store.GetWaypointNeighbors(wp)
		if err != nil {
			continue
		}
		for _, e := range neighbors {
			if visitedCount >= maxExpansion {
				break
			}
			next := e.A
			if next == wp {
				next = e.B
			}
			if !visitedWaypoints[next] {
				visitedWaypoints[next] = true
				frontier = append(frontier, next)
				visitedCount++
			}
		}
	}

	return linkWeights, paths
}
