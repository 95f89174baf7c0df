package synapse

import (
	"math"
	"math/rand"
	"sync"
)

// hnswNode is one vector in the graph (grounded on
// liliang-cn-sqvect/pkg/index/hnsw.go's HNSWNode: id, vector, level, and a
// per-level neighbor list).
type hnswNode struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]string // neighbors[level] = neighbor ids at that level
}

// hnswGraph is a single in-memory hierarchical navigable small-world graph
// (one per sector per partition). M bounds bidirectional links per node;
// efConstruction/efSearch bound the dynamic candidate list size.
type hnswGraph struct {
	mu             sync.RWMutex
	m              int
	efConstruction int
	ml             float64
	nodes          map[string]*hnswNode
	entryPoint     string
	rng            *rand.Rand
}

func newHNSWGraph(m, efConstruction int) *hnswGraph {
	return &hnswGraph{
		m:              m,
		efConstruction: efConstruction,
		ml:             1.0 / math.Log(2.0),
		nodes:          make(map[string]*hnswNode),
		rng:            rand.New(rand.NewSource(1)), // deterministic: reproducible level assignment for tests
	}
}

func (g *hnswGraph) randomLevel() int {
	level := 0
	for g.rng.Float64() < 0.5 && level < 16 {
		level++
	}
	return level
}

// insert adds or replaces a node (upsert semantics, spec §4.2).
func (g *hnswGraph) insert(id string, vector []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	node := &hnswNode{ID: id, Vector: vector, Level: level, Neighbors: make([][]string, level+1)}
	g.nodes[id] = node

	if g.entryPoint == "" {
		g.entryPoint = id
		return
	}

	entry := g.nodes[g.entryPoint]
	if entry == nil {
		g.entryPoint = id
		return
	}

	for lvl := minInt(level, entry.Level); lvl >= 0; lvl-- {
		candidates := g.searchLayer(vector, entry.ID, g.efConstruction, lvl)
		neighbors := selectNeighbors(candidates, g.m)
		node.Neighbors[lvl] = neighbors
		for _, nb := range neighbors {
			nbNode := g.nodes[nb]
			if nbNode == nil || lvl > nbNode.Level {
				continue
			}
			nbNode.Neighbors[lvl] = append(nbNode.Neighbors[lvl], id)
			if len(nbNode.Neighbors[lvl]) > g.m*2 {
				nbNode.Neighbors[lvl] = selectNeighborsByID(g, nbNode.Vector, nbNode.Neighbors[lvl], g.m*2)
			}
		}
	}

	if level > entry.Level {
		g.entryPoint = id
	}
}

func (g *hnswGraph) delete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	if g.entryPoint == id {
		g.entryPoint = ""
		for otherID := range g.nodes {
			g.entryPoint = otherID
			break
		}
	}
}

// search returns up to ef nearest neighbors by cosine similarity, greedily
// descending from the top layer then exhaustively expanding layer 0
// (grounded on the search-layer algorithm in liliang-cn-sqvect's hnsw.go).
func (g *hnswGraph) search(query []float32, ef int) []ScoredID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == "" || len(g.nodes) == 0 {
		return nil
	}

	entry := g.nodes[g.entryPoint]
	current := entry.ID
	for lvl := entry.Level; lvl > 0; lvl-- {
		candidates := g.searchLayer(query, current, 1, lvl)
		if len(candidates) > 0 {
			current = candidates[0]
		}
	}

	ids := g.searchLayer(query, current, ef, 0)
	scored := make([]ScoredID, 0, len(ids))
	for _, id := range ids {
		n := g.nodes[id]
		if n == nil {
			continue
		}
		scored = append(scored, ScoredID{ID: id, Score: CosineSimilarity(query, n.Vector)})
	}
	return scored
}

// searchLayer performs a greedy best-first expansion at one layer, bounded
// to ef candidates, starting from entryID. Returns ids ranked nearest-first.
func (g *hnswGraph) searchLayer(query []float32, entryID string, ef, layer int) []string {
	visited := map[string]bool{entryID: true}
	candidates := []string{entryID}
	best := map[string]float64{}
	if n := g.nodes[entryID]; n != nil {
		best[entryID] = CosineSimilarity(query, n.Vector)
	}

	for len(candidates) > 0 {
		// pop the best unvisited-frontier candidate
		curIdx, curScore := 0, -2.0
		for i, c := range candidates {
			if s := best[c]; s > curScore {
				curScore = s
				curIdx = i
			}
		}
		cur := candidates[curIdx]
		candidates = append(candidates[:curIdx], candidates[curIdx+1:]...)

		node := g.nodes[cur]
		if node == nil || layer >= len(node.Neighbors) {
			continue
		}
		for _, nb := range node.Neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode := g.nodes[nb]
			if nbNode == nil {
				continue
			}
			best[nb] = CosineSimilarity(query, nbNode.Vector)
			candidates = append(candidates, nb)
		}
	}

	ranked := make([]string, 0, len(best))
	for id := range best {
		ranked = append(ranked, id)
	}
	sortByScoreDesc(ranked, best)
	if len(ranked) > ef {
		ranked = ranked[:ef]
	}
	return ranked
}

func selectNeighbors(candidates []string, m int) []string {
	if len(candidates) > m {
		return candidates[:m]
	}
	return candidates
}

func selectNeighborsByID(g *hnswGraph, query []float32, ids []string, m int) []string {
	scores := map[string]float64{}
	for _, id := range ids {
		if n := g.nodes[id]; n != nil {
			scores[id] = CosineSimilarity(query, n.Vector)
		}
	}
	out := append([]string(nil), ids...)
	sortByScoreDesc(out, scores)
	if len(out) > m {
		out = out[:m]
	}
	return out
}

func sortByScoreDesc(ids []string, scores map[string]float64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && scores[ids[j]] > scores[ids[j-1]]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// HNSWIndex is Backend B (spec §4.2): a single global approximate graph per
// sector, hash-partitioned by user id into P partitions once the vector
// count crosses a threshold. Because the graph cannot pre-filter by user,
// searches over-fetch k·F candidates and post-filter by (sector, user)
// inside the routed partition.
type HNSWIndex struct {
	mu              sync.RWMutex
	store           MetadataStore
	partitions      int
	overfetchFactor int
	partitionSize   int
	graphs          map[Sector]map[int]*hnswGraph // sector -> partition -> graph
	owners          map[string]string              // memory id -> user id, for post-filtering
}

// NewHNSWIndex builds an approximate vector index over store, rehydrating
// every existing vector at construction time.
func NewHNSWIndex(store MetadataStore, partitions, overfetchFactor, partitionSizeThreshold int) (*HNSWIndex, error) {
	if partitions <= 0 {
		partitions = 8
	}
	if overfetchFactor <= 0 {
		overfetchFactor = 3
	}
	idx := &HNSWIndex{
		store:           store,
		partitions:      partitions,
		overfetchFactor: overfetchFactor,
		partitionSize:   partitionSizeThreshold,
		graphs:          make(map[Sector]map[int]*hnswGraph, len(AllSectors)),
		owners:          make(map[string]string),
	}
	// Pre-create every sector's partition map up front so partitionFor/Search
	// never has to write to h.graphs while holding only the read lock.
	for _, sector := range AllSectors {
		idx.graphs[sector] = make(map[int]*hnswGraph)
	}
	for _, sector := range AllSectors {
		if err := idx.rehydrate(sector); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (h *HNSWIndex) rehydrate(sector Sector) error {
	candidates, err := h.store.GetMemoriesWithVectors("", sector)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if c.Vector != nil {
			h.upsertLocked(c.ID, sector, c.UserID, c.Vector)
		}
	}
	return nil
}

func (h *HNSWIndex) partitionFor(sector Sector, userID string) int {
	// Below the partitioning threshold, every user shares partition 0 — a
	// single global graph, exactly as spec §4.2 describes before growth.
	// h.graphs[sector] is pre-created for every known sector in
	// NewHNSWIndex, so this never writes to the map under a read lock.
	total := 0
	for _, g := range h.graphs[sector] {
		total += len(g.nodes)
	}
	if total < h.partitionSize {
		return 0
	}
	return int(hashUserID(userID) % uint64(h.partitions))
}

func (h *HNSWIndex) upsertLocked(id string, sector Sector, userID string, vector []float32) {
	p := h.partitionFor(sector, userID)
	if _, ok := h.graphs[sector][p]; !ok {
		h.graphs[sector][p] = newHNSWGraph(16, 64)
	}
	h.graphs[sector][p].insert(id, vector)
	h.owners[id] = userID
}

func (h *HNSWIndex) Upsert(id string, sector Sector, userID string, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.InsertVector(id, sector, userID, vector); err != nil {
		return err
	}
	h.upsertLocked(id, sector, userID, vector)
	return nil
}

func (h *HNSWIndex) Delete(id string, sector Sector) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.DeleteVector(id, sector); err != nil {
		return err
	}
	for _, partitions := range h.graphs {
		for _, g := range partitions {
			g.delete(id)
		}
	}
	delete(h.owners, id)
	return nil
}

// Search over-fetches k*F candidates from the user's partition, then
// post-filters by user. Returns at most k results and may return fewer —
// degraded recall is flagged true, never an error (spec §4.2 Backend B).
func (h *HNSWIndex) Search(sector Sector, query []float32, k int, userID string) ([]ScoredID, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p := h.partitionFor(sector, userID)
	g := h.graphs[sector][p]
	if g == nil {
		return nil, k > 0, nil
	}

	ef := k * h.overfetchFactor
	candidates := g.search(query, ef)

	var filtered []ScoredID
	for _, c := range candidates {
		if userID == "" || h.owners[c.ID] == userID {
			filtered = append(filtered, c)
		}
		if len(filtered) >= k {
			break
		}
	}

	degraded := len(filtered) < k
	return filtered, degraded, nil
}

func (h *HNSWIndex) Get(id string, sector Sector) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, g := range h.graphs[sector] {
		if n, ok := g.nodes[id]; ok {
			return n.Vector, true
		}
	}
	return nil, false
}

func (h *HNSWIndex) BySector(sector Sector) map[string][]float32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]float32)
	for _, g := range h.graphs[sector] {
		for id, n := range g.nodes {
			out[id] = n.Vector
		}
	}
	return out
}
