package synapse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Synapse is the unified cognitive memory engine: the Hierarchical Semantic
// Graph core (C1-C4) wired to the Temporal Knowledge Graph (C5, see
// temporal.go), multi-tenant isolation (C6, see tenant.go), and the
// coactivation engine (C7, see coactivation.go). Init constructs one from a
// Config; Insert/Search/Reinforce/Delete/Wipe are the HSG operations named
// in spec §4.4.
type Synapse struct {
	store      MetadataStore
	index      VectorIndex
	embedder   EmbeddingProvider
	classifier SectorClassifier
	entities   EntityExtractor
	reflector  ReflectionProvider
	cache      *queryCache
	coact      *coactivationEngine
	config     Config
	log        *zap.SugaredLogger
	metrics    *Metrics

	mu              sync.RWMutex
	cancelDecay     context.CancelFunc
	cancelReflect   context.CancelFunc
	shutdownMetrics func(context.Context) error
}

// Init wires every configured component, runs DB migrations, and starts the
// background workers (decay sweep, coactivation, and reflection if
// configured).
func Init(cfg Config) (*Synapse, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store MetadataStore
	var err error
	switch cfg.MetadataBackend {
	case MetadataPostgres:
		store, err = NewPostgresStore(context.Background(), cfg.PostgresDSN)
	default:
		store, err = NewStore(cfg.DBPath)
	}
	if err != nil {
		return nil, err
	}

	embedder := cfg.EmbeddingProvider
	if embedder == nil {
		embedder = buildEmbedder(cfg)
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewHeuristicClassifier(cfg.GeminiAPIKey)
	}
	extractor := cfg.EntityExtractor
	if extractor == nil {
		extractor = NewDefaultEntityExtractor(nil)
	}

	var index VectorIndex
	switch cfg.VectorBackend {
	case BackendApproximateHNSW:
		index, err = NewHNSWIndex(store, cfg.VectorPartitions, cfg.OverfetchFactor, cfg.HNSWPartitionSize)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("synapse: init hnsw index: %w", err)
		}
	default:
		index = NewLinearIndex(store)
	}

	metrics := cfg.Metrics
	var shutdownMetrics func(context.Context) error
	if metrics == nil && cfg.MetricsEnabled {
		metrics, shutdownMetrics, err = InitMetricsProvider(context.Background(), "synapse")
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("synapse: init metrics: %w", err)
		}
	}
	if metrics != nil {
		if err := metrics.registerQueueDepth(otel.GetMeterProvider(), store); err != nil {
			cfg.Logger.Warnw("register coactivation queue depth gauge failed", "error", err)
		}
	}

	s := &Synapse{
		store:           store,
		index:           index,
		embedder:        embedder,
		classifier:      classifier,
		entities:        extractor,
		reflector:       cfg.ReflectionProvider,
		cache:           newQueryCache(cfg.CacheTTL, cfg.CacheEnabled),
		config:          cfg,
		log:             cfg.Logger,
		metrics:         metrics,
		shutdownMetrics: shutdownMetrics,
	}
	s.coact = newCoactivationEngine(store, cfg, cfg.Logger)
	s.coact.metrics = metrics

	s.startDecayWorker(cfg.DecayInterval)
	s.coact.start()
	if cfg.ReflectionProvider != nil && cfg.ReflectionInterval > 0 {
		s.startReflectionWorker(cfg.ReflectionInterval)
	}

	s.log.Infow("synapse initialized",
		"db", cfg.DBPath, "vector_backend", cfg.VectorBackend, "tier", cfg.Tier, "dim", cfg.VecDim)
	return s, nil
}

// buildEmbedder resolves Config.EmbeddingsKind/Tier into a concrete
// EmbeddingProvider (spec §4.1 C1).
func buildEmbedder(cfg Config) EmbeddingProvider {
	var hosted EmbeddingProvider
	switch cfg.EmbeddingsKind {
	case "openai":
		hosted = NewOpenAIEmbedder(cfg.OpenAIAPIKey, WithOpenAIDimension(cfg.VecDim))
	case "gemini":
		hosted = NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.VecDim)
	case "ollama":
		hosted = NewOllamaEmbedder(cfg.OllamaModel, cfg.VecDim, WithOllamaHost(cfg.OllamaHost))
	}
	return NewTierSelector(cfg.Tier, cfg.VecDim, hosted)
}

// Insert stores a new memory: classifies its sector(s), embeds it,
// persists it, assigns it to a waypoint, and enforces the per-user memory
// cap (spec §4.4 Insert).
func (s *Synapse) Insert(ctx context.Context, content string, opts AddOptions) (Memory, error) {
	if content == "" {
		return Memory{}, errInvalidInput("content must not be empty")
	}
	userID := opts.UserID
	if userID == "" {
		userID = AnonymousUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var primary Sector
	defer func() { s.metrics.recordInsert(ctx, time.Since(start).Seconds(), primary) }()

	var secondary []Sector
	if opts.SectorHint != "" {
		if !opts.SectorHint.Valid() {
			return Memory{}, errInvalidInput(fmt.Sprintf("unknown sector %q", opts.SectorHint))
		}
		primary, secondary = opts.SectorHint, []Sector{opts.SectorHint}
	} else {
		primary, secondary = s.classifier.Classify(content)
	}

	vec, err := s.embedder.Embed(ctx, content, "RETRIEVAL_DOCUMENT")
	if err != nil {
		s.log.Warnw("embed failed, storing without vector", "error", err)
		vec = nil
	}

	salience := opts.Salience
	if salience == 0 {
		salience = 0.5
	}

	tags := opts.Tags
	if len(tags) == 0 {
		for _, e := range s.entities.Extract(content) {
			tags = append(tags, e.Text)
		}
	}

	now := time.Now()
	mem := Memory{
		ID:         newID(),
		UserID:     userID,
		Content:    content,
		Sector:     primary,
		Sectors:    normalizeSectors(primary, secondary),
		Tags:       tags,
		Metadata:   opts.Metadata,
		Salience:   salience,
		DecayScore: salience,
		CreatedAt:  now,
		LastSeenAt: now,
		SessionID:  opts.SessionID,
		ParentID:   opts.ParentID,
	}

	if err := s.store.InsertMemory(mem); err != nil {
		return Memory{}, errInternal("insert memory", err)
	}

	if vec != nil {
		// Upsert a vector row and assign a waypoint for every assigned
		// sector, not just the primary, so secondary sectors are retrievable
		// by Search too (spec §4.4 Insert step 2).
		for _, sec := range mem.Sectors {
			if err := s.index.Upsert(mem.ID, sec, userID, vec); err != nil {
				s.log.Warnw("insert vector failed", "memory_id", mem.ID, "sector", sec, "error", err)
				continue
			}
			if err := assignWaypoint(s.store, sec, mem.ID, vec, s.config.WaypointSimilarityThreshold, s.config.WaypointMaxMembers); err != nil {
				s.log.Warnw("assign waypoint failed", "memory_id", mem.ID, "sector", sec, "error", err)
			}
		}
	}

	if err := s.store.EnforceMemoryLimit(userID, s.config.MaxMemoriesPerUser); err != nil {
		s.log.Warnw("enforce memory limit failed", "user_id", userID, "error", err)
	}

	s.cache.invalidateUser(userID)
	s.log.Infow("memory stored", "id", mem.ID, "sector", primary, "user_id", userID, "tags", len(tags))
	return mem, nil
}

// AddExchange is a convenience wrapper around Insert for a user/assistant
// conversational exchange, preserved from the teacher's dual-message entry
// point. Both sides of the exchange become the stored content; a truncated
// "user → assistant" summary is attached as metadata.
func (s *Synapse) AddExchange(ctx context.Context, userMessage, assistantMessage, userID string, opts AddOptions) (Memory, error) {
	content := userMessage + " | " + assistantMessage
	if opts.Metadata == nil {
		opts.Metadata = map[string]string{}
	}
	opts.Metadata["summary"] = buildConversationSummary(userMessage, assistantMessage, 200)
	opts.UserID = userID
	return s.Insert(ctx, content, opts)
}

// Search retrieves the top-k memories relevant to a query, scored by the
// composite formula (spec §4.4 Query). Results are cached per (user,
// query, sectors, limit) when Config.CacheEnabled is set.
func (s *Synapse) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	userID := opts.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	if opts.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *opts.Deadline)
		defer cancel()
	}

	start := time.Now()
	defer func() { s.metrics.recordSearch(ctx, time.Since(start).Seconds(), userID) }()

	key := cacheKey(userID, opts.Query, opts.Sectors, limit)
	hit := s.cache.has(key)
	s.metrics.recordCacheOutcome(ctx, hit)
	return s.cache.getOrCompute(key, func() ([]SearchResult, error) {
		return s.search(ctx, opts, userID, limit)
	})
}

func (s *Synapse) search(ctx context.Context, opts SearchOptions, userID string, limit int) ([]SearchResult, error) {
	queryVec, err := s.embedder.Embed(ctx, opts.Query, "RETRIEVAL_QUERY")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, newErr(KindDeadlineExceeded, "search deadline exceeded", err)
		}
		return nil, newErr(KindBackendUnavailable, "embed query", err)
	}

	sectors := opts.Sectors
	if len(sectors) == 0 {
		sectors = AllSectors
	}

	overfetch := limit * 4
	if overfetch < 20 {
		overfetch = 20
	}

	var allScored []ScoredID
	degraded := false
	for _, sec := range sectors {
		scored, deg, err := s.index.Search(sec, queryVec, overfetch, userID)
		if err != nil {
			s.log.Warnw("vector search failed", "sector", sec, "error", err)
			continue
		}
		if deg {
			degraded = true
		}
		allScored = append(allScored, scored...)
	}
	if len(allScored) == 0 {
		return nil, nil
	}

	ids := make([]string, len(allScored))
	scoreByID := make(map[string]float64, len(allScored))
	for i, sc := range allScored {
		ids[i] = sc.ID
		scoreByID[sc.ID] = sc.Score
	}

	candidates, err := s.store.GetMemoriesByIDs(ids, userID)
	if err != nil {
		return nil, errInternal("load candidates", err)
	}
	candidates = filterCandidates(candidates, opts)
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return scoreByID[candidates[i].ID] > scoreByID[candidates[j].ID] })
	seedLimit := 20
	if len(candidates) < seedLimit {
		seedLimit = len(candidates)
	}
	linkWeights, paths := expandWaypoints(s.store, candidates[:seedLimit], userID, s.config.MaxExpansion)

	weights := s.config.scoringWeights

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		sim := scoreByID[c.ID]
		days := DaysSince(c.LastSeenAt)
		composite := CompositeScore(sim, c.Salience, days, linkWeights[c.ID], weights)
		results = append(results, SearchResult{
			Memory:         c.Memory,
			CompositeScore: composite,
			Similarity:     sim,
			Path:           paths[c.ID],
			Degraded:       degraded,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompositeScore != results[j].CompositeScore {
			return results[i].CompositeScore > results[j].CompositeScore
		}
		return results[i].ID < results[j].ID // stable tie-break by id ascending (spec invariant 7)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	results = s.guaranteeHighSalience(results, candidates, linkWeights, paths, limit, degraded)

	for _, r := range results {
		if err := s.store.ReinforceSalience(r.ID, s.config.ReinforcementStep); err != nil {
			s.log.Warnw("reinforce failed", "memory_id", r.ID, "error", err)
		}
	}

	if s.config.CoactivationMode != CoactivationDisabled && len(results) > 1 {
		coIDs := make([]string, len(results))
		for i, r := range results {
			coIDs[i] = r.ID
		}
		s.coact.enqueue(coIDs)
	}

	return results, nil
}

// filterCandidates applies SearchOptions' scoping filters that the vector
// index itself doesn't know about (session, salience floor, time window).
func filterCandidates(candidates []memoryWithVector, opts SearchOptions) []memoryWithVector {
	out := candidates[:0]
	for _, c := range candidates {
		if opts.MinSalience > 0 && c.Salience < opts.MinSalience {
			continue
		}
		if opts.SessionID != "" && c.SessionID != opts.SessionID {
			continue
		}
		if opts.After != nil && c.CreatedAt.Before(*opts.After) {
			continue
		}
		if opts.Before != nil && c.CreatedAt.After(*opts.Before) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// guaranteeHighSalience ensures the user's highest-salience memories appear
// in results even if their semantic similarity to the current query is low
// — e.g. an explicit "call me X" preference shouldn't be buried just
// because a new query is a casual greeting that doesn't match semantically.
func (s *Synapse) guaranteeHighSalience(results []SearchResult, candidates []memoryWithVector, linkWeights map[string]float64, paths map[string][]string, limit int, degraded bool) []SearchResult {
	const salienceThreshold = 0.6 // only boost memories that have been reinforced
	const maxBoosts = 2           // inject at most 2 high-salience memories

	inResults := make(map[string]bool, len(results))
	for _, r := range results {
		inResults[r.ID] = true
	}

	var boost []SearchResult
	for _, c := range candidates {
		if inResults[c.ID] || c.Salience < salienceThreshold {
			continue
		}
		days := DaysSince(c.LastSeenAt)
		composite := CompositeScore(0, c.Salience, days, linkWeights[c.ID], s.config.scoringWeights)
		boost = append(boost, SearchResult{
			Memory:         c.Memory,
			CompositeScore: composite,
			Path:           paths[c.ID],
			Degraded:       degraded,
		})
	}
	if len(boost) == 0 {
		return results
	}

	sort.Slice(boost, func(i, j int) bool { return boost[i].Salience > boost[j].Salience })

	injected := 0
	for _, b := range boost {
		if injected >= maxBoosts {
			break
		}
		if len(results) >= limit {
			slot := len(results) - 1 - injected
			if slot < 0 {
				break
			}
			results[slot] = b
		} else {
			results = append(results, b)
		}
		injected++
	}
	return results
}

// Reinforce boosts a memory's salience directly (spec §4.4 Reinforce),
// independent of a search hit.
func (s *Synapse) Reinforce(id, userID string, boost float64) error {
	m, err := s.store.GetMemory(id, userID)
	if err != nil {
		return err
	}
	if boost == 0 {
		boost = s.config.ReinforcementStep
	}
	if err := s.store.ReinforceSalience(id, boost); err != nil {
		return err
	}
	s.cache.invalidateUser(m.UserID)
	return nil
}

// Get loads a single memory by id, enforcing ownership when userID is non-empty.
func (s *Synapse) Get(id, userID string, _ GetOptions) (Memory, error) {
	return s.store.GetMemory(id, userID)
}

// List pages through a user's memories, newest first.
func (s *Synapse) List(opts ListOptions) ([]Memory, error) {
	userID := opts.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListMemories(userID, opts.Sector, limit, opts.Offset)
}

// GetSession returns every memory in a session, oldest first.
func (s *Synapse) GetSession(sessionID string) ([]Memory, error) {
	return s.store.GetSessionMemories(sessionID)
}

// GetLastSession returns the most recent session id for userID and its memories.
func (s *Synapse) GetLastSession(userID string) (string, []Memory, error) {
	sessionID, err := s.store.GetLastSessionID(userID)
	if err != nil || sessionID == "" {
		return "", nil, err
	}
	mems, err := s.store.GetSessionMemories(sessionID)
	return sessionID, mems, err
}

// Delete removes a single memory (spec §4.4 Delete).
func (s *Synapse) Delete(id, userID string) error {
	if err := s.store.DeleteMemory(id, userID); err != nil {
		return err
	}
	if err := s.index.Delete(id, ""); err != nil {
		s.log.Warnw("vector index delete failed", "memory_id", id, "error", err)
	}
	s.cache.invalidateUser(userID)
	return nil
}

// Wipe deletes every memory owned by userID (spec §4.4 Wipe). userID must
// be non-empty — callers (the router, MCP tools) are responsible for
// confirming intent before calling this.
func (s *Synapse) Wipe(userID string) error {
	if userID == "" {
		return errInvalidInput("wipe requires a user id")
	}
	ids, err := s.userMemoryIDs(userID)
	if err != nil {
		return err
	}
	if err := s.store.WipeUser(userID); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.index.Delete(id, ""); err != nil {
			s.log.Warnw("vector index delete failed during wipe", "memory_id", id, "error", err)
		}
	}
	s.cache.invalidateUser(userID)
	return nil
}

func (s *Synapse) userMemoryIDs(userID string) ([]string, error) {
	mems, err := s.store.ListMemories(userID, "", 1_000_000, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	return ids, nil
}

// Close stops background workers and closes the store.
func (s *Synapse) Close() error {
	if s.cancelDecay != nil {
		s.cancelDecay()
	}
	if s.cancelReflect != nil {
		s.cancelReflect()
	}
	s.coact.stop()
	if s.shutdownMetrics != nil {
		if err := s.shutdownMetrics(context.Background()); err != nil {
			s.log.Warnw("metrics provider shutdown failed", "error", err)
		}
	}
	return s.store.Close()
}

// buildConversationSummary creates a summary from both sides of an exchange.
// Prioritizes the user message since that's what matters for recall. Format:
// "user message → assistant response" with a 60/40 budget split.
func buildConversationSummary(userMessage, assistantMessage string, maxLen int) string {
	userBudget := maxLen * 60 / 100
	npcBudget := maxLen - userBudget - 5 // account for " → " separator

	userPart := truncateSummary(userMessage, userBudget)
	npcPart := truncateSummary(assistantMessage, npcBudget)

	return userPart + " → " + npcPart
}

// truncateSummary returns the first n characters of s, breaking at a word boundary.
func truncateSummary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && s[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return s[:cut] + "..."
}
