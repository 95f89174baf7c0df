// synapse-mcp exposes the synapse memory engine as an MCP stdio server.
//
// Environment variables:
//
//	SYNAPSE_DB_PATH    — SQLite database path (default: ./data/synapse.db)
//	GEMINI_API_KEY     — Gemini API key for the sector classifier's LLM fallback
//	SYNAPSE_EMBEDDINGS — hosted embedding provider name (openai, gemini, ollama)
//	OPENAI_API_KEY     — OpenAI API key for SYNAPSE_EMBEDDINGS=openai
//
// No Tier is set here, so the engine runs at the default fast tier, which
// embeds with the synthetic embedder and does not call the hosted provider
// named by SYNAPSE_EMBEDDINGS. No ReflectionProvider is configured, so the
// reflect tool returns an error.
//
// Usage:
//
//	go install github.com/synapseproj/synapse/cmd/synapse-mcp
//	synapse-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	synapse "github.com/synapseproj/synapse"
)

func main() {
	dbPath := os.Getenv("SYNAPSE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/synapse.db"
	}

	cfg := synapse.Config{
		DBPath:         dbPath,
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		EmbeddingsKind: os.Getenv("SYNAPSE_EMBEDDINGS"),
	}

	s, err := synapse.Init(cfg)
	if err != nil {
		log.Fatalf("synapse init: %v", err)
	}
	defer s.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "synapse-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remember",
		Description: "Store a memory from a conversation exchange. Returns the memory ID for chaining.",
	}, rememberHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall",
		Description: "Search memories by semantic similarity with composite scoring. Supports temporal and sector filters.",
	}, recallHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reflect",
		Description: "Trigger reflective synthesis — analyze recent memories and generate higher-order observations. Requires a ReflectionProvider to be configured.",
	}, reflectHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session",
		Description: "Retrieve all memories from a conversation session. If no session_id is given, returns the user's most recent session.",
	}, getSessionHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inspect",
		Description: "Browse recent memories for a user. Useful for debugging and understanding what the character remembers.",
	}, inspectHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_batch",
		Description: "Store a contextual memory, a batch of temporal facts, or both cross-linked via source_memory_id (unified store, spec type=contextual|factual|both).",
	}, storeBatchHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_batch",
		Description: "Delete a batch of memories by ID for a user.",
	}, deleteBatchHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_fact",
		Description: "Update a temporal fact's confidence and/or metadata, or invalidate it as of a given time.",
	}, updateFactHandler(s))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("synapse-mcp: %v", err)
	}
}

// --- Input types ---

type rememberInput struct {
	UserID           string  `json:"user_id"               jsonschema:"User/character pair ID, e.g. lily:player123"`
	UserMessage      string  `json:"user_message"          jsonschema:"What the user said"`
	AssistantMessage string  `json:"assistant_message"     jsonschema:"What the character/assistant replied"`
	SessionID        string  `json:"session_id,omitempty"  jsonschema:"Optional conversation session ID for threading"`
	ParentID         string  `json:"parent_id,omitempty"   jsonschema:"Optional parent memory ID for conversation chains"`
	SectorHint       string  `json:"sector_hint,omitempty" jsonschema:"Optional sector override: episodic, semantic, procedural, emotional, reflective"`
	Salience         float64 `json:"salience,omitempty"    jsonschema:"Optional salience score 0.0-1.0 (default 0.5)"`
}

type recallInput struct {
	Query     string   `json:"query"               jsonschema:"Search query to find relevant memories"`
	UserID    string   `json:"user_id"              jsonschema:"User/character pair ID"`
	Limit     int      `json:"limit,omitempty"      jsonschema:"Max results to return (default 5)"`
	SessionID string   `json:"session_id,omitempty" jsonschema:"Filter to a specific session"`
	Sectors   []string `json:"sectors,omitempty"    jsonschema:"Filter to specific sectors: episodic, semantic, procedural, emotional, reflective"`
	After     string   `json:"after,omitempty"      jsonschema:"Only memories after this RFC3339 timestamp"`
	Before    string   `json:"before,omitempty"     jsonschema:"Only memories before this RFC3339 timestamp"`
	Type      string   `json:"type,omitempty"       jsonschema:"contextual, factual, or unified (default unified)"`
	Subject   string   `json:"fact_subject,omitempty"   jsonschema:"Factual query: subject, blank for wildcard"`
	Predicate string   `json:"fact_predicate,omitempty" jsonschema:"Factual query: predicate, blank for wildcard"`
	Object    string   `json:"fact_object,omitempty"     jsonschema:"Factual query: object, blank for wildcard"`
	At        string   `json:"at,omitempty"              jsonschema:"Factual query: RFC3339 timestamp, default now"`
}

type reflectInput struct {
	UserID           string   `json:"user_id"                     jsonschema:"User/character pair ID"`
	CharacterContext string   `json:"character_context,omitempty" jsonschema:"Character personality description to shape reflections"`
	MemoryWindow     int      `json:"memory_window,omitempty"     jsonschema:"How many recent memories to analyze (default 50)"`
	Sectors          []string `json:"sectors,omitempty"           jsonschema:"Which sectors to draw from"`
	MinMemories      int      `json:"min_memories,omitempty"      jsonschema:"Minimum memories needed before reflecting (default 5)"`
}

type getSessionInput struct {
	UserID    string `json:"user_id"              jsonschema:"User/character pair ID (required when getting last session)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Specific session ID. If empty, returns the last session for the user."`
}

type inspectInput struct {
	UserID  string   `json:"user_id"            jsonschema:"User/character pair ID"`
	Limit   int      `json:"limit,omitempty"    jsonschema:"Max memories to list (default 20)"`
	Sectors []string `json:"sectors,omitempty"  jsonschema:"Filter to specific sectors"`
}

type factInput struct {
	Subject    string            `json:"subject"              jsonschema:"Fact subject"`
	Predicate  string            `json:"predicate"            jsonschema:"Fact predicate"`
	Object     string            `json:"object"               jsonschema:"Fact object"`
	Confidence float64           `json:"confidence,omitempty" jsonschema:"Confidence 0.0-1.0, default 1.0"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type storeBatchInput struct {
	UserID           string      `json:"user_id"                jsonschema:"User/character pair ID"`
	Type             string      `json:"type"                   jsonschema:"contextual, factual, or both"`
	Content          string      `json:"content,omitempty"      jsonschema:"Memory content (required for type=contextual|both)"`
	Facts            []factInput `json:"facts,omitempty"        jsonschema:"Facts to store (required for type=factual|both)"`
	Tags             []string    `json:"tags,omitempty"`
	SectorHint       string      `json:"sector_hint,omitempty"`
	Salience         float64     `json:"salience,omitempty"`
	SessionID        string      `json:"session_id,omitempty"`
}

type deleteBatchInput struct {
	UserID     string   `json:"user_id"      jsonschema:"User/character pair ID"`
	MemoryIDs  []string `json:"memory_ids"   jsonschema:"Memory IDs to delete"`
}

type updateFactInput struct {
	UserID     string            `json:"user_id"               jsonschema:"User/character pair ID"`
	FactID     string            `json:"fact_id"                jsonschema:"Fact ID to update"`
	Confidence float64           `json:"confidence,omitempty"   jsonschema:"New confidence, omit to leave unchanged"`
	Metadata   map[string]string `json:"metadata,omitempty"     jsonschema:"Metadata keys to merge"`
	InvalidateAt string          `json:"invalidate_at,omitempty" jsonschema:"RFC3339 timestamp to close the fact's validity at"`
}

// --- Handlers ---

func rememberHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, rememberInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input rememberInput) (*mcp.CallToolResult, any, error) {
		mem, err := s.AddExchange(ctx, input.UserMessage, input.AssistantMessage, input.UserID, synapse.AddOptions{
			SessionID:  input.SessionID,
			ParentID:   input.ParentID,
			SectorHint: synapse.Sector(input.SectorHint),
			Salience:   input.Salience,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(jsonString(map[string]any{
			"memory_id": mem.ID,
			"status":    "stored",
		})), nil, nil
	}
}

func recallHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, recallInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input recallInput) (*mcp.CallToolResult, any, error) {
		opts := synapse.RecallOptions{
			Type:      synapse.QueryType(input.Type),
			UserID:    input.UserID,
			Limit:     input.Limit,
			SessionID: input.SessionID,
			FactPattern: synapse.FactPattern{
				Subject:   input.Subject,
				Predicate: input.Predicate,
				Object:    input.Object,
			},
		}
		for _, sec := range input.Sectors {
			opts.Sectors = append(opts.Sectors, synapse.Sector(sec))
		}
		if input.After != "" {
			t, err := time.Parse(time.RFC3339, input.After)
			if err != nil {
				return textResult(fmt.Sprintf("invalid 'after' timestamp: %v", err)), nil, nil
			}
			opts.After = &t
		}
		if input.Before != "" {
			t, err := time.Parse(time.RFC3339, input.Before)
			if err != nil {
				return textResult(fmt.Sprintf("invalid 'before' timestamp: %v", err)), nil, nil
			}
			opts.Before = &t
		}
		if input.At != "" {
			t, err := time.Parse(time.RFC3339, input.At)
			if err != nil {
				return textResult(fmt.Sprintf("invalid 'at' timestamp: %v", err)), nil, nil
			}
			opts.At = t
		}

		result, err := s.Recall(ctx, input.Query, opts)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := map[string]any{}
		if result.Contextual != nil {
			contextual := make([]map[string]any, len(result.Contextual))
			for i, r := range result.Contextual {
				contextual[i] = searchResultToMap(r)
			}
			out["contextual"] = contextual
		}
		if result.Factual != nil {
			factual := make([]map[string]any, len(result.Factual))
			for i, f := range result.Factual {
				factual[i] = factToMap(f)
			}
			out["factual"] = factual
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func reflectHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, reflectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input reflectInput) (*mcp.CallToolResult, any, error) {
		opts := synapse.ReflectOptions{
			UserID:           input.UserID,
			CharacterContext: input.CharacterContext,
			MemoryWindow:     input.MemoryWindow,
			MinMemories:      input.MinMemories,
		}
		for _, sec := range input.Sectors {
			opts.Sectors = append(opts.Sectors, synapse.Sector(sec))
		}

		memories, err := s.Reflect(ctx, opts)
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		if len(memories) == 0 {
			return textResult(`{"status": "no_new_reflections", "message": "Not enough memories or all observations are duplicates"}`), nil, nil
		}

		out := make([]map[string]any, len(memories))
		for i, m := range memories {
			out[i] = memoryToMap(m)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func getSessionHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, getSessionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getSessionInput) (*mcp.CallToolResult, any, error) {
		var memories []synapse.Memory
		var err error

		if input.SessionID != "" {
			memories, err = s.GetSession(input.SessionID)
		} else if input.UserID != "" {
			_, memories, err = s.GetLastSession(input.UserID)
		} else {
			return textResult(`{"error": "provide either session_id or user_id"}`), nil, nil
		}

		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := make([]map[string]any, len(memories))
		for i, m := range memories {
			out[i] = memoryToMap(m)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func inspectHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, inspectInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input inspectInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}

		var sector synapse.Sector
		if len(input.Sectors) > 0 {
			sector = synapse.Sector(input.Sectors[0])
		}

		memories, err := s.List(synapse.ListOptions{UserID: input.UserID, Limit: limit, Sector: sector})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := make([]map[string]any, len(memories))
		for i, m := range memories {
			out[i] = memoryToMap(m)
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func storeBatchHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, storeBatchInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input storeBatchInput) (*mcp.CallToolResult, any, error) {
		facts := make([]synapse.TemporalFact, len(input.Facts))
		for i, f := range input.Facts {
			confidence := f.Confidence
			if confidence == 0 {
				confidence = 1.0
			}
			facts[i] = synapse.TemporalFact{
				UserID:     input.UserID,
				Subject:    f.Subject,
				Predicate:  f.Predicate,
				Object:     f.Object,
				ValidFrom:  time.Now(),
				Confidence: confidence,
				Metadata:   f.Metadata,
			}
		}

		result, err := s.Store(ctx, input.Content, synapse.StoreOptions{
			Type:       synapse.QueryType(input.Type),
			UserID:     input.UserID,
			Tags:       input.Tags,
			SectorHint: synapse.Sector(input.SectorHint),
			Salience:   input.Salience,
			SessionID:  input.SessionID,
			Facts:      facts,
		})
		if err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}

		out := map[string]any{}
		if result.Memory != nil {
			out["memory"] = memoryToMap(*result.Memory)
		}
		if result.FactIDs != nil {
			out["fact_ids"] = result.FactIDs
		}
		return textResult(jsonString(out)), nil, nil
	}
}

func deleteBatchHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, deleteBatchInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input deleteBatchInput) (*mcp.CallToolResult, any, error) {
		var failed []string
		for _, id := range input.MemoryIDs {
			if err := s.Delete(id, input.UserID); err != nil {
				failed = append(failed, id)
			}
		}
		return textResult(jsonString(map[string]any{
			"deleted": len(input.MemoryIDs) - len(failed),
			"failed":  failed,
		})), nil, nil
	}
}

func updateFactHandler(s *synapse.Synapse) func(context.Context, *mcp.CallToolRequest, updateFactInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input updateFactInput) (*mcp.CallToolResult, any, error) {
		if input.InvalidateAt != "" {
			t, err := time.Parse(time.RFC3339, input.InvalidateAt)
			if err != nil {
				return textResult(fmt.Sprintf("invalid 'invalidate_at' timestamp: %v", err)), nil, nil
			}
			if err := s.InvalidateFact(input.FactID, input.UserID, t); err != nil {
				return textResult(fmt.Sprintf("error: %v", err)), nil, nil
			}
			return textResult(`{"status": "invalidated"}`), nil, nil
		}

		var confidence *float64
		if input.Confidence != 0 {
			confidence = &input.Confidence
		}
		if err := s.UpdateFact(input.FactID, input.UserID, confidence, input.Metadata); err != nil {
			return textResult(fmt.Sprintf("error: %v", err)), nil, nil
		}
		return textResult(`{"status": "updated"}`), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func memoryToMap(m synapse.Memory) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"content":     m.Content,
		"sector":      m.Sector,
		"salience":    m.Salience,
		"decay_score": m.DecayScore,
		"tags":        m.Tags,
		"session_id":  m.SessionID,
		"parent_id":   m.ParentID,
		"created_at":  m.CreatedAt.Format(time.RFC3339),
	}
}

func searchResultToMap(r synapse.SearchResult) map[string]any {
	m := memoryToMap(r.Memory)
	m["composite_score"] = r.CompositeScore
	m["similarity"] = r.Similarity
	m["path"] = r.Path
	m["degraded"] = r.Degraded
	return m
}

func factToMap(f synapse.TemporalFact) map[string]any {
	out := map[string]any{
		"id":           f.ID,
		"subject":      f.Subject,
		"predicate":    f.Predicate,
		"object":       f.Object,
		"confidence":   f.Confidence,
		"valid_from":   f.ValidFrom.Format(time.RFC3339),
		"is_current":   f.IsCurrent(),
		"last_updated": f.LastUpdated.Format(time.RFC3339),
	}
	if f.ValidTo != nil {
		out["valid_to"] = f.ValidTo.Format(time.RFC3339)
	}
	return out
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}
