package synapse

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LLMClassifier provides synchronous heuristic classification with async LLM
// reclassification. Classify returns the heuristic result immediately (zero
// latency on the Insert path); SubmitForReclassification queues a memory for
// background Gemini-based reclassification, which updates the stored sector
// only when the LLM disagrees with the heuristic.
type LLMClassifier struct {
	heuristic *HeuristicClassifier
	apiKey    string
	baseURL   string // overridable for tests
	client    *http.Client
	store     MetadataStore
	log       *zap.SugaredLogger
	reclassCh chan reclassRequest
	done      chan struct{}
}

type reclassRequest struct {
	memoryID string
	content  string
}

const (
	reclassBufferSize = 64                     // max pending reclassifications
	reclassTimeout    = 10 * time.Second        // per-request timeout
	reclassDelay      = 200 * time.Millisecond  // delay between requests (rate limit)
)

// NewLLMClassifier creates a classifier that uses heuristics synchronously
// and LLM reclassification asynchronously. The background worker starts
// immediately and runs until Close is called.
func NewLLMClassifier(apiKey string, store MetadataStore) *LLMClassifier {
	lc := &LLMClassifier{
		heuristic: NewHeuristicClassifier(""), // no API key: pure heuristic, no fallback
		apiKey:    apiKey,
		baseURL:   "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent",
		client:    &http.Client{Timeout: reclassTimeout},
		store:     store,
		log:       newLogger(),
		reclassCh: make(chan reclassRequest, reclassBufferSize),
		done:      make(chan struct{}),
	}
	go lc.worker()
	return lc
}

// Classify returns the heuristic primary/secondary sectors immediately.
// Satisfies SectorClassifier; adds zero latency to Insert.
func (lc *LLMClassifier) Classify(content string) (Sector, []Sector) {
	return lc.heuristic.Classify(content)
}

// SubmitForReclassification queues a memory for async LLM reclassification.
// Non-blocking: if the buffer is full, the request is dropped silently — the
// heuristic sector is kept, which is acceptable, and this bounds worst-case
// memory growth under load.
func (lc *LLMClassifier) SubmitForReclassification(memoryID, content string) {
	select {
	case lc.reclassCh <- reclassRequest{memoryID: memoryID, content: content}:
	default:
	}
}

// Close stops the background worker and waits for it to drain.
func (lc *LLMClassifier) Close() {
	close(lc.reclassCh)
	<-lc.done
}

func (lc *LLMClassifier) worker() {
	defer close(lc.done)
	for req := range lc.reclassCh {
		lc.reclassify(req)
		time.Sleep(reclassDelay)
	}
}

// reclassify calls Gemini to classify the content and updates the stored
// sector only if the LLM disagrees with the heuristic.
func (lc *LLMClassifier) reclassify(req reclassRequest) {
	llmSector, err := lc.llmClassify(req.content)
	if err != nil {
		lc.log.Warnw("llm reclassify failed", "memory_id", req.memoryID, "error", err)
		return
	}

	heuristicSector, secondary := lc.heuristic.Classify(req.content)
	if llmSector == heuristicSector {
		return
	}

	if err := lc.store.UpdateMemorySector(req.memoryID, llmSector, secondary); err != nil {
		lc.log.Warnw("update sector failed", "memory_id", req.memoryID, "error", err)
		return
	}

	lc.log.Infow("reclassified memory", "memory_id", req.memoryID, "from", heuristicSector, "to", llmSector)
}

// llmClassify calls Gemini to classify content into a single sector.
func (lc *LLMClassifier) llmClassify(content string) (Sector, error) {
	url := lc.baseURL + "?key=" + lc.apiKey

	prompt := `Classify this memory into exactly one cognitive sector. Reply with ONLY the sector name, nothing else.

Sectors:
- episodic: specific events, experiences, things that happened at a particular time
- semantic: facts, knowledge, preferences, stable truths about someone
- procedural: skills, techniques, how-to knowledge, learned methods
- emotional: feelings, sentiments, emotional reactions, moods
- reflective: patterns, meta-observations, insights connecting multiple experiences

Memory: "` + content + `"`

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": 10,
			"temperature":     0.0,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return SectorSemantic, err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return SectorSemantic, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lc.client.Do(req)
	if err != nil {
		return SectorSemantic, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return SectorSemantic, &classifyError{status: resp.StatusCode, body: string(body[:min(len(body), 300)])}
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return SectorSemantic, err
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return SectorSemantic, &classifyError{body: "empty response"}
	}

	text := strings.TrimSpace(strings.ToLower(geminiResp.Candidates[0].Content.Parts[0].Text))
	switch {
	case strings.Contains(text, "episodic"):
		return SectorEpisodic, nil
	case strings.Contains(text, "semantic"):
		return SectorSemantic, nil
	case strings.Contains(text, "procedural"):
		return SectorProcedural, nil
	case strings.Contains(text, "emotional"):
		return SectorEmotional, nil
	case strings.Contains(text, "reflective"):
		return SectorReflective, nil
	default:
		return SectorSemantic, nil
	}
}
