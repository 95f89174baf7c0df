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

// secondarySectorThreshold is the score a non-primary sector must cross to
// be included as a secondary sector (spec §4.3).
const secondarySectorThreshold = 0.4

// HeuristicClassifier determines which cognitive sector(s) a memory belongs
// to. Uses keyword heuristics (zero-cost, deterministic), with an optional
// Gemini fallback for disambiguating a low-confidence primary sector.
// Implements SectorClassifier.
type HeuristicClassifier struct {
	apiKey string
	client *http.Client
	log    *zap.SugaredLogger
}

// NewHeuristicClassifier creates a sector classifier. If apiKey is empty,
// only heuristic classification is used (no LLM fallback).
func NewHeuristicClassifier(apiKey string) *HeuristicClassifier {
	return &HeuristicClassifier{
		apiKey: apiKey,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    newLogger(),
	}
}

// Classify determines the primary sector and any secondary sectors for a
// piece of memory content. Primary is the argmax of the heuristic scores
// (LLM-disambiguated when low-confidence and an API key is configured);
// secondaries are every other sector scoring >= secondarySectorThreshold.
// Deterministic for a given input (no RNG is involved).
func (c *HeuristicClassifier) Classify(content string) (Sector, []Sector) {
	scores := c.heuristicScores(content)
	primary, confidence := argmaxSector(scores)

	if confidence < 0.6 && c.apiKey != "" {
		if geminiSector, err := c.geminiClassify(content); err == nil {
			primary = geminiSector
		} else {
			c.log.Warnw("gemini classify fallback failed", "error", err)
		}
	}

	var secondary []Sector
	for _, s := range AllSectors {
		if s == primary {
			continue
		}
		if scores[s] >= secondarySectorThreshold {
			secondary = append(secondary, s)
		}
	}
	return primary, secondary
}

// argmaxSector picks the highest-scoring sector, breaking ties by the fixed
// preference order semantic > episodic > procedural > reflective > emotional.
func argmaxSector(scores map[Sector]float64) (Sector, float64) {
	best := SectorSemantic
	bestScore := -1.0
	for _, s := range AllSectors {
		if scores[s] > bestScore {
			bestScore = scores[s]
			best = s
		}
	}
	if bestScore > 1.0 {
		bestScore = 1.0
	}
	return best, bestScore
}

// heuristicScores scores content against each sector's keyword lexicon.
func (c *HeuristicClassifier) heuristicScores(content string) map[Sector]float64 {
	lower := strings.ToLower(content)

	scores := map[Sector]float64{
		SectorEpisodic:   0,
		SectorSemantic:   0,
		SectorProcedural: 0,
		SectorEmotional:  0,
		SectorReflective: 0,
	}

	episodicSignals := []string{
		"last time", "remember when", "yesterday", "came in", "visited",
		"was here", "stopped by", "showed up", "dropped by", "earlier",
		"that time", "the other day", "first time", "came back", "returned",
	}
	for _, s := range episodicSignals {
		if strings.Contains(lower, s) {
			scores[SectorEpisodic] += 0.3
		}
	}

	semanticSignals := []string{
		"likes", "prefers", "is a", "works at", "always", "favorite",
		"usually", "enjoys", "listens to", "fan of", "into", "plays",
		"from", "lives in", "speaks", "knows about",
	}
	for _, s := range semanticSignals {
		if strings.Contains(lower, s) {
			scores[SectorSemantic] += 0.3
		}
	}

	proceduralSignals := []string{
		"how to", "can do", "knows how", "skill", "technique",
		"method", "approach", "process", "step", "instruction",
	}
	for _, s := range proceduralSignals {
		if strings.Contains(lower, s) {
			scores[SectorProcedural] += 0.3
		}
	}

	emotionalSignals := []string{
		"feel", "love", "hate", "happy", "sad", "enjoy", "afraid",
		"angry", "excited", "nervous", "comfortable", "miss", "appreciate",
		"friendly", "rude", "kind", "warm", "cold", "annoyed", "grateful",
		"sweet", "nice", "mean", "fun", "boring",
	}
	for _, s := range emotionalSignals {
		if strings.Contains(lower, s) {
			scores[SectorEmotional] += 0.3
		}
	}

	reflectiveSignals := []string{
		"pattern", "notice that", "tend to", "seem to", "often",
		"every time", "consistently", "in general", "overall",
		"reflects", "suggests", "implies", "correlat",
	}
	for _, s := range reflectiveSignals {
		if strings.Contains(lower, s) {
			scores[SectorReflective] += 0.3
		}
	}

	for s, v := range scores {
		if v > 1.0 {
			scores[s] = 1.0
		}
	}
	return scores
}

// geminiClassify uses Gemini to pick one sector when heuristics are ambiguous.
func (c *HeuristicClassifier) geminiClassify(content string) (Sector, error) {
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent?key=" + c.apiKey

	prompt := `Classify this memory into exactly one sector. Reply with ONLY the sector name, nothing else.
Sectors: episodic (events/experiences), semantic (facts/knowledge), emotional (feelings/sentiment), procedural (skills/how-to), reflective (patterns/insights)

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

	resp, err := c.client.Do(req)
	if err != nil {
		return SectorSemantic, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return SectorSemantic, &classifyError{status: resp.StatusCode, body: string(body)}
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

type classifyError struct {
	status int
	body   string
}

func (e *classifyError) Error() string {
	if e.status > 0 {
		return "gemini classify " + http.StatusText(e.status) + ": " + e.body
	}
	return "gemini classify: " + e.body
}
