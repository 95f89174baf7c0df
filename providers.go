package synapse

import "context"

// EmbeddingProvider generates vector embeddings from text (C1, spec §4.1).
// Built-ins: SyntheticEmbedder, GeminiEmbedder, OpenAIEmbedder, OllamaEmbedder.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Dimension() int
}

// SectorClassifier assigns a memory to a primary and secondary sectors (C3, spec §4.3).
// Built-in: HeuristicClassifier (keyword scoring + optional LLM disambiguation).
type SectorClassifier interface {
	Classify(content string) (primary Sector, secondary []Sector)
}

// EntityExtractor pulls entities from memory content to seed default tags.
// Built-in: DefaultEntityExtractor (brackets, quotes, capitalized phrases, known entities).
type EntityExtractor interface {
	Extract(content string) []Entity
}
