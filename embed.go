package synapse

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// SyntheticEmbedder is a deterministic, hash-based embedder requiring no
// network call (spec §4.1). Each text is hashed with SHA-256, expanded into
// `dimension` pseudo-random floats seeded from the digest, then
// L2-normalized so cosine similarity behaves sanely. Implements
// EmbeddingProvider. Used as TierFast's sole provider and as one half of
// TierHybrid's blend.
type SyntheticEmbedder struct {
	dimension int
}

// NewSyntheticEmbedder creates a synthetic embedder of the given dimension.
func NewSyntheticEmbedder(dimension int) *SyntheticEmbedder {
	return &SyntheticEmbedder{dimension: dimension}
}

// Embed is deterministic: the same text always yields the same vector, and
// the taskType parameter is accepted for interface compatibility but
// ignored (a hash embedder has no notion of query vs. document).
func (e *SyntheticEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	block := 0
	digest := sha256.Sum256([]byte(text))
	for i := range vec {
		if i%8 == 0 && i != 0 {
			block++
			digest = sha256.Sum256(digest[:])
		}
		offset := (i % 8) * 4
		bits := binary.LittleEndian.Uint32(digest[offset : offset+4])
		// Map uint32 to [-1, 1].
		vec[i] = float32(bits)/float32(math.MaxUint32)*2 - 1
	}
	return l2Normalize(vec), nil
}

// Dimension returns the configured embedding dimension.
func (e *SyntheticEmbedder) Dimension() int { return e.dimension }

// TierSelector resolves Config.Tier + Config.EmbeddingsKind to a concrete
// EmbeddingProvider, blending synthetic and hosted embeddings for
// TierHybrid (spec §4.1).
type TierSelector struct {
	synthetic *SyntheticEmbedder
	hosted    EmbeddingProvider // nil unless a hosted provider is configured
	tier      EmbeddingTier
	dimension int
}

// NewTierSelector builds the blending facade. hosted may be nil, in which
// case TierSmart/TierDeep/TierHybrid all fall back to synthetic-only.
func NewTierSelector(tier EmbeddingTier, dimension int, hosted EmbeddingProvider) *TierSelector {
	return &TierSelector{
		synthetic: NewSyntheticEmbedder(dimension),
		hosted:    hosted,
		tier:      tier,
		dimension: dimension,
	}
}

// Embed dispatches per the configured tier.
func (t *TierSelector) Embed(ctx context.Context, text, taskType string) ([]float32, error) {
	switch t.tier {
	case TierFast:
		return t.synthetic.Embed(ctx, text, taskType)
	case TierSmart, TierDeep:
		if t.hosted == nil {
			return t.synthetic.Embed(ctx, text, taskType)
		}
		return t.hosted.Embed(ctx, text, taskType)
	case TierHybrid:
		return t.blend(ctx, text, taskType)
	default:
		return t.synthetic.Embed(ctx, text, taskType)
	}
}

// blend combines synthetic + hosted embeddings at a fixed α=0.5, then
// L2-renormalizes the sum so cosine similarity remains equivalent to a dot
// product over the blended vectors (spec §4.1).
func (t *TierSelector) blend(ctx context.Context, text, taskType string) ([]float32, error) {
	synthVec, err := t.synthetic.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if t.hosted == nil {
		return synthVec, nil
	}
	hostedVec, err := t.hosted.Embed(ctx, text, taskType)
	if err != nil {
		return synthVec, nil // graceful degradation: fall back to synthetic-only
	}
	if len(hostedVec) != len(synthVec) {
		return nil, fmt.Errorf("synapse: hybrid blend dimension mismatch: synthetic=%d hosted=%d", len(synthVec), len(hostedVec))
	}

	const alpha = 0.5
	blended := make([]float32, len(synthVec))
	for i := range blended {
		blended[i] = alpha*synthVec[i] + (1-alpha)*hostedVec[i]
	}
	return l2Normalize(blended), nil
}

// Dimension returns the configured embedding dimension.
func (t *TierSelector) Dimension() int { return t.dimension }
