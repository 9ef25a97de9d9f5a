// Package retrieval looks up reference documentation relevant to a request
// by embedding similarity over a local corpus.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/llm"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// ErrUnavailable means the reference index cannot serve queries: no corpus,
// no embedder or no credentials.
var ErrUnavailable = errors.New("reference index unavailable")

const embedBatchSize = 16

// EmbeddingCache persists vectors across index rebuilds.
type EmbeddingCache interface {
	CachedEmbedding(ctx context.Context, model, text string) ([]float32, bool, error)
	PutEmbedding(ctx context.Context, model, text string, vec []float32) error
}

type entry struct {
	doc    Document
	vector []float32
}

// Index is an in-memory vector index over corpus documents.
type Index struct {
	mu       sync.RWMutex
	entries  []entry
	embedder llm.Embedder
	cache    EmbeddingCache
	logger   *zap.Logger
}

// NewIndex creates an empty index. cache may be nil.
func NewIndex(embedder llm.Embedder, cache EmbeddingCache, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{embedder: embedder, cache: cache, logger: logger}
}

// Size returns the number of indexed documents.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Rebuild embeds docs and atomically replaces the index contents.
func (x *Index) Rebuild(ctx context.Context, docs []Document) error {
	if x.embedder == nil {
		return fmt.Errorf("%w: no embedder configured", ErrUnavailable)
	}
	model := x.embedder.EmbeddingModel()

	entries := make([]entry, len(docs))
	var missing []int
	for i, d := range docs {
		entries[i].doc = d
		if x.cache == nil {
			missing = append(missing, i)
			continue
		}
		vec, ok, err := x.cache.CachedEmbedding(ctx, model, d.Content)
		if err != nil {
			x.logger.Warn("embedding cache read failed", zap.String("doc", d.ID), zap.Error(err))
		}
		if ok {
			entries[i].vector = vec
		} else {
			missing = append(missing, i)
		}
	}

	for start := 0; start < len(missing); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = entries[idx].doc.Content
		}

		vecs, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embed corpus: %v", ErrUnavailable, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed corpus: got %d vectors for %d documents", len(vecs), len(batch))
		}
		for j, idx := range batch {
			entries[idx].vector = vecs[j]
			if x.cache != nil {
				if err := x.cache.PutEmbedding(ctx, model, texts[j], vecs[j]); err != nil {
					x.logger.Warn("embedding cache write failed", zap.String("doc", entries[idx].doc.ID), zap.Error(err))
				}
			}
		}
	}

	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()

	x.logger.Info("reference index rebuilt",
		zap.Int("documents", len(entries)),
		zap.Int("embedded", len(missing)),
		zap.String("model", model))
	return nil
}

// Retrieve returns the topK documents most similar to query, best first.
func (x *Index) Retrieve(ctx context.Context, query string, topK int) ([]types.Reference, error) {
	if x.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrUnavailable)
	}

	x.mu.RLock()
	entries := x.entries
	x.mu.RUnlock()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: corpus is empty", ErrUnavailable)
	}

	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embed query returned %d vectors", ErrUnavailable, len(vecs))
	}

	refs := make([]types.Reference, 0, len(entries))
	for _, e := range entries {
		score, err := CosineSimilarity(vecs[0], e.vector)
		if err != nil {
			continue
		}
		refs = append(refs, types.Reference{
			ID:      e.doc.ID,
			Source:  e.doc.Source,
			Content: e.doc.Content,
			Score:   score,
		})
	}

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ID < refs[j].ID
	})
	if topK > 0 && len(refs) > topK {
		refs = refs[:topK]
	}
	return refs, nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length")
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
