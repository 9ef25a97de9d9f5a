package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/llm"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

// Options configures a Service.
type Options struct {
	CorpusDir string
	Load      LoadOptions
	Debounce  time.Duration
}

// Service keeps an Index in sync with a corpus directory.
type Service struct {
	opts   Options
	index  *Index
	logger *zap.Logger

	mu       sync.Mutex
	lastErr  error
	loadedAt time.Time
}

// NewService creates a service; call Reload before serving queries.
func NewService(opts Options, embedder llm.Embedder, cache EmbeddingCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		opts:   opts,
		index:  NewIndex(embedder, cache, logger),
		logger: logger,
	}
}

// Reload re-reads the corpus and rebuilds the index. On failure the previous
// index contents are kept.
func (s *Service) Reload(ctx context.Context) error {
	docs, err := LoadCorpus(s.opts.CorpusDir, s.opts.Load)
	if err == nil {
		err = s.index.Rebuild(ctx, docs)
	}

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.loadedAt = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("corpus reload failed", zap.String("dir", s.opts.CorpusDir), zap.Error(err))
	}
	return err
}

// Retrieve implements the pipeline's retriever contract.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]types.Reference, error) {
	return s.index.Retrieve(ctx, query, topK)
}

// Size returns the number of indexed documents.
func (s *Service) Size() int {
	return s.index.Size()
}

// Operational reports whether the last reload succeeded and the index has content.
func (s *Service) Operational() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr == nil && !s.loadedAt.IsZero() && s.index.Size() > 0
}

// Watch reloads the index whenever the corpus directory changes.
func (s *Service) Watch(ctx context.Context) error {
	return Watch(ctx, s.opts.CorpusDir, s.opts.Debounce, s.logger, func() {
		s.logger.Info("corpus changed; reloading", zap.String("dir", s.opts.CorpusDir))
		_ = s.Reload(ctx)
	})
}
