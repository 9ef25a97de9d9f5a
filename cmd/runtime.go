package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/config"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/guardrail"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/llm"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/logging"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/metrics"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/retrieval"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

// runtime is the wired service graph shared by serve and generate.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	corpus     *retrieval.Service
	bus        *events.Broadcaster
	monitor    *monitor.Monitor
	metrics    *metrics.Recorder
	allow      *components.AllowList
	controller *orchestration.Controller

	closers []func()
}

func newLogger(cfg *config.Config, console bool) (*zap.Logger, func(), error) {
	opts := logging.DefaultOptions()
	opts.File = cfg.Logging.File
	opts.Level = cfg.Logging.Level
	opts.Console = cfg.Logging.Console || console
	return logging.New(opts)
}

// newRuntime opens the store, builds the provider and corpus index, and wires
// the controller to the broadcaster and monitor.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.closers = append(rt.closers, func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	})

	provider, embedder, err := llm.New(ctx, cfg, logger.Named("llm"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider.Name, err)
	}

	rt.corpus = retrieval.NewService(retrieval.Options{
		CorpusDir: cfg.Retrieval.CorpusDir,
		Load: retrieval.LoadOptions{
			Include:    cfg.Retrieval.Include,
			IgnoreFile: cfg.Retrieval.IgnoreFile,
			ChunkSize:  cfg.Retrieval.ChunkSize,
		},
		Debounce: cfg.Retrieval.Debounce,
	}, embedder, st, logger.Named("retrieval"))
	if err := rt.corpus.Reload(ctx); err != nil {
		// Runs fail with retrieval_error until the corpus loads.
		logger.Warn("reference corpus unavailable", zap.Error(err))
	}

	rt.metrics = metrics.New()
	rt.bus = events.NewBroadcaster(logger.Named("events"),
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithMaxLog(cfg.Events.MaxLog),
		events.WithSink(rt.metrics))
	rt.closers = append(rt.closers, rt.bus.Shutdown)

	rt.monitor = monitor.New(rt.bus, cfg.Monitor.CircuitBreakerThreshold, logger.Named("monitor"))

	rt.allow, err = components.NewAllowList(cfg.Pipeline.AllowedComponentTypes)
	if err != nil {
		rt.Close()
		return nil, err
	}
	validator, err := guardrail.New(rt.allow, cfg.Pipeline.AllowedFilePatterns)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.controller, err = orchestration.New(orchestration.Dependencies{
		Retriever: rt.corpus,
		Composer:  orchestration.NewLLMComposer(provider, cfg.Provider.Temperature),
		Generator: orchestration.NewLLMGenerator(provider, rt.allow, cfg.Provider.Temperature),
		Validator: validator,
		Committer: orchestration.NewCommitter(st, rt.bus, rt.monitor, cfg.Pipeline.PlanFileName, logger.Named("commit")),
		Events:    rt.bus,
		History:   st,
		Metrics:   rt.metrics,
	}, orchestration.Options{
		MaxRetries:   cfg.Pipeline.MaxRetries,
		TopK:         cfg.Pipeline.TopK,
		StageTimeout: cfg.Pipeline.StageTimeout,
	}, logger.Named("orchestration"))
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Monitor.AutoRepair {
		rt.monitor.SetRemediator(rt.controller.Repair)
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
