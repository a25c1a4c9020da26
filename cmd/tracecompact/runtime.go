package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/revops-ai/tracecompact/pkg/archive"
	"github.com/revops-ai/tracecompact/pkg/config"
	"github.com/revops-ai/tracecompact/pkg/models"
	"github.com/revops-ai/tracecompact/pkg/pipeline"
	"github.com/revops-ai/tracecompact/pkg/promptcache"
	"github.com/revops-ai/tracecompact/pkg/router"
)

// runtime is the prompt cache, archive and pipeline shared by serve and compact.
type runtime struct {
	cache    *promptcache.Cache
	archive  *archive.Archive
	pipeline *pipeline.Pipeline
}

func (rt *runtime) Close() {
	if rt.archive != nil {
		_ = rt.archive.Close()
	}
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{}

	var sink pipeline.Sink
	if cfg.Archive.Enabled {
		a, err := archive.New(cfg.Archive, logger)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		rt.archive = a
		sink = a
	}

	cache, err := promptcache.New(cfg.Cache.MaxEntries, promptcache.WithEvictHook(func(ref models.PromptReference) {
		logger.Debug("prompt evicted",
			zap.String("prompt_ref", ref.ID),
			zap.Int64("usage_count", ref.UsageCount))
		if rt.pipeline != nil {
			rt.pipeline.Forget(ref)
		}
		if err := rt.archive.MarkEvicted(context.Background(), ref, time.Now()); err != nil {
			logger.Warn("mark prompt evicted", zap.String("prompt_ref", ref.ID), zap.Error(err))
		}
	}))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init prompt cache: %w", err)
	}
	rt.cache = cache

	r, err := router.New(cfg.Rewriter, cache)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init router: %w", err)
	}

	rt.pipeline = pipeline.New(r, cache, sink, logger, pipeline.Options{
		Workers:     cfg.Pipeline.Workers,
		Strict:      cfg.Pipeline.Strict,
		MaxLineSize: cfg.Pipeline.MaxLineSize,
		Snapshot:    cfg.Archive.SnapshotPrompts,
	})
	return rt, nil
}

func openArchive(cfg *config.Config) (*archive.Archive, func(), error) {
	a, err := archive.New(cfg.Archive, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive db: %w", err)
	}
	return a, func() { _ = a.Close() }, nil
}
