// Package app wires the configured collaborators into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/brain"
	"github.com/ent0n29/tempo/internal/calendar"
	"github.com/ent0n29/tempo/internal/config"
	"github.com/ent0n29/tempo/internal/docstore"
	"github.com/ent0n29/tempo/internal/httpapi"
	"github.com/ent0n29/tempo/internal/memory"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/pipeline"
	"github.com/ent0n29/tempo/internal/realtime"
	"github.com/ent0n29/tempo/internal/records"
	"github.com/ent0n29/tempo/internal/summary"
	"github.com/ent0n29/tempo/internal/voice"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Hub       *realtime.Hub
	Memory    *memory.Store
	Speaker   *voice.Speaker
	Scheduler *CleanupScheduler
	Metrics   *observability.Metrics
	Storage   string
	Voice     string

	// Cleanup should be called on shutdown to release external resources (DB, queued turns, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = observability.OrNop(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	docs, err := docstore.NewStore(ctx, cfg.StorageBackend, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	repo := records.NewRepository(docs, records.Identity{Name: cfg.AgentName, Avatar: cfg.AgentAvatar})

	var cache *memory.Cache
	if cfg.MemoryCacheEnabled {
		cache = memory.NewCache()
	}
	mem := memory.NewStore(docs, repo, memory.Options{
		Cache:       cache,
		RecentLimit: cfg.MemoryRecentLimit,
		RedactPII:   cfg.MemoryRedactPII,
		Metrics:     metrics,
		Logger:      logger.Named("memory"),
	})

	completer, err := brain.NewCompleter(brain.Config{
		Provider: cfg.CompletionProvider,
		URL:      cfg.CompletionURL,
		APIKey:   cfg.CompletionAPIKey,
		Model:    cfg.CompletionModel,
		Timeout:  cfg.CompletionTimeout,
	})
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("completion init failed: %w", err)
	}

	vs, err := resolveVoice(cfg, metrics, logger.Named("voice"))
	if err != nil {
		_ = docs.Close()
		return nil, err
	}

	calendarTokens := calendar.NewTokenStore(docs)
	procCfg := pipeline.Config{
		AgentName: cfg.AgentName,
		Memory:    mem,
		Completer: completer,
		Records:   repo,
		Summaries: summary.NewEngine(repo),
		Metrics:   metrics,
		Logger:    logger.Named("pipeline"),
	}
	if strings.EqualFold(cfg.CalendarProvider, "google") {
		provider := calendar.NewGoogle(cfg.CalendarBaseURL, &http.Client{Timeout: cfg.CompletionTimeout})
		procCfg.Calendar = calendar.NewMirror(provider, calendarTokens, repo, metrics, logger.Named("calendar"))
	}
	proc := pipeline.New(procCfg)

	hub := realtime.NewHub(proc, vs.speaker, repo, realtime.Config{
		TurnTimeout:        cfg.TurnTimeout,
		MaxConcurrentTurns: cfg.MaxConcurrentTurns,
		Metrics:            metrics,
		Logger:             logger.Named("realtime"),
	})

	scheduler, err := newCleanupScheduler(cfg.SessionCleanupSchedule, mem, cfg.SessionMaxAge, logger.Named("cleanup"))
	if err != nil {
		hub.Close()
		_ = docs.Close()
		return nil, err
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Hub:            hub,
		Chat:           proc,
		Memory:         mem,
		Summaries:      summary.NewEngine(repo),
		Voice:          vs.speaker,
		CalendarTokens: calendarTokens,
		StorageMode:    docs.Mode(),
		Metrics:        metrics,
		Logger:         logger.Named("http"),
	})

	cleanup := func() error {
		scheduler.Stop()
		hub.Close()
		cache.Reset()
		var errs []error
		if err := docs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Hub:       hub,
		Memory:    mem,
		Speaker:   vs.speaker,
		Scheduler: scheduler,
		Metrics:   metrics,
		Storage:   docs.Mode(),
		Voice:     vs.detail,
		Cleanup:   cleanup,
	}, nil
}
