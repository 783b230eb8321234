package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ingestorchestrator/internal/applog"
	"ingestorchestrator/internal/classify"
	"ingestorchestrator/internal/conflict"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/disc"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/fileready"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/matchpool"
	"ingestorchestrator/internal/metadata"
	"ingestorchestrator/internal/notify"
	"ingestorchestrator/internal/organizer"
	"ingestorchestrator/internal/orchestrator"
	"ingestorchestrator/internal/sentinel"
	"ingestorchestrator/internal/statemachine"
	"ingestorchestrator/internal/subtitlegate"
	"ingestorchestrator/internal/subtitlegate/acquire"
)

// app bundles every long-lived component the daemon drives, in the order
// they need to start and the reverse order they need to stop.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *applog.Hub
	store   *jobqueue.Store
	bus     *events.Bus
	machine *statemachine.Machine

	subtitles *subtitlegate.Coordinator
	matchPool *matchpool.Pool
	resolver  *conflict.Resolver
	orch      *orchestrator.Orchestrator
	sentinel  *sentinel.Sentinel
	notifier  notify.Service
}

// build wires the full dependency graph described by the daemon entrypoint.
// cfg must already have EnsureDirectories called on it.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, hub *applog.Hub) (*app, error) {
	store, err := jobqueue.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	bus := events.New(0, 0)
	machine := statemachine.New(store, bus, logger)

	subAcquirer, err := acquire.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build subtitle acquirer: %w", err)
	}
	subtitleCoordinator := subtitlegate.New(store, bus, subAcquirer, logger)

	metadataClient := metadata.New(cfg.TMDB)
	notifier := notify.New(cfg)
	org := organizer.New(cfg, store, notifier, http.DefaultClient, logger)

	pool := matchpool.New(matchpool.Config{
		MaxConcurrentMatches: cfg.MatchPool.MaxConcurrentMatches,
		MatchConfidence:      cfg.MatchPool.MatchConfidence,
		SubtitleWaitTimeout:  time.Duration(cfg.MatchPool.SubtitleWaitTimeout * float64(time.Second)),
		FileReadyOptions:     fileReadyOptionsFromConfig(cfg),
	}, store, machine, bus, unconfiguredMatcher{logger: logger}, metadataClient, org, subtitleCoordinator, logger, nil)

	resolver := conflict.New(store, machine, org, logger)
	classifier := classify.New(classify.PolicyFromConfig(cfg))
	scanner := disc.NewScanner(cfg.RipDriver.MakeMKVPath)
	ejector := disc.NewEjector()

	orch := orchestrator.New(cfg, store, machine, bus, subtitleCoordinator, pool, resolver, scanner, classifier, ejector, org, logger)

	drive := sentinel.New(cfg, bus, logger, orch.HandleDriveEvent)

	return &app{
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		store:     store,
		bus:       bus,
		machine:   machine,
		subtitles: subtitleCoordinator,
		matchPool: pool,
		resolver:  resolver,
		orch:      orch,
		sentinel:  drive,
		notifier:  notifier,
	}, nil
}

func fileReadyOptionsFromConfig(cfg *config.Config) fileready.Options {
	return fileready.Options{
		PollInterval:    time.Duration(cfg.RipDriver.FilePollInterval * float64(time.Second)),
		StabilityChecks: cfg.RipDriver.StabilityChecks,
		ReadyFraction:   cfg.RipDriver.ReadyFraction,
		Timeout:         time.Duration(cfg.RipDriver.FileReadyTimeout * float64(time.Second)),
	}
}

// unconfiguredMatcher satisfies matchpool.Matcher for deployments that have
// not wired a real episode-matching collaborator. It fails fast with a clear
// error rather than silently never completing a TV job.
type unconfiguredMatcher struct {
	logger *slog.Logger
}

func (m unconfiguredMatcher) Match(ctx context.Context, filePath, seriesName string, season int, onCandidate func([]matchpool.MatchCandidate)) (matchpool.MatchResult, error) {
	if m.logger != nil {
		m.logger.Warn("episode matcher not configured", "file_path", filePath, "series", seriesName, "season", season)
	}
	return matchpool.MatchResult{}, fmt.Errorf("ingestd: no episode-matching collaborator configured for %q", seriesName)
}
