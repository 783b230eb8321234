// Package matchpool implements the Match Worker Pool: a bounded-concurrency,
// FIFO-fair scheduler that runs the subtitle-wait / file-ready / duration-
// filter / episode-match sequence for each ripped title.
package matchpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/fileready"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/statemachine"
)

// MatchCandidate is one scored standing the external matcher reports via
// its progress callback (top-5 by score).
type MatchCandidate struct {
	Episode string
	Score   float64
}

// MatchResult is what the external episode matcher returns for a title.
type MatchResult struct {
	Episode      string
	Confidence   float64
	Score        float64
	VoteCount    int
	FileCoverage float64
	RunnerUps    []MatchCandidate
}

// Matcher is the external episode-matching collaborator (out of scope for
// this repo; consumed through this narrow interface).
type Matcher interface {
	Match(ctx context.Context, filePath, seriesName string, season int, onCandidate func([]MatchCandidate)) (MatchResult, error)
}

// EpisodeRuntime is one expected runtime for the duration filter.
type EpisodeRuntime struct {
	Minutes float64
}

// MetadataSource supplies expected episode runtimes for the duration filter
// backed by internal/metadata in production.
type MetadataSource interface {
	EpisodeRuntimes(ctx context.Context, seriesName string, season int) ([]EpisodeRuntime, error)
}

// Organizer relocates a title's file into the library's extras folder.
type Organizer interface {
	MoveToExtras(ctx context.Context, title jobqueue.Title) (string, error)
}

// SubtitleGate exposes the per-job readiness signal from the Subtitle
// Coordinator.
type SubtitleGate interface {
	Wait(ctx context.Context, jobID int64, timeout time.Duration) (status jobqueue.SubtitleStatus, ok bool)
}

const matchConfidenceDefault = 0.7
const subtitleWaitTimeoutDefault = 300 * time.Second
const durationToleranceDefault = 5 * time.Minute

// Task is one unit of work submitted to the pool.
type Task struct {
	JobID        int64
	TitleID      int64
	FilePath     string
	SeriesName   string
	Season       int
	ExpectedSize int64
}

// Pool runs Match tasks with bounded concurrency and FIFO fairness.
type Pool struct {
	sem       *semaphore.Weighted
	store     *jobqueue.Store
	machine   *statemachine.Machine
	bus       *events.Bus
	matcher   Matcher
	metadata  MetadataSource
	organizer Organizer
	subtitles SubtitleGate
	logger    *slog.Logger

	matchConfidence     float64
	subtitleWaitTimeout time.Duration
	fileReadyOptions    fileready.Options
	onJobMaybeDone      func(ctx context.Context, jobID int64)
}

// Config bundles the Match Worker Pool's tunables.
type Config struct {
	MaxConcurrentMatches int
	MatchConfidence      float64
	SubtitleWaitTimeout  time.Duration
	FileReadyOptions     fileready.Options
}

// New builds a Pool. onJobMaybeDone is invoked after each task (success or
// failure) so the Job Orchestrator can run its completion check.
func New(cfg Config, store *jobqueue.Store, machine *statemachine.Machine, bus *events.Bus,
	matcher Matcher, metadata MetadataSource, organizer Organizer, subtitles SubtitleGate,
	logger *slog.Logger, onJobMaybeDone func(ctx context.Context, jobID int64)) *Pool {

	concurrency := int64(cfg.MaxConcurrentMatches)
	if concurrency <= 0 {
		concurrency = 2
	}
	confidence := cfg.MatchConfidence
	if confidence <= 0 {
		confidence = matchConfidenceDefault
	}
	waitTimeout := cfg.SubtitleWaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = subtitleWaitTimeoutDefault
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pool{
		sem:                 semaphore.NewWeighted(concurrency),
		store:               store,
		machine:             machine,
		bus:                 bus,
		matcher:             matcher,
		metadata:            metadata,
		organizer:           organizer,
		subtitles:           subtitles,
		logger:              logger,
		matchConfidence:     confidence,
		subtitleWaitTimeout: waitTimeout,
		fileReadyOptions:    cfg.FileReadyOptions,
		onJobMaybeDone:      onJobMaybeDone,
	}
}

// Submit runs task asynchronously, following the Match Worker Pool's ten-step
// sequence. It starts one goroutine for the task and returns immediately,
// without waiting for any step; the worker slot is acquired inside that
// goroutine so callers can fire off many tasks without blocking on pool
// capacity (the semaphore provides FIFO fairness for the blocking step).
func (p *Pool) Submit(ctx context.Context, task Task) {
	go p.run(ctx, task)
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer p.checkJobDone(ctx, task.JobID)

	status, ok := p.subtitles.Wait(ctx, task.JobID, p.subtitleWaitTimeout)
	if !ok || status == jobqueue.SubtitleFailed {
		p.toReview(ctx, task.TitleID, "subtitle acquisition failed or timed out")
		return
	}

	if err := fileready.Wait(ctx, task.FilePath, task.ExpectedSize, p.fileReadyOptions); err != nil {
		p.toFailed(ctx, task.TitleID, fmt.Errorf("file not ready: %w", err))
		return
	}

	if p.metadata != nil {
		if extra, err := p.applyDurationFilter(ctx, task); err != nil {
			p.logger.Warn("duration filter lookup failed, proceeding to match", "title_id", task.TitleID, "error", err)
		} else if extra {
			return
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.toFailed(ctx, task.TitleID, fmt.Errorf("acquire worker slot: %w", err))
		return
	}
	defer p.sem.Release(1)

	if _, err := p.machine.TransitionTitle(ctx, task.TitleID, jobqueue.TitleMatching); err != nil {
		p.toFailed(ctx, task.TitleID, err)
		return
	}

	result, err := p.matcher.Match(ctx, task.FilePath, task.SeriesName, task.Season, func(candidates []MatchCandidate) {
		p.publishCandidates(task, candidates)
	})
	if err != nil {
		p.matchFailed(ctx, task.TitleID, err)
		return
	}

	p.persistMatch(ctx, task.TitleID, result)
}

// applyDurationFilter reports (extra=true) if the title was routed to the
// extras folder and no matching should happen.
func (p *Pool) applyDurationFilter(ctx context.Context, task Task) (bool, error) {
	title, err := p.store.GetTitle(ctx, task.TitleID)
	if err != nil {
		return false, err
	}

	runtimes, err := p.metadata.EpisodeRuntimes(ctx, task.SeriesName, task.Season)
	if err != nil {
		return false, err
	}
	if len(runtimes) == 0 {
		return false, nil
	}

	duration := time.Duration(title.DurationSeconds) * time.Second
	for _, r := range runtimes {
		expected := time.Duration(r.Minutes * float64(time.Minute))
		if absDuration(duration-expected) <= durationToleranceDefault {
			return false, nil
		}
	}

	if p.organizer == nil {
		return false, nil
	}
	organizedTo, err := p.organizer.MoveToExtras(ctx, title)
	if err != nil {
		return false, err
	}

	title.IsExtra = true
	title.OrganizedTo = organizedTo
	if err := p.store.UpdateTitle(ctx, title); err != nil {
		return false, err
	}
	if _, err := p.machine.TransitionTitle(ctx, task.TitleID, jobqueue.TitleCompleted); err != nil {
		return false, err
	}
	return true, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (p *Pool) publishCandidates(task Task, candidates []MatchCandidate) {
	if p.bus == nil {
		return
	}
	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	p.bus.Publish(events.Event{
		Type:    events.TypeTitleUpdate,
		JobID:   task.JobID,
		TitleID: task.TitleID,
		Fields: map[string]any{
			"candidates": top,
		},
	})
}

func (p *Pool) persistMatch(ctx context.Context, titleID int64, result MatchResult) {
	title, err := p.store.GetTitle(ctx, titleID)
	if err != nil {
		p.logger.Error("load title for match persistence failed", "title_id", titleID, "error", err)
		return
	}

	details, _ := json.Marshal(map[string]any{
		"score":         result.Score,
		"vote_count":    result.VoteCount,
		"file_coverage": result.FileCoverage,
		"runner_ups":    result.RunnerUps,
		"score_gap":     scoreGap(result),
	})

	title.MatchedEpisode = result.Episode
	title.Confidence = result.Confidence
	title.MatchDetailsJSON = string(details)
	if err := p.store.UpdateTitle(ctx, title); err != nil {
		p.logger.Error("persist match result failed", "title_id", titleID, "error", err)
		return
	}

	target := jobqueue.TitleReview
	switch {
	case result.Episode == "":
		target = jobqueue.TitleReview
	case result.Confidence >= p.matchConfidence:
		target = jobqueue.TitleMatched
	default:
		target = jobqueue.TitleMatched // low confidence still matches; review flag lives in ReviewReason
		title.ReviewReason = "low confidence match"
		_ = p.store.UpdateTitle(ctx, title)
	}

	if _, err := p.machine.TransitionTitle(ctx, titleID, target); err != nil {
		p.logger.Error("transition title after match failed", "title_id", titleID, "error", err)
	}
}

func scoreGap(result MatchResult) float64 {
	if len(result.RunnerUps) == 0 {
		return result.Score
	}
	return result.Score - result.RunnerUps[0].Score
}

func (p *Pool) matchFailed(ctx context.Context, titleID int64, cause error) {
	details, _ := json.Marshal(map[string]string{
		"error":   "matching_task_failed",
		"message": cause.Error(),
	})
	title, err := p.store.GetTitle(ctx, titleID)
	if err == nil {
		title.MatchDetailsJSON = string(details)
		_ = p.store.UpdateTitle(ctx, title)
	}
	p.toReview(ctx, titleID, cause.Error())
}

func (p *Pool) toReview(ctx context.Context, titleID int64, reason string) {
	title, err := p.store.GetTitle(ctx, titleID)
	if err != nil {
		return
	}
	title.ReviewReason = reason
	_ = p.store.UpdateTitle(ctx, title)
	if _, err := p.machine.TransitionTitle(ctx, titleID, jobqueue.TitleReview); err != nil {
		p.logger.Error("transition to review failed", "title_id", titleID, "error", err)
	}
}

func (p *Pool) toFailed(ctx context.Context, titleID int64, cause error) {
	if err := p.machine.FailTitle(ctx, titleID, cause); err != nil {
		p.logger.Error("fail title transition failed", "title_id", titleID, "error", err)
	}
}

func (p *Pool) checkJobDone(ctx context.Context, jobID int64) {
	if p.onJobMaybeDone != nil {
		p.onJobMaybeDone(ctx, jobID)
	}
}
