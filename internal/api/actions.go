package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/config"
)

// JobStore abstracts the persistence interactions the mutating side of the
// API needs, beyond what JobReader already covers.
type JobStore interface {
	JobReader
	DeleteJob(ctx context.Context, id int64) error
}

// JobOrchestrator abstracts the Job Orchestrator operations the API drives
// directly, without depending on internal/orchestrator (avoiding a reverse
// dependency the way matchpool.Organizer/conflict.Organizer already do).
type JobOrchestrator interface {
	StartJob(ctx context.Context, jobID int64) error
	CancelJob(ctx context.Context, jobID int64) error
	ApplyReview(ctx context.Context, jobID, titleID int64, episodeCode, edition string) error
}

// MatchResolver abstracts the Conflict Resolver's batch placement pass.
type MatchResolver interface {
	Resolve(ctx context.Context, jobID int64) error
}

// Actions implements the API's mutating endpoints: start, cancel, review,
// process-matched, delete, and config update.
type Actions struct {
	store        JobStore
	orchestrator JobOrchestrator
	resolver     MatchResolver

	mu  sync.RWMutex
	cfg *config.Config
}

// NewActions constructs an Actions handler set.
func NewActions(store JobStore, orchestrator JobOrchestrator, resolver MatchResolver, cfg *config.Config) *Actions {
	return &Actions{store: store, orchestrator: orchestrator, resolver: resolver, cfg: cfg}
}

// StartJob begins ripping a job from idle or review_needed.
func (a *Actions) StartJob(ctx context.Context, jobID int64) error {
	return a.orchestrator.StartJob(ctx, jobID)
}

// CancelJob cancels an in-flight job.
func (a *Actions) CancelJob(ctx context.Context, jobID int64) error {
	return a.orchestrator.CancelJob(ctx, jobID)
}

// ApplyReview applies an operator's review decision to one title.
func (a *Actions) ApplyReview(ctx context.Context, jobID int64, req ReviewRequest) error {
	if req.TitleID == 0 {
		return apperr.Wrap(apperr.ErrValidation, "api", "apply_review", "title_id is required", nil)
	}
	return a.orchestrator.ApplyReview(ctx, jobID, req.TitleID, req.EpisodeCode, req.Edition)
}

// ProcessMatched organizes a job's matched titles while leaving unresolved
// ones in review, via the Conflict Resolver's placement pass.
func (a *Actions) ProcessMatched(ctx context.Context, jobID int64) error {
	return a.resolver.Resolve(ctx, jobID)
}

// DeleteJob removes a job and its titles, refusing unless the job has
// reached a terminal state.
func (a *Actions) DeleteJob(ctx context.Context, jobID int64) error {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return apperr.Wrap(apperr.ErrNotFound, "api", "delete_job", "job not found", err)
	}
	if !job.Terminal() {
		return apperr.Wrap(apperr.ErrValidation, "api", "delete_job",
			fmt.Sprintf("job %d is in state %q, must be completed or failed", jobID, job.State), nil,
			apperr.WithCode("invalid_state"))
	}
	return a.store.DeleteJob(ctx, jobID)
}

// GetConfig returns the live config with API-key fields redacted.
func (a *Actions) GetConfig() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return RedactConfig(*a.cfg)
}

// UpdateConfig merges non-null top-level fields from body into the live
// config. body is JSON shaped like config.Config; only groups present in
// it are decoded, leaving every other field untouched — the same
// merge-not-replace semantics encoding/json.Unmarshal gives for free when
// decoding into an already-populated struct.
func (a *Actions) UpdateConfig(body []byte) (config.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := *a.cfg
	if err := json.Unmarshal(body, &merged); err != nil {
		return config.Config{}, apperr.Wrap(apperr.ErrValidation, "api", "update_config", "invalid config body", err)
	}
	*a.cfg = merged
	return RedactConfig(merged), nil
}
