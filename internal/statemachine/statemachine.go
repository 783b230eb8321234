// Package statemachine validates and applies the Job and Title lifecycle
// transitions: it is the only component permitted to change a state column
// in the Persistence Interface, and every successful transition emits an
// Event Bus update.
package statemachine

import (
	"context"
	"fmt"
	"log/slog"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/jobqueue"
)

// Machine applies job/title transitions against the Store and publishes the
// resulting change to the Event Bus.
type Machine struct {
	store  *jobqueue.Store
	bus    *events.Bus
	logger *slog.Logger
}

// New builds a Machine. logger may be nil, in which case rejected
// transitions are simply not logged.
func New(store *jobqueue.Store, bus *events.Bus, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{store: store, bus: bus, logger: logger}
}

var jobEdges = map[jobqueue.JobState]map[jobqueue.JobState]struct{}{
	jobqueue.JobIdle: {
		jobqueue.JobIdentifying: {},
	},
	jobqueue.JobIdentifying: {
		jobqueue.JobRipping:      {},
		jobqueue.JobReviewNeeded: {},
		jobqueue.JobFailed:       {},
	},
	jobqueue.JobRipping: {
		jobqueue.JobMatching:     {},
		jobqueue.JobReviewNeeded: {},
		jobqueue.JobOrganizing:   {},
		jobqueue.JobFailed:       {},
	},
	jobqueue.JobMatching: {
		jobqueue.JobOrganizing:   {},
		jobqueue.JobReviewNeeded: {},
		jobqueue.JobFailed:       {},
	},
	jobqueue.JobOrganizing: {
		jobqueue.JobCompleted:    {},
		jobqueue.JobReviewNeeded: {},
		jobqueue.JobFailed:       {},
	},
	jobqueue.JobReviewNeeded: {
		jobqueue.JobRipping:    {},
		jobqueue.JobMatching:   {},
		jobqueue.JobOrganizing: {},
		jobqueue.JobCompleted:  {},
		jobqueue.JobFailed:     {},
	},
}

var titleEdges = map[jobqueue.TitleState]map[jobqueue.TitleState]struct{}{
	jobqueue.TitlePending: {
		jobqueue.TitleRipping: {},
	},
	jobqueue.TitleRipping: {
		jobqueue.TitleMatching: {},
		jobqueue.TitleMatched:  {},
	},
	jobqueue.TitleMatching: {
		jobqueue.TitleMatched: {},
		jobqueue.TitleReview:  {},
		jobqueue.TitleFailed:  {},
	},
	jobqueue.TitleMatched: {
		jobqueue.TitleCompleted: {},
		jobqueue.TitleReview:    {},
	},
	jobqueue.TitleReview: {
		jobqueue.TitleMatched:   {},
		jobqueue.TitleCompleted: {},
		jobqueue.TitleFailed:    {},
	},
}

func jobTerminal(s jobqueue.JobState) bool {
	return s == jobqueue.JobCompleted || s == jobqueue.JobFailed
}

func titleTerminal(s jobqueue.TitleState) bool {
	return s == jobqueue.TitleCompleted || s == jobqueue.TitleFailed
}

// rejected describes a transition that does not follow an allowed edge. No
// code path constructs it: TransitionJob and TransitionTitle log a rejection
// and return applied=false with a nil error.
type rejected struct {
	from, to string
}

func (r rejected) Error() string {
	return fmt.Sprintf("rejected transition %s -> %s", r.from, r.to)
}

// TransitionJob validates and applies a Job state transition. It returns
// (applied=false, nil) for a rejected transition — the caller should treat
// that as "nothing happened", not as an error to propagate.
func (m *Machine) TransitionJob(ctx context.Context, jobID int64, target jobqueue.JobState) (applied bool, err error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("statemachine: load job %d: %w", jobID, err)
	}

	if job.State == target {
		return true, nil
	}
	if !jobTransitionAllowed(job.State, target) {
		m.logger.Warn("job transition rejected", "job_id", jobID, "from", job.State, "to", target)
		return false, nil
	}

	job.State = target
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return false, fmt.Errorf("statemachine: persist job %d -> %s: %w", jobID, target, err)
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:  events.TypeJobUpdate,
			JobID: jobID,
			Fields: map[string]any{
				"state": string(target),
			},
		})
	}
	return true, nil
}

// FailJob unconditionally moves a job to JobFailed (cancellation path: any
// non-terminal state allows this transition) and records cause's message in
// ErrorMessage.
func (m *Machine) FailJob(ctx context.Context, jobID int64, cause error) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("statemachine: load job %d: %w", jobID, err)
	}
	if jobTerminal(job.State) {
		return nil
	}
	job.State = jobqueue.JobFailed
	if cause != nil {
		job.ErrorMessage = cause.Error()
	}
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("statemachine: persist job %d failure: %w", jobID, err)
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:  events.TypeJobUpdate,
			JobID: jobID,
			Fields: map[string]any{
				"state": string(jobqueue.JobFailed),
				"error": job.ErrorMessage,
			},
		})
	}
	return nil
}

// TransitionTitle validates and applies a Title state transition.
func (m *Machine) TransitionTitle(ctx context.Context, titleID int64, target jobqueue.TitleState) (applied bool, err error) {
	title, err := m.store.GetTitle(ctx, titleID)
	if err != nil {
		return false, fmt.Errorf("statemachine: load title %d: %w", titleID, err)
	}

	if title.State == target {
		return true, nil
	}
	if !titleTransitionAllowed(title.State, target) {
		m.logger.Warn("title transition rejected", "title_id", titleID, "from", title.State, "to", target)
		return false, nil
	}

	title.State = target
	if err := m.store.UpdateTitle(ctx, title); err != nil {
		return false, fmt.Errorf("statemachine: persist title %d -> %s: %w", titleID, target, err)
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:    events.TypeTitleUpdate,
			JobID:   title.JobID,
			TitleID: titleID,
			Fields: map[string]any{
				"state": string(target),
			},
		})
	}
	return true, nil
}

// FailTitle moves a non-terminal title out of the pipeline: to TitleReview
// when apperr classifies cause as recoverable and the review edge is allowed
// from the current state, otherwise to TitleFailed. cause's message is
// recorded in ReviewReason.
func (m *Machine) FailTitle(ctx context.Context, titleID int64, cause error) error {
	title, err := m.store.GetTitle(ctx, titleID)
	if err != nil {
		return fmt.Errorf("statemachine: load title %d: %w", titleID, err)
	}
	if titleTerminal(title.State) {
		return nil
	}

	target := jobqueue.TitleFailed
	if apperr.Recoverable(cause) && titleTransitionAllowed(title.State, jobqueue.TitleReview) {
		target = jobqueue.TitleReview
	}

	title.State = target
	if cause != nil {
		title.ReviewReason = cause.Error()
	}
	if err := m.store.UpdateTitle(ctx, title); err != nil {
		return fmt.Errorf("statemachine: persist title %d failure: %w", titleID, err)
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:    events.TypeTitleUpdate,
			JobID:   title.JobID,
			TitleID: titleID,
			Fields: map[string]any{
				"state":  string(target),
				"reason": title.ReviewReason,
			},
		})
	}
	return nil
}

func jobTransitionAllowed(from, to jobqueue.JobState) bool {
	if to == jobqueue.JobFailed {
		return !jobTerminal(from)
	}
	edges, ok := jobEdges[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}

func titleTransitionAllowed(from, to jobqueue.TitleState) bool {
	if to == jobqueue.TitleFailed {
		return !titleTerminal(from)
	}
	edges, ok := titleEdges[from]
	if !ok {
		return false
	}
	_, ok = edges[to]
	return ok
}
