package api

import (
	"context"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
)

const jobListLimit = 10

// JobReader abstracts the persistence interactions the read side of the
// API needs.
type JobReader interface {
	ListJobs(ctx context.Context, states ...jobqueue.JobState) ([]jobqueue.Job, error)
	GetJob(ctx context.Context, id int64) (jobqueue.Job, error)
	TitlesForJob(ctx context.Context, jobID int64) ([]jobqueue.Title, error)
}

// Service exposes read-only job and title queries returning API DTOs.
type Service struct {
	store JobReader
	cfg   *config.Config
}

// NewService constructs a Service around the given store and live config.
func NewService(store JobReader, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// ListJobs returns the most recent jobs, newest-updated first, capped at
// jobListLimit.
func (s *Service) ListJobs(ctx context.Context) ([]JobDTO, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	if len(jobs) > jobListLimit {
		jobs = jobs[:jobListLimit]
	}
	return FromJobs(jobs), nil
}

// GetJob fetches one job by id.
func (s *Service) GetJob(ctx context.Context, id int64) (JobDTO, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return JobDTO{}, apperr.Wrap(apperr.ErrNotFound, "api", "get_job", "job not found", err)
	}
	return FromJob(job), nil
}

// ListTitles fetches a job's titles, ordered by title_index.
func (s *Service) ListTitles(ctx context.Context, jobID int64) ([]TitleDTO, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "api", "list_titles", "job not found", err)
	}
	titles, err := s.store.TitlesForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return FromTitles(titles), nil
}

// GetConfig returns the live config with API-key fields redacted.
func (s *Service) GetConfig() config.Config {
	return RedactConfig(*s.cfg)
}
