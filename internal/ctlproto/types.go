package ctlproto

import (
	"ingestorchestrator/internal/api"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/events"
)

// JobListRequest has no fields; job listing takes no filters.
type JobListRequest struct{}

// JobListResponse carries the most recent jobs, newest-updated first.
type JobListResponse struct {
	Jobs []api.JobDTO `json:"jobs"`
}

// JobGetRequest identifies a single job.
type JobGetRequest struct {
	ID int64 `json:"id"`
}

// JobGetResponse carries one job.
type JobGetResponse struct {
	Job api.JobDTO `json:"job"`
}

// TitleListRequest identifies the job whose titles to list.
type TitleListRequest struct {
	JobID int64 `json:"job_id"`
}

// TitleListResponse carries a job's titles, ordered by title index.
type TitleListResponse struct {
	Titles []api.TitleDTO `json:"titles"`
}

// JobActionRequest identifies a job to start, cancel, process-match, or
// delete; these four operations take no other arguments.
type JobActionRequest struct {
	ID int64 `json:"id"`
}

// JobActionResponse acknowledges a mutating job action.
type JobActionResponse struct{}

// JobReviewRequest applies an operator's review decision to one title.
type JobReviewRequest struct {
	JobID       int64  `json:"job_id"`
	TitleID     int64  `json:"title_id"`
	EpisodeCode string `json:"episode_code,omitempty"`
	Edition     string `json:"edition,omitempty"`
}

// JobReviewResponse acknowledges a review decision.
type JobReviewResponse struct{}

// ConfigGetRequest has no fields.
type ConfigGetRequest struct{}

// ConfigGetResponse carries the live config with API-key fields redacted.
type ConfigGetResponse struct {
	Config config.Config `json:"config"`
}

// ConfigUpdateRequest carries a partial config document; only groups present
// in Body are applied, mirroring PUT /config's merge semantics.
type ConfigUpdateRequest struct {
	Body []byte `json:"body"`
}

// ConfigUpdateResponse carries the merged config, redacted.
type ConfigUpdateResponse struct {
	Config config.Config `json:"config"`
}

// StatusRequest has no fields.
type StatusRequest struct{}

// StatusResponse summarizes daemon liveness for the CLI's status command.
type StatusResponse struct {
	PID          int            `json:"pid"`
	SocketPath   string         `json:"socket_path"`
	DatabasePath string         `json:"database_path"`
	JobCounts    map[string]int `json:"job_counts"`
	UptimeMillis int64          `json:"uptime_millis"`
}

// TestNotificationRequest has no fields.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// EventTailRequest drives the CLI's tail command. After is a cursor
// returned by a previous call (0 to start from the beginning of the
// replay ring). When Follow is set and no events are available yet, the
// call blocks up to WaitMillis for one to arrive before returning an
// empty batch.
type EventTailRequest struct {
	After      uint64 `json:"after"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// EventTailResponse carries events published since After, plus the cursor
// to pass as After on the next call.
type EventTailResponse struct {
	Events []events.Event `json:"events"`
	Cursor uint64         `json:"cursor"`
}
