// Package api implements the request/response surface the orchestrator
// exposes over HTTP: read-only views over the Persistence Interface
// (service.go), mutating handlers that drive the Job Orchestrator and
// Conflict Resolver (actions.go), and the net/http wiring that turns both
// into JSON endpoints (http.go).
package api

import "time"

const redacted = "***"

// JobDTO describes a job in a transport-friendly format.
type JobDTO struct {
	ID                int64     `json:"id"`
	DriveID           string    `json:"drive_id"`
	VolumeLabel       string    `json:"volume_label"`
	ContentType       string    `json:"content_type"`
	DetectedTitle     string    `json:"detected_title,omitempty"`
	DetectedSeason    *int      `json:"detected_season,omitempty"`
	DiscNumber        int       `json:"disc_number,omitempty"`
	State             string    `json:"state"`
	OverallPercent    float64   `json:"overall_percent"`
	CurrentTitleIndex int       `json:"current_title_index"`
	TotalTitles       int       `json:"total_titles"`
	TransferSpeed     string    `json:"transfer_speed,omitempty"`
	ETASeconds        int       `json:"eta_seconds,omitempty"`
	FinalPath         string    `json:"final_path,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	SubtitleStatus    string    `json:"subtitle_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TitleDTO describes a title in a transport-friendly format.
type TitleDTO struct {
	ID              int64     `json:"id"`
	JobID           int64     `json:"job_id"`
	TitleIndex      int       `json:"title_index"`
	DurationSeconds int       `json:"duration_seconds"`
	Resolution      string    `json:"resolution,omitempty"`
	IsSelected      bool      `json:"is_selected"`
	IsExtra         bool      `json:"is_extra"`
	State           string    `json:"state"`
	MatchedEpisode  string    `json:"matched_episode,omitempty"`
	Confidence      float64   `json:"confidence"`
	Edition         string    `json:"edition,omitempty"`
	OrganizedTo     string    `json:"organized_to,omitempty"`
	ConflictRound   int       `json:"conflict_round,omitempty"`
	ReviewReason    string    `json:"review_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobListResponse wraps a collection of jobs for GET /jobs.
type JobListResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

// TitleListResponse wraps a job's titles for GET /jobs/{id}/titles.
type TitleListResponse struct {
	Titles []TitleDTO `json:"titles"`
}

// ReviewRequest is the body of POST /jobs/{id}/review.
type ReviewRequest struct {
	TitleID     int64  `json:"title_id"`
	EpisodeCode string `json:"episode_code,omitempty"`
	Edition     string `json:"edition,omitempty"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
