// Package jobqueue is the Persistence Interface: an opaque SQLite-backed
// store for Jobs, Titles, and the singleton app config, with every mutation
// wrapped in a transaction.
package jobqueue

import "time"

// JobState is a Job's lifecycle state.
type JobState string

const (
	JobIdle          JobState = "idle"
	JobIdentifying   JobState = "identifying"
	JobRipping       JobState = "ripping"
	JobMatching      JobState = "matching"
	JobOrganizing    JobState = "organizing"
	JobReviewNeeded  JobState = "review_needed"
	JobCompleted     JobState = "completed"
	JobFailed        JobState = "failed"
)

// TitleState is a Title's lifecycle state.
type TitleState string

const (
	TitlePending  TitleState = "pending"
	TitleRipping  TitleState = "ripping"
	TitleMatching TitleState = "matching"
	TitleMatched  TitleState = "matched"
	TitleReview   TitleState = "review"
	TitleCompleted TitleState = "completed"
	TitleFailed    TitleState = "failed"
)

// ContentType classifies a job's disc.
type ContentType string

const (
	ContentTV      ContentType = "tv"
	ContentMovie   ContentType = "movie"
	ContentUnknown ContentType = "unknown"
)

// SubtitleStatus is a job's subtitle-acquisition status.
type SubtitleStatus string

const (
	SubtitleNone        SubtitleStatus = "none"
	SubtitleDownloading SubtitleStatus = "downloading"
	SubtitleCompleted   SubtitleStatus = "completed"
	SubtitlePartial     SubtitleStatus = "partial"
	SubtitleFailed      SubtitleStatus = "failed"
)

// Job represents processing of one disc.
type Job struct {
	ID                int64
	DriveID           string
	VolumeLabel       string
	ContentType       ContentType
	DetectedTitle     string
	DetectedSeason    *int
	DiscNumber        int
	StagingDir        string
	State             JobState
	OverallPercent    float64
	CurrentTitleIndex int
	TotalTitles       int
	TransferSpeed     string
	ETASeconds        int
	FinalPath         string
	ErrorMessage      string
	SubtitleStatus    SubtitleStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Terminal reports whether the job is in a terminal state.
func (j Job) Terminal() bool {
	return j.State == JobCompleted || j.State == JobFailed
}

// Title is one video track on a disc.
type Title struct {
	ID               int64
	JobID            int64
	TitleIndex       int
	DurationSeconds  int
	ExpectedBytes    int64
	ChapterCount     int
	Resolution       string
	IsSelected       bool
	IsExtra          bool
	State            TitleState
	MatchedEpisode   string
	Confidence       float64
	MatchDetailsJSON string
	Edition          string
	OutputFilename   string
	OrganizedTo      string
	ConflictRound    int
	ReviewReason     string
	LastHeartbeat    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the title is in a terminal state.
func (t Title) Terminal() bool {
	return t.State == TitleCompleted || t.State == TitleFailed
}

// MatchTerminal reports whether the title has reached a state the Conflict
// Resolver treats as a finished matching attempt.
func (t Title) MatchTerminal() bool {
	switch t.State {
	case TitleMatched, TitleReview, TitleCompleted, TitleFailed:
		return true
	default:
		return false
	}
}

var processingTitleStates = map[TitleState]struct{}{
	TitleRipping:  {},
	TitleMatching: {},
}

// IsProcessing reports whether the title is mid-stage (used for heartbeat
// reclamation).
func (t Title) IsProcessing() bool {
	_, ok := processingTitleStates[t.State]
	return ok
}
