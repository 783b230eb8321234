package api

import (
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
)

// FromJob converts a persisted Job to its transport DTO.
func FromJob(j jobqueue.Job) JobDTO {
	return JobDTO{
		ID:                j.ID,
		DriveID:           j.DriveID,
		VolumeLabel:       j.VolumeLabel,
		ContentType:       string(j.ContentType),
		DetectedTitle:     j.DetectedTitle,
		DetectedSeason:    j.DetectedSeason,
		DiscNumber:        j.DiscNumber,
		State:             string(j.State),
		OverallPercent:    j.OverallPercent,
		CurrentTitleIndex: j.CurrentTitleIndex,
		TotalTitles:       j.TotalTitles,
		TransferSpeed:     j.TransferSpeed,
		ETASeconds:        j.ETASeconds,
		FinalPath:         j.FinalPath,
		ErrorMessage:      j.ErrorMessage,
		SubtitleStatus:    string(j.SubtitleStatus),
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

// FromJobs converts a slice of Jobs, returning an empty (not nil) slice so
// the JSON response always has a "jobs" array rather than null.
func FromJobs(jobs []jobqueue.Job) []JobDTO {
	out := make([]JobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, FromJob(j))
	}
	return out
}

// FromTitle converts a persisted Title to its transport DTO.
func FromTitle(t jobqueue.Title) TitleDTO {
	return TitleDTO{
		ID:              t.ID,
		JobID:           t.JobID,
		TitleIndex:      t.TitleIndex,
		DurationSeconds: t.DurationSeconds,
		Resolution:      t.Resolution,
		IsSelected:      t.IsSelected,
		IsExtra:         t.IsExtra,
		State:           string(t.State),
		MatchedEpisode:  t.MatchedEpisode,
		Confidence:      t.Confidence,
		Edition:         t.Edition,
		OrganizedTo:     t.OrganizedTo,
		ConflictRound:   t.ConflictRound,
		ReviewReason:    t.ReviewReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// FromTitles converts a slice of Titles, in the order the store returned
// them (callers ordering by title_index rely on the store query's ORDER BY).
func FromTitles(titles []jobqueue.Title) []TitleDTO {
	out := make([]TitleDTO, 0, len(titles))
	for _, t := range titles {
		out = append(out, FromTitle(t))
	}
	return out
}

// RedactConfig returns a copy of cfg with every API-key field replaced by
// "***", safe to serialize back to a client.
func RedactConfig(cfg config.Config) config.Config {
	if cfg.TMDB.APIKey != "" {
		cfg.TMDB.APIKey = redacted
	}
	if cfg.Jellyfin.APIKey != "" {
		cfg.Jellyfin.APIKey = redacted
	}
	if cfg.Notifications.NtfyTopic != "" {
		cfg.Notifications.NtfyTopic = redacted
	}
	if cfg.Subtitles.OpenSubtitlesAPIKey != "" {
		cfg.Subtitles.OpenSubtitlesAPIKey = redacted
	}
	return cfg
}
