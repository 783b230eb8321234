package api

import (
	"testing"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
)

func TestRedactConfigMasksAPIKeysOnly(t *testing.T) {
	cfg := config.Default()
	cfg.TMDB.APIKey = "abc123"
	cfg.Jellyfin.APIKey = "def456"
	cfg.Notifications.NtfyTopic = "https://ntfy.sh/mytopic"
	cfg.Paths.LibraryDir = "/library"

	redacted := RedactConfig(cfg)
	if redacted.TMDB.APIKey != "***" || redacted.Jellyfin.APIKey != "***" || redacted.Notifications.NtfyTopic != "***" {
		t.Fatalf("expected all key-like fields redacted, got %+v", redacted)
	}
	if redacted.Paths.LibraryDir != "/library" {
		t.Fatalf("Paths.LibraryDir = %q, should not be redacted", redacted.Paths.LibraryDir)
	}
}

func TestRedactConfigLeavesEmptyKeysEmpty(t *testing.T) {
	cfg := config.Default()
	redacted := RedactConfig(cfg)
	if redacted.TMDB.APIKey != "" {
		t.Fatalf("TMDB.APIKey = %q, want empty string left untouched", redacted.TMDB.APIKey)
	}
}

func TestFromJobAndFromTitle(t *testing.T) {
	season := 2
	job := jobqueue.Job{ID: 7, VolumeLabel: "DISC_1", ContentType: jobqueue.ContentTV, DetectedSeason: &season, State: jobqueue.JobRipping}
	dto := FromJob(job)
	if dto.ID != 7 || dto.ContentType != "tv" || dto.State != "ripping" || *dto.DetectedSeason != 2 {
		t.Fatalf("FromJob() = %+v, unexpected", dto)
	}

	title := jobqueue.Title{ID: 9, JobID: 7, MatchedEpisode: "S02E03", State: jobqueue.TitleMatched}
	tdto := FromTitle(title)
	if tdto.ID != 9 || tdto.MatchedEpisode != "S02E03" || tdto.State != "matched" {
		t.Fatalf("FromTitle() = %+v, unexpected", tdto)
	}
}

func TestFromJobsReturnsEmptySliceNotNil(t *testing.T) {
	if got := FromJobs(nil); got == nil {
		t.Fatal("FromJobs(nil) = nil, want empty slice")
	}
}
