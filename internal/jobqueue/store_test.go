package jobqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ingestorchestrator/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DatabasePath = filepath.Join(t.TempDir(), "ingestd.db")

	store, err := Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.State != JobIdle {
		t.Fatalf("State = %q, want %q", job.State, JobIdle)
	}
	if job.ContentType != ContentUnknown {
		t.Fatalf("ContentType = %q, want %q", job.ContentType, ContentUnknown)
	}
	if job.SubtitleStatus != SubtitleNone {
		t.Fatalf("SubtitleStatus = %q, want %q", job.SubtitleStatus, SubtitleNone)
	}
}

func TestActiveJobForDriveExcludesTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	_, ok, err := store.ActiveJobForDrive(ctx, "/dev/sr0")
	if err != nil || !ok {
		t.Fatalf("ActiveJobForDrive() = (_, %v, %v), want ok", ok, err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	job.State = JobCompleted
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	_, ok, err = store.ActiveJobForDrive(ctx, "/dev/sr0")
	if err != nil {
		t.Fatalf("ActiveJobForDrive() error = %v", err)
	}
	if ok {
		t.Fatal("expected no active job once job is completed")
	}
}

func TestTitleCRUDAndListByState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	titleID, err := store.CreateTitle(ctx, Title{JobID: jobID, TitleIndex: 0, DurationSeconds: 3600, IsSelected: true})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}

	titles, err := store.TitlesForJob(ctx, jobID)
	if err != nil {
		t.Fatalf("TitlesForJob() error = %v", err)
	}
	if len(titles) != 1 || titles[0].ID != titleID {
		t.Fatalf("TitlesForJob() = %+v", titles)
	}

	pending, err := store.TitlesByState(ctx, TitlePending)
	if err != nil {
		t.Fatalf("TitlesByState() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}

	title := titles[0]
	title.State = TitleMatched
	title.MatchedEpisode = "S01E01"
	title.Confidence = 0.92
	if err := store.UpdateTitle(ctx, title); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}

	got, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}
	if got.State != TitleMatched || got.MatchedEpisode != "S01E01" {
		t.Fatalf("GetTitle() = %+v", got)
	}
	if !got.MatchTerminal() {
		t.Fatal("expected MatchTerminal() true for matched title")
	}
}

func TestAppConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetAppConfig(ctx); err != nil || ok {
		t.Fatalf("GetAppConfig() on empty store = (_, %v, %v), want not ok", ok, err)
	}

	if err := store.SetAppConfig(ctx, `{"tmdb":{"api_key":"k"}}`); err != nil {
		t.Fatalf("SetAppConfig() error = %v", err)
	}
	got, ok, err := store.GetAppConfig(ctx)
	if err != nil || !ok {
		t.Fatalf("GetAppConfig() = (_, %v, %v), want ok", ok, err)
	}
	if got != `{"tmdb":{"api_key":"k"}}` {
		t.Fatalf("GetAppConfig() = %q", got)
	}

	if err := store.SetAppConfig(ctx, `{"tmdb":{"api_key":"k2"}}`); err != nil {
		t.Fatalf("SetAppConfig() overwrite error = %v", err)
	}
	got, _, _ = store.GetAppConfig(ctx)
	if got != `{"tmdb":{"api_key":"k2"}}` {
		t.Fatalf("GetAppConfig() after overwrite = %q", got)
	}
}

func TestReclaimStaleTitlesRollsBackProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	titleID, err := store.CreateTitle(ctx, Title{JobID: jobID, TitleIndex: 0})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}

	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}
	title.State = TitleRipping
	if err := store.UpdateTitle(ctx, title); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}

	n, err := store.ReclaimStaleTitles(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleTitles() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ReclaimStaleTitles() reclaimed = %d, want 1", n)
	}

	got, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}
	if got.State != TitlePending {
		t.Fatalf("State after reclaim = %q, want %q", got.State, TitlePending)
	}
	if got.ReviewReason == "" {
		t.Fatal("expected review_reason to be set after reclaim")
	}
}

func TestRetryFailedResetsToPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	titleID, err := store.CreateTitle(ctx, Title{JobID: jobID, TitleIndex: 0})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}

	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}
	title.State = TitleFailed
	title.ReviewReason = "makemkv exited 1"
	if err := store.UpdateTitle(ctx, title); err != nil {
		t.Fatalf("UpdateTitle() error = %v", err)
	}

	if err := store.RetryFailed(ctx, titleID); err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}

	got, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}
	if got.State != TitlePending {
		t.Fatalf("State after retry = %q, want %q", got.State, TitlePending)
	}
	if got.ReviewReason != "" {
		t.Fatalf("ReviewReason after retry = %q, want empty", got.ReviewReason)
	}
}
