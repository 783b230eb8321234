package organizer

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/jobqueue"
)

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Publish(ctx context.Context, event string, payload map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

type fakeDoer struct {
	calls    int
	response *http.Response
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.response != nil {
		return f.response, nil
	}
	return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
}

func newTestOrganizer(t *testing.T) (*Organizer, *jobqueue.Store, *config.Config) {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths.DatabasePath = filepath.Join(root, "ingestd.db")
	cfg.Paths.LibraryDir = filepath.Join(root, "library")

	store, err := jobqueue.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	org := New(&cfg, store, &fakeNotifier{}, nil, nil)
	return org, store, &cfg
}

func seedRippedFile(t *testing.T, stagingRoot, name, contents string) string {
	t.Helper()
	path := filepath.Join(stagingRoot, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func TestPlaceMovesEpisodeIntoSeasonFolder(t *testing.T) {
	org, store, cfg := newTestOrganizer(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{
		DriveID:       "/dev/sr0",
		DetectedTitle: "Example Show",
		StagingDir:    t.TempDir(),
		State:         jobqueue.JobOrganizing,
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	source := seedRippedFile(t, t.TempDir(), "title_00.mkv", "data")
	titleID, err := store.CreateTitle(ctx, jobqueue.Title{
		JobID:          jobID,
		TitleIndex:     0,
		State:          jobqueue.TitleMatched,
		MatchedEpisode: "S01E02",
		OutputFilename: source,
	})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}

	finalPath, err := org.Place(ctx, title)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	want := filepath.Join(cfg.Paths.LibraryDir, cfg.Library.TVDir, "Example Show", "Season 01", "Example Show - S01E02.mkv")
	if finalPath != want {
		t.Fatalf("finalPath = %q, want %q", finalPath, want)
	}
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("organized file missing: %v", err)
	}
}

func TestPlaceRejectsUnparseableEpisodeCode(t *testing.T) {
	org, store, _ := newTestOrganizer(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", StagingDir: t.TempDir(), State: jobqueue.JobOrganizing})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	titleID, err := store.CreateTitle(ctx, jobqueue.Title{JobID: jobID, State: jobqueue.TitleMatched, MatchedEpisode: "not-a-code"})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}

	if _, err := org.Place(ctx, title); err == nil {
		t.Fatal("Place() error = nil, want error for unparseable episode code")
	}
}

func TestPlaceAppendsCollisionSuffixWhenNotOverwriting(t *testing.T) {
	org, store, cfg := newTestOrganizer(t)
	cfg.Library.OverwriteExisting = false
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", DetectedTitle: "Show", StagingDir: t.TempDir(), State: jobqueue.JobOrganizing})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	existingDir := filepath.Join(cfg.Paths.LibraryDir, cfg.Library.TVDir, "Show", "Season 01")
	if err := os.MkdirAll(existingDir, 0o755); err != nil {
		t.Fatalf("mkdir existing: %v", err)
	}
	if err := os.WriteFile(filepath.Join(existingDir, "Show - S01E01.mkv"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed existing file: %v", err)
	}

	source := seedRippedFile(t, t.TempDir(), "title_00.mkv", "fresh")
	titleID, err := store.CreateTitle(ctx, jobqueue.Title{JobID: jobID, State: jobqueue.TitleMatched, MatchedEpisode: "S01E01", OutputFilename: source})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}

	finalPath, err := org.Place(ctx, title)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	want := filepath.Join(existingDir, "Show - S01E01 (1).mkv")
	if finalPath != want {
		t.Fatalf("finalPath = %q, want %q", finalPath, want)
	}
}

func TestMoveToExtrasUsesExtrasSubdirectory(t *testing.T) {
	org, store, cfg := newTestOrganizer(t)
	ctx := context.Background()

	season := 2
	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", DetectedTitle: "Show", DetectedSeason: &season, StagingDir: t.TempDir(), State: jobqueue.JobOrganizing})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	source := seedRippedFile(t, t.TempDir(), "title_03.mkv", "extra")
	titleID, err := store.CreateTitle(ctx, jobqueue.Title{JobID: jobID, TitleIndex: 3, State: jobqueue.TitleMatching, IsExtra: true, OutputFilename: source})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}

	finalPath, err := org.MoveToExtras(ctx, title)
	if err != nil {
		t.Fatalf("MoveToExtras() error = %v", err)
	}
	want := filepath.Join(cfg.Paths.LibraryDir, cfg.Library.TVDir, "Show", "Season 02", "extras", "Show - extra 3.mkv")
	if finalPath != want {
		t.Fatalf("finalPath = %q, want %q", finalPath, want)
	}
}

func TestPlaceMovieUsesMoviesDirAndEdition(t *testing.T) {
	org, store, cfg := newTestOrganizer(t)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", DetectedTitle: "Example Movie", ContentType: jobqueue.ContentMovie, StagingDir: t.TempDir(), State: jobqueue.JobOrganizing})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}

	source := seedRippedFile(t, t.TempDir(), "title_00.mkv", "movie")
	titleID, err := store.CreateTitle(ctx, jobqueue.Title{JobID: jobID, State: jobqueue.TitleMatched, Edition: "Director's Cut", OutputFilename: source})
	if err != nil {
		t.Fatalf("CreateTitle() error = %v", err)
	}
	title, err := store.GetTitle(ctx, titleID)
	if err != nil {
		t.Fatalf("GetTitle() error = %v", err)
	}

	finalPath, err := org.PlaceMovie(ctx, job, title)
	if err != nil {
		t.Fatalf("PlaceMovie() error = %v", err)
	}
	want := filepath.Join(cfg.Paths.LibraryDir, cfg.Library.MoviesDir, "Example Movie", "Example Movie - Director's Cut.mkv")
	if finalPath != want {
		t.Fatalf("finalPath = %q, want %q", finalPath, want)
	}
}

func TestRefreshJellyfinSkippedWhenDisabled(t *testing.T) {
	cfg := config.Default()
	doer := &fakeDoer{}
	org := New(&cfg, nil, nil, doer, nil)
	org.refreshJellyfin(context.Background())
	if doer.calls != 0 {
		t.Fatalf("refreshJellyfin() called http.Do %d times, want 0 when disabled", doer.calls)
	}
}

func TestRefreshJellyfinCallsLibraryRefresh(t *testing.T) {
	cfg := config.Default()
	cfg.Jellyfin = config.Jellyfin{Enabled: true, URL: "http://jellyfin.local", APIKey: "token"}
	doer := &fakeDoer{}
	org := New(&cfg, nil, nil, doer, nil)
	org.refreshJellyfin(context.Background())
	if doer.calls != 1 {
		t.Fatalf("refreshJellyfin() called http.Do %d times, want 1", doer.calls)
	}
}

func TestSanitizeNameStripsIllegalCharacters(t *testing.T) {
	got := sanitizeName(`Show: The Return / Part 1?`)
	if got == "" || filepath.Base(got) != got {
		t.Fatalf("sanitizeName() = %q, want a clean path segment", got)
	}
}

func TestParseEpisodeCode(t *testing.T) {
	cases := []struct {
		code        string
		wantSeason  int
		wantEpisode int
		wantOK      bool
	}{
		{"S01E02", 1, 2, true},
		{"s10e123", 10, 123, true},
		{"movie", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, c := range cases {
		season, episode, ok := parseEpisodeCode(c.code)
		if ok != c.wantOK || season != c.wantSeason || episode != c.wantEpisode {
			t.Errorf("parseEpisodeCode(%q) = (%d, %d, %v), want (%d, %d, %v)",
				c.code, season, episode, ok, c.wantSeason, c.wantEpisode, c.wantOK)
		}
	}
}
