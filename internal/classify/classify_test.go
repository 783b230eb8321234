package classify

import (
	"context"
	"testing"

	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/orchestrator"
)

func TestClassifyDetectsTVFromEpisodeCluster(t *testing.T) {
	c := New(DefaultPolicy())
	titles := []orchestrator.DiscTitle{
		{Index: 0, DurationSeconds: 1400},
		{Index: 1, DurationSeconds: 1420},
		{Index: 2, DurationSeconds: 1390},
		{Index: 3, DurationSeconds: 60, IsPlayAll: false}, // trailer, filtered by duration
	}
	got, err := c.Classify(context.Background(), "BREAKING_BAD_S02_D1", titles)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.ContentType != jobqueue.ContentTV {
		t.Fatalf("ContentType = %v, want tv", got.ContentType)
	}
	if got.Season != 2 {
		t.Fatalf("Season = %d, want 2", got.Season)
	}
	if got.SeriesName == "" {
		t.Fatal("SeriesName is empty")
	}
}

func TestClassifyDetectsSingleMovie(t *testing.T) {
	c := New(DefaultPolicy())
	titles := []orchestrator.DiscTitle{
		{Index: 0, DurationSeconds: 7200},
		{Index: 1, DurationSeconds: 180}, // trailer
	}
	got, err := c.Classify(context.Background(), "THE_EXAMPLE_MOVIE", titles)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.ContentType != jobqueue.ContentMovie {
		t.Fatalf("ContentType = %v, want movie", got.ContentType)
	}
	if got.NeedsReview {
		t.Fatal("NeedsReview = true for an unambiguous single feature-length title")
	}
}

func TestClassifyFlagsAmbiguousMovieTitles(t *testing.T) {
	c := New(DefaultPolicy())
	titles := []orchestrator.DiscTitle{
		{Index: 0, DurationSeconds: 6900},
		{Index: 1, DurationSeconds: 6800},
	}
	got, err := c.Classify(context.Background(), "DOUBLE_FEATURE", titles)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !got.NeedsReview {
		t.Fatal("NeedsReview = false, want true when no candidate dominates")
	}
	if len(got.AmbiguousMovieTitles) != 2 {
		t.Fatalf("AmbiguousMovieTitles = %v, want both candidate indices", got.AmbiguousMovieTitles)
	}
}

func TestClassifyUnknownWhenNoCandidates(t *testing.T) {
	c := New(DefaultPolicy())
	titles := []orchestrator.DiscTitle{{Index: 0, DurationSeconds: 45}}
	got, err := c.Classify(context.Background(), "MENU_ONLY", titles)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.ContentType != jobqueue.ContentUnknown || !got.NeedsReview {
		t.Fatalf("got %+v, want unknown+review", got)
	}
}

func TestParseSeriesAndSeasonVariants(t *testing.T) {
	cases := []struct {
		label      string
		wantSeries string
		wantSeason int
	}{
		{"The.Office.Season.3", "The Office", 3},
		{"GAME_OF_THRONES_S01_D2", "GAME OF THRONES", 1},
		{"RANDOM_LABEL", "RANDOM LABEL", 0},
	}
	for _, c := range cases {
		series, season := parseSeriesAndSeason(c.label)
		if series != c.wantSeries || season != c.wantSeason {
			t.Errorf("parseSeriesAndSeason(%q) = (%q, %d), want (%q, %d)", c.label, series, season, c.wantSeries, c.wantSeason)
		}
	}
}
