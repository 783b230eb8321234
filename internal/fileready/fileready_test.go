package fileready

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWaitSucceedsWhenStableAndAboveFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(path, make([]byte, 900), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := Wait(context.Background(), path, 1000, Options{
		PollInterval:    10 * time.Millisecond,
		StabilityChecks: 2,
		Timeout:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestWaitTimesOutWhenBelowFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := Wait(context.Background(), path, 1000, Options{
		PollInterval:    10 * time.Millisecond,
		StabilityChecks: 2,
		Timeout:         50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error for undersized file")
	}
}

func TestWaitReportsProgressCappedAt99(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mkv")
	if err := os.WriteFile(path, make([]byte, 2000), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var lastPercent float64
	err := Wait(context.Background(), path, 1000, Options{
		PollInterval:    10 * time.Millisecond,
		StabilityChecks: 1,
		Timeout:         2 * time.Second,
		OnProgress:      func(p Progress) { lastPercent = p.Percent },
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if lastPercent > 99 {
		t.Fatalf("Percent = %v, want capped at 99", lastPercent)
	}
}

func TestSizeDerivedTimeoutUsesLargerValue(t *testing.T) {
	if got := sizeDerivedTimeout(0); got != defaultTimeout {
		t.Fatalf("sizeDerivedTimeout(0) = %v, want default %v", got, defaultTimeout)
	}
	big := int64(10_000) * 1024 * 1024 // 10000 MiB -> 20000s
	if got := sizeDerivedTimeout(big); got <= defaultTimeout {
		t.Fatalf("sizeDerivedTimeout(large) = %v, want > default", got)
	}
}
