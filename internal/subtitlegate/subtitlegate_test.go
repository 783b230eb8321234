package subtitlegate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/jobqueue"
)

type fakeAcquirer struct {
	status jobqueue.SubtitleStatus
	err    error
	calls  int
}

func (f *fakeAcquirer) Acquire(ctx context.Context, jobID int64, seriesName string, season int) (jobqueue.SubtitleStatus, error) {
	f.calls++
	return f.status, f.err
}

func newTestCoordinator(t *testing.T, acquirer Acquirer) (*Coordinator, *jobqueue.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DatabasePath = filepath.Join(t.TempDir(), "ingestd.db")

	store, err := jobqueue.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.New(8, 16)
	return New(store, bus, acquirer, nil), store
}

func TestStartTransitionsToCompleted(t *testing.T) {
	coord, store := newTestCoordinator(t, &fakeAcquirer{status: jobqueue.SubtitleCompleted})
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	coord.Start(ctx, jobID, "Show", 1)

	status, ok := coord.Wait(ctx, jobID, time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}
	if status != jobqueue.SubtitleCompleted {
		t.Fatalf("status = %q, want completed", status)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.SubtitleStatus != jobqueue.SubtitleCompleted {
		t.Fatalf("job.SubtitleStatus = %q, want completed", job.SubtitleStatus)
	}
}

func TestStartIsIdempotentPerJob(t *testing.T) {
	acquirer := &fakeAcquirer{status: jobqueue.SubtitleCompleted}
	coord, store := newTestCoordinator(t, acquirer)
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	coord.Start(ctx, jobID, "Show", 1)
	coord.Start(ctx, jobID, "Show", 1)

	if _, ok := coord.Wait(ctx, jobID, time.Second); !ok {
		t.Fatal("Wait() timed out")
	}
	if acquirer.calls != 1 {
		t.Fatalf("Acquire calls = %d, want 1", acquirer.calls)
	}
}

func TestAcquisitionErrorMarksFailed(t *testing.T) {
	coord, store := newTestCoordinator(t, &fakeAcquirer{err: errors.New("source unreachable")})
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	coord.Start(ctx, jobID, "Show", 1)

	status, ok := coord.Wait(ctx, jobID, time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}
	if status != jobqueue.SubtitleFailed {
		t.Fatalf("status = %q, want failed", status)
	}
}

func TestWaitWithoutStartReturnsNotOK(t *testing.T) {
	coord, _ := newTestCoordinator(t, &fakeAcquirer{status: jobqueue.SubtitleCompleted})
	if _, ok := coord.Wait(context.Background(), 999, 50*time.Millisecond); ok {
		t.Fatal("Wait() for unstarted job = ok, want not ok")
	}
}

func TestWaitTimesOutBeforeAcquisitionFinishes(t *testing.T) {
	coord, store := newTestCoordinator(t, &slowAcquirer{delay: 200 * time.Millisecond, status: jobqueue.SubtitleCompleted})
	ctx := context.Background()

	jobID, err := store.CreateJob(ctx, jobqueue.Job{DriveID: "/dev/sr0", StagingDir: "/staging/1"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	coord.Start(ctx, jobID, "Show", 1)
	if _, ok := coord.Wait(ctx, jobID, 20*time.Millisecond); ok {
		t.Fatal("Wait() = ok, want timeout before acquisition finished")
	}
}

type slowAcquirer struct {
	delay  time.Duration
	status jobqueue.SubtitleStatus
}

func (s *slowAcquirer) Acquire(ctx context.Context, jobID int64, seriesName string, season int) (jobqueue.SubtitleStatus, error) {
	time.Sleep(s.delay)
	return s.status, nil
}
