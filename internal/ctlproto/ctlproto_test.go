package ctlproto_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ingestorchestrator/internal/api"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/ctlproto"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/notify"
)

type fakeOrchestrator struct {
	started   []int64
	cancelled []int64
}

func (f *fakeOrchestrator) StartJob(ctx context.Context, jobID int64) error {
	f.started = append(f.started, jobID)
	return nil
}

func (f *fakeOrchestrator) CancelJob(ctx context.Context, jobID int64) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeOrchestrator) ApplyReview(ctx context.Context, jobID, titleID int64, episodeCode, edition string) error {
	return nil
}

type fakeResolver struct {
	resolved []int64
}

func (f *fakeResolver) Resolve(ctx context.Context, jobID int64) error {
	f.resolved = append(f.resolved, jobID)
	return nil
}

type ctlTestEnv struct {
	Client *ctlproto.Client
	Store  *jobqueue.Store
	Bus    *events.Bus
}

func setupCtlTest(t *testing.T) *ctlTestEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.DatabasePath = filepath.Join(t.TempDir(), "ingestd.db")

	store, err := jobqueue.Open(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	service := api.NewService(store, &cfg)
	actions := api.NewActions(store, &fakeOrchestrator{}, &fakeResolver{}, &cfg)
	bus := events.New(8, 16)
	notifier := notify.New(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(t.TempDir(), "ingestd.sock")
	srv, err := ctlproto.NewServer(ctx, socket, service, actions, store, bus, notifier, nil)
	if err != nil {
		t.Fatalf("ctlproto.NewServer() error = %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ctlproto.Dial(socket)
	if err != nil {
		t.Fatalf("ctlproto.Dial() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return &ctlTestEnv{Client: client, Store: store, Bus: bus}
}

func seedJob(t *testing.T, store *jobqueue.Store, state jobqueue.JobState) int64 {
	t.Helper()
	id, err := store.CreateJob(context.Background(), jobqueue.Job{
		DriveID:     "/dev/sr0",
		VolumeLabel: "TEST_DISC",
		ContentType: jobqueue.ContentTV,
		State:       state,
	})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return id
}

func TestJobListReturnsSeededJobs(t *testing.T) {
	env := setupCtlTest(t)
	seedJob(t, env.Store, jobqueue.JobIdle)
	seedJob(t, env.Store, jobqueue.JobCompleted)

	resp, err := env.Client.JobList()
	if err != nil {
		t.Fatalf("JobList() error = %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("len(Jobs) = %d, want 2", len(resp.Jobs))
	}
}

func TestJobGetNotFoundReturnsError(t *testing.T) {
	env := setupCtlTest(t)
	if _, err := env.Client.JobGet(999); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestJobStartAndCancelDelegateThroughRPC(t *testing.T) {
	env := setupCtlTest(t)
	id := seedJob(t, env.Store, jobqueue.JobIdle)

	if err := env.Client.JobStart(id); err != nil {
		t.Fatalf("JobStart() error = %v", err)
	}
	if err := env.Client.JobCancel(id); err != nil {
		t.Fatalf("JobCancel() error = %v", err)
	}
}

func TestJobReviewRequiresTitleID(t *testing.T) {
	env := setupCtlTest(t)
	id := seedJob(t, env.Store, jobqueue.JobReviewNeeded)

	if err := env.Client.JobReview(ctlproto.JobReviewRequest{JobID: id}); err == nil {
		t.Fatal("expected error for review without title_id")
	}
}

func TestJobDeleteRejectsNonTerminalJob(t *testing.T) {
	env := setupCtlTest(t)
	id := seedJob(t, env.Store, jobqueue.JobRipping)

	if err := env.Client.JobDelete(id); err == nil {
		t.Fatal("expected error deleting a non-terminal job")
	}
}

func TestStatusReportsJobCounts(t *testing.T) {
	env := setupCtlTest(t)
	seedJob(t, env.Store, jobqueue.JobIdle)
	seedJob(t, env.Store, jobqueue.JobIdle)
	seedJob(t, env.Store, jobqueue.JobCompleted)

	status, err := env.Client.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.JobCounts[string(jobqueue.JobIdle)] != 2 {
		t.Fatalf("JobCounts[idle] = %d, want 2", status.JobCounts[string(jobqueue.JobIdle)])
	}
	if status.JobCounts[string(jobqueue.JobCompleted)] != 1 {
		t.Fatalf("JobCounts[completed] = %d, want 1", status.JobCounts[string(jobqueue.JobCompleted)])
	}
}

func TestTestNotificationReportsOutcome(t *testing.T) {
	env := setupCtlTest(t)
	resp, err := env.Client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification() error = %v", err)
	}
	if resp.Message == "" {
		t.Fatal("expected a notification message")
	}
}

func TestEventTailReturnsEventsSincePublish(t *testing.T) {
	env := setupCtlTest(t)
	env.Bus.Publish(events.Event{Type: events.TypeJobUpdate, JobID: 1})
	env.Bus.Publish(events.Event{Type: events.TypeJobUpdate, JobID: 2})

	resp, err := env.Client.EventTail(ctlproto.EventTailRequest{})
	if err != nil {
		t.Fatalf("EventTail() error = %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(resp.Events))
	}

	again, err := env.Client.EventTail(ctlproto.EventTailRequest{After: resp.Cursor})
	if err != nil {
		t.Fatalf("EventTail() error = %v", err)
	}
	if len(again.Events) != 0 {
		t.Fatalf("len(Events) = %d, want 0 for no new events", len(again.Events))
	}
}

func TestEventTailFollowBlocksUntilNextEvent(t *testing.T) {
	env := setupCtlTest(t)
	env.Bus.Publish(events.Event{Type: events.TypeJobUpdate, JobID: 1})

	first, err := env.Client.EventTail(ctlproto.EventTailRequest{})
	if err != nil {
		t.Fatalf("EventTail() error = %v", err)
	}

	done := make(chan *ctlproto.EventTailResponse, 1)
	errs := make(chan error, 1)
	go func() {
		resp, err := env.Client.EventTail(ctlproto.EventTailRequest{
			After: first.Cursor, Follow: true, WaitMillis: 2000,
		})
		if err != nil {
			errs <- err
			return
		}
		done <- resp
	}()

	time.Sleep(100 * time.Millisecond)
	env.Bus.Publish(events.Event{Type: events.TypeJobUpdate, JobID: 2})

	select {
	case resp := <-done:
		if len(resp.Events) != 1 || resp.Events[0].JobID != 2 {
			t.Fatalf("unexpected follow response: %+v", resp)
		}
	case err := <-errs:
		t.Fatalf("EventTail follow error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("EventTail follow timed out")
	}
}
