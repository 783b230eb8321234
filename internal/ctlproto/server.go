package ctlproto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"ingestorchestrator/internal/api"
	"ingestorchestrator/internal/events"
	"ingestorchestrator/internal/jobqueue"
	"ingestorchestrator/internal/notify"
)

// JobCounter is the narrow slice of the Persistence Interface Status needs
// to report per-state job counts, kept local to avoid importing jobqueue's
// Store as a concrete type.
type JobCounter interface {
	ListJobs(ctx context.Context, states ...jobqueue.JobState) ([]jobqueue.Job, error)
}

var statusStates = []jobqueue.JobState{
	jobqueue.JobIdle,
	jobqueue.JobIdentifying,
	jobqueue.JobRipping,
	jobqueue.JobMatching,
	jobqueue.JobOrganizing,
	jobqueue.JobReviewNeeded,
	jobqueue.JobCompleted,
	jobqueue.JobFailed,
}

// Server exposes the orchestrator over JSON-RPC on a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the control socket at path, wiring the same Service
// and Actions the HTTP API uses so both transports share one implementation
// of every job and config operation.
func NewServer(ctx context.Context, path string, service *api.Service, actions *api.Actions, counter JobCounter, bus *events.Bus, notifier notify.Service, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("ctlproto: remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ctlproto: listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	recv := &receiver{
		service:   service,
		actions:   actions,
		counter:   counter,
		bus:       bus,
		notifier:  notifier,
		socket:    path,
		pid:       os.Getpid(),
		startedAt: time.Now(),
	}
	if err := rpcServer.RegisterName("Ctl", recv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("ctlproto: register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections until the context passed to NewServer is
// canceled or Close is called.
func (s *Server) Serve() {
	s.logger.Info("control socket listening", "path", s.path)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("control socket accept failed", "error", err)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove control socket", "path", s.path, "error", err)
	}
}

type receiver struct {
	service  *api.Service
	actions  *api.Actions
	counter  JobCounter
	bus      *events.Bus
	notifier notify.Service
	socket   string
	pid      int

	startedAt time.Time
}

func (r *receiver) JobList(_ JobListRequest, resp *JobListResponse) error {
	jobs, err := r.service.ListJobs(context.Background())
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (r *receiver) JobGet(req JobGetRequest, resp *JobGetResponse) error {
	job, err := r.service.GetJob(context.Background(), req.ID)
	if err != nil {
		return err
	}
	resp.Job = job
	return nil
}

func (r *receiver) TitleList(req TitleListRequest, resp *TitleListResponse) error {
	titles, err := r.service.ListTitles(context.Background(), req.JobID)
	if err != nil {
		return err
	}
	resp.Titles = titles
	return nil
}

func (r *receiver) JobStart(req JobActionRequest, resp *JobActionResponse) error {
	return r.actions.StartJob(context.Background(), req.ID)
}

func (r *receiver) JobCancel(req JobActionRequest, resp *JobActionResponse) error {
	return r.actions.CancelJob(context.Background(), req.ID)
}

func (r *receiver) JobProcessMatched(req JobActionRequest, resp *JobActionResponse) error {
	return r.actions.ProcessMatched(context.Background(), req.ID)
}

func (r *receiver) JobDelete(req JobActionRequest, resp *JobActionResponse) error {
	return r.actions.DeleteJob(context.Background(), req.ID)
}

func (r *receiver) JobReview(req JobReviewRequest, resp *JobReviewResponse) error {
	return r.actions.ApplyReview(context.Background(), req.JobID, api.ReviewRequest{
		TitleID:     req.TitleID,
		EpisodeCode: req.EpisodeCode,
		Edition:     req.Edition,
	})
}

func (r *receiver) ConfigGet(_ ConfigGetRequest, resp *ConfigGetResponse) error {
	resp.Config = r.actions.GetConfig()
	return nil
}

func (r *receiver) ConfigUpdate(req ConfigUpdateRequest, resp *ConfigUpdateResponse) error {
	cfg, err := r.actions.UpdateConfig(req.Body)
	if err != nil {
		return err
	}
	resp.Config = cfg
	return nil
}

func (r *receiver) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.PID = r.pid
	resp.SocketPath = r.socket
	resp.UptimeMillis = time.Since(r.startedAt).Milliseconds()
	if p, ok := r.counter.(interface{ Path() string }); ok {
		resp.DatabasePath = p.Path()
	}
	resp.JobCounts = make(map[string]int, len(statusStates))
	for _, state := range statusStates {
		jobs, err := r.counter.ListJobs(context.Background(), state)
		if err != nil {
			return err
		}
		resp.JobCounts[string(state)] = len(jobs)
	}
	return nil
}

func (r *receiver) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if r.notifier == nil {
		resp.Sent = false
		resp.Message = "no notification service configured"
		return nil
	}
	err := r.notifier.Publish(context.Background(), notify.EventTestNotification, nil)
	if err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	return nil
}

// EventTail serves the CLI's tail command with a long-poll: an immediate
// reply once events newer than After exist, or an empty batch once
// WaitMillis elapses with none.
func (r *receiver) EventTail(req EventTailRequest, resp *EventTailResponse) error {
	if r.bus == nil {
		return errors.New("ctlproto: event bus not configured")
	}
	if batch := r.bus.Since(req.After); len(batch) > 0 {
		resp.Events = batch
		resp.Cursor = batch[len(batch)-1].Sequence
		return nil
	}
	if !req.Follow {
		resp.Cursor = req.After
		return nil
	}

	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 {
		wait = time.Second
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if batch := r.bus.Since(req.After); len(batch) > 0 {
			resp.Events = batch
			resp.Cursor = batch[len(batch)-1].Sequence
			return nil
		}
	}
	resp.Cursor = req.After
	return nil
}
