package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"ingestorchestrator/internal/apperr"
	"ingestorchestrator/internal/events"
)

// Server wires Service and Actions to the HTTP surface, using the standard
// library's method-and-pattern ServeMux rather than a third-party router —
// this layer is thin glue over the orchestrator core, not the core itself.
type Server struct {
	service *Service
	actions *Actions
	bus     *events.Bus
	logger  *slog.Logger
}

// NewServer builds the HTTP handler. Pass bus to enable the push channel at
// GET /events; nil disables it (handler responds 404).
func NewServer(service *Service, actions *Actions, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{service: service, actions: actions, bus: bus, logger: logger}
}

// Handler returns the complete routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/titles", s.handleListTitles)
	mux.HandleFunc("POST /jobs/{id}/start", s.handleStartJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /jobs/{id}/review", s.handleReview)
	mux.HandleFunc("POST /jobs/{id}/process-matched", s.handleProcessMatched)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handlePutConfig)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.service.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	titles, err := s.service.ListTitles(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TitleListResponse{Titles: titles})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.actions.StartJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.actions.CancelJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Wrap(apperr.ErrValidation, "api", "review", "invalid request body", err))
		return
	}
	if err := s.actions.ApplyReview(r.Context(), id, req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProcessMatched(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.actions.ProcessMatched(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.actions.DeleteJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.actions.GetConfig())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.ErrValidation, "api", "update_config", "read request body", err))
		return
	}
	cfg, err := s.actions.UpdateConfig(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleEvents streams the Event Bus to a connected client as newline-
// delimited JSON, replaying recent history first. A dedicated WebSocket
// dependency would add a second transport for something line-delimited
// JSON over a long-lived response already expresses; see DESIGN.md.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, evt := range s.bus.Tail(0) {
		if err := enc.Encode(evt); err != nil {
			return
		}
	}
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer sub.Cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.Encode(evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrValidation, "api", "parse_path_id", "invalid id in path", err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed", "error", err, "status", status)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusForError(err error) (int, string) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch {
		case appErr.Kind == apperr.KindNotFound:
			return http.StatusNotFound, string(appErr.Kind)
		case appErr.Kind == apperr.KindValidation && appErr.Code == "invalid_state":
			return http.StatusBadRequest, appErr.Code
		case appErr.Kind == apperr.KindValidation:
			return http.StatusUnprocessableEntity, string(appErr.Kind)
		case appErr.Kind == apperr.KindConfiguration:
			return http.StatusBadRequest, string(appErr.Kind)
		default:
			return http.StatusInternalServerError, string(appErr.Kind)
		}
	}
	return http.StatusInternalServerError, ""
}
