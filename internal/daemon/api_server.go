package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/job"
	"dubforge/internal/logging"
	"dubforge/internal/progress"
	"dubforge/internal/scheduler"
	"dubforge/internal/services"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.requireAuth(srv.handleStatus))
	mux.HandleFunc("/api/jobs", srv.requireAuth(srv.handleJobs))
	mux.HandleFunc("/api/jobs/", srv.requireAuth(srv.handleJobResource))

	// WriteTimeout stays zero: the events endpoint holds its response open
	// for the lifetime of the job.
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, statusResponse{
		Running:      status.Running,
		PID:          status.PID,
		JobDBPath:    status.JobDBPath,
		LockFilePath: status.LockFilePath,
		Scheduler: schedulerStatus{
			Running: status.Scheduler.Running,
			Active:  status.Scheduler.Active,
			Workers: status.Scheduler.Workers,
			Jobs:    status.Scheduler.Stats.ByStatus,
			Total:   status.Scheduler.Stats.Total,
		},
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		status, ok := job.ParseStatus(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+trimmed)
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.daemon.scheduler.List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs})
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settings := job.Settings{
		EnableVoiceCloning:        req.EnableVoiceCloning,
		EnableEmotionPreservation: req.EnableEmotionPreservation,
		RequireHumanReview:        req.RequireHumanReview,
	}
	if trimmed := strings.TrimSpace(req.QualityMode); trimmed != "" {
		mode, ok := job.ParseQualityMode(trimmed)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown quality mode "+trimmed)
			return
		}
		settings.QualityMode = mode
	}

	created, err := s.daemon.scheduler.Create(r.Context(), scheduler.CreateRequest{
		SourceVideo:     req.SourceVideo,
		UserID:          req.UserID,
		SourceLanguage:  req.SourceLanguage,
		TargetLanguages: req.TargetLanguages,
		Settings:        settings,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, jobResponse{Job: created})
}

func (s *apiServer) handleJobResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleGetJob(w, r, id)
		return
	}

	switch parts[1] {
	case "progress":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobProgress(w, r, id)
	case "cancel":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCancelJob(w, r, id)
	case "review":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleReview(w, r, id)
	case "events":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleJobEvents(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *apiServer) lookupJob(w http.ResponseWriter, r *http.Request, id string) *job.Job {
	j, err := s.daemon.scheduler.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	if j == nil {
		s.writeError(w, http.StatusNotFound, "job "+id+" not found")
		return nil
	}
	return j
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request, id string) {
	j := s.lookupJob(w, r, id)
	if j == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{Job: j})
}

func (s *apiServer) handleJobProgress(w http.ResponseWriter, r *http.Request, id string) {
	j := s.lookupJob(w, r, id)
	if j == nil {
		return
	}
	resp := progressResponse{
		JobID:           j.ID,
		Status:          j.Status,
		OverallProgress: j.OverallProgress,
		Tracks:          make(map[string]trackProgress, len(j.Tracks)),
	}
	for lang, track := range j.Tracks {
		resp.Tracks[lang] = trackProgress{
			Status:        track.Status,
			Mode:          track.Mode,
			StageProgress: track.StageProgress,
			Quality:       track.Quality,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.daemon.scheduler.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *apiServer) handleReview(w http.ResponseWriter, r *http.Request, id string) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		s.writeError(w, http.StatusBadRequest, "language is required")
		return
	}
	if err := s.daemon.scheduler.ResolveReview(id, language, req.Approve); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJobEvents streams progress snapshots for one job as server-sent
// events. The stream ends after the terminal snapshot.
func (s *apiServer) handleJobEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Subscribe before the lookup: the initial snapshot then reflects any
	// terminal transition that lands in between, so the stream cannot miss
	// it and hang.
	events, cancel := s.daemon.scheduler.Subscribe(id)
	defer cancel()

	j := s.lookupJob(w, r, id)
	if j == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	initial := progress.Snapshot{
		Job:       j,
		Overall:   j.OverallProgress,
		UpdatedAt: time.Now().UTC(),
	}
	if err := writeEvent(w, flusher, initial); err != nil {
		return
	}
	if j.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, flusher, snapshot); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, snapshot progress.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch services.ClassifyKind(err) {
	case services.KindValidation:
		s.writeError(w, http.StatusBadRequest, err.Error())
	case services.KindNotFound:
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
