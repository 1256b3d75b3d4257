package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dubforge/internal/job"
	"dubforge/internal/scheduler"
	"dubforge/internal/stageclient"
	"dubforge/internal/testsupport"
)

type idleInvoker struct{}

func (idleInvoker) Invoke(ctx context.Context, req stageclient.Request, progress stageclient.ProgressFunc) (*stageclient.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestAPIServer(t *testing.T) (*apiServer, *Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sched := scheduler.NewManager(cfg, store, idleInvoker{}, nil)
	d, err := New(cfg, store, sched, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv, err := newAPIServer(cfg, d, nil)
	if err != nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	return srv, d
}

func TestAPICreateJobValidatesBody(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(`{"target_languages":["es"]}`))
	w := httptest.NewRecorder()
	srv.handleJobs(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source video, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(`{"source_video":"/v.mp4","target_languages":["es"],"quality_mode":"bogus"}`))
	w = httptest.NewRecorder()
	srv.handleJobs(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown quality mode, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(`{"source_video":"/v.mp4","target_languages":["12345!"]}`))
	w = httptest.NewRecorder()
	srv.handleJobs(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid language code, got %d", w.Code)
	}
}

func TestAPICreateAndFetchJob(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(`{"source_video":"/videos/talk.mp4","target_languages":["es","fr"],"require_human_review":true}`))
	w := httptest.NewRecorder()
	srv.handleJobs(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Job.Status != job.StatusPending {
		t.Fatalf("expected pending job, got %s", created.Job.Status)
	}
	if !created.Job.Settings.RequireHumanReview {
		t.Fatal("expected review flag to persist")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.Job.ID, nil)
	w = httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w = httptest.NewRecorder()
	srv.handleJobs(w, req)
	var list jobListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list.Jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(list.Jobs))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/"+created.Job.ID+"/progress", nil)
	w = httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var prog progressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &prog); err != nil {
		t.Fatalf("decode progress response: %v", err)
	}
	if prog.JobID != created.Job.ID || prog.OverallProgress != 0 {
		t.Fatalf("unexpected progress payload %#v", prog)
	}
}

func TestAPIUnknownJobReturns404(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/no-such-job", nil)
	w := httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/jobs/no-such-job/cancel", nil)
	w = httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cancel, got %d", w.Code)
	}
}

func TestAPIListRejectsUnknownStatus(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil)
	w := httptest.NewRecorder()
	srv.handleJobs(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIReviewRequiresLanguage(t *testing.T) {
	srv, _ := newTestAPIServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/some-id/review",
		strings.NewReader(`{"approve":true}`))
	w := httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	srv := &apiServer{token: "secret"}
	handler := srv.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error"`) {
		t.Fatalf("expected JSON error body, got %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}

	open := (&apiServer{}).requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w = httptest.NewRecorder()
	open(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected passthrough with no configured token, got %d", w.Code)
	}
}

func TestAPIProgressIncludesQualityMetrics(t *testing.T) {
	srv, d := newTestAPIServer(t)

	j := testsupport.NewJob(t, "es")
	j.Status = job.StatusCompleted
	j.FanOut()
	track := j.Track("es")
	track.Status = job.TrackPassed
	track.Quality = &job.QualityMetric{
		LipSync:       0.9,
		FID:           10,
		AUCorrelation: 0.8,
		BLEU:          40,
		OverallScore:  0.91,
		Passed:        true,
	}
	if err := d.store.Save(context.Background(), j); err != nil {
		t.Fatalf("save job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+j.ID+"/progress", nil)
	w := httptest.NewRecorder()
	srv.handleJobResource(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp progressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode progress response: %v", err)
	}
	es, ok := resp.Tracks["es"]
	if !ok {
		t.Fatalf("missing es track in %#v", resp.Tracks)
	}
	if es.Quality == nil || es.Quality.BLEU != 40 {
		t.Fatalf("expected quality metrics on the track, got %#v", es.Quality)
	}
}
