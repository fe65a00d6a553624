package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/answerd/answerd/internal/chat"
	"github.com/answerd/answerd/internal/jobs"
	"github.com/answerd/answerd/internal/rag"
)

// ---------------------------------------------------------------------------
// Fakes for the chat handler tests
// ---------------------------------------------------------------------------

// fakeDispatcher implements the answerer interface for tests.
type fakeDispatcher struct {
	// answer is returned on success.
	answer string
	// err is returned as the error value.
	err error
}

func (f *fakeDispatcher) Answer(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

// fakeQueue implements the submitter interface for tests.
type fakeQueue struct {
	// id is the job id returned on success.
	id string
	// err is returned as the error value.
	err error
	// gotMessage records the last submitted message.
	gotMessage string
}

func (f *fakeQueue) Submit(_ context.Context, message string) (string, error) {
	f.gotMessage = message
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

// fakeJobStore implements jobGetter over a fixed map of records.
type fakeJobStore struct {
	jobs map[string]*jobs.Job
}

func (f *fakeJobStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: %w: %s", jobs.ErrNotFound, id)
	}
	c := *job
	return &c, nil
}

// newChatTestServer builds a *Server wired with the given fakes and an
// isolated metrics registry.
func newChatTestServer(d answerer, q submitter, store jobGetter) *Server {
	return &Server{
		answerer: d,
		queue:    q,
		store:    store,
		cfg:      &Config{ChatTimeout: time.Minute},
		log:      slog.Default(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
}

// ---------------------------------------------------------------------------
// POST /chat/sync
// ---------------------------------------------------------------------------

func TestHandleChatSync_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChatSync_EmptyMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{err: fmt.Errorf("chat: %w", chat.ErrValidation)}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync", strings.NewReader(`{"message":""}`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChatSync_Success(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{answer: "refunds take 14 days"}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync",
		strings.NewReader(`{"message":"what is the refund policy?"}`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp chatSyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "refunds take 14 days" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestHandleChatSync_EmbeddingFailure(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{err: fmt.Errorf("rag: %w: boom", rag.ErrEmbedding)}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync",
		strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestHandleChatSync_CompletionFailure(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{err: fmt.Errorf("chat: %w: model down", chat.ErrCompletion)}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync",
		strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Internal error detail must not leak to the client.
	if strings.Contains(resp.Error, "model down") {
		t.Errorf("error response leaked internal detail: %q", resp.Error)
	}
}

// TestHandleChatSync_Timeout verifies that a deadline hit inside the
// pipeline maps to 504 even though it arrives wrapped in the completion
// sentinel.
func TestHandleChatSync_Timeout(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("chat: %w: %w", chat.ErrCompletion, context.DeadlineExceeded)
	s := newChatTestServer(&fakeDispatcher{err: err}, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat/sync",
		strings.NewReader(`{"message":"hello"}`))
	w := httptest.NewRecorder()

	s.handleChatSync(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /chat/async
// ---------------------------------------------------------------------------

func TestHandleChatAsync_ReturnsJobID(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{id: "job-123"}
	s := newChatTestServer(&fakeDispatcher{}, q, &fakeJobStore{})
	req := httptest.NewRequest(http.MethodPost, "/chat/async",
		strings.NewReader(`{"message":"what is the refund policy?"}`))
	w := httptest.NewRecorder()

	s.handleChatAsync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp chatAsyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID != "job-123" {
		t.Errorf("job_id = %q", resp.JobID)
	}
	if q.gotMessage != "what is the refund policy?" {
		t.Errorf("submitted message = %q", q.gotMessage)
	}
}

// TestHandleChatAsync_AcceptsEmptyMessage verifies that submission does not
// pre-validate: the pipeline error surfaces later through polling, not here.
func TestHandleChatAsync_AcceptsEmptyMessage(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{id: "job-456"}
	s := newChatTestServer(&fakeDispatcher{}, q, &fakeJobStore{})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", strings.NewReader(`{"message":""}`))
	w := httptest.NewRecorder()

	s.handleChatAsync(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHandleChatAsync_QueueFull(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{err: fmt.Errorf("jobs: submit: queue is full")}
	s := newChatTestServer(&fakeDispatcher{}, q, &fakeJobStore{})
	req := httptest.NewRequest(http.MethodPost, "/chat/async", strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()

	s.handleChatAsync(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /chat/jobs/{job_id}
// ---------------------------------------------------------------------------

func newJobStatusRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/chat/jobs/"+id, nil)
	req.SetPathValue("job_id", id)
	return req
}

func TestHandleJobStatus_Unknown(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(&fakeDispatcher{}, &fakeQueue{}, &fakeJobStore{})
	w := httptest.NewRecorder()

	s.handleJobStatus(w, newJobStatusRequest("no-such-id"))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleJobStatus_Pending(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{jobs: map[string]*jobs.Job{
		"j1": {ID: "j1", Status: jobs.StatusRunning, Input: "hi"},
	}}
	s := newChatTestServer(&fakeDispatcher{}, &fakeQueue{}, store)
	w := httptest.NewRecorder()

	s.handleJobStatus(w, newJobStatusRequest("j1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp jobStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "running" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Answer != "" || resp.Error != "" {
		t.Errorf("pending job must carry neither answer nor error: %+v", resp)
	}
}

func TestHandleJobStatus_Succeeded(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{jobs: map[string]*jobs.Job{
		"j2": {ID: "j2", Status: jobs.StatusSucceeded, Result: "within 14 days"},
	}}
	s := newChatTestServer(&fakeDispatcher{}, &fakeQueue{}, store)
	w := httptest.NewRecorder()

	s.handleJobStatus(w, newJobStatusRequest("j2"))

	var resp jobStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "succeeded" || resp.Answer != "within 14 days" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleJobStatus_Failed(t *testing.T) {
	t.Parallel()

	store := &fakeJobStore{jobs: map[string]*jobs.Job{
		"j3": {ID: "j3", Status: jobs.StatusFailed, Error: "completion backend unavailable"},
	}}
	s := newChatTestServer(&fakeDispatcher{}, &fakeQueue{}, store)
	w := httptest.NewRecorder()

	s.handleJobStatus(w, newJobStatusRequest("j3"))

	var resp jobStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "failed" {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Error != "completion backend unavailable" {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Answer != "" {
		t.Errorf("failed job must not carry an answer: %q", resp.Answer)
	}
}

// TestRoutes_EndToEnd exercises the full mux wiring through New, including
// the async round trip against a real memory store and pool fakes.
func TestRoutes_EndToEnd(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	store := jobs.NewMemoryStore()
	q := &fakeQueue{id: "ignored"}

	s, err := New(&fakeDispatcher{answer: "hello there"}, q, store, &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/chat/sync", "application/json",
		strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("POST /chat/sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /chat/sync status = %d", resp.StatusCode)
	}

	created, err := store.Create(context.Background(), "queued question")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	jobResp, err := http.Get(srv.URL + "/chat/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer jobResp.Body.Close()
	if jobResp.StatusCode != http.StatusOK {
		t.Errorf("GET job status = %d", jobResp.StatusCode)
	}
	var js jobStatusResponse
	if err := json.NewDecoder(jobResp.Body).Decode(&js); err != nil {
		t.Fatalf("decode job response: %v", err)
	}
	if js.Status != "queued" {
		t.Errorf("job status = %q", js.Status)
	}

	missing, err := http.Get(srv.URL + "/chat/jobs/does-not-exist")
	if err != nil {
		t.Fatalf("GET missing job: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d", missing.StatusCode)
	}
}
