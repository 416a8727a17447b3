package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/job"
	"github.com/dkrish7/osprey/internal/queue"
	"github.com/dkrish7/osprey/internal/ratelimit"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/internal/tool"
	"github.com/dkrish7/osprey/internal/webhook"
	"github.com/dkrish7/osprey/model"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func (s *memStore) Create(ctx context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID.String()] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) List(ctx context.Context, owner string, offset string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Job
	for _, j := range s.jobs {
		if j.OwnerID.String() == owner {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateFrom(ctx context.Context, j *model.Job, from model.JobStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[j.ID.String()]
	if !ok || cur.Status != from {
		return false, nil
	}
	cp := *j
	s.jobs[j.ID.String()] = &cp
	return true, nil
}

func (s *memStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	return nil
}

type noopCache struct{}

func (noopCache) Put(context.Context, string, interface{}, int) error { return nil }
func (noopCache) Get(context.Context, string, interface{}) error      { return errors.New("miss") }
func (noopCache) Delete(context.Context, string) error                { return nil }
func (noopCache) GetDefaultTTL() int                                  { return 60 }
func (noopCache) ShutDown(context.Context)                            {}

type noopQueue struct{}

func (noopQueue) PublishEvent(queue.QueueEvent, string) error               { return nil }
func (noopQueue) SubscribeEvent(queue.QueueEvent, func(string) error) error { return nil }
func (noopQueue) Shutdown()                                                 {}

type noopStorage struct{}

func (noopStorage) Upload(context.Context, string, []byte) error     { return nil }
func (noopStorage) Download(context.Context, string) ([]byte, error) { return nil, errors.New("gone") }
func (noopStorage) ShutDown(context.Context)                         {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, any) {}

type idleRunner struct{}

func (idleRunner) Run(ctx context.Context, spec sandbox.RunSpec) (*sandbox.RunResult, error) {
	return &sandbox.RunResult{}, nil
}
func (idleRunner) Kill(ctx context.Context, jobID string) error { return nil }

type memHookRepo struct {
	mu    sync.Mutex
	hooks map[uuid.UUID]*model.Webhook
}

func (r *memHookRepo) Create(ctx context.Context, h *model.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	r.hooks[h.ID] = &cp
	return nil
}

func (r *memHookRepo) Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return nil, fmt.Errorf("webhook %s not found", id)
	}
	cp := *h
	return &cp, nil
}

func (r *memHookRepo) ListActive(ctx context.Context, owner uuid.UUID, event string) ([]*model.Webhook, error) {
	return nil, nil
}

func (r *memHookRepo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]*model.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Webhook
	for _, h := range r.hooks {
		if h.OwnerID == owner {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memHookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, id)
	return nil
}

func (r *memHookRepo) RecordOutcome(ctx context.Context, id uuid.UUID, success bool, lastError *string) error {
	return nil
}

type memDeliveryRepo struct{}

func (memDeliveryRepo) Create(context.Context, *model.WebhookDelivery) error { return nil }
func (memDeliveryRepo) Update(context.Context, *model.WebhookDelivery) error { return nil }
func (memDeliveryRepo) ClaimDue(context.Context, time.Time, int) ([]*model.WebhookDelivery, error) {
	return nil, nil
}
func (memDeliveryRepo) ListByWebhook(context.Context, string) ([]*model.WebhookDelivery, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	store := &memStore{jobs: make(map[string]*model.Job)}
	runner := idleRunner{}
	registry := tool.NewRegistry(runner, &config.SandboxConfig{
		CPU_QUOTA:          50000,
		MEMORY_LIMIT_BYTES: 512 << 20,
	})
	jobs := job.NewService(store, noopCache{}, noopQueue{}, noopStorage{}, registry, runner, noopNotifier{})

	hookRepo := &memHookRepo{hooks: make(map[uuid.UUID]*model.Webhook)}
	delRepo := memDeliveryRepo{}
	hooks := webhook.NewService(hookRepo, delRepo)
	dispatcher := webhook.NewDispatcher(hookRepo, delRepo, webhook.NewDeliverer(hookRepo, delRepo))

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore())
	return NewServer(":0", jobs, hooks, dispatcher, limiter), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, caller uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", caller.String())
	req.Header.Set("X-User-Role", "free")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequiresIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()

	req := httptest.NewRequest(http.MethodGet, "/job/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJobAccepted(t *testing.T) {
	s, store := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
		ToolName: "username-search",
		Input:    map[string]any{"username": "johndoe"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, model.JobPending, created.Status)
	require.Equal(t, caller, created.OwnerID)

	_, err := store.Get(context.Background(), created.ID.String())
	require.NoError(t, err)
}

func TestCreateJobValidationFailure(t *testing.T) {
	s, store := newTestServer(t)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/job/", uuid.New(), model.JobRequest{
		ToolName: "username-search",
		Input:    map[string]any{"username": "bad;input"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, store.jobs)
}

func TestCreateJobUnknownTool(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()

	rec := doJSON(t, h, http.MethodPost, "/job/", uuid.New(), model.JobRequest{
		ToolName: "port-scan",
		Input:    map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitHeadersPresent(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()

	rec := doJSON(t, h, http.MethodGet, "/job/", uuid.New(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestToolBudgetExhaustion(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	// free tier: 10 tool executions per window
	for i := 0; i < 10; i++ {
		rec := doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
			ToolName: "username-search",
			Input:    map[string]any{"username": "johndoe"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code, "request %d", i+1)
	}

	rec := doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
		ToolName: "username-search",
		Input:    map[string]any{"username": "johndoe"},
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// a different caller is unaffected
	rec = doJSON(t, h, http.MethodPost, "/job/", uuid.New(), model.JobRequest{
		ToolName: "username-search",
		Input:    map[string]any{"username": "johndoe"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPerToolBudgetIsolation(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	// domain-harvest allows 5 executions per window, well under the free
	// tier's 10
	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
			ToolName: "domain-harvest",
			Input:    map[string]any{"domain": "example.com"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code, "request %d", i+1)
	}

	rec := doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
		ToolName: "domain-harvest",
		Input:    map[string]any{"domain": "example.com"},
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// the 429 headers describe the tool window that rejected, not the
	// general window charged by the middleware
	require.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	resetMs, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	reset := time.UnixMilli(resetMs)
	require.True(t, reset.After(time.Now()))
	require.True(t, reset.Before(time.Now().Add(time.Hour+time.Minute)))

	// a different tool still has its own window open
	rec = doJSON(t, h, http.MethodPost, "/job/", caller, model.JobRequest{
		ToolName: "username-search",
		Input:    map[string]any{"username": "johndoe"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetForeignJobReadsAsNotFound(t *testing.T) {
	s, store := newTestServer(t)
	h := s.routes()

	other := &model.Job{ID: uuid.New(), OwnerID: uuid.New(), Status: model.JobPending}
	require.NoError(t, store.Create(context.Background(), other))

	rec := doJSON(t, h, http.MethodGet, "/job/"+other.ID.String(), uuid.New(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelThenRetryFlow(t *testing.T) {
	s, store := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	failed := &model.Job{ID: uuid.New(), OwnerID: caller, Tool: "username-search", Status: model.JobFailed}
	require.NoError(t, store.Create(context.Background(), failed))

	rec := doJSON(t, h, http.MethodPost, "/job/"+failed.ID.String()+"/retry", caller, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var retried model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	require.Equal(t, model.JobPending, retried.Status)

	rec = doJSON(t, h, http.MethodPost, "/job/"+failed.ID.String()+"/cancel", caller, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// cancelling a cancelled job conflicts
	rec = doJSON(t, h, http.MethodPost, "/job/"+failed.ID.String()+"/cancel", caller, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookRegistrationReturnsSecretOnce(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/webhook/", caller, webhook.RegisterRequest{
		URL:    "https://example.com/hook",
		Events: []string{"job.completed"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID     uuid.UUID `json:"id"`
		Secret string    `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Secret, 64)

	// list responses never carry the secret
	rec = doJSON(t, h, http.MethodGet, "/webhook/", caller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), created.Secret)

	rec = doJSON(t, h, http.MethodDelete, "/webhook/"+created.ID.String(), caller, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookRegistrationRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.routes()
	caller := uuid.New()

	bad := []webhook.RegisterRequest{
		{URL: "ftp://example.com", Events: []string{"job.completed"}},
		{URL: "https://example.com", Events: nil},
		{URL: "https://example.com", Events: []string{"job.exploded"}},
	}
	for _, req := range bad {
		rec := doJSON(t, h, http.MethodPost, "/webhook/", caller, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}
