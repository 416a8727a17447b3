package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dkrish7/osprey/model"
)

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"job.completed","data":{"id":"abc"}}`)
	sig := Sign("topsecret", payload)

	require.True(t, strings.HasPrefix(sig, "sha256="))
	require.Len(t, sig, len("sha256=")+64)
	require.True(t, Verify("topsecret", payload, sig))
	require.False(t, Verify("wrongsecret", payload, sig))
	require.False(t, Verify("topsecret", []byte(`{"tampered":true}`), sig))
}

func TestSignatureKnownVector(t *testing.T) {
	// echo -n 'hello' | openssl dgst -sha256 -hmac 'key'
	require.Equal(t,
		"sha256=9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b",
		Sign("key", []byte("hello")))
}

type fakeHookStore struct {
	mu       sync.Mutex
	hooks    map[uuid.UUID]*model.Webhook
	outcomes []bool
}

func newFakeHookStore(hooks ...*model.Webhook) *fakeHookStore {
	s := &fakeHookStore{hooks: make(map[uuid.UUID]*model.Webhook)}
	for _, h := range hooks {
		s.hooks[h.ID] = h
	}
	return s
}

func (s *fakeHookStore) Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hooks[id]
	if !ok {
		return nil, context.Canceled
	}
	cp := *h
	return &cp, nil
}

func (s *fakeHookStore) ListActive(ctx context.Context, owner uuid.UUID, event string) ([]*model.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Webhook
	for _, h := range s.hooks {
		if h.OwnerID == owner && h.Active && h.SubscribesTo(event) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeHookStore) RecordOutcome(ctx context.Context, id uuid.UUID, success bool, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, success)
	return nil
}

type fakeDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.WebhookDelivery
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{deliveries: make(map[uuid.UUID]*model.WebhookDelivery)}
}

func (s *fakeDeliveryStore) Create(ctx context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *fakeDeliveryStore) Update(ctx context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *fakeDeliveryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WebhookDelivery
	for _, d := range s.deliveries {
		if d.Status == model.DeliveryRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			d.NextRetryAt = nil
			cp := *d
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func testHook(url string) *model.Webhook {
	return &model.Webhook{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		URL:     url,
		Secret:  "s3cret",
		Events:  []string{"job.completed", "job.failed"},
		Active:  true,
	}
}

func testDelivery(hook *model.Webhook, payload string) *model.WebhookDelivery {
	now := time.Now().UTC()
	return &model.WebhookDelivery{
		ID:        uuid.New(),
		WebhookID: hook.ID,
		Event:     "job.completed",
		Payload:   json.RawMessage(payload),
		Status:    model.DeliveryPending,
		CreatedAt: &now,
	}
}

func TestDelivererSuccess(t *testing.T) {
	type seen struct {
		contentType string
		userAgent   string
		signature   string
		event       string
		timestamp   string
		body        []byte
	}
	var got seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = seen{
			contentType: r.Header.Get("Content-Type"),
			userAgent:   r.Header.Get("User-Agent"),
			signature:   r.Header.Get("X-Webhook-Signature"),
			event:       r.Header.Get("X-Webhook-Event"),
			timestamp:   r.Header.Get("X-Webhook-Timestamp"),
			body:        body,
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	hooks := newFakeHookStore()
	deliveries := newFakeDeliveryStore()
	d := NewDeliverer(hooks, deliveries)

	hook := testHook(srv.URL)
	delivery := testDelivery(hook, `{"event":"job.completed"}`)
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	require.NoError(t, d.Attempt(context.Background(), hook, delivery))

	require.Equal(t, "application/json", got.contentType)
	require.Equal(t, "OSINT-Webhook/1.0", got.userAgent)
	require.Equal(t, "job.completed", got.event)
	_, terr := time.Parse(time.RFC3339, got.timestamp)
	require.NoError(t, terr)
	require.Equal(t, []byte(delivery.Payload), got.body, "payload must be posted bit-exact")
	require.True(t, Verify(hook.Secret, got.body, got.signature),
		"receiver-side verification of the posted body must pass")

	require.Equal(t, model.DeliverySuccess, delivery.Status)
	require.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.DeliveredAt)
	require.Nil(t, delivery.NextRetryAt)
	require.Equal(t, []bool{true}, hooks.outcomes)
}

func TestDelivererRetrySchedule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	hooks := newFakeHookStore()
	deliveries := newFakeDeliveryStore()
	d := NewDeliverer(hooks, deliveries)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	hook := testHook(srv.URL)
	delivery := testDelivery(hook, `{"event":"job.completed"}`)
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	wantDelays := []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second, 5 * time.Minute}
	for i, want := range wantDelays {
		require.NoError(t, d.Attempt(context.Background(), hook, delivery))
		require.Equal(t, i+1, delivery.Attempts)
		require.Equal(t, model.DeliveryRetrying, delivery.Status)
		require.NotNil(t, delivery.NextRetryAt)
		require.Equal(t, base.Add(want), *delivery.NextRetryAt, "delay after attempt %d", i+1)
		require.NotNil(t, delivery.HTTPStatus)
		require.Equal(t, http.StatusInternalServerError, *delivery.HTTPStatus)
	}

	// fifth failure is terminal
	require.NoError(t, d.Attempt(context.Background(), hook, delivery))
	require.Equal(t, 5, delivery.Attempts)
	require.Equal(t, model.DeliveryFailed, delivery.Status)
	require.Nil(t, delivery.NextRetryAt)

	require.Equal(t, []bool{false, false, false, false, false}, hooks.outcomes)
}

func TestDelivererTransportError(t *testing.T) {
	hooks := newFakeHookStore()
	deliveries := newFakeDeliveryStore()
	d := NewDeliverer(hooks, deliveries)

	hook := testHook("http://127.0.0.1:1") // nothing listens here
	delivery := testDelivery(hook, `{}`)
	require.NoError(t, deliveries.Create(context.Background(), delivery))

	require.NoError(t, d.Attempt(context.Background(), hook, delivery))
	require.Equal(t, model.DeliveryRetrying, delivery.Status)
	require.Nil(t, delivery.HTTPStatus)
	require.NotNil(t, delivery.NextRetryAt)
}

func TestDelivererTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	hooks := newFakeHookStore()
	deliveries := newFakeDeliveryStore()
	d := NewDeliverer(hooks, deliveries)

	hook := testHook(srv.URL)
	delivery := testDelivery(hook, `{}`)
	require.NoError(t, d.Attempt(context.Background(), hook, delivery))
	require.NotNil(t, delivery.ResponseBody)
	require.Len(t, *delivery.ResponseBody, 1000)
}

func TestDispatcherPayloadWireFormat(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := testHook(srv.URL)
	hooks := newFakeHookStore(hook)
	deliveries := newFakeDeliveryStore()
	disp := NewDispatcher(hooks, deliveries, NewDeliverer(hooks, deliveries))

	disp.Notify(context.Background(), hook.OwnerID.String(), "job.completed", map[string]any{"id": "job-1"})

	var body []byte
	select {
	case body = <-bodies:
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery arrived")
	}

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "job.completed", payload["event"])
	require.Equal(t, hook.OwnerID.String(), payload["user_id"])
	require.Equal(t, hook.ID.String(), payload["webhook_id"])
	require.NotEmpty(t, payload["timestamp"])
	require.Equal(t, map[string]any{"id": "job-1"}, payload["data"])
}

func TestDispatcherSkipsNonSubscribers(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := testHook(srv.URL)
	hook.Events = []string{"job.failed"}
	hooks := newFakeHookStore(hook)
	deliveries := newFakeDeliveryStore()
	disp := NewDispatcher(hooks, deliveries, NewDeliverer(hooks, deliveries))

	disp.Notify(context.Background(), hook.OwnerID.String(), "job.completed", nil)
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, calls)
	require.Empty(t, deliveries.deliveries)
}

func TestDispatcherSiblingIndependence(t *testing.T) {
	received := make(chan struct{}, 1)
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()

	stuck := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer stuck.Close()

	owner := uuid.New()
	slowHook := testHook(stuck.URL)
	slowHook.OwnerID = owner
	fastHook := testHook(alive.URL)
	fastHook.OwnerID = owner

	hooks := newFakeHookStore(slowHook, fastHook)
	deliveries := newFakeDeliveryStore()
	disp := NewDispatcher(hooks, deliveries, NewDeliverer(hooks, deliveries))

	start := time.Now()
	disp.Notify(context.Background(), owner.String(), "job.completed", nil)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("fast endpoint starved by slow sibling")
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestSchedulerRetriesDueDeliveries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := testHook(srv.URL)
	hooks := newFakeHookStore(hook)
	deliveries := newFakeDeliveryStore()

	past := time.Now().UTC().Add(-time.Minute)
	due := testDelivery(hook, `{}`)
	due.Status = model.DeliveryRetrying
	due.Attempts = 1
	due.NextRetryAt = &past

	future := time.Now().UTC().Add(time.Hour)
	notYet := testDelivery(hook, `{}`)
	notYet.Status = model.DeliveryRetrying
	notYet.Attempts = 1
	notYet.NextRetryAt = &future

	require.NoError(t, deliveries.Create(context.Background(), due))
	require.NoError(t, deliveries.Create(context.Background(), notYet))

	s := NewScheduler(hooks, deliveries, NewDeliverer(hooks, deliveries))
	s.tick(context.Background())

	require.Equal(t, 1, calls)
	final := deliveries.deliveries[due.ID]
	require.Equal(t, model.DeliverySuccess, final.Status)
	require.Equal(t, 2, final.Attempts)
	require.Equal(t, model.DeliveryRetrying, deliveries.deliveries[notYet.ID].Status)
}

func TestSchedulerDropsInactiveHook(t *testing.T) {
	hook := testHook("http://127.0.0.1:1")
	hook.Active = false
	hooks := newFakeHookStore(hook)
	deliveries := newFakeDeliveryStore()

	past := time.Now().UTC().Add(-time.Minute)
	due := testDelivery(hook, `{}`)
	due.Status = model.DeliveryRetrying
	due.NextRetryAt = &past
	require.NoError(t, deliveries.Create(context.Background(), due))

	s := NewScheduler(hooks, deliveries, NewDeliverer(hooks, deliveries))
	s.tick(context.Background())

	require.Equal(t, model.DeliveryFailed, deliveries.deliveries[due.ID].Status)
}
