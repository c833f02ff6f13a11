package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

const paymentsPath = "/api/v1/payments"

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func authedRequest(method, url string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	return req.WithContext(WithUserID(req.Context(), uuid.MustParse("6f1c2a8e-0d55-4d0f-9a58-1f6f5d2c9b10")))
}

func paymentRequest(key, body string) *http.Request {
	req := authedRequest(http.MethodPost, paymentsPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req
}

func TestRouteTTLSelection(t *testing.T) {
	rules := idempotencyRules(48 * time.Hour)
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"pay", http.MethodPost, "/api/v1/payments", 48 * time.Hour, true},
		{"pay trailing slash", http.MethodPost, "/api/v1/payments/", 48 * time.Hour, true},
		{"enroll", http.MethodPost, "/api/v1/payment-instruments", defaultIdempotencyTTL, true},
		{"lookup", http.MethodGet, "/api/v1/payments/6f1c2a8e-0d55-4d0f-9a58-1f6f5d2c9b10", 0, false},
		{"other post", http.MethodPost, "/api/v1/payments/quote", 0, false},
		{"quote", http.MethodGet, "/api/v1/payments/quote", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(rules, tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), time.Hour, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, paymentRequest("", `{"entity_type":"bill"}`))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, time.Hour, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"success":true}}`))
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), paymentRequest("abc", `{"entity_type":"bill"}`))

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, paymentRequest("abc", `{"entity_type":"bill"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay status 200 got %d", rec.Code)
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"data":{"success":true}}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
	for key, ttl := range store.ttls {
		if ttl != time.Hour {
			t.Fatalf("expected payment ttl for %s got %v", key, ttl)
		}
	}
}

func TestIdempotencyMiddlewareCachesRecordedDecline(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, time.Hour, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), paymentRequest("declined", `{}`))
	if len(store.data) != 1 {
		t.Fatalf("expected decline to be cached, got %d records", len(store.data))
	}
}

func TestIdempotencyMiddlewareSkipsNonTerminalOutcomes(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError} {
		store := newFakeStore()
		mw := Idempotency(store, time.Hour, nil)
		calls := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(status)
		})

		mw(handler).ServeHTTP(httptest.NewRecorder(), paymentRequest("retry-me", `{}`))
		mw(handler).ServeHTTP(httptest.NewRecorder(), paymentRequest("retry-me", `{}`))

		if len(store.data) != 0 {
			t.Fatalf("status %d: expected nothing cached", status)
		}
		if calls != 2 {
			t.Fatalf("status %d: expected handler to run twice, ran %d", status, calls)
		}
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), time.Hour, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw(handler).ServeHTTP(httptest.NewRecorder(), paymentRequest("xyz", `{"client_total_amount_cents":100}`))

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, paymentRequest("xyz", `{"client_total_amount_cents":200}`))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareIgnoresUnkeyedRoutes(t *testing.T) {
	mw := Idempotency(newFakeStore(), time.Hour, nil)
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := authedRequest(http.MethodGet, "/api/v1/payments/quote", nil)
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected GET to pass through without a key")
	}
}

type failingStore struct{ *fakeStore }

func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("redis: connection refused")
}

func TestIdempotencyMiddlewareTreatsCacheOutageAsMiss(t *testing.T) {
	store := failingStore{newFakeStore()}
	mw := Idempotency(store, time.Hour, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mw(handler).ServeHTTP(rec, paymentRequest("outage", `{}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected handler status, got %d", rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run on every miss, ran %d", calls)
	}
}

func TestReplayRecordRoundTripsBody(t *testing.T) {
	header := http.Header{"Content-Type": []string{"application/json"}}
	rec := newReplayRecord(http.StatusCreated, header, []byte(`{"ok":true}`), fingerprintBody([]byte("req")))

	out := httptest.NewRecorder()
	rec.writeTo(out)
	if out.Code != http.StatusCreated || out.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected replay %d %s", out.Code, out.Body.String())
	}
	if out.Header().Get("Content-Type") != "application/json" || out.Header().Get(replayedHeader) != "true" {
		t.Fatalf("unexpected replay headers %v", out.Header())
	}
}
