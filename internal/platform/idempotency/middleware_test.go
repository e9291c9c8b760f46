package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func newRequest(body, key, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]int{"call": *calls})
	})
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "", "u1"))
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest(`{"a":1}`, "k1", "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest(`{"a":1}`, "k1", "u1"))

	if calls != 1 {
		t.Fatalf("expected a single handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "shared", "u1"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "shared", "u2"))
	if calls != 2 {
		t.Fatalf("expected separate executions per caller, got %d", calls)
	}
}

func TestMiddlewareRejectsDifferentPayload(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{"a":1}`, "k", "u1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(`{"a":2}`, "k", "u1"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "k", "u1"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest(`{}`, "k", "u1"))
	if calls != 2 {
		t.Fatalf("expected retry after 5xx, got %d calls", calls)
	}
}

func TestMiddlewareReportsPendingKey(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.NotFoundHandler())

	req := newRequest(`{}`, "k", "u1")
	fp := sha256Hex([]byte(http.MethodPost + "|/api/v1/orders|u1|" + sha256Hex([]byte(`{}`))))
	if _, _, err := store.Reserve(req.Context(), "k|u1", fp, fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := newRequest("", "", "").Context()
	_, _, _ = store.Reserve(ctx, "old", "fp", fixedTime, time.Minute)
	_, _, _ = store.Reserve(ctx, "new", "fp", fixedTime, time.Hour)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
