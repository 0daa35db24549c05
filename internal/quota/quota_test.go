package quota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(10)

	for i := 0; i < 10; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow("alice") {
		t.Error("11th request should be denied")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)

	for i := 0; i < 1000; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
	if rl.RetryAfter("alice") != 0 {
		t.Error("unlimited limiter should never ask to retry")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(60) // 1 token per second

	for i := 0; i < 60; i++ {
		rl.Allow("alice")
	}
	if rl.Allow("alice") {
		t.Error("should be rate limited after exhausting tokens")
	}

	time.Sleep(1100 * time.Millisecond)

	if !rl.Allow("alice") {
		t.Error("should be allowed after refill")
	}
}

func TestRateLimiterRetryAfter(t *testing.T) {
	rl := NewRateLimiter(60)

	for i := 0; i < 60; i++ {
		rl.Allow("alice")
	}

	if retryAfter := rl.RetryAfter("alice"); retryAfter < 1 {
		t.Errorf("expected retry-after >= 1, got %d", retryAfter)
	}
	if rl.RetryAfter("unknown") != 0 {
		t.Error("unseen caller should not need to wait")
	}
}

func TestRateLimiterMultipleClients(t *testing.T) {
	rl := NewRateLimiter(5)

	for i := 0; i < 5; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("alice request %d should be allowed", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("alice should be rate limited")
	}

	if !rl.Allow("bob") {
		t.Error("bob should not be affected by alice's rate limit")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10)

	rl.Allow("alice")
	rl.Allow("bob")

	if len(rl.buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(rl.buckets))
	}

	rl.mu.Lock()
	rl.buckets["alice"].lastRefill = time.Now().Add(-2 * time.Hour)
	rl.mu.Unlock()

	rl.Cleanup(1 * time.Hour)

	rl.mu.Lock()
	count := len(rl.buckets)
	rl.mu.Unlock()

	if count != 1 {
		t.Errorf("expected 1 bucket after cleanup, got %d", count)
	}
}

type ctxKey struct{}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	getClient := func(ctx context.Context) string {
		id, _ := ctx.Value(ctxKey{}).(string)
		return id
	}
	h := RateLimitMiddleware(rl, getClient)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(client string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodDelete, "/api/v1/tree/x", nil)
		if client != "" {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, client))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	if w := do("alice"); w.Code != http.StatusNoContent {
		t.Fatalf("first request code = %d", w.Code)
	}
	w := do("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request code = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if w := do(""); w.Code != http.StatusNoContent {
		t.Errorf("anonymous request code = %d", w.Code)
	}
}
