package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter(0, 3) // no refill: only the burst is available
	defer m.Close()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "key")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}
	ok, err := m.Allow(ctx, "key")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter(0, 1)
	defer m.Close()

	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryLimiterRefills(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	ok, _ := m.Allow(ctx, "key")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "key")
	assert.False(t, ok)

	// Rewind the bucket's clock instead of sleeping.
	m.mu.Lock()
	m.buckets["key"].lastAccess = time.Now().Add(-2 * time.Second)
	m.mu.Unlock()

	ok, _ = m.Allow(ctx, "key")
	assert.True(t, ok)
}

func TestPerMinute(t *testing.T) {
	m := PerMinute(60)
	defer m.Close()
	assert.Equal(t, 1.0, m.rate)
	assert.Equal(t, 60.0, m.burst)
}

func TestNoopLimiter(t *testing.T) {
	ok, err := NoopLimiter{}.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, NoopLimiter{}.Close())
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	m := NewMemoryLimiter(0, 1)
	defer m.Close()

	handler := Middleware(m, IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	req.RemoteAddr = "203.0.113.9:4242"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := NewMemoryLimiter(0, 1)
	defer m.Close()

	skipAll := func(r *http.Request) string { return "" }
	handler := Middleware(m, skipAll, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4242"
	assert.Equal(t, "203.0.113.9", IPKeyFunc(r))
}
