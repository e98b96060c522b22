package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remote string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Hour})(okHandler())

	for range 2 {
		w := hit(h, "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate_limited", body["reason"])

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:9999").Code, "other clients keep their own budget")
}

func TestRateLimit_Keys(t *testing.T) {
	t.Run("XForwardedFor", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{Max: 1, Window: time.Hour})(okHandler())
		xff := []string{"X-Forwarded-For", "203.0.113.50, 70.41.3.18"}

		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:1", xff...).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:2", xff...).Code)
	})
	t.Run("Custom", func(t *testing.T) {
		h := RateLimit(RateLimitConfig{
			Max:     1,
			Window:  time.Hour,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("X-Partner-ID") },
		})(okHandler())

		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", "X-Partner-ID", "a").Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "2.2.2.2:2", "X-Partner-ID", "a").Code)
		assert.Equal(t, http.StatusOK, hit(h, "1.1.1.1:1", "X-Partner-ID", "b").Code)
	})
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimit_FailOpen(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Hour, Limiter: brokenLimiter{}})(okHandler())
	for range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(4, time.Minute)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		d, err := l.Allow(ctx, "k", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
	}
	d, _ := l.Allow(ctx, "k", start.Add(10*time.Second))
	assert.False(t, d.Allowed)
	assert.Equal(t, start.Add(time.Minute), d.ResetAt)

	// Halfway into the next window half of the previous count still applies.
	d, _ = l.Allow(ctx, "k", start.Add(90*time.Second))
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k", start.Add(91*time.Second))
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k", start.Add(92*time.Second))
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "k", start.Add(93*time.Second))
	assert.False(t, d.Allowed)

	// Two idle windows reset the history.
	d, _ = l.Allow(ctx, "k", start.Add(5*time.Minute))
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = l.Allow(context.Background(), "a", now)
	_, _ = l.Allow(context.Background(), "b", now.Add(90*time.Second))

	l.Cleanup(now.Add(2 * time.Minute))
	assert.NotContains(t, l.entries, "a")
	assert.Contains(t, l.entries, "b")
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	l := NewRedisLimiter(client, 2, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)

	d, err := l.Allow(ctx, "10.0.0.1", now)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC), d.ResetAt)

	d, _ = l.Allow(ctx, "10.0.0.1", now)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "10.0.0.1", now)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, _ = l.Allow(ctx, "10.0.0.1", now.Add(time.Minute))
	assert.True(t, d.Allowed, "next window starts a new counter")

	key := "ratelimit:10.0.0.1:" + "1704110400"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.SetError("LOADING")
	_, err = l.Allow(ctx, "10.0.0.1", now)
	assert.Error(t, err)
}
