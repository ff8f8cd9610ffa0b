package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareLimitsPerClient(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := New(Config{Requests: 2, Window: time.Hour, Burst: 2}, nil).Middleware(ok)

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:1235").Code)

	rec := serve(h, "10.0.0.1:1236")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2:1234").Code)
}

func TestDisabledLimiter(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := New(Config{}, nil).Middleware(ok)
	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1:1").Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", ClientIP(req))

	req.RemoteAddr = "192.0.2.7"
	assert.Equal(t, "192.0.2.7", ClientIP(req))
}
