package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stockroom/apiserver/internal/logx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cleanupInterval = 5 * time.Minute

// Config defines the rate limiting parameters.
type Config struct {
	// Requests is the number of requests allowed per Window.
	Requests int
	Window   time.Duration
	// Burst allows temporary bursts above the steady rate.
	Burst int
}

// KeyFunc extracts the key requests are grouped by.
type KeyFunc func(*http.Request) string

// ClientIP keys requests by the host part of RemoteAddr. Put chi's RealIP
// middleware in front when running behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	cfg      Config
	key      KeyFunc
	limit    rate.Limit
	limiters sync.Map // map[string]*rate.Limiter

	mu          sync.Mutex
	lastCleanup time.Time
}

// New returns a limiter for cfg. A non-positive Requests or Window disables limiting.
func New(cfg Config, key KeyFunc) *Limiter {
	if key == nil {
		key = ClientIP
	}
	if cfg.Burst < 1 {
		cfg.Burst = max(cfg.Requests, 1)
	}
	l := &Limiter{cfg: cfg, key: key, limit: rate.Inf, lastCleanup: time.Now()}
	if cfg.Requests > 0 && cfg.Window > 0 {
		l.limit = rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds())
	}
	return l
}

func (l *Limiter) get(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.cfg.Burst))
	l.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket is full again, i.e. idle keys.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCleanup) < cleanupInterval {
		return
	}
	l.lastCleanup = time.Now()
	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.cfg.Burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		if key == "" || l.limit == rate.Inf {
			next.ServeHTTP(w, r)
			return
		}

		limiter := l.get(key)
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		reservation := limiter.Reserve()
		retryAfter := max(int(reservation.Delay().Seconds()), 1)
		reservation.Cancel()

		logx.FromContext(r.Context()).Warn("rate limit exceeded",
			zap.String("key", key),
			zap.String("path", r.URL.Path),
			zap.Int("retry_after", retryAfter),
		)

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Requests))
		w.Header().Set("X-RateLimit-Window", l.cfg.Window.String())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
	})
}
