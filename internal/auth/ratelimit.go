package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second

	rateKeyPrefix = "rate_limit:"
)

// Limiter counts requests per client in a fixed Redis window. When Redis is
// not configured or fails, it counts in process with a sliding window.
type Limiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// incrScript counts a request and gives the key a TTL in the same step, so a
// counter can never outlive its window.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// NewLimiter creates a Limiter allowing limit requests per window. rdb may be
// nil to count in memory only.
func NewLimiter(rdb redis.UniversalClient, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		logger: logger,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a request from client and reports whether it is within the
// limit.
func (l *Limiter) Allow(ctx context.Context, client string) bool {
	if l.rdb != nil {
		allowed, err := l.allowRedis(ctx, client)
		if err == nil {
			return allowed
		}
		l.logger.Warn("Rate limit store unavailable, counting in memory", "error", err)
	}
	return l.allowMemory(client)
}

func (l *Limiter) allowRedis(ctx context.Context, client string) (bool, error) {
	key := rateKeyPrefix + client

	n, err := incrScript.Run(ctx, l.rdb, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	return n <= int64(l.limit), nil
}

func (l *Limiter) allowMemory(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	recent := l.hits[client][:0]
	for _, t := range l.hits[client] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.hits[client] = recent
		return false
	}
	l.hits[client] = append(recent, now)
	return true
}

// sweep drops clients with no request after cutoff. Callers hold l.mu.
func (l *Limiter) sweep(cutoff time.Time) {
	for client, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, client)
		}
	}
}

// Middleware rejects clients over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientIP(r)) {
			writeDetail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
