package authapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the limiter verdict for one request.
type Decision struct {
	Allowed bool
	// Blocked is set while the source serves a block for repeated violations.
	Blocked    bool
	Violations int
	RetryAfter time.Duration
	Until      time.Time
}

type visitor struct {
	lim          *rate.Limiter
	violations   []time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// IPLimiter is a per-source token bucket that blocks sources which keep hitting the limit.
type IPLimiter struct {
	limit     rate.Limit
	burst     int
	threshold int
	window    time.Duration
	blockFor  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewIPLimiter builds a limiter from the rate limit fields of cfg. A nil now uses time.Now.
func NewIPLimiter(cfg Config, now func() time.Time) *IPLimiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &IPLimiter{
		limit:     rate.Limit(cfg.RateLimitRPS),
		burst:     cfg.RateLimitBurst,
		threshold: cfg.BlockThreshold,
		window:    cfg.BlockWindow,
		blockFor:  cfg.BlockDuration,
		now:       now,
		visitors:  make(map[string]*visitor),
	}
}

// Allow spends one token for source.
func (l *IPLimiter) Allow(source string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	v.violations = recentViolations(v.violations, now.Add(-l.window))

	if now.Before(v.blockedUntil) {
		return Decision{Blocked: true, Violations: len(v.violations), RetryAfter: v.blockedUntil.Sub(now), Until: v.blockedUntil}
	}
	if v.lim.AllowN(now, 1) {
		return Decision{Allowed: true, Violations: len(v.violations)}
	}

	v.violations = append(v.violations, now)
	if len(v.violations) >= l.threshold {
		v.blockedUntil = now.Add(l.blockFor)
		return Decision{Blocked: true, Violations: len(v.violations), RetryAfter: l.blockFor, Until: v.blockedUntil}
	}

	wait := time.Second
	if tokens := v.lim.TokensAt(now); tokens < 1 && l.limit > 0 {
		wait = time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))
	}
	return Decision{Violations: len(v.violations), RetryAfter: wait}
}

// Prune forgets sources idle for longer than the block window and not currently blocked.
func (l *IPLimiter) Prune(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	idleBefore := now.Add(-l.window)
	var n int64
	for k, v := range l.visitors {
		if v.lastSeen.Before(idleBefore) && !now.Before(v.blockedUntil) {
			delete(l.visitors, k)
			n++
		}
	}
	return n, nil
}

// Len reports how many sources are tracked.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func recentViolations(vs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(vs) && !vs[i].After(cutoff) {
		i++
	}
	return vs[i:]
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func writeBlocked(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusForbidden, "ip_blocked", "too many violations")
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64((d + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
