package authapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"vigil/cmd/internal/secmon"
)

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	want := sha256.Sum256([]byte(h.cfg.AdminToken))
	return func(w http.ResponseWriter, r *http.Request) {
		got := sha256.Sum256([]byte(bearerToken(r)))
		if h.cfg.AdminToken == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			h.recordUnauthorized(r, "", "admin_token")
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor_unavailable", "security monitor not configured")
		return
	}
	stats, err := h.monitor.GetSecurityStats(r.Context())
	if err != nil {
		h.log.Error("admin.security_stats.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, securityStatsResponse{
		Message:   "Security statistics retrieved successfully",
		Stats:     stats,
		Timestamp: h.now(),
	})
}

func (h *Handler) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor_unavailable", "security monitor not configured")
		return
	}
	ip := strings.TrimSpace(r.PathValue("ip"))
	events, err := h.monitor.GetEventsForIP(r.Context(), ip)
	if err != nil {
		h.log.Error("admin.security_events.fail", "err", err, "ip", ip)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if events == nil {
		events = []secmon.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, securityEventsResponse{
		Message:   "Security events for " + ip + " retrieved successfully",
		Events:    events,
		Count:     len(events),
		Timestamp: h.now(),
	})
}

// RateLimit applies the per-source limiter to next.
// Rejected requests get 429 and a RATE_LIMIT_EXCEEDED event; sources that keep
// hitting the limit are blocked with 403 and an IP_BLOCKED event per request.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := clientIP(r, h.cfg.TrustProxy)
		if source == "" {
			source = secmon.UnknownSource
		}
		d := h.limiter.Allow(source)
		switch {
		case d.Blocked:
			h.record(r.Context(), r, secmon.TypeIPBlocked,
				secmon.WithSeverity(secmon.SeverityHigh),
				secmon.WithDetails(secmon.IPBlocked{Violations: d.Violations, Until: d.Until}))
			writeBlocked(w, d.RetryAfter)
		case !d.Allowed:
			h.record(r.Context(), r, secmon.TypeRateLimitExceeded,
				secmon.WithDetails(secmon.RateLimit{
					Limit:      h.cfg.RateLimitRPS,
					Burst:      h.cfg.RateLimitBurst,
					Violations: d.Violations,
				}))
			writeRateLimited(w, d.RetryAfter)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
