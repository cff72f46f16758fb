package authapi

import (
	"context"
	"net/http"

	"vigil/cmd/internal/secmon"
)

// record feeds a security event built from r into the monitor.
// Recording outlives the request and never affects the response.
func (h *Handler) record(ctx context.Context, r *http.Request, t secmon.EventType, opts ...secmon.Option) {
	if h == nil || h.monitor == nil {
		return
	}
	base := []secmon.Option{
		secmon.WithIP(clientIP(r, h.cfg.TrustProxy)),
		secmon.WithUserAgent(r.UserAgent()),
		secmon.WithRequest(r.Method, r.URL.Path),
	}
	ev, err := secmon.NewEvent(t, append(base, opts...)...)
	if err != nil {
		h.log.Warn("auth.security.event.invalid", "type", t, "err", err)
		return
	}
	if _, err := h.monitor.LogSecurityEvent(context.WithoutCancel(ctx), ev); err != nil {
		h.log.Warn("auth.security.event.fail", "type", t, "err", err)
	}
}

func (h *Handler) recordAuthFailure(r *http.Request, reason string) {
	h.record(r.Context(), r, secmon.TypeAuthFailure,
		secmon.WithDetails(secmon.AuthFailure{Reason: reason}))
}

func (h *Handler) recordInvalidToken(r *http.Request, reason string) {
	h.record(r.Context(), r, secmon.TypeInvalidToken,
		secmon.WithDetails(secmon.TokenFailure{Reason: reason}))
}

func (h *Handler) recordUnauthorized(r *http.Request, userID, reason string) {
	h.record(r.Context(), r, secmon.TypeUnauthorizedAccess,
		secmon.WithUser(userID),
		secmon.WithDetails(secmon.Access{Reason: reason}))
}

func (h *Handler) recordCSRFViolation(r *http.Request, reason string) {
	h.record(r.Context(), r, secmon.TypeCSRFViolation,
		secmon.WithSeverity(secmon.SeverityHigh),
		secmon.WithDetails(secmon.Access{Reason: reason}))
}
