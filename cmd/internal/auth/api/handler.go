package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"vigil/cmd/internal/auth/session"
	"vigil/cmd/internal/secmon"
	"vigil/cmd/security/token"
)

// Handler wires the session lifecycle and the security monitor to HTTP.
type Handler struct {
	log *slog.Logger
	cfg Config
	now func() time.Time

	sessions *session.Manager
	monitor  *secmon.Monitor
	stream   http.Handler
	limiter  *IPLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMonitor records security events for auth failures and limiter decisions.
func WithMonitor(m *secmon.Monitor) HandlerOption {
	return func(h *Handler) { h.monitor = m }
}

// WithAlertStream mounts s at /admin/security-events/stream behind the admin check.
func WithAlertStream(s http.Handler) HandlerOption {
	return func(h *Handler) { h.stream = s }
}

// WithLimiter replaces the limiter built from Config.
func WithLimiter(l *IPLimiter) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.limiter = l
		}
	}
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Manager, opts ...HandlerOption) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, errors.New("authapi: nil session manager")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: sessions,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	if h.limiter == nil {
		h.limiter = NewIPLimiter(cfg, h.now)
	}
	return h, nil
}

// Limiter returns the per-source limiter (for the prune sweep).
func (h *Handler) Limiter() *IPLimiter { return h.limiter }

// Register wires the auth and admin routes onto mux.
// Admin routes are only mounted when an admin token is configured.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/sessions", h.handleSessions)
	mux.HandleFunc("/me", h.handleMe)

	if h.cfg.AdminToken == "" {
		return
	}
	mux.HandleFunc("GET /admin/security-stats", h.requireAdmin(h.handleSecurityStats))
	mux.HandleFunc("GET /admin/security-events/{ip}", h.requireAdmin(h.handleSecurityEvents))
	if h.stream != nil {
		mux.Handle("GET /admin/security-events/stream", h.requireAdmin(h.stream.ServeHTTP))
	}
}

// ---- handlers ----

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	secret := strings.TrimSpace(req.RefreshToken)
	if secret == "" {
		cookie, ok := h.refreshTokenFromCookie(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		if !h.csrfDoubleSubmitValid(r) {
			h.recordCSRFViolation(r, "refresh_csrf_mismatch")
			writeError(w, http.StatusForbidden, "csrf_failed", "csrf validation failed")
			return
		}
		secret = cookie
	}

	out, err := h.sessions.RefreshAccessToken(r.Context(), secret)
	if errors.Is(err, session.ErrSessionExpiredOrRevoked) {
		h.recordAuthFailure(r, "session_expired_or_revoked")
		h.clearWebSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "session_expired", "session expired or revoked")
		return
	}
	if err != nil {
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     out.AccessToken,
		AccessExpiresAt: out.AccessExpiresAt,
		UserID:          out.UserID,
		SessionID:       out.SessionID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	ctx := r.Context()
	sess, found, err := h.sessions.GetActiveSession(ctx, sessionID)
	if err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if found && sess.UserID != claims.UserID {
		h.recordUnauthorized(r, claims.UserID, "foreign_session")
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if found {
		if err := h.sessions.InvalidateSession(ctx, sessionID); err != nil {
			h.log.Error("auth.logout.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		h.log.Info("auth.logout", "user_id", claims.UserID, "session_id", sessionID)
	}

	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	n, err := h.sessions.InvalidateAllUserSessions(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.logout_all", "user_id", claims.UserID, "revoked", n)
	h.clearWebSessionCookies(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ss, err := h.sessions.GetUserActiveSessions(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("auth.sessions.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: toSessionResponses(ss)})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		h.recordUnauthorized(r, "", "missing_bearer")
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return token.Claims{}, false
	}
	claims, ok := h.sessions.VerifyAccessToken(raw)
	if !ok {
		h.recordInvalidToken(r, "access_token_rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return token.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// clientIP returns the caller address in canonical form, or "" when it cannot be parsed.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
