package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vigil/cmd/internal/auth/session"
	"vigil/cmd/internal/secmon"
)

const (
	testSigningSecret = "6b1f9e2c4a7d3e8f0b5c9a1d7e3f2b4c-authapi-test"
	testAdminToken    = "admin-token-0123456789abcdef"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	h        *Handler
	sessions *session.Manager
	monitor  *secmon.Monitor
	clock    *fakeClock
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	clock := newFakeClock()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessCfg := session.DefaultConfig()
	sessCfg.SigningSecret = testSigningSecret
	sessCfg.MaxConcurrentSessions = 3
	mgr, err := session.NewManager(sessCfg, session.NewMemoryStore(), session.WithClock(clock.Now), session.WithLogger(log))
	if err != nil {
		t.Fatalf("session.NewManager: %v", err)
	}

	mon, err := secmon.NewMonitor(secmon.DefaultConfig(), secmon.NewMemoryStore(),
		secmon.WithClock(clock.Now), secmon.WithLogger(log))
	if err != nil {
		t.Fatalf("secmon.NewMonitor: %v", err)
	}

	cfg := DefaultConfig()
	cfg.CookieSecure = false
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHandler(log, cfg, mgr, WithMonitor(mon), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(h.RateLimit(mux))
	t.Cleanup(srv.Close)

	return &testEnv{h: h, sessions: mgr, monitor: mon, clock: clock, srv: srv}
}

func (e *testEnv) login(t *testing.T, userID string) session.Created {
	t.Helper()
	c, err := e.sessions.CreateSession(context.Background(), session.CreateParams{
		UserID:    userID,
		UserAgent: "authapi-test",
		IPAddress: "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return c
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any, mods ...func(*http.Request)) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, m := range mods {
		m(req)
	}
	res, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	out, _ := io.ReadAll(res.Body)
	return res.StatusCode, out
}

func (e *testEnv) eventTypes(t *testing.T) map[secmon.EventType]int {
	t.Helper()
	evs, err := e.monitor.GetEventsForIP(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("GetEventsForIP: %v", err)
	}
	out := make(map[secmon.EventType]int)
	for _, ev := range evs {
		out[ev.Type]++
	}
	return out
}

func TestRefresh_ReturnsNewAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.login(t, "user-a")

	status, body := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: created.RefreshSecret})
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var out refreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != "user-a" || out.SessionID != created.SessionID {
		t.Fatalf("unexpected refresh response: %+v", out)
	}
	if _, ok := env.sessions.VerifyAccessToken(out.AccessToken); !ok {
		t.Fatalf("refreshed access token does not verify")
	}
}

func TestRefresh_RevokedRecordsAuthFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.login(t, "user-a")
	if err := env.sessions.InvalidateSession(context.Background(), created.SessionID); err != nil {
		t.Fatalf("InvalidateSession: %v", err)
	}

	status, _ := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: created.RefreshSecret})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if got := env.eventTypes(t)[secmon.TypeAuthFailure]; got != 1 {
		t.Fatalf("expected 1 AUTH_FAILURE, got %d", got)
	}
}

func TestRefresh_RepeatedFailuresRaiseBruteForce(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 6; i++ {
		status, _ := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: "not-a-session"})
		if status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, status)
		}
		env.clock.Advance(time.Second)
	}

	types := env.eventTypes(t)
	if types[secmon.TypeAuthFailure] != 6 {
		t.Fatalf("expected 6 AUTH_FAILURE, got %d", types[secmon.TypeAuthFailure])
	}
	if types[secmon.TypeBruteForceAttempt] != 1 {
		t.Fatalf("expected exactly 1 BRUTE_FORCE_ATTEMPT, got %d", types[secmon.TypeBruteForceAttempt])
	}
}

func TestRefresh_MissingTokenIsBadRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	status, _ := env.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/auth/refresh", "", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", status)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.login(t, "user-a")

	status, body := env.do(t, http.MethodGet, "/me", created.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var out meResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != "user-a" {
		t.Fatalf("unexpected user: %q", out.UserID)
	}
}

func TestMe_InvalidAndMissingTokens(t *testing.T) {
	env := newTestEnv(t, nil)

	if status, _ := env.do(t, http.MethodGet, "/me", "garbage.token.value", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/me", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", status)
	}

	types := env.eventTypes(t)
	if types[secmon.TypeInvalidToken] != 1 || types[secmon.TypeUnauthorizedAccess] != 1 {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestMe_ExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.login(t, "user-a")
	env.clock.Advance(61 * time.Minute)

	if status, _ := env.do(t, http.MethodGet, "/me", created.AccessToken, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestLogout_OwnSession(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.login(t, "user-a")

	status, _ := env.do(t, http.MethodPost, "/auth/logout", created.AccessToken, logoutRequest{SessionID: created.SessionID})
	if status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if _, found, _ := env.sessions.GetActiveSession(context.Background(), created.SessionID); found {
		t.Fatalf("session still active after logout")
	}

	// Repeating is harmless.
	status, _ = env.do(t, http.MethodPost, "/auth/logout", created.AccessToken, logoutRequest{SessionID: created.SessionID})
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 on repeat, got %d", status)
	}
}

func TestLogout_ForeignSessionIsHidden(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.login(t, "user-a")
	b := env.login(t, "user-b")

	status, _ := env.do(t, http.MethodPost, "/auth/logout", a.AccessToken, logoutRequest{SessionID: b.SessionID})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if _, found, _ := env.sessions.GetActiveSession(context.Background(), b.SessionID); !found {
		t.Fatalf("foreign session was revoked")
	}
	if got := env.eventTypes(t)[secmon.TypeUnauthorizedAccess]; got != 1 {
		t.Fatalf("expected 1 UNAUTHORIZED_ACCESS, got %d", got)
	}
}

func TestLogoutAllAndSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.login(t, "user-a")
	env.clock.Advance(time.Second)
	env.login(t, "user-a")

	status, body := env.do(t, http.MethodGet, "/auth/sessions", first.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var list sessionsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}

	status, body = env.do(t, http.MethodPost, "/auth/logout_all", first.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var out logoutAllResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", out.Revoked)
	}
}

func TestAdminRoutes_DisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if status, _ := env.do(t, http.MethodGet, "/admin/security-stats", testAdminToken, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AdminToken = testAdminToken })

	status, _ := env.do(t, http.MethodGet, "/admin/security-stats", "wrong-token", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}

	status, body := env.do(t, http.MethodGet, "/admin/security-stats", testAdminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var stats securityStatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Message == "" || stats.Stats.TotalEvents != 1 {
		t.Fatalf("unexpected stats response: %+v", stats)
	}

	status, body = env.do(t, http.MethodGet, "/admin/security-events/127.0.0.1", testAdminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	var events securityEventsResponse
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if events.Count != 1 || len(events.Events) != 1 || events.Events[0].Type != secmon.TypeUnauthorizedAccess {
		t.Fatalf("unexpected events response: %+v", events)
	}
	if events.Events[0].Path != "/admin/security-stats" {
		t.Fatalf("unexpected path: %q", events.Events[0].Path)
	}

	status, body = env.do(t, http.MethodGet, "/admin/security-events/192.0.2.1", testAdminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if events.Count != 0 || events.Events == nil {
		t.Fatalf("expected an empty list, got %+v", events)
	}
}

func TestRateLimit_RejectsThenBlocks(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimitRPS = 1
		c.RateLimitBurst = 2
		c.BlockThreshold = 3
	})
	tok := env.login(t, "user-a").AccessToken

	want := []int{
		http.StatusOK, http.StatusOK,
		http.StatusTooManyRequests, http.StatusTooManyRequests,
		http.StatusForbidden, http.StatusForbidden,
	}
	for i, w := range want {
		if status, _ := env.do(t, http.MethodGet, "/me", tok, nil); status != w {
			t.Fatalf("request %d: expected %d, got %d", i, w, status)
		}
	}

	types := env.eventTypes(t)
	if types[secmon.TypeRateLimitExceeded] != 2 {
		t.Fatalf("expected 2 RATE_LIMIT_EXCEEDED, got %d", types[secmon.TypeRateLimitExceeded])
	}
	if types[secmon.TypeIPBlocked] != 2 {
		t.Fatalf("expected 2 IP_BLOCKED, got %d", types[secmon.TypeIPBlocked])
	}

	env.clock.Advance(16 * time.Minute)
	if status, _ := env.do(t, http.MethodGet, "/me", tok, nil); status != http.StatusOK {
		t.Fatalf("expected the block to lapse, got %d", status)
	}
}

func TestRefresh_CookieTransportRequiresCSRF(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.WebRefreshCookieEnabled = true })
	created := env.login(t, "user-a")

	rec := httptest.NewRecorder()
	csrf, err := env.h.IssueWebSession(rec, created)
	if err != nil {
		t.Fatalf("IssueWebSession: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 || csrf == "" {
		t.Fatalf("expected 2 cookies and a csrf value, got %d %q", len(cookies), csrf)
	}
	withCookies := func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}

	status, _ := env.do(t, http.MethodPost, "/auth/refresh", "", nil, withCookies, func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", "forged")
	})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if got := env.eventTypes(t)[secmon.TypeCSRFViolation]; got != 1 {
		t.Fatalf("expected 1 CSRF_VIOLATION, got %d", got)
	}

	status, body := env.do(t, http.MethodPost, "/auth/refresh", "", nil, withCookies, func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", csrf)
	})
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, body)
	}
}

func TestIssueWebSession_DisabledIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	csrf, err := env.h.IssueWebSession(rec, env.login(t, "user-a"))
	if err != nil || csrf != "" || len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookies, got csrf=%q err=%v", csrf, err)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(r, false); got != "198.51.100.7" {
		t.Fatalf("untrusted proxy: got %q", got)
	}
	if got := clientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %q", got)
	}
	r.RemoteAddr = "not-an-addr"
	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r, true); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
}
