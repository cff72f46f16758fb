package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"

	"vigil/cmd/internal/envcfg"
	"vigil/cmd/internal/ids"
	"vigil/cmd/internal/secmon"
)

// Subprotocol is offered by the server; clients may omit it.
const Subprotocol = "vigil.alerts.v1"

const (
	defaultSendQueue = 64
	minSendQueue     = 8

	maxPingFailures = 3
)

// Frame types.
const (
	FrameReady = "ready"
	FrameAlert = "alert"
)

// Frame is one server to client message.
type Frame struct {
	Type  string              `json:"type"`
	TS    time.Time           `json:"ts"`
	Event *secmon.StoredEvent `json:"event,omitempty"`
}

// Config tunes the gateway.
type Config struct {
	OriginRequired   bool
	AllowedOrigins   []string
	SendQueue        int
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

// DefaultConfig allows localhost origins and does not require an Origin header,
// since admin tooling outside browsers rarely sends one.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		SendQueue:        defaultSendQueue,
		WriteTimeout:     5 * time.Second,
		HeartbeatEvery:   25 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
	}
}

// LoadConfig reads VIGIL_STREAM_* from src.
func LoadConfig(src *envcfg.Source) (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.OriginRequired, err = src.Bool("VIGIL_STREAM_ORIGIN_REQUIRED", cfg.OriginRequired); err != nil {
		return Config{}, err
	}
	if raw := src.String("VIGIL_STREAM_ALLOWED_ORIGINS", ""); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	if cfg.SendQueue, err = src.Int("VIGIL_STREAM_SEND_QUEUE", cfg.SendQueue); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = src.Duration("VIGIL_STREAM_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatEvery, err = src.Duration("VIGIL_STREAM_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatTimeout, err = src.Duration("VIGIL_STREAM_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return Config{}, err
	}
	cfg.SendQueue = max(cfg.SendQueue, minSendQueue)
	return cfg, nil
}

// Gateway upgrades admin requests to WebSocket and streams alerts from a Hub.
// Authentication happens before ServeHTTP is reached.
type Gateway struct {
	log *slog.Logger
	hub *Hub
	cfg Config

	originPatterns []string
}

// NewGateway constructs a Gateway.
func NewGateway(log *slog.Logger, hub *Hub, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		log:            log,
		hub:            hub,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("stream.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("stream.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "id")
		return
	}
	client := NewClient(id, g.cfg.SendQueue)
	if !g.hub.Join(client) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer g.hub.Leave(id)

	// Subscribers never send; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())

	if err := g.write(ctx, conn, Frame{Type: FrameReady, TS: time.Now().UTC()}); err != nil {
		g.log.Info("stream.write.fail", "client_id", id, "err", err)
		return
	}

	ticker := time.NewTicker(g.cfg.HeartbeatEvery)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case ev := <-client.Send:
			if err := g.write(ctx, conn, Frame{Type: FrameAlert, TS: time.Now().UTC(), Event: &ev}); err != nil {
				g.log.Info("stream.write.fail", "client_id", id, "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				g.log.Info("stream.ping.fail", "client_id", id, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" || a == origin {
			return nil
		}
		if host != "" && host == originHost(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(s)
}

// originPatterns mirrors the allowlist into websocket.Accept's host patterns so both checks agree.
func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		if h := originHost(a); h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
