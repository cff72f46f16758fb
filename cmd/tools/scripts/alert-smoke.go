// Package main is a CI-friendly smoke test for the Vigil alert stream.
//
// It validates:
//   - admin-authenticated handshake + subprotocol selection
//   - the ready frame
//   - repeated refresh failures from one source raising a BRUTE_FORCE_ATTEMPT alert
//   - the alert reaching the stream exactly once
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"vigil/cmd/internal/secmon"
	"vigil/cmd/internal/secmon/stream"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Vigil base URL")
		token    = flag.String("admin-token", os.Getenv("VIGIL_ADMIN_TOKEN"), "admin bearer token")
		attempts = flag.Int("attempts", 5, "refresh failures to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		fatalf("missing -admin-token (or VIGIL_ADMIN_TOKEN)")
	}
	wsURL, err := streamURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	conn := mustConnect(root, wsURL, *token, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ready := mustReadFrame(root, conn, *timeout)
	if ready.Type != stream.FrameReady {
		fatalf("expected %q frame, got %q", stream.FrameReady, ready.Type)
	}
	if *verbose {
		fmt.Printf("connected: %s\n", wsURL)
	}

	for i := 0; i < *attempts; i++ {
		mustFailRefresh(root, *baseURL, i, *timeout)
	}

	var alerts int
	for {
		f, err := readFrame(root, conn, *timeout)
		if err != nil {
			break
		}
		if f.Type != stream.FrameAlert || f.Event == nil {
			continue
		}
		if *verbose {
			fmt.Printf("alert: type=%s source=%s severity=%s\n", f.Event.Type, f.Event.Source(), f.Event.Severity)
		}
		if f.Event.Type == secmon.TypeBruteForceAttempt {
			alerts++
		}
	}

	if alerts != 1 {
		fatalf("expected exactly one %s alert, got %d", secmon.TypeBruteForceAttempt, alerts)
	}
	fmt.Println("OK: alert stream smoke passed")
}

func streamURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/admin/security-events/stream"
	return u.String(), nil
}

func mustConnect(parent context.Context, wsURL, token string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{stream.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol")); got != "" && got != stream.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, stream.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustFailRefresh(parent context.Context, baseURL string, i int, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"refresh_token": fmt.Sprintf("smoke-invalid-%d", i)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		fatalf("build refresh request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("refresh %d: %v", i, err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		fatalf("refresh %d: expected 401, got %d", i, res.StatusCode)
	}
}

func readFrame(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) (stream.Frame, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		return stream.Frame{}, err
	}
	var f stream.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return stream.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func mustReadFrame(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) stream.Frame {
	f, err := readFrame(parent, conn, stepTimeout)
	if err != nil {
		fatalf("read frame: %v", err)
	}
	return f
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
