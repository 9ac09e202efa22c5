package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	v1 "sessiond/shared/contracts/realtime/v1"
)

const (
	smokeSubprotocol = "sessiond.realtime.v1"
	smokeReadLimit   = 1 << 20
)

type smokeOptions struct {
	baseURL  string
	origin   string
	email    string
	password string
	timeout  time.Duration
	verbose  bool
}

type smokeSession struct {
	Session struct {
		UserID       string `json:"user_id"`
		SessionID    string `json:"session_id"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"session"`
}

// newSmokeCommand checks a running server end to end: login, realtime
// channel, refresh, then logout tearing the channel down.
func newSmokeCommand() *cobra.Command {
	var o smokeOptions

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "End-to-end check against a running server",
		Long:  `Log in, open /ws, rotate the refresh secret, log out and assert the channel receives LOGOUT and closes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSmoke(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.baseURL, "url", "http://127.0.0.1:8080", "Server base URL")
	f.StringVar(&o.origin, "origin", "http://localhost", "Origin header for the WebSocket handshake")
	f.StringVar(&o.email, "email", "", "Account email (required)")
	f.StringVar(&o.password, "password", "", "Account password (required)")
	f.DurationVar(&o.timeout, "timeout", 7*time.Second, "Per-step timeout")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Verbose output")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runSmoke(ctx context.Context, out io.Writer, o smokeOptions) error {
	base, err := validateBaseURL(o.baseURL)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	if err := validateOrigin(o.origin); err != nil {
		return fmt.Errorf("invalid --origin: %w", err)
	}
	client := &http.Client{Timeout: o.timeout}
	step := func(name string) {
		if o.verbose {
			fmt.Fprintf(out, "ok: %s\n", name)
		}
	}

	var login smokeSession
	if err := postJSON(ctx, client, base+"/auth/login", "", map[string]any{
		"email": o.email, "password": o.password,
	}, http.StatusOK, &login); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	step("login")

	conn, err := dialRealtime(ctx, wsURL(base)+"/ws", o.origin, login.Session.AccessToken, o.timeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := expectText(ctx, conn, v1.FrameReady, o.timeout); err != nil {
		return err
	}
	step("ready")

	if err := writeText(ctx, conn, v1.FramePing, o.timeout); err != nil {
		return err
	}
	if err := expectText(ctx, conn, v1.FramePong, o.timeout); err != nil {
		return err
	}
	step("ping")

	var rotated smokeSession
	if err := postJSON(ctx, client, base+"/auth/refresh", "", map[string]any{
		"session_id":    login.Session.SessionID,
		"refresh_token": login.Session.RefreshToken,
	}, http.StatusOK, &rotated); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if rotated.Session.RefreshToken == login.Session.RefreshToken {
		return errors.New("refresh: secret was not rotated")
	}
	step("refresh")

	if err := postJSON(ctx, client, base+"/auth/logout", rotated.Session.AccessToken, map[string]any{}, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := expectText(ctx, conn, v1.FrameLogout, o.timeout); err != nil {
		return err
	}
	if err := expectClose(ctx, conn, websocket.StatusNormalClosure, o.timeout); err != nil {
		return err
	}
	step("logout")

	fmt.Fprintln(out, "smoke: PASS")
	return nil
}

func validateBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

func postJSON(ctx context.Context, client *http.Client, target, bearer string, body any, wantStatus int, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d want %d: %s", resp.StatusCode, wantStatus, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func dialRealtime(parent context.Context, target, origin, accessToken string, timeout time.Duration) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		Subprotocols: []string{smokeSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if got := conn.Subprotocol(); got != smokeSubprotocol {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("subprotocol %q want %q", got, smokeSubprotocol)
	}
	conn.SetReadLimit(smokeReadLimit)
	return conn, nil
}

func writeText(parent context.Context, conn *websocket.Conn, text string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("write %q: %w", text, err)
	}
	return nil
}

func expectText(parent context.Context, conn *websocket.Conn, want string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("waiting for %q: %w", want, err)
	}
	if typ != websocket.MessageText || string(data) != want {
		return fmt.Errorf("got %q want %q", data, want)
	}
	return nil
}

func expectClose(parent context.Context, conn *websocket.Conn, want websocket.StatusCode, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err == nil {
		return fmt.Errorf("expected close %d, got frame %q", want, data)
	}
	if got := websocket.CloseStatus(err); got != want {
		return fmt.Errorf("close status %d want %d: %w", got, want, err)
	}
	return nil
}
