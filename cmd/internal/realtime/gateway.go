package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"sessiond/cmd/identity/ids"
	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/internal/telemetry"
	v1 "sessiond/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const wsSubprotocolV1 = "sessiond.realtime.v1"

// Authenticator validates the access credential presented on upgrade.
type Authenticator interface {
	ValidateAccess(ctx context.Context, accessToken string) (session.AccessClaims, error)
}

// Message is one inbound application frame.
type Message struct {
	Key  IdentityKey
	Text string
	// Envelope is set when the frame is a valid JSON envelope.
	Envelope *v1.Envelope
}

// Handler answers application frames. An empty reply sends nothing.
type Handler interface {
	Handle(ctx context.Context, m Message) (reply string, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, m Message) (string, error) { return f(ctx, m) }

// Echo replies with the frame it received.
var Echo = HandlerFunc(func(_ context.Context, m Message) (string, error) { return m.Text, nil })

// Gateway is the websocket upgrade endpoint.
//
// It enforces origin policy, authenticates the upgrade, registers the channel
// in the Registry, and runs the writer, heartbeat and read loops.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	auth     Authenticator
	registry *Registry
	handler  Handler
	metrics  *telemetry.Metrics
	patterns []string
}

// NewGateway constructs a gateway. A nil handler means Echo.
func NewGateway(cfg Config, log *slog.Logger, auth Authenticator, registry *Registry, handler Handler, metrics *telemetry.Metrics) (*Gateway, error) {
	if auth == nil {
		return nil, errors.New("realtime: authenticator is required")
	}
	if registry == nil {
		return nil, errors.New("realtime: registry is required")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if handler == nil {
		handler = Echo
	}
	cfg = cfg.normalize()
	return &Gateway{
		cfg:      cfg,
		log:      log,
		auth:     auth,
		registry: registry,
		handler:  handler,
		metrics:  metrics,
		patterns: originPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP upgrades the request and runs the channel until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.ChannelEvent("rejected_origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	claims, authErr := g.auth.ValidateAccess(r.Context(), accessToken(r))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	if authErr != nil {
		g.log.Info("ws.reject.auth", "err", authErr, "remote", r.RemoteAddr)
		g.metrics.ChannelEvent("rejected_auth")
		_ = conn.Close(websocket.StatusPolicyViolation, v1.ReasonUnauthorized)
		return
	}

	connID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	key := IdentityKey{UserID: claims.UserID, SessionID: claims.SessionID}
	client := NewClient(key, connID, g.cfg.SendQueueSize)
	client.advance(StateAuthenticated)

	g.serve(r.Context(), conn, client)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, client *Client) {
	defer client.markClosed()

	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	// The ready frame is queued before Register so it is always written first.
	client.Send(v1.FrameReady)
	if err := g.registry.Register(client); err != nil {
		g.log.Info("ws.register.fail", "key", client.Key.String(), "err", err)
		_ = conn.Close(websocket.StatusGoingAway, v1.ReasonShutdown)
		return
	}
	defer g.registry.Unregister(client)

	g.log.Info("ws.open", "key", client.Key.String(), "conn", client.ConnID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client)
	}()

	code, reason := g.readLoop(ctx, conn, client)

	g.registry.Unregister(client)
	client.Close(code, reason)

	select {
	case <-writerDone:
	case <-time.After(g.cfg.WriteTimeout + wsCloseGrace):
		_ = conn.CloseNow()
	}
	cancel()

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.closed", "key", client.Key.String(), "conn", client.ConnID, "code", code.String(), "reason", reason)
}

// writeLoop drains the send queue. On a close request it flushes whatever is
// still queued, then performs the close handshake.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.CloseNow()
			return

		case text := <-client.send:
			if err := g.write(ctx, conn, text); err != nil {
				g.log.Info("ws.write.fail", "conn", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
				client.Close(websocket.StatusInternalError, "write failed")
				_ = conn.CloseNow()
				return
			}

		case req := <-client.closeReq:
			for flushing := true; flushing; {
				select {
				case text := <-client.send:
					if err := g.write(ctx, conn, text); err != nil {
						flushing = false
					}
				default:
					flushing = false
				}
			}
			_ = conn.Close(req.code, req.reason)
			return
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, text string) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Closing():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn", client.ConnID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					client.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readLoop runs until the channel must end and reports the close status the
// server should send.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) (websocket.StatusCode, string) {
	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		typ, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				return websocket.StatusNormalClosure, "peer closed"
			case readErrTooBig:
				g.metrics.ChannelEvent("oversize")
				return websocket.StatusMessageTooBig, "frame too large"
			case readErrCtxDone:
				return websocket.StatusGoingAway, "idle timeout"
			case readErrConnClosed:
				return websocket.StatusNormalClosure, "conn closed"
			default:
				g.log.Info("ws.read.fail", "conn", client.ConnID, "err", err)
				return websocket.StatusInternalError, "read failed"
			}
		}

		if !limiter.Allow() {
			g.metrics.ChannelEvent("rate_limited")
			client.Send(v1.ErrorFrame("rate_limited", "too many frames", time.Now().UTC()))
			return websocket.StatusPolicyViolation, v1.ReasonRateLimited
		}

		if typ != websocket.MessageText {
			g.metrics.ChannelEvent("binary")
			return websocket.StatusProtocolError, v1.ReasonBinary
		}

		g.dispatch(ctx, client, string(data))
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, text string) {
	msg := Message{Key: client.Key, Text: text}

	switch v1.Classify(text) {
	case v1.KindPing:
		client.Send(v1.FramePong)
		return

	case v1.KindEnvelope:
		env, err := v1.ParseEnvelope([]byte(text))
		if err != nil {
			client.Send(v1.ErrorFrame("bad_envelope", err.Error(), time.Now().UTC()))
			return
		}
		if env.Type != v1.TypeMessage {
			client.Send(v1.ErrorFrame("unsupported", "unsupported type: "+env.Type, time.Now().UTC()))
			return
		}
		msg.Envelope = &env
	}

	reply, err := g.handler.Handle(ctx, msg)
	if err != nil {
		client.Send(v1.ErrorFrame("handler_failed", err.Error(), time.Now().UTC()))
		return
	}
	if reply != "" && !client.Send(reply) {
		g.metrics.FrameDropped()
	}
}

// accessToken reads the bearer header, falling back to the access_token query
// parameter since browsers cannot set headers on an upgrade.
func accessToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrTooBig
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	if strings.Contains(err.Error(), "read limited at") {
		return readErrTooBig
	}
	return readErrUnknown
}
