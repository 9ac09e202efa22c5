package realtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"sessiond/cmd/internal/telemetry"
	v1 "sessiond/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

var (
	ErrInvalidKey     = errors.New("realtime: invalid identity key")
	ErrClientClosed   = errors.New("realtime: client already closing")
	ErrRegistryClosed = errors.New("realtime: registry shut down")
)

// Registry holds at most one live channel per IdentityKey.
//
// Every mutation of the key map happens under mu, and closing a superseded
// channel happens inside the same critical section as the replacement.
// Client.Close and Client.Send never block, so holding mu across them is safe.
type Registry struct {
	log     *slog.Logger
	metrics *telemetry.Metrics
	grace   time.Duration

	mu     sync.Mutex
	byKey  map[IdentityKey]*Client
	closed bool
}

// NewRegistry constructs an empty registry. grace bounds Shutdown when the
// caller's context carries no deadline.
func NewRegistry(log *slog.Logger, metrics *telemetry.Metrics, grace time.Duration) *Registry {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if grace <= 0 {
		grace = shutdownGrace
	}
	return &Registry{
		log:     log,
		metrics: metrics,
		grace:   grace,
		byKey:   make(map[IdentityKey]*Client),
	}
}

// Register makes c the live channel for c.Key and moves it to StateOpen.
// A previous channel for the same key is closed as superseded first.
func (r *Registry) Register(c *Client) error {
	if c == nil || !c.Key.Valid() {
		return ErrInvalidKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if c.State() >= StateClosing {
		return ErrClientClosed
	}

	prev, ok := r.byKey[c.Key]
	if ok && prev == c {
		return nil
	}
	if ok {
		prev.Close(websocket.StatusPolicyViolation, v1.ReasonSuperseded)
		r.metrics.ChannelClosed()
		r.metrics.ChannelEvent("superseded")
		r.log.Info("ws.superseded", "key", c.Key.String(), "prev_conn", prev.ConnID, "conn", c.ConnID)
	}

	r.byKey[c.Key] = c
	c.advance(StateOpen)
	r.metrics.ChannelOpened()
	return nil
}

// Unregister drops c's mapping, but only while c is still the live channel
// for its key; a newer channel is never evicted by a stale one.
func (r *Registry) Unregister(c *Client) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byKey[c.Key]; !ok || cur != c {
		return false
	}
	delete(r.byKey, c.Key)
	r.metrics.ChannelClosed()
	return true
}

// Lookup returns the live channel for an exact key.
func (r *Registry) Lookup(key IdentityKey) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[key]
	return c, ok
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// SendToUser queues text on every channel matching key and returns how many
// accepted it. Absence is not an error.
func (r *Registry) SendToUser(key IdentityKey, text string) int {
	if key.UserID == "" {
		return 0
	}
	sent := 0
	for _, c := range r.snapshot(key) {
		if c.Send(text) {
			sent++
			continue
		}
		r.metrics.FrameDropped()
	}
	return sent
}

// Broadcast queues text on every open channel. A full or closing channel is
// skipped without affecting the others.
func (r *Registry) Broadcast(text string) int {
	sent := 0
	for _, c := range r.snapshot(IdentityKey{}) {
		if c.State() != StateOpen {
			continue
		}
		if c.Send(text) {
			sent++
			continue
		}
		r.metrics.FrameDropped()
	}
	return sent
}

// CloseUser pushes frame to every channel of userID, then closes them with
// reason. It returns the number of channels closed.
func (r *Registry) CloseUser(userID, frame, reason string) int {
	if userID == "" {
		return 0
	}
	return r.closeMatching(IdentityKey{UserID: userID}, frame, reason)
}

// CloseSession is CloseUser narrowed to one session.
func (r *Registry) CloseSession(key IdentityKey, frame, reason string) int {
	if !key.Valid() {
		return 0
	}
	return r.closeMatching(key, frame, reason)
}

func (r *Registry) closeMatching(key IdentityKey, frame, reason string) int {
	r.mu.Lock()
	var victims []*Client
	for k, c := range r.byKey {
		if key.matches(k) {
			victims = append(victims, c)
			delete(r.byKey, k)
		}
	}
	r.mu.Unlock()

	for _, c := range victims {
		if frame != "" && !c.Send(frame) {
			r.metrics.FrameDropped()
		}
		c.Close(websocket.StatusNormalClosure, reason)
		r.metrics.ChannelClosed()
		r.metrics.ChannelEvent("forced_close")
		r.log.Info("ws.closed.forced", "key", c.Key.String(), "conn", c.ConnID, "reason", reason)
	}
	return len(victims)
}

// Shutdown closes every channel with a normal closure and waits for each
// connection to finish, bounded by ctx (or the registry grace period when ctx
// has no deadline). Later registrations are refused.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Client, 0, len(r.byKey))
	for k, c := range r.byKey {
		all = append(all, c)
		delete(r.byKey, k)
	}
	r.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.grace)
		defer cancel()
	}

	for _, c := range all {
		c.Close(websocket.StatusNormalClosure, v1.ReasonShutdown)
		r.metrics.ChannelClosed()
	}

	pending := 0
	for _, c := range all {
		select {
		case <-c.Done():
		case <-ctx.Done():
			pending++
		}
	}

	r.log.Info("ws.shutdown", "closed", len(all), "pending", pending)
	if pending > 0 {
		return ctx.Err()
	}
	return nil
}

func (r *Registry) snapshot(key IdentityKey) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.byKey))
	for k, c := range r.byKey {
		if key.UserID == "" || key.matches(k) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
