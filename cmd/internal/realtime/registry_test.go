package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sessiond/cmd/internal/telemetry"
	v1 "sessiond/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), telemetry.New(), time.Second)
}

func newTestClient(userID, sessionID string, queue int) *Client {
	return NewClient(IdentityKey{UserID: userID, SessionID: sessionID}, userID+"-"+sessionID, queue)
}

func pendingClose(t *testing.T, c *Client) closeRequest {
	t.Helper()
	select {
	case req := <-c.closeReq:
		return req
	default:
		t.Fatalf("no close request queued for %s", c.Key)
		return closeRequest{}
	}
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case s := <-c.send:
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestRegistry_RegisterSupersedesPrevious(t *testing.T) {
	r := newTestRegistry(t)

	first := newTestClient("u1", "s1", 8)
	second := newTestClient("u1", "s1", 8)

	require.NoError(t, r.Register(first))
	require.Equal(t, StateOpen, first.State())

	require.NoError(t, r.Register(second))
	require.Equal(t, StateClosing, first.State())
	require.Equal(t, StateOpen, second.State())

	req := pendingClose(t, first)
	require.Equal(t, websocket.StatusPolicyViolation, req.code)
	require.Equal(t, v1.ReasonSuperseded, req.reason)

	got, ok := r.Lookup(IdentityKey{UserID: "u1", SessionID: "s1"})
	require.True(t, ok)
	require.Same(t, second, got)
	require.Equal(t, 1, r.Count())
}

func TestRegistry_ConcurrentRegisterLeavesOneOpen(t *testing.T) {
	r := newTestRegistry(t)

	const n = 32
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient("u1", "s1", 4)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = r.Register(c)
		}(c)
	}
	wg.Wait()

	open := 0
	for _, c := range clients {
		if c.State() == StateOpen {
			open++
		}
	}
	require.Equal(t, 1, open)
	require.Equal(t, 1, r.Count())
}

func TestRegistry_RejectsInvalidAndClosedClients(t *testing.T) {
	r := newTestRegistry(t)

	require.ErrorIs(t, r.Register(nil), ErrInvalidKey)
	require.ErrorIs(t, r.Register(newTestClient("u1", "", 4)), ErrInvalidKey)

	c := newTestClient("u1", "s1", 4)
	c.Close(websocket.StatusNormalClosure, "bye")
	require.ErrorIs(t, r.Register(c), ErrClientClosed)
	require.Zero(t, r.Count())
}

func TestRegistry_UnregisterIgnoresStaleClient(t *testing.T) {
	r := newTestRegistry(t)

	old := newTestClient("u1", "s1", 4)
	cur := newTestClient("u1", "s1", 4)
	require.NoError(t, r.Register(old))
	require.NoError(t, r.Register(cur))

	require.False(t, r.Unregister(old))
	got, ok := r.Lookup(cur.Key)
	require.True(t, ok)
	require.Same(t, cur, got)

	require.True(t, r.Unregister(cur))
	require.False(t, r.Unregister(cur))
	require.Zero(t, r.Count())
}

func TestRegistry_SendToUser(t *testing.T) {
	r := newTestRegistry(t)

	require.Zero(t, r.SendToUser(IdentityKey{UserID: "nobody"}, "hi"))
	require.Zero(t, r.SendToUser(IdentityKey{}, "hi"))

	a := newTestClient("u1", "s1", 4)
	b := newTestClient("u1", "s2", 4)
	other := newTestClient("u2", "s1", 4)
	for _, c := range []*Client{a, b, other} {
		require.NoError(t, r.Register(c))
	}

	require.Equal(t, 1, r.SendToUser(IdentityKey{UserID: "u1", SessionID: "s2"}, "one"))
	require.Equal(t, 2, r.SendToUser(IdentityKey{UserID: "u1"}, "both"))

	require.Equal(t, []string{"both"}, drain(a))
	require.Equal(t, []string{"one", "both"}, drain(b))
	require.Empty(t, drain(other))
}

func TestRegistry_BroadcastIsolatesFullQueues(t *testing.T) {
	r := newTestRegistry(t)

	stuck := newTestClient("u1", "s1", 1)
	healthy := newTestClient("u2", "s1", 4)
	require.NoError(t, r.Register(stuck))
	require.NoError(t, r.Register(healthy))

	require.True(t, stuck.Send("backlog"))

	require.Equal(t, 1, r.Broadcast("hello"))
	require.Equal(t, []string{"hello"}, drain(healthy))
	require.Equal(t, []string{"backlog"}, drain(stuck))
}

func TestRegistry_CloseUserQueuesNoticeBeforeClose(t *testing.T) {
	r := newTestRegistry(t)

	a := newTestClient("u1", "s1", 4)
	b := newTestClient("u1", "s2", 4)
	keep := newTestClient("u2", "s1", 4)
	for _, c := range []*Client{a, b, keep} {
		require.NoError(t, r.Register(c))
	}

	require.Equal(t, 2, r.CloseUser("u1", v1.FrameLogout, v1.ReasonLogout))
	require.Equal(t, 1, r.Count())

	for _, c := range []*Client{a, b} {
		require.Equal(t, []string{v1.FrameLogout}, drain(c))
		req := pendingClose(t, c)
		require.Equal(t, websocket.StatusNormalClosure, req.code)
		require.Equal(t, v1.ReasonLogout, req.reason)
		require.False(t, c.Send("late"), "closing client must refuse frames")
	}
	require.Equal(t, StateOpen, keep.State())

	// Idempotent: nothing left to close.
	require.Zero(t, r.CloseUser("u1", v1.FrameLogout, v1.ReasonLogout))
	require.Zero(t, r.CloseUser("", v1.FrameLogout, v1.ReasonLogout))
}

func TestRegistry_CloseSessionOnlyTouchesThatSession(t *testing.T) {
	r := newTestRegistry(t)

	a := newTestClient("u1", "s1", 4)
	b := newTestClient("u1", "s2", 4)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	require.Equal(t, 1, r.CloseSession(a.Key, v1.FrameSessionExpired, v1.ReasonExpired))
	require.Equal(t, []string{v1.FrameSessionExpired}, drain(a))
	require.Equal(t, StateClosing, a.State())
	require.Equal(t, StateOpen, b.State())

	require.Zero(t, r.CloseSession(IdentityKey{UserID: "u1"}, v1.FrameLogout, v1.ReasonLogout))
}

func TestRegistry_ShutdownWaitsForClients(t *testing.T) {
	r := newTestRegistry(t)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient("u1", fmt.Sprintf("s%d", i), 4)
		require.NoError(t, r.Register(clients[i]))

		// Stand-in for the gateway writer acknowledging the close.
		go func(c *Client) {
			<-c.closeReq
			c.markClosed()
		}(clients[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	for _, c := range clients {
		require.Equal(t, StateClosed, c.State())
	}
	require.Zero(t, r.Count())
	require.ErrorIs(t, r.Register(newTestClient("u9", "s9", 4)), ErrRegistryClosed)
}

func TestRegistry_ShutdownIsBounded(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(newTestClient("u1", "s1", 4)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}
