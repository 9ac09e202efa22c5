package lockout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sessiond/cmd/identity"
	"sessiond/cmd/identity/ids"
	"sessiond/cmd/internal/pgtest"
)

func TestPostgres_TrackerLifecycle(t *testing.T) {
	t.Parallel()

	pool := pgtest.Pool(t)
	ctx := context.Background()

	id, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	mail := id + "@example.com"
	pgtest.CreateUser(t, pool, id, mail)

	users, err := identity.NewPostgresStore(pool)
	require.NoError(t, err)
	tr := NewTracker(DefaultConfig(), users, NewPostgresStore(pool))

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.RecordFailure(ctx, mail, "192.0.2.1", "it"))
		time.Sleep(2 * time.Millisecond)
	}

	locked, err := tr.CheckLocked(ctx, mail)
	require.NoError(t, err)
	require.True(t, locked)

	u, err := users.GetUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u.LockoutUntil)

	require.NoError(t, tr.ResetOnSuccess(ctx, id))
	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM sessiond.failed_logins WHERE user_id = $1`, id).Scan(&n))
	require.Zero(t, n)
}

func TestPostgres_RecordKeepsSameInstantAttempts(t *testing.T) {
	t.Parallel()

	pool := pgtest.Pool(t)
	ctx := context.Background()

	id, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	pgtest.CreateUser(t, pool, id, id+"@example.com")

	st := NewPostgresStore(pool)
	at := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Record(ctx, Attempt{UserID: id, At: at, IP: "192.0.2.7"}))
	}

	n, err := st.CountSince(ctx, id, at.Add(-time.Second))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
