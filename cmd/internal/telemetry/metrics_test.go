package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Rotation("ok")
	m.SessionIssued()
	m.Revoked("logout", 2)
	m.BlacklistWrite("ok")
	m.Locked()
	m.LoginAttempt("ok")
	m.ChannelOpened()
	m.ChannelClosed()
	m.ChannelEvent("replaced")
	m.FrameDropped()
	m.Swept("blacklist", 3)
}

func TestMetrics_RecordAndServe(t *testing.T) {
	t.Parallel()

	m := New()
	m.Rotation("ok")
	m.Rotation("ok")
	m.Rotation("invalid")
	m.ChannelOpened()

	if got := testutil.ToFloat64(m.rotations.WithLabelValues("ok")); got != 2 {
		t.Fatalf("rotations ok=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.wsOpen); got != 1 {
		t.Fatalf("open channels=%v want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `sessiond_session_rotations_total{outcome="invalid"} 1`) {
		t.Fatalf("expected rotation series in exposition, got:\n%s", body)
	}
}
