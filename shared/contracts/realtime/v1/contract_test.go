package v1

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := map[string]FrameKind{
		"ping":                  KindPing,
		" ping ":                KindPing,
		"hello":                 KindApplication,
		"PING":                  KindApplication,
		`{"v":"v1","type":"x"}`: KindEnvelope,
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Fatalf("Classify(%q)=%v want %v", in, got, want)
		}
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"v":"v1","type":"message","payload":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != TypeMessage {
		t.Fatalf("type=%q", env.Type)
	}

	for _, bad := range []string{`{"v":"v2","type":"message"}`, `{"v":"v1"}`, `{"v":"v1","type":"nope"}`, `{`} {
		if _, err := ParseEnvelope([]byte(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestErrorFrame(t *testing.T) {
	f := ErrorFrame("bad_envelope", "nope", time.Unix(0, 0).UTC())
	env, err := ParseEnvelope([]byte(f))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if env.Type != TypeError || !strings.Contains(string(env.Payload), "bad_envelope") {
		t.Fatalf("unexpected frame: %s", f)
	}
}
