package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sessiond/cmd/internal/auth/session"
)

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport("Web") {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport("ios") {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}

	h.cfg.WebRefreshCookieEnabled = false
	if h.shouldUseWebCookieTransport("web") {
		t.Fatalf("expected transport disabled by config")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(30 * time.Minute)
	csrf, err := h.setWebSessionCookies(rr, session.Issued{
		SessionID:        "sess-1",
		RefreshToken:     "refresh-token-123",
		RefreshExpiresAt: exp,
		Persistent:       true,
	})
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}
	if len(cookies) != 3 {
		t.Fatalf("expected 3 cookies, got %d", len(cookies))
	}
	if c := cookies["sessiond_refresh"]; c == nil || !c.HttpOnly || c.Value != "refresh-token-123" {
		t.Fatalf("bad refresh cookie: %+v", c)
	}
	if c := cookies["sessiond_sid"]; c == nil || c.Value != "sess-1" {
		t.Fatalf("bad session cookie: %+v", c)
	}
	if c := cookies["sessiond_csrf"]; c == nil || c.HttpOnly || c.Value != csrf {
		t.Fatalf("csrf cookie must be readable and match: %+v", c)
	}
}

func TestSetWebSessionCookies_NonPersistentAreSessionCookies(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}
	rr := httptest.NewRecorder()
	if _, err := h.setWebSessionCookies(rr, session.Issued{SessionID: "s", RefreshToken: "r", RefreshExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	for _, c := range rr.Result().Cookies() {
		if !c.Expires.IsZero() || c.MaxAge != 0 {
			t.Fatalf("cookie %s must not carry a lifetime: expires=%s maxAge=%d", c.Name, c.Expires, c.MaxAge)
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "sessiond_csrf", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}
}

func TestRefreshFromCookies(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	if _, _, ok := h.refreshFromCookies(req); ok {
		t.Fatalf("expected no cookie secret")
	}

	req.AddCookie(&http.Cookie{Name: "sessiond_refresh", Value: "tok-123"})
	req.AddCookie(&http.Cookie{Name: "sessiond_sid", Value: "sess-9"})

	sid, secret, ok := h.refreshFromCookies(req)
	if !ok {
		t.Fatalf("expected cookie secret to be found")
	}
	if sid != "sess-9" || secret != "tok-123" {
		t.Fatalf("unexpected cookie values: sid=%q secret=%q", sid, secret)
	}
}
