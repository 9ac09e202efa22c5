package authapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sessiond/cmd/internal/auth/login"
	"sessiond/cmd/internal/auth/logout"
	"sessiond/cmd/internal/auth/session"
)

var issuedFixture = session.Issued{
	UserID:            "user-1",
	SessionID:         "sess-1",
	Access:            session.AccessCredential{Token: "access-1", JTI: "jti-1", ExpiresAt: time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)},
	RefreshToken:      "refresh-1",
	RefreshExpiresAt:  time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	AbsoluteExpiresAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	Persistent:        true,
}

type fakeLogin struct {
	err  error
	got  login.Credentials
	hits int
}

func (f *fakeLogin) Login(_ context.Context, c login.Credentials) (session.Issued, error) {
	f.hits++
	f.got = c
	if f.err != nil {
		return session.Issued{}, f.err
	}
	return issuedFixture, nil
}

type fakeSessions struct {
	rotateErr error
	got       session.RotateRequest
	claims    map[string]session.AccessClaims
}

func (f *fakeSessions) Rotate(_ context.Context, req session.RotateRequest) (session.Issued, error) {
	f.got = req
	if f.rotateErr != nil {
		return session.Issued{}, f.rotateErr
	}
	return issuedFixture, nil
}

func (f *fakeSessions) ValidateAccess(_ context.Context, token string) (session.AccessClaims, error) {
	c, ok := f.claims[token]
	if !ok {
		return session.AccessClaims{}, session.ErrInvalidToken
	}
	return c, nil
}

type fakeLogouts struct {
	err  error
	reqs []logout.Request
}

func (f *fakeLogouts) Logout(_ context.Context, req logout.Request) (logout.Result, error) {
	f.reqs = append(f.reqs, req)
	return logout.Result{}, f.err
}

type apiFixture struct {
	login    *fakeLogin
	sessions *fakeSessions
	logouts  *fakeLogouts
	mux      *http.ServeMux
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		login: &fakeLogin{},
		sessions: &fakeSessions{claims: map[string]session.AccessClaims{
			"good": {Subject: session.Subject{UserID: "user-1", SessionID: "sess-1", Roles: []string{"member"}}},
		}},
		logouts: &fakeLogouts{},
		mux:     http.NewServeMux(),
	}
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), DefaultConfig(), f.login, f.sessions, f.logouts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	h.Register(f.mux)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var env sessionEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v body=%s", err, rr.Body.String())
	}
	return env.Session
}

func TestLogin_Success(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"pw","remember_me":true,"device_id":"dev-1"}`, func(r *http.Request) {
		r.Header.Set("User-Agent", "agent/1.0")
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	s := decodeSession(t, rr)
	if s.AccessToken != "access-1" || s.RefreshToken != "refresh-1" || !s.Persistent {
		t.Fatalf("unexpected session: %+v", s)
	}
	if f.login.got.DeviceID != "dev-1" || !f.login.got.RememberMe || f.login.got.UserAgent != "agent/1.0" || f.login.got.IP == "" {
		t.Fatalf("credentials not forwarded: %+v", f.login.got)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("non-web login must not set cookies")
	}
}

func TestLogin_WebUsesCookies(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"pw","platform":"web"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	s := decodeSession(t, rr)
	if s.RefreshToken != "" || s.CSRFToken == "" {
		t.Fatalf("web transport must move the secret into cookies: %+v", s)
	}
	if n := len(rr.Result().Cookies()); n != 3 {
		t.Fatalf("expected 3 cookies, got %d", n)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
		code string
	}{
		{name: "locked", err: login.ErrAccountLocked, want: http.StatusLocked, code: "account_locked"},
		{name: "invalid", err: login.ErrInvalidCredentials, want: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "internal", err: io.ErrUnexpectedEOF, want: http.StatusInternalServerError, code: "server_error"},
		{name: "missing password", body: `{"email":"a@example.com"}`, want: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", body: `{"email":"a@example.com","password":"x","admin":true}`, want: http.StatusBadRequest, code: "invalid_json"},
		{name: "trailing object", body: `{"email":"a@example.com","password":"x"}{}`, want: http.StatusBadRequest, code: "invalid_json"},
		{name: "oversized body", body: `{"email":"a@example.com","password":"` + strings.Repeat("x", 1<<20) + `"}`, want: http.StatusRequestEntityTooLarge, code: "body_too_large"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.login.err = tc.err
			body := tc.body
			if body == "" {
				body = `{"email":"a@example.com","password":"pw"}`
			}
			rr := f.do(t, http.MethodPost, "/auth/login", body, nil)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
			var er errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if er.Error.Code != tc.code {
				t.Fatalf("code=%q want %q", er.Error.Code, tc.code)
			}
		})
	}
}

func TestRefresh_Success(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/refresh", `{"session_id":"sess-1","refresh_token":"refresh-0","access_jti":"jti-0"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	want := session.RotateRequest{SessionID: "sess-1", RefreshToken: "refresh-0", OldAccessJTI: "jti-0"}
	if f.sessions.got != want {
		t.Fatalf("rotate request=%+v want %+v", f.sessions.got, want)
	}
	if s := decodeSession(t, rr); s.RefreshToken != "refresh-1" {
		t.Fatalf("expected new secret in body: %+v", s)
	}
}

func TestRefresh_PassesSecretVerbatim(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/refresh", `{"session_id":"sess-1","refresh_token":" refresh-0\n"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := f.sessions.got.RefreshToken; got != " refresh-0\n" {
		t.Fatalf("secret=%q, want it untouched", got)
	}
}

func TestRefresh_AuthorizationFailuresAreIndistinguishable(t *testing.T) {
	var bodies []string
	for _, err := range []error{session.ErrInvalidRefreshToken, session.ErrRefreshUserNotFound} {
		f := newAPIFixture(t)
		f.sessions.rotateErr = err
		rr := f.do(t, http.MethodPost, "/auth/refresh", `{"session_id":"s","refresh_token":"r"}`, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%v: status=%d", err, rr.Code)
		}
		bodies = append(bodies, rr.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("responses differ:\n%s\n%s", bodies[0], bodies[1])
	}
}

func TestRefresh_ConflictIsInternal(t *testing.T) {
	f := newAPIFixture(t)
	f.sessions.rotateErr = session.ErrRotationConflict

	rr := f.do(t, http.MethodPost, "/auth/refresh", `{"session_id":"s","refresh_token":"r"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRefresh_CookieTransportRequiresCSRF(t *testing.T) {
	f := newAPIFixture(t)
	withCookies := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "sessiond_refresh", Value: "refresh-0"})
		r.AddCookie(&http.Cookie{Name: "sessiond_sid", Value: "sess-1"})
		r.AddCookie(&http.Cookie{Name: "sessiond_csrf", Value: "csrf-1"})
	}

	rr := f.do(t, http.MethodPost, "/auth/refresh", "", withCookies)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/auth/refresh", "", func(r *http.Request) {
		withCookies(r)
		r.Header.Set("X-CSRF-Token", "csrf-1")
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if f.sessions.got.SessionID != "sess-1" || f.sessions.got.RefreshToken != "refresh-0" {
		t.Fatalf("cookie values not forwarded: %+v", f.sessions.got)
	}
	if s := decodeSession(t, rr); s.RefreshToken != "" || s.CSRFToken == "" {
		t.Fatalf("cookie refresh must answer with cookies: %+v", s)
	}
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t)
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }

	rr := f.do(t, http.MethodPost, "/auth/logout", "", bearer)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = f.do(t, http.MethodPost, "/auth/logout_all", "", bearer)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = f.do(t, http.MethodPost, "/auth/logout", `{"session_id":"sess-2","all":false}`, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout without credential must still answer 204, got %d", rr.Code)
	}

	want := []logout.Request{
		{AccessToken: "good"},
		{AccessToken: "good", All: true},
		{SessionID: "sess-2"},
	}
	if len(f.logouts.reqs) != len(want) {
		t.Fatalf("requests=%+v", f.logouts.reqs)
	}
	for i := range want {
		if f.logouts.reqs[i] != want[i] {
			t.Fatalf("request %d=%+v want %+v", i, f.logouts.reqs[i], want[i])
		}
	}
}

func TestLogout_StoreFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.logouts.err = io.ErrClosedPipe

	rr := f.do(t, http.MethodPost, "/auth/logout", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestMe(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") })
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var me meResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.UserID != "user-1" || me.SessionID != "sess-1" || len(me.Roles) != 1 {
		t.Fatalf("unexpected me: %+v", me)
	}

	for _, auth := range []string{"", "Bearer nope", "Basic good"} {
		rr = f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) {
			if auth != "" {
				r.Header.Set("Authorization", auth)
			}
		})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("auth=%q status=%d", auth, rr.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/auth/login", "/auth/refresh", "/auth/logout", "/auth/logout_all"} {
		if rr := f.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status=%d", path, rr.Code)
		}
	}
	if rr := f.do(t, http.MethodPost, "/auth/me", "", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("/auth/me: status=%d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := ipString(clientIP(r, false)); got != "10.0.0.5" {
		t.Fatalf("untrusted proxy: got %q", got)
	}
	if got := ipString(clientIP(r, true)); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %q", got)
	}
}
