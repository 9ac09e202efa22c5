// Package authapi is the JSON HTTP adapter for login, refresh and logout.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"sessiond/cmd/internal/auth/login"
	"sessiond/cmd/internal/auth/logout"
	"sessiond/cmd/internal/auth/session"
)

// Authenticator runs the login flow.
type Authenticator interface {
	Login(ctx context.Context, c login.Credentials) (session.Issued, error)
}

// Sessions rotates refresh secrets and validates access credentials.
type Sessions interface {
	Rotate(ctx context.Context, req session.RotateRequest) (session.Issued, error)
	ValidateAccess(ctx context.Context, accessToken string) (session.AccessClaims, error)
}

// Logouts ends sessions.
type Logouts interface {
	Logout(ctx context.Context, req logout.Request) (logout.Result, error)
}

// Handler wires HTTP auth endpoints to the session subsystem.
type Handler struct {
	log *slog.Logger
	cfg Config

	login    Authenticator
	sessions Sessions
	logouts  Logouts
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, authn Authenticator, sessions Sessions, logouts Logouts) (*Handler, error) {
	if authn == nil || sessions == nil || logouts == nil {
		return nil, errors.New("authapi: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{log: log, cfg: cfg, login: authn, sessions: sessions, logouts: logouts}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("/auth/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	issued, err := h.login.Login(r.Context(), login.Credentials{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		DeviceID:   strings.TrimSpace(req.DeviceID),
		UserAgent:  strings.TrimSpace(r.UserAgent()),
		IP:         ipString(clientIP(r, h.cfg.TrustProxy)),
	})
	if err != nil {
		switch {
		case errors.Is(err, login.ErrAccountLocked):
			writeError(w, http.StatusLocked, "account_locked", "too many failed attempts; try again later")
		case errors.Is(err, login.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		default:
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.writeSession(w, issued, h.shouldUseWebCookieTransport(req.Platform))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	sessionID := strings.TrimSpace(req.SessionID)
	secret := req.RefreshToken
	fromCookie := false
	if strings.TrimSpace(secret) == "" {
		if sid, s, ok := h.refreshFromCookies(r); ok {
			fromCookie = true
			secret = s
			if sessionID == "" {
				sessionID = sid
			}
		}
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	issued, err := h.sessions.Rotate(r.Context(), session.RotateRequest{
		SessionID:    sessionID,
		RefreshToken: secret,
		OldAccessJTI: strings.TrimSpace(req.AccessJTI),
	})
	if err != nil {
		switch {
		// Deliberately identical: callers cannot tell a bad secret from a vanished user.
		case errors.Is(err, session.ErrInvalidRefreshToken), errors.Is(err, session.ErrRefreshUserNotFound):
			if fromCookie {
				h.clearWebSessionCookies(w)
			}
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
		default:
			h.log.Error("auth.refresh.fail", "session_id", sessionID, "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.writeSession(w, issued, fromCookie || h.shouldUseWebCookieTransport(req.Platform))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, false)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, true)
}

// logout always answers 204 unless the revoke itself failed; an unusable
// credential is a no-op.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request, all bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	if _, err := h.logouts.Logout(r.Context(), logout.Request{
		AccessToken: bearerToken(r),
		SessionID:   strings.TrimSpace(req.SessionID),
		All:         all || req.All,
	}); err != nil {
		h.log.Error("auth.logout.fail", "all", all || req.All, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		Roles:     roles,
		ExpiresAt: claims.ExpiresAt,
	})
}

// ---- helpers ----

func (h *Handler) writeSession(w http.ResponseWriter, issued session.Issued, cookies bool) {
	resp := toSessionResponse(issued)
	if cookies {
		csrf, err := h.setWebSessionCookies(w, issued)
		if err != nil {
			h.log.Error("auth.web_cookie.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		resp.RefreshToken = ""
		resp.CSRFToken = csrf
	}
	writeJSON(w, http.StatusOK, sessionEnvelope{Session: resp})
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		UserID:            issued.UserID,
		SessionID:         issued.SessionID,
		AccessToken:       issued.Access.Token,
		AccessExpiresAt:   issued.Access.ExpiresAt,
		RefreshToken:      issued.RefreshToken,
		RefreshExpiresAt:  issued.RefreshExpiresAt,
		AbsoluteExpiresAt: issued.AbsoluteExpiresAt,
		Persistent:        issued.Persistent,
	}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccess(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
