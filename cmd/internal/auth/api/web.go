package authapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"sessiond/cmd/internal/auth/session"
	"sessiond/cmd/security/token"
)

const platformWeb = "web"

func (h *Handler) shouldUseWebCookieTransport(platform string) bool {
	return h != nil && h.cfg.WebRefreshCookieEnabled && strings.EqualFold(strings.TrimSpace(platform), platformWeb)
}

// setWebSessionCookies stores the refresh secret and session id in HttpOnly
// cookies plus a readable CSRF cookie. Non-persistent sessions get browser
// session cookies; persistent ones expire with the rolling horizon.
func (h *Handler) setWebSessionCookies(w http.ResponseWriter, issued session.Issued) (string, error) {
	csrf, err := token.NewOpaque(32)
	if err != nil {
		return "", err
	}

	var exp time.Time
	if issued.Persistent {
		exp = issued.RefreshExpiresAt
	}

	h.setCookie(w, h.cfg.RefreshCookieName, issued.RefreshToken, exp, true)
	h.setCookie(w, h.cfg.SessionCookieName, issued.SessionID, exp, true)
	h.setCookie(w, h.cfg.CSRFCookieName, csrf, exp, false)
	return csrf, nil
}

func (h *Handler) clearWebSessionCookies(w http.ResponseWriter) {
	if h == nil || w == nil || !h.cfg.WebRefreshCookieEnabled {
		return
	}
	h.expireCookie(w, h.cfg.RefreshCookieName, true)
	h.expireCookie(w, h.cfg.SessionCookieName, true)
	h.expireCookie(w, h.cfg.CSRFCookieName, false)
}

// refreshFromCookies returns the session id and refresh secret carried in cookies.
func (h *Handler) refreshFromCookies(r *http.Request) (sessionID, secret string, ok bool) {
	if h == nil || r == nil || !h.cfg.WebRefreshCookieEnabled {
		return "", "", false
	}
	secret = cookieValue(r, h.cfg.RefreshCookieName)
	if secret == "" {
		return "", "", false
	}
	return cookieValue(r, h.cfg.SessionCookieName), secret, true
}

func (h *Handler) csrfDoubleSubmitValid(r *http.Request) bool {
	if h == nil || r == nil || !h.cfg.WebRefreshCookieEnabled {
		return false
	}
	cv := cookieValue(r, h.cfg.CSRFCookieName)
	hv := strings.TrimSpace(r.Header.Get(h.cfg.CSRFHeaderName))
	if cv == "" || hv == "" {
		return false
	}
	return secureStringEqual(cv, hv)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, exp time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	if strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
