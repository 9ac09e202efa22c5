package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls the HTTP adapter.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// Web clients may carry the refresh secret and session id in cookies
	// instead of the JSON body. Cookie refreshes require a CSRF double submit.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	SessionCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// DefaultConfig returns secure defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20, // 1 MiB
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "sessiond_refresh",
		SessionCookieName:       "sessiond_sid",
		CSRFCookieName:          "sessiond_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
	}
}

// LoadConfigFromEnv loads adapter config from SESSIOND_AUTH_* with safe defaults.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:              envBool("SESSIOND_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:            envInt64("SESSIOND_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		WebRefreshCookieEnabled: envBool("SESSIOND_AUTH_WEB_COOKIE", d.WebRefreshCookieEnabled),
		RefreshCookieName:       envString("SESSIOND_AUTH_REFRESH_COOKIE_NAME", d.RefreshCookieName),
		SessionCookieName:       envString("SESSIOND_AUTH_SESSION_COOKIE_NAME", d.SessionCookieName),
		CSRFCookieName:          envString("SESSIOND_AUTH_CSRF_COOKIE_NAME", d.CSRFCookieName),
		CSRFHeaderName:          envString("SESSIOND_AUTH_CSRF_HEADER_NAME", d.CSRFHeaderName),
		CookiePath:              envString("SESSIOND_AUTH_COOKIE_PATH", d.CookiePath),
		CookieDomain:            envString("SESSIOND_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:            envBool("SESSIOND_AUTH_COOKIE_SECURE", d.CookieSecure),
		CookieSameSite:          parseSameSite(envString("SESSIOND_AUTH_COOKIE_SAMESITE", "strict")),
	}

	// Cookie names must not collide or one cookie would overwrite another.
	if cfg.CSRFCookieName == cfg.RefreshCookieName || cfg.CSRFCookieName == cfg.SessionCookieName {
		cfg.CSRFCookieName = d.CSRFCookieName
		if cfg.CSRFCookieName == cfg.RefreshCookieName || cfg.CSRFCookieName == cfg.SessionCookieName {
			cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
		}
	}
	if cfg.SessionCookieName == cfg.RefreshCookieName {
		cfg.SessionCookieName = cfg.RefreshCookieName + "_sid"
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
