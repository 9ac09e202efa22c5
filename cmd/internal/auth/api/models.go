package authapi

import "time"

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
}

type refreshRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
	AccessJTI    string `json:"access_jti"`
	Platform     string `json:"platform"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
	All       bool   `json:"all"`
}

type sessionResponse struct {
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	AccessToken       string    `json:"access_token"`
	AccessExpiresAt   time.Time `json:"access_expires_at"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt  time.Time `json:"refresh_expires_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`
	Persistent        bool      `json:"persistent"`
	CSRFToken         string    `json:"csrf_token,omitempty"`
}

type sessionEnvelope struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}
