package authapi

import (
	"time"

	"vigil/cmd/internal/auth/session"
	"vigil/cmd/internal/secmon"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionResponse struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type securityStatsResponse struct {
	Message   string       `json:"message"`
	Stats     secmon.Stats `json:"stats"`
	Timestamp time.Time    `json:"timestamp"`
}

type securityEventsResponse struct {
	Message   string               `json:"message"`
	Events    []secmon.StoredEvent `json:"events"`
	Count     int                  `json:"count"`
	Timestamp time.Time            `json:"timestamp"`
}

func toSessionResponses(ss []session.Session) []sessionResponse {
	out := make([]sessionResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, sessionResponse{
			ID:           s.ID,
			UserAgent:    s.UserAgent,
			IPAddress:    s.IPAddress,
			IssuedAt:     s.IssuedAt,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	return out
}
