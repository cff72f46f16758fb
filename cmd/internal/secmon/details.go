package secmon

import (
	"encoding/json"
	"fmt"
	"time"
)

// Details is the sealed set of per-type event payloads.
type Details interface {
	isDetails()
}

// AuthFailure describes a rejected credential (AUTH_FAILURE).
type AuthFailure struct {
	Reason string `json:"reason,omitempty"`
}

// RateLimit describes a limiter rejection (RATE_LIMIT_EXCEEDED).
type RateLimit struct {
	Limit      float64 `json:"limit"`
	Burst      int     `json:"burst"`
	Violations int     `json:"violations"`
}

// BruteForce is raised by the brute force detector (BRUTE_FORCE_ATTEMPT).
type BruteForce struct {
	FailureCount int    `json:"failureCount"`
	TimeWindow   string `json:"timeWindow"`
}

// SuspiciousActivity is raised by the rapid request and scanning detectors (SUSPICIOUS_ACTIVITY).
type SuspiciousActivity struct {
	ActivityType string `json:"activityType"`
	RequestCount int    `json:"requestCount,omitempty"`
	UniquePaths  int    `json:"uniquePaths,omitempty"`
	TimeWindow   string `json:"timeWindow"`
}

// DataBreach is raised by the sensitive path detector (DATA_BREACH_ATTEMPT).
type DataBreach struct {
	SensitiveAccessCount int    `json:"sensitiveAccessCount"`
	TimeWindow           string `json:"timeWindow"`
}

// IPBlocked describes a source blocked for repeated limiter violations (IP_BLOCKED).
type IPBlocked struct {
	Violations int       `json:"violations"`
	Until      time.Time `json:"until"`
}

// TokenFailure describes an unusable bearer token (INVALID_TOKEN).
type TokenFailure struct {
	Reason string `json:"reason,omitempty"`
}

// Access describes a denied or malicious request (UNAUTHORIZED_ACCESS, CSRF_VIOLATION,
// SQL_INJECTION_ATTEMPT, XSS_ATTEMPT).
type Access struct {
	Reason string `json:"reason,omitempty"`
}

func (AuthFailure) isDetails()        {}
func (RateLimit) isDetails()          {}
func (BruteForce) isDetails()         {}
func (SuspiciousActivity) isDetails() {}
func (DataBreach) isDetails()         {}
func (IPBlocked) isDetails()          {}
func (TokenFailure) isDetails()       {}
func (Access) isDetails()             {}

// Activity types carried by SuspiciousActivity.
const (
	ActivityRapidRequests = "rapid_requests"
	ActivityPathScanning  = "path_scanning"
)

func detailsAllowed(t EventType, d Details) bool {
	switch d.(type) {
	case AuthFailure:
		return t == TypeAuthFailure
	case RateLimit:
		return t == TypeRateLimitExceeded
	case BruteForce:
		return t == TypeBruteForceAttempt
	case SuspiciousActivity:
		return t == TypeSuspiciousActivity
	case DataBreach:
		return t == TypeDataBreachAttempt
	case IPBlocked:
		return t == TypeIPBlocked
	case TokenFailure:
		return t == TypeInvalidToken
	case Access:
		switch t {
		case TypeUnauthorizedAccess, TypeCSRFViolation, TypeSQLInjectionAttempt, TypeXSSAttempt:
			return true
		}
	}
	return false
}

func decodeDetails(t EventType, raw json.RawMessage) (Details, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		d   Details
		err error
	)
	switch t {
	case TypeAuthFailure:
		d, err = decodeAs[AuthFailure](raw)
	case TypeRateLimitExceeded:
		d, err = decodeAs[RateLimit](raw)
	case TypeBruteForceAttempt:
		d, err = decodeAs[BruteForce](raw)
	case TypeSuspiciousActivity:
		d, err = decodeAs[SuspiciousActivity](raw)
	case TypeDataBreachAttempt:
		d, err = decodeAs[DataBreach](raw)
	case TypeIPBlocked:
		d, err = decodeAs[IPBlocked](raw)
	case TypeInvalidToken:
		d, err = decodeAs[TokenFailure](raw)
	case TypeUnauthorizedAccess, TypeCSRFViolation, TypeSQLInjectionAttempt, TypeXSSAttempt:
		d, err = decodeAs[Access](raw)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: details: %w", ErrInvalidEvent, err)
	}
	return d, nil
}

func decodeAs[T Details](raw json.RawMessage) (Details, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
