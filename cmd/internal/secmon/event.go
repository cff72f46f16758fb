package secmon

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"
)

// EventType is the closed set of recordable security events.
type EventType string

const (
	TypeAuthFailure         EventType = "AUTH_FAILURE"
	TypeRateLimitExceeded   EventType = "RATE_LIMIT_EXCEEDED"
	TypeCSRFViolation       EventType = "CSRF_VIOLATION"
	TypeSuspiciousActivity  EventType = "SUSPICIOUS_ACTIVITY"
	TypeIPBlocked           EventType = "IP_BLOCKED"
	TypeInvalidToken        EventType = "INVALID_TOKEN"
	TypeUnauthorizedAccess  EventType = "UNAUTHORIZED_ACCESS"
	TypeSQLInjectionAttempt EventType = "SQL_INJECTION_ATTEMPT"
	TypeXSSAttempt          EventType = "XSS_ATTEMPT"
	TypeBruteForceAttempt   EventType = "BRUTE_FORCE_ATTEMPT"
	TypeDataBreachAttempt   EventType = "DATA_BREACH_ATTEMPT"
)

// EventTypes lists every known type in a stable order.
var EventTypes = []EventType{
	TypeAuthFailure,
	TypeRateLimitExceeded,
	TypeCSRFViolation,
	TypeSuspiciousActivity,
	TypeIPBlocked,
	TypeInvalidToken,
	TypeUnauthorizedAccess,
	TypeSQLInjectionAttempt,
	TypeXSSAttempt,
	TypeBruteForceAttempt,
	TypeDataBreachAttempt,
}

// Valid reports whether t is one of EventTypes.
func (t EventType) Valid() bool {
	for _, k := range EventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Severity grades an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// UnknownSource is the source key of events recorded without an IP address.
const UnknownSource = "unknown"

const (
	maxUserIDLen    = 128
	maxUserAgentLen = 512
	maxPathLen      = 2048
	maxMethodLen    = 16
)

// Event is a validated, not yet recorded security event. Build it with NewEvent.
type Event struct {
	Type      EventType
	UserID    string
	IPAddress string
	UserAgent string
	Path      string
	Method    string
	Severity  Severity
	Details   Details
}

// Option configures an Event under construction.
type Option func(*Event)

// WithUser sets the acting user id.
func WithUser(userID string) Option {
	return func(e *Event) { e.UserID = userID }
}

// WithIP sets the client IP address. It becomes the event source.
func WithIP(ip string) Option {
	return func(e *Event) { e.IPAddress = ip }
}

// WithUserAgent sets the client user agent.
func WithUserAgent(ua string) Option {
	return func(e *Event) { e.UserAgent = ua }
}

// WithRequest sets the HTTP method and path.
func WithRequest(method, path string) Option {
	return func(e *Event) {
		e.Method = method
		e.Path = path
	}
}

// WithSeverity overrides the default severity (medium).
func WithSeverity(s Severity) Option {
	return func(e *Event) { e.Severity = s }
}

// WithDetails attaches the type specific payload.
func WithDetails(d Details) Option {
	return func(e *Event) { e.Details = d }
}

// NewEvent builds and validates an event of type t.
// Over-long user agents and paths are truncated; everything else that is
// malformed fails with ErrInvalidEvent.
func NewEvent(t EventType, opts ...Option) (Event, error) {
	e := Event{Type: t, Severity: SeverityMedium}
	for _, opt := range opts {
		if opt != nil {
			opt(&e)
		}
	}
	e.normalize()
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Source is the key events are grouped by: the IP address, or UnknownSource.
func (e Event) Source() string {
	return sourceOf(e.IPAddress)
}

func sourceOf(ip string) string {
	if ip == "" {
		return UnknownSource
	}
	return ip
}

func (e *Event) normalize() {
	e.UserID = strings.TrimSpace(e.UserID)
	e.IPAddress = strings.TrimSpace(e.IPAddress)
	e.UserAgent = truncate(strings.TrimSpace(e.UserAgent), maxUserAgentLen)
	e.Path = truncate(strings.TrimSpace(e.Path), maxPathLen)
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Severity == "" {
		e.Severity = SeverityMedium
	}
}

func (e Event) validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, e.Severity)
	}
	if len(e.UserID) > maxUserIDLen {
		return fmt.Errorf("%w: user id too long", ErrInvalidEvent)
	}
	if len(e.Method) > maxMethodLen {
		return fmt.Errorf("%w: method too long", ErrInvalidEvent)
	}
	if e.IPAddress != "" {
		if _, err := netip.ParseAddr(e.IPAddress); err != nil {
			return fmt.Errorf("%w: ip address %q", ErrInvalidEvent, e.IPAddress)
		}
	}
	if e.Details != nil && !detailsAllowed(e.Type, e.Details) {
		return fmt.Errorf("%w: %T details on %s", ErrInvalidEvent, e.Details, e.Type)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// StoredEvent is an Event after recording: it carries an id and timestamp.
type StoredEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	Severity  Severity  `json:"severity"`
	Details   Details   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is the grouping key of the event.
func (s StoredEvent) Source() string { return sourceOf(s.IPAddress) }

// UnmarshalJSON decodes Details into the variant that belongs to Type.
func (s *StoredEvent) UnmarshalJSON(b []byte) error {
	type plain StoredEvent
	var raw struct {
		plain
		Details json.RawMessage `json:"details,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d, err := decodeDetails(raw.Type, raw.Details)
	if err != nil {
		return err
	}
	*s = StoredEvent(raw.plain)
	s.Details = d
	return nil
}

// Activity is one entry of a source's activity window.
type Activity struct {
	Type      EventType `json:"type"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func activityOf(ev StoredEvent) Activity {
	return Activity{Type: ev.Type, Path: ev.Path, Timestamp: ev.Timestamp}
}
