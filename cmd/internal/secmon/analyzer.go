package secmon

import (
	"strconv"
	"strings"
	"time"
)

// Detector inspects a source's activity window after each recorded event.
// Detect must not retain window.
type Detector interface {
	Name() string
	Detect(now time.Time, trigger StoredEvent, window []Activity) (Event, bool)
}

// Detector names double as alert dedup keys.
const (
	DetectorBruteForce    = "brute_force"
	DetectorRapidRequests = "rapid_requests"
	DetectorPathScanning  = "path_scanning"
	DetectorDataBreach    = "data_breach"
)

// SensitivePrefixes are the path prefixes watched by the data breach detector.
var SensitivePrefixes = []string{"/admin", "/api/users", "/api/auth", "/api/ratings"}

// DefaultDetectors returns the four stock detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		BruteForceDetector{Window: 15 * time.Minute, Threshold: 5},
		RapidRequestDetector{Horizon: time.Hour, Window: time.Minute, Threshold: 20},
		PathScanDetector{Horizon: time.Hour, Threshold: 10},
		SensitivePathDetector{Prefixes: SensitivePrefixes, Window: 30 * time.Minute, Threshold: 5},
	}
}

func within(now, t time.Time, d time.Duration) bool {
	return now.Sub(t) < d
}

// BruteForceDetector counts AUTH_FAILURE entries. It only runs when the trigger is an AUTH_FAILURE.
type BruteForceDetector struct {
	Window    time.Duration
	Threshold int
}

func (BruteForceDetector) Name() string { return DetectorBruteForce }

func (d BruteForceDetector) Detect(now time.Time, trigger StoredEvent, window []Activity) (Event, bool) {
	if trigger.Type != TypeAuthFailure {
		return Event{}, false
	}
	n := 0
	for _, a := range window {
		if a.Type == TypeAuthFailure && within(now, a.Timestamp, d.Window) {
			n++
		}
	}
	if n < d.Threshold {
		return Event{}, false
	}
	return Event{
		Type:      TypeBruteForceAttempt,
		IPAddress: trigger.IPAddress,
		Severity:  SeverityHigh,
		Details:   BruteForce{FailureCount: n, TimeWindow: humanWindow(d.Window)},
	}, true
}

// RapidRequestDetector counts entries in the last Window out of those within Horizon.
type RapidRequestDetector struct {
	Horizon   time.Duration
	Window    time.Duration
	Threshold int
}

func (RapidRequestDetector) Name() string { return DetectorRapidRequests }

func (d RapidRequestDetector) Detect(now time.Time, trigger StoredEvent, window []Activity) (Event, bool) {
	n := 0
	for _, a := range window {
		if within(now, a.Timestamp, d.Horizon) && within(now, a.Timestamp, d.Window) {
			n++
		}
	}
	if n < d.Threshold {
		return Event{}, false
	}
	return Event{
		Type:      TypeSuspiciousActivity,
		IPAddress: trigger.IPAddress,
		Severity:  SeverityMedium,
		Details: SuspiciousActivity{
			ActivityType: ActivityRapidRequests,
			RequestCount: n,
			TimeWindow:   humanWindow(d.Window),
		},
	}, true
}

// PathScanDetector counts distinct paths within Horizon. An empty path counts once.
type PathScanDetector struct {
	Horizon   time.Duration
	Threshold int
}

func (PathScanDetector) Name() string { return DetectorPathScanning }

func (d PathScanDetector) Detect(now time.Time, trigger StoredEvent, window []Activity) (Event, bool) {
	paths := make(map[string]struct{}, len(window))
	for _, a := range window {
		if within(now, a.Timestamp, d.Horizon) {
			paths[a.Path] = struct{}{}
		}
	}
	if len(paths) < d.Threshold {
		return Event{}, false
	}
	return Event{
		Type:      TypeSuspiciousActivity,
		IPAddress: trigger.IPAddress,
		Severity:  SeverityMedium,
		Details: SuspiciousActivity{
			ActivityType: ActivityPathScanning,
			UniquePaths:  len(paths),
			TimeWindow:   humanWindow(d.Horizon),
		},
	}, true
}

// SensitivePathDetector counts accesses under Prefixes. Entries without a path never match.
type SensitivePathDetector struct {
	Prefixes  []string
	Window    time.Duration
	Threshold int
}

func (SensitivePathDetector) Name() string { return DetectorDataBreach }

func (d SensitivePathDetector) Detect(now time.Time, trigger StoredEvent, window []Activity) (Event, bool) {
	n := 0
	for _, a := range window {
		if a.Path != "" && d.sensitive(a.Path) && within(now, a.Timestamp, d.Window) {
			n++
		}
	}
	if n < d.Threshold {
		return Event{}, false
	}
	return Event{
		Type:      TypeDataBreachAttempt,
		IPAddress: trigger.IPAddress,
		Severity:  SeverityHigh,
		Details:   DataBreach{SensitiveAccessCount: n, TimeWindow: humanWindow(d.Window)},
	}, true
}

func (d SensitivePathDetector) sensitive(path string) bool {
	for _, p := range d.Prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
