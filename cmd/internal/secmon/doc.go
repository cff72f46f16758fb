// Package secmon records security events and correlates them into alerts.
//
// Every recorded event lands in a bounded ring buffer keyed by (source, type)
// and in a bounded per-source activity window. Detectors run synchronously
// over that window after each event; an alert is raised at most once per
// (source, detector) until CleanupOldEvents clears the alert set.
//
// State lives behind Store so a single process can use MemoryStore while a
// fleet shares RedisStore.
package secmon
