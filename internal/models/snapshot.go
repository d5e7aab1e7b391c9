package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status captures the observed availability of a service.
type Status string

const (
	StatusUp     Status = "up"
	StatusIssues Status = "issues"
	StatusDown   Status = "down"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUp, StatusIssues, StatusDown:
		return true
	}
	return false
}

// ParseStatus converts free-form input into a Status.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return s, nil
}

// Severity captures impact levels. LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity, or -1 when unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// ParseSeverity converts free-form input into a Severity.
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return s, nil
}

const (
	// MaxAffectedRegions bounds the region list carried by a snapshot.
	MaxAffectedRegions = 10
	// MaxDescriptionLength bounds the description in runes.
	MaxDescriptionLength = 500
)

// ErrInvalidSnapshot is returned for snapshots that violate the model invariants.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is one service's observed state at a point in time. Treat it as a value:
// NewSnapshot copies its slices so later caller mutations are not observed.
type Snapshot struct {
	ServiceID       string    `json:"service_id"`
	ServiceURL      string    `json:"service_url"`
	Status          Status    `json:"status"`
	ReportCount     int       `json:"report_count"`
	Severity        Severity  `json:"severity"`
	AffectedRegions []string  `json:"affected_regions"`
	Description     string    `json:"description,omitempty"`
	ObservedAt      time.Time `json:"observed_at"`
}

// NewSnapshot validates and normalises s. Invalid input is rejected, never clamped.
func NewSnapshot(s Snapshot) (Snapshot, error) {
	s.ServiceID = strings.TrimSpace(s.ServiceID)
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}

	regions := make([]string, 0, len(s.AffectedRegions))
	for _, r := range s.AffectedRegions {
		if len(regions) == MaxAffectedRegions {
			break
		}
		regions = append(regions, r)
	}
	s.AffectedRegions = regions

	if utf8.RuneCountInString(s.Description) > MaxDescriptionLength {
		s.Description = string([]rune(s.Description)[:MaxDescriptionLength])
	}
	if s.ObservedAt.IsZero() {
		s.ObservedAt = time.Now().UTC()
	}
	return s, nil
}

// Validate checks the snapshot invariants.
func (s Snapshot) Validate() error {
	switch {
	case strings.TrimSpace(s.ServiceID) == "":
		return fmt.Errorf("%w: service id is required", ErrInvalidSnapshot)
	case s.ReportCount < 0:
		return fmt.Errorf("%w: %s: negative report count %d", ErrInvalidSnapshot, s.ServiceID, s.ReportCount)
	case !s.Status.Valid():
		return fmt.Errorf("%w: %s: unknown status %q", ErrInvalidSnapshot, s.ServiceID, s.Status)
	case !s.Severity.Valid():
		return fmt.Errorf("%w: %s: unknown severity %q", ErrInvalidSnapshot, s.ServiceID, s.Severity)
	}
	return nil
}

// Key returns the case-insensitive lookup key for the snapshot's service.
func (s Snapshot) Key() string { return ServiceKey(s.ServiceID) }

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	s.AffectedRegions = append([]string(nil), s.AffectedRegions...)
	return s
}

// ServiceKey normalises a service identifier for lookups.
func ServiceKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// SeverityForReports maps a report count onto a severity level.
func SeverityForReports(reportCount int) Severity {
	switch {
	case reportCount > 10000:
		return SeverityCritical
	case reportCount > 5000:
		return SeverityHigh
	case reportCount > 1000:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
