package models

import "time"

// ChangeKind enumerates the classified transitions between two snapshots.
type ChangeKind string

const (
	ChangeNewOutage         ChangeKind = "new_outage"
	ChangeStatusChanged     ChangeKind = "status_changed"
	ChangeSeverityIncreased ChangeKind = "severity_increased"
	ChangeSeverityDecreased ChangeKind = "severity_decreased"
	ChangeReportCountSpike  ChangeKind = "report_count_spike"
	ChangeOutageResolved    ChangeKind = "outage_resolved"
)

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeNewOutage, ChangeStatusChanged, ChangeSeverityIncreased,
		ChangeSeverityDecreased, ChangeReportCountSpike, ChangeOutageResolved:
		return true
	}
	return false
}

// ChangeEvent is a classified transition for one service. Old* fields are nil
// only when no prior snapshot existed.
type ChangeEvent struct {
	ID             string     `json:"id"`
	Kind           ChangeKind `json:"change_type"`
	ServiceID      string     `json:"service_name"`
	ServiceURL     string     `json:"service_url"`
	OldStatus      *Status    `json:"old_status"`
	NewStatus      Status     `json:"new_status"`
	OldReportCount int        `json:"old_report_count"`
	NewReportCount int        `json:"new_report_count"`
	OldSeverity    *Severity  `json:"old_severity"`
	NewSeverity    Severity   `json:"new_severity"`
	OccurredAt     time.Time  `json:"timestamp"`
}

// HasPrior reports whether the event was computed against a previous snapshot.
func (e ChangeEvent) HasPrior() bool { return e.OldStatus != nil }

// ReportDelta returns the change in report count carried by the event.
func (e ChangeEvent) ReportDelta() int { return e.NewReportCount - e.OldReportCount }

// NewChangeEvent builds an event from an optional old snapshot and a new one.
func NewChangeEvent(kind ChangeKind, old *Snapshot, current Snapshot, at time.Time) ChangeEvent {
	event := ChangeEvent{
		Kind:           kind,
		ServiceID:      current.ServiceID,
		ServiceURL:     current.ServiceURL,
		NewStatus:      current.Status,
		NewReportCount: current.ReportCount,
		NewSeverity:    current.Severity,
		OccurredAt:     at,
	}
	if old != nil {
		status, severity := old.Status, old.Severity
		event.OldStatus = &status
		event.OldSeverity = &severity
		event.OldReportCount = old.ReportCount
	}
	return event
}
