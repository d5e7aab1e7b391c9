package models

import "time"

// CycleOutcome labels how a monitoring cycle ended.
type CycleOutcome string

const (
	CycleCompleted   CycleOutcome = "completed"
	CycleNoChanges   CycleOutcome = "no_changes"
	CycleEmptyBatch  CycleOutcome = "empty"
	CycleDetectError CycleOutcome = "detect_error"
)

// CycleReport summarises one scheduled cycle for logging and health tracking.
type CycleReport struct {
	ID               string        `json:"id"`
	Outcome          CycleOutcome  `json:"outcome"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Configured       int           `json:"configured"`
	Fetched          int           `json:"fetched"`
	FailedServices   []string      `json:"failed_services,omitempty"`
	Changes          []ChangeEvent `json:"changes,omitempty"`
	Narrative        bool          `json:"narrative"`
	NotificationsOK  bool          `json:"notifications_ok"`
	NotifierFailures []string      `json:"notifier_failures,omitempty"`
	Err              string        `json:"error,omitempty"`
}

// Failed reports whether the cycle ended without a usable detection result.
func (r CycleReport) Failed() bool {
	return r.Outcome == CycleEmptyBatch || r.Outcome == CycleDetectError
}

// ManualCycleResult is returned by operator-triggered fetch+detect runs.
type ManualCycleResult struct {
	Success      bool          `json:"success"`
	ReportsCount int           `json:"reports_count"`
	ChangesCount int           `json:"changes_count"`
	Changes      []ChangeEvent `json:"changes"`
	Error        string        `json:"error,omitempty"`
}
