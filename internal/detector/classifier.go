package detector

import (
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
)

// DefaultReportCountThreshold is the report delta that counts as a spike.
const DefaultReportCountThreshold = 1000

// Classifier compares snapshots and emits typed change events. It has no state
// beyond its threshold and performs no I/O.
type Classifier struct {
	spikeThreshold int
}

// NewClassifier returns a classifier using threshold for report count spikes.
// Non-positive thresholds fall back to DefaultReportCountThreshold.
func NewClassifier(threshold int) *Classifier {
	if threshold <= 0 {
		threshold = DefaultReportCountThreshold
	}
	return &Classifier{spikeThreshold: threshold}
}

// SpikeThreshold returns the configured report count delta.
func (c *Classifier) SpikeThreshold() int { return c.spikeThreshold }

// Compare classifies the transition from old (nil when the service was not
// tracked) to current. Events follow a fixed order: new outage, status,
// severity, report spike.
func (c *Classifier) Compare(old *models.Snapshot, current models.Snapshot, at time.Time) []models.ChangeEvent {
	if old == nil {
		if current.Status != models.StatusUp {
			return []models.ChangeEvent{models.NewChangeEvent(models.ChangeNewOutage, nil, current, at)}
		}
		return nil
	}

	var events []models.ChangeEvent

	if old.Status != current.Status {
		kind := models.ChangeStatusChanged
		if current.Status == models.StatusUp {
			kind = models.ChangeOutageResolved
		}
		events = append(events, models.NewChangeEvent(kind, old, current, at))
	}

	// Severity movement on a recovered service is covered by outage_resolved.
	if current.Status != models.StatusUp {
		switch oldRank, newRank := old.Severity.Rank(), current.Severity.Rank(); {
		case newRank > oldRank:
			events = append(events, models.NewChangeEvent(models.ChangeSeverityIncreased, old, current, at))
		case newRank < oldRank:
			events = append(events, models.NewChangeEvent(models.ChangeSeverityDecreased, old, current, at))
		}
	}

	if current.ReportCount-old.ReportCount >= c.spikeThreshold {
		events = append(events, models.NewChangeEvent(models.ChangeReportCountSpike, old, current, at))
	}

	return events
}

// ResolveDisappeared synthesises a resolution for a tracked service that is
// missing from the current batch. Healthy services disappear silently.
func (c *Classifier) ResolveDisappeared(old models.Snapshot, at time.Time) (models.ChangeEvent, bool) {
	if old.Status == models.StatusUp {
		return models.ChangeEvent{}, false
	}
	resolved := models.Snapshot{
		ServiceID:   old.ServiceID,
		ServiceURL:  old.ServiceURL,
		Status:      models.StatusUp,
		ReportCount: 0,
		Severity:    models.SeverityLow,
		ObservedAt:  at,
	}
	return models.NewChangeEvent(models.ChangeOutageResolved, &old, resolved, at), true
}
