package detector

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/utils"
)

// Detector runs the classifier over full batches and owns the state store.
// Calls must not overlap; the scheduler's execution slot guarantees that.
type Detector struct {
	logger     *slog.Logger
	classifier *Classifier
	store      *StateStore
	now        func() time.Time
	newID      func() string
}

// NewDetector constructs a detector. A nil store starts empty; a nil
// classifier uses the default spike threshold.
func NewDetector(logger *slog.Logger, classifier *Classifier, store *StateStore) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(DefaultReportCountThreshold)
	}
	if store == nil {
		store = NewStateStore()
	}
	return &Detector{
		logger:     logger.With(slog.String("component", "detector")),
		classifier: classifier,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// DetectChanges compares current against the committed state, treating every
// tracked service absent from current as disappeared, and commits current as
// the new baseline.
func (d *Detector) DetectChanges(current []models.Snapshot) ([]models.ChangeEvent, error) {
	return d.Detect(current, nil)
}

// Detect is DetectChanges with a set of services whose fetch failed this cycle.
// Those keep their previous snapshot and produce no events. Nothing is
// committed when any snapshot in current is invalid.
func (d *Detector) Detect(current []models.Snapshot, unobserved []string) ([]models.ChangeEvent, error) {
	for _, snap := range current {
		if err := snap.Validate(); err != nil {
			return nil, utils.NewAppError("detector.detect", "rejecting batch", err)
		}
	}

	prior := d.store.load()
	next := newView(len(current))
	for _, snap := range current {
		next.put(snap.Clone())
	}

	skip := make(map[string]struct{}, len(unobserved))
	for _, id := range unobserved {
		skip[models.ServiceKey(id)] = struct{}{}
	}

	at := d.now()
	var events []models.ChangeEvent

	for _, key := range next.order {
		snap := next.byKey[key]
		var old *models.Snapshot
		if prev, ok := prior.get(key); ok {
			old = &prev
		}
		events = append(events, d.classifier.Compare(old, snap, at)...)
	}

	carried := 0
	for _, key := range prior.order {
		if _, ok := next.get(key); ok {
			continue
		}
		prev := prior.byKey[key]
		if _, ok := skip[key]; ok {
			next.put(prev)
			carried++
			continue
		}
		if event, ok := d.classifier.ResolveDisappeared(prev, at); ok {
			events = append(events, event)
		}
	}

	for i := range events {
		events[i].ID = d.newID()
		d.logger.Info("change detected",
			slog.String("service", events[i].ServiceID),
			slog.String("kind", string(events[i].Kind)),
			slog.String("new_status", string(events[i].NewStatus)),
			slog.Int("reports", events[i].NewReportCount),
		)
	}

	d.store.replace(next)
	d.logger.Debug("detection committed",
		slog.Int("current", len(current)),
		slog.Int("previous", prior.len()),
		slog.Int("carried", carried),
		slog.Int("changes", len(events)),
	)
	return events, nil
}

// ResetState clears the committed baseline.
func (d *Detector) ResetState() {
	d.store.Reset()
	d.logger.Info("detector state reset")
}

// State returns a copy of the committed mapping.
func (d *Detector) State() map[string]models.Snapshot {
	return d.store.Snapshot()
}

// Store exposes the state store for read-only query surfaces.
func (d *Detector) Store() *StateStore { return d.store }
