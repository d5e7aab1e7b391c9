package detector

import (
	"sync/atomic"

	"github.com/miradorstack/outage-watch/internal/models"
)

// view is an immutable, ordered mapping of service key to snapshot. A view is
// never modified after it has been published through StateStore.
type view struct {
	order []string
	byKey map[string]models.Snapshot
}

func newView(capacity int) *view {
	return &view{
		order: make([]string, 0, capacity),
		byKey: make(map[string]models.Snapshot, capacity),
	}
}

// put inserts or overwrites a snapshot. Order follows first appearance.
func (v *view) put(snap models.Snapshot) {
	key := snap.Key()
	if _, exists := v.byKey[key]; !exists {
		v.order = append(v.order, key)
	}
	v.byKey[key] = snap
}

func (v *view) get(key string) (models.Snapshot, bool) {
	snap, ok := v.byKey[key]
	return snap, ok
}

func (v *view) len() int { return len(v.order) }

// StateStore holds the last committed view. Readers load a pointer and never
// block the writer; the writer replaces the whole view in one swap.
type StateStore struct {
	current atomic.Pointer[view]
}

// NewStateStore returns an empty store.
func NewStateStore() *StateStore {
	s := &StateStore{}
	s.current.Store(newView(0))
	return s
}

func (s *StateStore) load() *view { return s.current.Load() }

func (s *StateStore) replace(v *view) { s.current.Store(v) }

// Reset clears the store.
func (s *StateStore) Reset() { s.current.Store(newView(0)) }

// Len returns the number of tracked services.
func (s *StateStore) Len() int { return s.load().len() }

// Get looks up a service case-insensitively.
func (s *StateStore) Get(serviceID string) (models.Snapshot, bool) {
	snap, ok := s.load().get(models.ServiceKey(serviceID))
	if !ok {
		return models.Snapshot{}, false
	}
	return snap.Clone(), true
}

// List returns the tracked snapshots in first-seen order.
func (s *StateStore) List() []models.Snapshot {
	v := s.load()
	out := make([]models.Snapshot, 0, v.len())
	for _, key := range v.order {
		out = append(out, v.byKey[key].Clone())
	}
	return out
}

// Snapshot returns a defensive copy of the mapping keyed by service id.
func (s *StateStore) Snapshot() map[string]models.Snapshot {
	v := s.load()
	out := make(map[string]models.Snapshot, v.len())
	for _, key := range v.order {
		snap := v.byKey[key]
		out[snap.ServiceID] = snap.Clone()
	}
	return out
}
