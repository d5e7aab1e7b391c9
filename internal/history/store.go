package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
)

// Query filters the change window. Zero values match everything.
type Query struct {
	Since   time.Duration
	Service string
	Kind    models.ChangeKind
}

// Store keeps a rolling window of notified changes in memory.
type Store struct {
	mu        sync.RWMutex
	events    []models.ChangeEvent
	retention time.Duration
	maxEvents int
	now       func() time.Time
}

// NewStore creates a store that forgets events older than retention.
func NewStore(retention time.Duration, maxEvents int) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &Store{retention: retention, maxEvents: maxEvents, now: time.Now}
}

func (s *Store) Name() string { return "history" }

// Notify records the batch. It never fails.
func (s *Store) Notify(_ context.Context, changes []models.ChangeEvent, _ string) error {
	s.Record(changes...)
	return nil
}

// Record appends events and evicts anything outside the window.
func (s *Store) Record(events ...models.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	s.pruneLocked()
}

// List returns matching events, newest first.
func (s *Store) List(q Query) []models.ChangeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if q.Since > 0 {
		cutoff = s.now().Add(-q.Since)
	}
	service := strings.ToLower(strings.TrimSpace(q.Service))

	out := make([]models.ChangeEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !cutoff.IsZero() && e.OccurredAt.Before(cutoff) {
			continue
		}
		if service != "" && models.ServiceKey(e.ServiceID) != service {
			continue
		}
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// pruneLocked expects s.mu to be held. Events are appended in detection order,
// so everything before the first in-window event is expired.
func (s *Store) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	drop := 0
	for drop < len(s.events) && s.events[drop].OccurredAt.Before(cutoff) {
		drop++
	}
	if excess := len(s.events) - drop - s.maxEvents; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		s.events = append(s.events[:0:0], s.events[drop:]...)
	}
}
