// Package memory holds map-backed stores for running without a database and for tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/flexevent/internal/core/attribution"
	"github.com/aevon-lab/flexevent/internal/core/storage"
)

type attributionKey struct {
	sourceID  string
	triggerID string
	scope     attribution.Scope
}

// Store implements storage.AttributionStore and storage.SourceStatusStore.
type Store struct {
	mu           sync.RWMutex
	attributions []attribution.Attribution
	keys         map[attributionKey]struct{}
	status       map[string]string
}

var (
	_ storage.AttributionStore  = (*Store)(nil)
	_ storage.SourceStatusStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		keys:   make(map[attributionKey]struct{}),
		status: make(map[string]string),
	}
}

func (s *Store) InsertAttribution(_ context.Context, a attribution.Attribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attributionKey{sourceID: a.SourceID(), triggerID: a.TriggerID(), scope: a.Scope()}
	if _, exists := s.keys[key]; exists {
		return storage.ErrDuplicate
	}
	s.keys[key] = struct{}{}
	s.attributions = append(s.attributions, a)
	return nil
}

func (s *Store) ListAttributionsBySource(_ context.Context, sourceID string) ([]attribution.Attribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []attribution.Attribution
	for _, a := range s.attributions {
		if a.SourceID() == sourceID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggerTime().Before(out[j].TriggerTime()) })
	return out, nil
}

func (s *Store) CountAttributions(
	_ context.Context,
	sourceSite string,
	destinationSite string,
	enrollmentID string,
	since time.Time,
	until time.Time,
) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.attributions {
		if a.SourceSite() != sourceSite || a.DestinationSite() != destinationSite || a.EnrollmentID() != enrollmentID {
			continue
		}
		if a.TriggerTime().Before(since) || !a.TriggerTime().Before(until) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) UpdateAttributionStatus(_ context.Context, sourceID, statusJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[sourceID] = statusJSON
	return nil
}

func (s *Store) GetAttributionStatus(_ context.Context, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.status[sourceID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return status, nil
}

// Len is the number of stored attribution rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attributions)
}
