package cartsync

import "sync"

// Store holds the reconciled cart projection exposed to consumers. The
// snapshot reference is replaced wholesale on every accepted change, never
// mutated in place.
type Store struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	loading  bool
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the current projection, or nil when none has been loaded.
func (s *Store) Get() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Set installs a fresh copy of the snapshot unconditionally.
func (s *Store) Set(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap.Clone()
}

// Apply replaces the projection only when the incoming snapshot represents
// a change worth observing, and reports whether it did.
func (s *Store) Apply(incoming *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !shouldReplace(s.snapshot, incoming) {
		return false
	}
	s.snapshot = incoming.Clone()
	return true
}

// Clear drops the projection, e.g. when the owning identity changes.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
}

// SetLoading flips the loading flag visible to consumers.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = loading
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// shouldReplace decides whether the incoming snapshot is a change worth
// observing: a missing current projection, a different cart id, a
// different item id set, or a quantity change on a shared item. An empty
// current item list always yields to non-empty incoming data (showing
// available data beats showing an empty state). Two snapshots with
// identical id-to-quantity mappings never trigger a replace, regardless of
// object identity.
func shouldReplace(current, incoming *Snapshot) bool {
	if incoming == nil {
		return false
	}
	if current == nil {
		return true
	}
	if current.ID != incoming.ID {
		return true
	}
	currentQty := make(map[string]int, len(current.Items))
	for _, item := range current.Items {
		currentQty[item.ID] = item.Quantity
	}
	if len(currentQty) != len(incoming.Items) {
		return true
	}
	for _, item := range incoming.Items {
		qty, ok := currentQty[item.ID]
		if !ok || qty != item.Quantity {
			return true
		}
	}
	return false
}
