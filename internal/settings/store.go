package settings

import "sync"

// Store owns the single mutable EngineSettings instance.
type Store struct {
	mu      sync.RWMutex
	cur     EngineSettings
	version uint64
}

// NewStore normalizes initial and installs it as version 1.
func NewStore(initial EngineSettings) (*Store, error) {
	initial = initial.Clone()
	initial.Normalize()
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{cur: initial, version: 1}, nil
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() EngineSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Version increments on every successful update.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update applies fn to a copy and commits it if the result validates.
func (s *Store) Update(fn func(*EngineSettings)) (EngineSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.Clone()
	fn(&next)
	next.Normalize()
	if err := next.Validate(); err != nil {
		return s.cur.Clone(), err
	}
	s.cur = next
	s.version++
	return next.Clone(), nil
}

// Replace swaps in a whole new settings document.
func (s *Store) Replace(next EngineSettings) (EngineSettings, error) {
	return s.Update(func(cur *EngineSettings) { *cur = next.Clone() })
}
