package state

import (
	"fmt"
	"sync"
)

// GroupState is the running fold of one (patient, vaccine) dose history,
// fed in administration-date order.
type GroupState struct {
	Count         int64
	LastDose      int64
	LastSeq       int64
	SequenceError bool
}

// Next folds one more dose into the state. A dose lower than the previous one
// marks the group as out of sequence for good.
func (st GroupState) Next(dose int64, seq int64) GroupState {
	if st.Count > 0 && dose < st.LastDose {
		st.SequenceError = true
	}
	st.Count++
	st.LastDose = dose
	st.LastSeq = seq
	return st
}

// Store abstracts the group state backend.
type Store interface {
	// Apply folds dose into key's state. seq must increase per key; a seq at or
	// below the last applied one is skipped so replays are idempotent.
	Apply(key string, dose int64, seq int64) (applied bool, newState GroupState, err error)
	Get(key string) (GroupState, bool)
	Range(fn func(key string, st GroupState) error) error
	Close() error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]GroupState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]GroupState)}
}

func (s *InMemoryStore) Apply(key string, dose int64, seq int64) (bool, GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.data[key]
	if st.Count > 0 && seq <= st.LastSeq {
		return false, st, nil
	}
	st = st.Next(dose, seq)
	s.data[key] = st
	return true, st, nil
}

func (s *InMemoryStore) Get(key string) (GroupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[key]
	return st, ok
}

func (s *InMemoryStore) Range(fn func(key string, st GroupState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
