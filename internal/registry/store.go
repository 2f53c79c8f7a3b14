package registry

import (
	"sync"

	"github.com/ASISBusiness/workers-sdk/internal/observability"
)

// Store holds the worker registry for the process that currently owns the
// registry server. It is never shared across processes; other processes
// only ever see full JSON snapshots of it.
type Store struct {
	mutex   sync.Mutex
	workers WorkerRegistry
}

func NewStore() *Store {
	return &Store{workers: make(WorkerRegistry)}
}

// Set inserts or overwrites the definition under name. Last write wins.
func (s *Store) Set(name string, def WorkerDefinition) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workers[name] = def
	observability.RecordWorkerCount(len(s.workers))
}

// Remove deletes the entry under name. Removing an absent name is not an
// error.
func (s *Store) Remove(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.workers, name)
	observability.RecordWorkerCount(len(s.workers))
}

// Clear empties the registry.
func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workers = make(WorkerRegistry)
	observability.RecordWorkerCount(0)
}

// Replace swaps the entire registry for reg. Used when receiving a
// handoff: state is replaced wholesale, never merged.
func (s *Store) Replace(reg WorkerRegistry) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workers = make(WorkerRegistry, len(reg))
	for name, def := range reg {
		s.workers[name] = def
	}
	observability.RecordWorkerCount(len(s.workers))
}

// Snapshot returns a copy of the current registry.
func (s *Store) Snapshot() WorkerRegistry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	snapshot := make(WorkerRegistry, len(s.workers))
	for name, def := range s.workers {
		snapshot[name] = def
	}
	return snapshot
}
