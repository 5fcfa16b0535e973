package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/eugenenazirov/hparams/internal/hparams"
)

var (
	// ErrNoDocument indicates no document has been stored yet.
	ErrNoDocument = errors.New("no configuration document loaded")
	// ErrNilDocument indicates an attempt to store a nil document.
	ErrNilDocument = errors.New("configuration document must not be nil")
)

// Snapshot pairs a stored document with the time it was stored.
type Snapshot struct {
	Document *hparams.Document
	LoadedAt time.Time
}

// Storage provides access to the current configuration document.
type Storage interface {
	Current() (Snapshot, error)
	Replace(doc *hparams.Document) error
}

// MemoryStorage keeps the current document in memory and guards the pointer
// with a RWMutex. Documents themselves are immutable and shared freely.
type MemoryStorage struct {
	mu       sync.RWMutex
	current  Snapshot
	clock    func() time.Time
	hasValue bool
}

// Option configures MemoryStorage.
type Option func(*MemoryStorage)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *MemoryStorage) {
		s.clock = clock
	}
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage(opts ...Option) *MemoryStorage {
	s := &MemoryStorage{
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the stored document and when it was stored.
func (s *MemoryStorage) Current() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasValue {
		return Snapshot{}, ErrNoDocument
	}
	return s.current, nil
}

// Replace swaps in doc as the current document.
func (s *MemoryStorage) Replace(doc *hparams.Document) error {
	if doc == nil {
		return ErrNilDocument
	}

	s.mu.Lock()
	s.current = Snapshot{Document: doc, LoadedAt: s.clock()}
	s.hasValue = true
	s.mu.Unlock()

	return nil
}
