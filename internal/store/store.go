// Package store holds the in-memory image collection and notifies
// subscribers after every change.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	// MinQuality and MaxQuality bound the quality a caller may select.
	MinQuality = 10
	MaxQuality = 95
	// DefaultQuality is the initial quality of a new store.
	DefaultQuality = 80
)

var (
	// ErrInvalidQuality is returned for quality values outside [MinQuality, MaxQuality].
	ErrInvalidQuality = errors.New("invalid quality")
	// ErrDuplicateID is returned when a record id is already in the collection.
	ErrDuplicateID = errors.New("duplicate image id")

	errAlreadyProcessing = errors.New("already processing")
)

// State is an immutable snapshot of the collection.
type State struct {
	Images     []ImageRecord `json:"images"`
	Quality    int           `json:"quality"`
	Processing bool          `json:"processing"`
}

// Listener receives the state produced by a mutation.
type Listener func(State)

type subscription struct {
	id     string
	fn     Listener
	active atomic.Bool
}

// Store is the image collection shared by the pipeline and its observers.
// It is safe for concurrent use. Listeners are called synchronously, in
// mutation order, outside the state lock; a listener may call back into the
// store and its own notification is delivered after the current one.
//
// Only one goroutine delivers at a time. A mutation made while another
// goroutine is delivering is queued for that goroutine, so its caller may
// return before the listeners have seen it.
type Store struct {
	mu          sync.Mutex
	images      []ImageRecord
	ids         map[string]struct{}
	quality     int
	processing  bool
	listeners   []*subscription
	pending     []State
	dispatching bool
}

// New returns an empty store at DefaultQuality.
func New() *Store {
	s, _ := NewWithQuality(DefaultQuality)
	return s
}

// NewWithQuality returns an empty store at the given initial quality.
func NewWithQuality(quality int) (*Store, error) {
	if err := ValidateQuality(quality); err != nil {
		return nil, err
	}
	return &Store{
		images:  []ImageRecord{},
		ids:     make(map[string]struct{}),
		quality: quality,
	}, nil
}

// ValidateQuality reports whether quality is accepted by the store.
func ValidateQuality(quality int) error {
	if quality < MinQuality || quality > MaxQuality {
		return fmt.Errorf("%w: %d (valid: %d-%d)", ErrInvalidQuality, quality, MinQuality, MaxQuality)
	}
	return nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Image returns the record with the given id.
func (s *Store) Image(id string) (ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.ID == id {
			return img, true
		}
	}
	return ImageRecord{}, false
}

// Quality returns the quality applied to the next compression.
func (s *Store) Quality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// Processing reports whether a batch or recompression is in flight.
func (s *Store) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// SetQuality stores q after validating it.
func (s *Store) SetQuality(q int) error {
	if err := ValidateQuality(q); err != nil {
		return err
	}
	return s.mutate(func() error {
		s.quality = q
		return nil
	})
}

// SetProcessing sets the advisory processing flag.
func (s *Store) SetProcessing(processing bool) {
	_ = s.mutate(func() error {
		s.processing = processing
		return nil
	})
}

// TryBeginProcessing sets the processing flag if it is clear and reports
// whether it did. The caller that gets true owns the flag and must clear it
// with SetProcessing(false).
func (s *Store) TryBeginProcessing() bool {
	acquired := false
	_ = s.mutate(func() error {
		if s.processing {
			return errAlreadyProcessing
		}
		s.processing = true
		acquired = true
		return nil
	})
	return acquired
}

// AddImage appends record to the collection.
func (s *Store) AddImage(record ImageRecord) error {
	return s.mutate(func() error {
		if _, ok := s.ids[record.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
		}
		s.ids[record.ID] = struct{}{}
		s.images = append(s.images, record)
		return nil
	})
}

// AddImages appends records in order as a single change. Nothing is added if
// any id is already present or repeated.
func (s *Store) AddImages(records []ImageRecord) error {
	return s.mutate(func() error {
		seen := make(map[string]struct{}, len(records))
		for _, r := range records {
			_, exists := s.ids[r.ID]
			_, repeated := seen[r.ID]
			if exists || repeated {
				return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
			}
			seen[r.ID] = struct{}{}
		}
		for id := range seen {
			s.ids[id] = struct{}{}
		}
		s.images = append(s.images, records...)
		return nil
	})
}

// RemoveImage removes the record with the given id. Unknown ids are ignored.
func (s *Store) RemoveImage(id string) {
	_ = s.mutate(func() error {
		if _, ok := s.ids[id]; !ok {
			return nil
		}
		delete(s.ids, id)
		s.images = slices.DeleteFunc(slices.Clone(s.images), func(img ImageRecord) bool {
			return img.ID == id
		})
		return nil
	})
}

// ReplaceAll swaps the whole collection for records.
func (s *Store) ReplaceAll(records []ImageRecord) error {
	return s.mutate(func() error {
		return s.replaceLocked(slices.Clone(records))
	})
}

// UpdateAll replaces the collection with update(images) as a single change.
// update receives a copy of the current records and runs under the store
// lock, so it must not call back into the store.
func (s *Store) UpdateAll(update func([]ImageRecord) []ImageRecord) error {
	return s.mutate(func() error {
		return s.replaceLocked(update(slices.Clone(s.images)))
	})
}

func (s *Store) replaceLocked(records []ImageRecord) error {
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := ids[r.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		ids[r.ID] = struct{}{}
	}
	s.ids = ids
	s.images = records
	if s.images == nil {
		s.images = []ImageRecord{}
	}
	return nil
}

// Clear empties the collection.
func (s *Store) Clear() {
	_ = s.mutate(func() error {
		s.ids = make(map[string]struct{})
		s.images = []ImageRecord{}
		return nil
	})
}

// Subscribe registers listener and returns a function that removes it.
// The returned function is safe to call more than once.
func (s *Store) Subscribe(listener Listener) func() {
	sub := &subscription{id: uuid.NewString(), fn: listener}
	sub.active.Store(true)

	s.mu.Lock()
	s.listeners = append(s.listeners, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(l *subscription) bool {
				return l.id == sub.id
			})
			s.mu.Unlock()
		})
	}
}

// mutate applies change under the lock and, if it succeeds, queues the
// resulting snapshot for delivery. The first caller to find no delivery in
// progress drains the queue.
func (s *Store) mutate(change func() error) error {
	s.mu.Lock()
	if err := change(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.pending = append(s.pending, s.snapshotLocked())
	if s.dispatching {
		s.mu.Unlock()
		return nil
	}

	s.dispatching = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		listeners := s.listeners
		s.mu.Unlock()

		s.deliver(listeners, next)

		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
	return nil
}

// deliver calls every active listener with state. If a listener panics, the
// queued snapshots are dropped so later mutations can dispatch again.
func (s *Store) deliver(listeners []*subscription, state State) {
	completed := false
	defer func() {
		if !completed {
			s.mu.Lock()
			s.dispatching = false
			s.pending = nil
			s.mu.Unlock()
		}
	}()

	for _, l := range listeners {
		if l.active.Load() {
			l.fn(state)
		}
	}
	completed = true
}

func (s *Store) snapshotLocked() State {
	return State{
		Images:     append([]ImageRecord{}, s.images...),
		Quality:    s.quality,
		Processing: s.processing,
	}
}
