package calllog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry records one inbound voice webhook hit.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	CallSid    string    `json:"call_sid"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store is a bounded, concurrency-safe ring of recent call entries. It is
// owned by the HTTP surface; the bridge itself never touches it.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

const defaultCapacity = 100

// New creates a store holding at most capacity entries. Older entries are
// overwritten once the ring is full.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{entries: make([]Entry, capacity)}
}

// Record stores an entry, assigning its ID and timestamp, and returns it.
func (s *Store) Record(entry Entry) Entry {
	entry.ID = uuid.New()
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = entry
	s.next++
	if s.next == len(s.entries) {
		s.next = 0
		s.full = true
	}
	return entry
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all
// stored entries.
func (s *Store) Recent(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.next
	if s.full {
		count = len(s.entries)
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := s.next - i
		if idx < 0 {
			idx += len(s.entries)
		}
		out = append(out, s.entries[idx])
	}
	return out
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.entries)
	}
	return s.next
}
