package ledger

import (
	"context"
	"sync"
	"time"
)

type sendBucket struct {
	count       int
	windowStart time.Time
}

// MemoryStore is the default in-process store. Records do not survive a
// restart, which matches the ephemeral nature of OTP state.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	buckets map[string]sendBucket
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		buckets: make(map[string]sendBucket),
		now:     time.Now,
	}
}

// WithClock overrides the store's time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) GetRecord(_ context.Context, email string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[email]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (s *MemoryStore) PutRecord(_ context.Context, email string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[email] = *rec
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, email)
	return nil
}

// IncrSendBucket resets the bucket when its window has lapsed, then counts
// the send. Reset and increment happen under one lock so concurrent sends
// for the same email cannot bypass the cap.
func (s *MemoryStore) IncrSendBucket(_ context.Context, email string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[email]
	if !ok || now.Sub(b.windowStart) > window {
		b = sendBucket{windowStart: now}
	}
	b.count++
	s.buckets[email] = b
	return b.count, nil
}
