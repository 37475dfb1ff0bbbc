package kv

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and single-node setups
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source, letting tests advance expiry
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expired must be called with the lock held
func (s *MemoryStore) expired(key string) bool {
	exp, ok := s.expires[key]
	if !ok {
		return false
	}
	if s.now().Before(exp) {
		return false
	}
	delete(s.values, key)
	delete(s.expires, key)
	return true
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", ErrNotFound
	}
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	} else {
		delete(s.expires, key)
	}
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if !s.expired(key) {
		if v, ok := s.values[key]; ok {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, err
			}
			n = parsed
		}
	}
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil
	}
	if _, ok := s.values[key]; ok {
		s.expires[key] = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.values {
		if s.expired(k) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.expires, k)
	}
	return nil
}
