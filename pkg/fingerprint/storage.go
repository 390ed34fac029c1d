package fingerprint

import "sync"

// Storage：保存最近一次的访客标识，键为 LoadOptions.StorageKey
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

type memoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStorage() Storage {
	return &memoryStorage{m: make(map[string]string)}
}

func (s *memoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *memoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}
