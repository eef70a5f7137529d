package middleware

import (
	"errors"
	"sync"

	"invoice-printer/internal/config"
)

// ErrInvalidAPIKey signals that the provided API key is not known.
var ErrInvalidAPIKey = errors.New("invalid api key")

// KeyStore holds the static client keys and their per-key rate limits.
type KeyStore struct {
	mu    sync.RWMutex
	cache map[string]int
}

// NewKeyStore loads keys from configuration.
func NewKeyStore(keys []config.APIKey) *KeyStore {
	s := &KeyStore{}
	m := make(map[string]int, len(keys))
	for _, k := range keys {
		m[k.Key] = k.RateLimit
	}
	s.Load(m)
	return s
}

// Load replaces the stored keys.
func (s *KeyStore) Load(m map[string]int) {
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.mu.Lock()
	s.cache = cp
	s.mu.Unlock()
}

// Enabled reports whether any key is configured.
func (s *KeyStore) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache) > 0
}

// Validate reports whether key is known.
func (s *KeyStore) Validate(key string) bool {
	s.mu.RLock()
	_, ok := s.cache[key]
	s.mu.RUnlock()
	return ok
}

// RateLimit returns the limit for key; zero means unlimited.
func (s *KeyStore) RateLimit(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key]
}
