// Package cache defines the TTL cache abstraction injected into services.
// Values are stored JSON-encoded so in-process and Redis-backed caches behave alike.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache is a key/value store with per-entry TTL and invalidation hooks.
// A cache is an optimization: callers must fall back to the source of truth on a miss or error.
type Cache interface {
	// Get decodes the value stored under key into dest; found is false on a miss
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)
	// Set stores value under key for ttl
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Invalidate removes keys
	Invalidate(ctx context.Context, keys ...string) error
	// InvalidatePrefix removes every key starting with prefix
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// KeyType namespaces cache keys
type KeyType string

const (
	KeyConstraints    KeyType = "constraints"
	KeyPrice          KeyType = "price"
	KeyPortfolioValue KeyType = "portfolio"
)

// Key generates a cache key for a given type and parameters.
// Parameters are used as given; callers normalize case-insensitive values.
// Format: <type>:<param1>:<param2>:...
func Key(keyType KeyType, params ...string) string {
	return strings.Join(append([]string{string(keyType)}, params...), ":")
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process Cache
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements Cache
func (m *Memory) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, still := m.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set implements Cache; a non-positive ttl never expires
func (m *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry{data: data, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// Invalidate implements Cache
func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

// InvalidatePrefix implements Cache
func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Nop is a Cache that never stores anything
type Nop struct{}

func (Nop) Get(context.Context, string, interface{}) (bool, error)        { return false, nil }
func (Nop) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (Nop) Invalidate(context.Context, ...string) error                   { return nil }
func (Nop) InvalidatePrefix(context.Context, string) error                { return nil }
