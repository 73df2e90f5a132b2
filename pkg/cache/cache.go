package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vkuznet/gordo-client/internal/metrics"
)

// ErrCacheMiss is returned by Get when key is not present or expired
var ErrCacheMiss = errors.New("cache miss")

// Cache stores serialized metadata of served models. Entries are immutable
// for a given project revision, therefore no invalidation API is needed
// besides TTL and Delete.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New returns cache for given URI. Empty URI or memory:// gives in-memory
// cache, redis:// and rediss:// URIs give Redis backed cache.
func New(uri string, defaultTTL time.Duration) (Cache, error) {
	switch {
	case uri == "" || strings.HasPrefix(uri, "memory://"):
		return NewMemory(defaultTTL), nil
	case strings.HasPrefix(uri, "redis://"), strings.HasPrefix(uri, "rediss://"):
		return NewRedis(uri, defaultTTL)
	}
	return nil, fmt.Errorf("unsupported cache uri %q", uri)
}

// Key builds cache key for machine metadata of given project revision
func Key(project, revision, machine string) string {
	return fmt.Sprintf("gordo:%s:%s:%s", project, revision, machine)
}

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is in-memory Cache implementation
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates in-memory cache, zero ttl keeps entries forever
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     defaultTTL,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		metrics.RecordCacheOperation("get", "miss")
		return nil, ErrCacheMiss
	}
	metrics.RecordCacheOperation("get", "hit")
	return e.data, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	e := entry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	metrics.RecordCacheOperation("set", "success")
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
