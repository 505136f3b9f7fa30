// Package kv implements the in-memory key-value store shared by client
// connections and replication traffic.
package kv

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Store is a thread-safe in-memory key-value map.
type Store struct {
	mu     sync.RWMutex
	data   map[string]string
	tracer oteltrace.Tracer
}

// NewStore creates an empty KV store.
func NewStore(tracer oteltrace.Tracer) *Store {
	return &Store{
		data:   make(map[string]string),
		tracer: tracer,
	}
}

// Get returns the current value for key, if present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	return val, ok
}

// Put inserts or replaces the value for key.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	return true
}

// Keys returns the keys present at call time in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of the current contents.
func (s *Store) Snapshot(ctx context.Context) map[string]string {
	_, span := s.tracer.Start(ctx, "kv.store.Snapshot")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := make(map[string]string, len(s.data))
	for k, v := range s.data {
		cp[k] = v
	}
	span.SetAttributes(attribute.Int("kv.store.items", len(cp)))
	return cp
}

// Restore replaces the current contents with data. A nil map empties the store.
func (s *Store) Restore(ctx context.Context, data map[string]string) {
	_, span := s.tracer.Start(ctx, "kv.store.Restore", oteltrace.WithAttributes(attribute.Int("kv.store.items", len(data))))
	defer span.End()

	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}

	s.mu.Lock()
	s.data = cp
	s.mu.Unlock()
}
