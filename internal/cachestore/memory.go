package cachestore

import (
	"sync"
)

// MemoryStore is an in-process Store used in tests and as a fallback when no
// persistent path is configured. Same semantics as LevelStore, minus
// durability.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Open(name string) (Namespace, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.namespaces[name]; !ok {
		s.namespaces[name] = make(map[string]Entry)
	}
	s.mu.Unlock()
	return &memoryNamespace{store: s, name: name}, nil
}

func (s *MemoryStore) Namespaces() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	return names, nil
}

func (s *MemoryStore) Drop(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; !ok {
		return false, nil
	}
	delete(s.namespaces, name)
	return true, nil
}

func (s *MemoryStore) Close() error { return nil }

type memoryNamespace struct {
	store *MemoryStore
	name  string
}

func (n *memoryNamespace) Name() string { return n.name }

func (n *memoryNamespace) Match(identity string) (Entry, bool) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	entries, ok := n.store.namespaces[n.name]
	if !ok {
		return Entry{}, false
	}
	ent, ok := entries[identity]
	return ent, ok
}

func (n *memoryNamespace) Put(identity string, ent Entry) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	entries, ok := n.store.namespaces[n.name]
	if !ok {
		// Namespace was dropped after this handle was opened; recreate,
		// matching LevelStore behavior where Put re-materializes keys.
		entries = make(map[string]Entry)
		n.store.namespaces[n.name] = entries
	}
	entries[identity] = ent
	return nil
}

func (n *memoryNamespace) Delete(identity string) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	if entries, ok := n.store.namespaces[n.name]; ok {
		delete(entries, identity)
	}
	return nil
}

func (n *memoryNamespace) Keys() ([]string, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	entries, ok := n.store.namespaces[n.name]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}
