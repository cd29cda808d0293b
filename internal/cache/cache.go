// Package cache holds the read cache in front of the config store. Entries
// are registered under tags; invalidating a tag drops every entry carrying it.
package cache

import "sync"

// Cache is a tag-invalidated key/value cache. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, tags ...string)
	Invalidate(tags ...string)
	Close() error
}

// Tags and keys used by the config service.
const (
	TagAll    = "config:all"
	KeyAll    = "config:all"
	KeyPublic = "config:public"
)

func ModuleTag(module string) string { return "config:module:" + module }

func KeyTag(module, key string) string { return "config:key:" + module + ":" + key }

func GetKey(module, key string) string { return "config:get:" + module + ":" + key }

func ModuleKey(module string) string { return "config:module:" + module }

// tagIndex maps tags to the cache keys registered under them.
type tagIndex struct {
	byTag map[string]map[string]struct{}
	byKey map[string][]string
}

func newTagIndex() tagIndex {
	return tagIndex{
		byTag: make(map[string]map[string]struct{}),
		byKey: make(map[string][]string),
	}
}

func (t *tagIndex) add(key string, tags []string) {
	t.remove(key)
	t.byKey[key] = append([]string(nil), tags...)
	for _, tag := range tags {
		keys, ok := t.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			t.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

func (t *tagIndex) remove(key string) {
	for _, tag := range t.byKey[key] {
		if keys, ok := t.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(t.byTag, tag)
			}
		}
	}
	delete(t.byKey, key)
}

// take removes and returns every key registered under any of tags.
func (t *tagIndex) take(tags []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tag := range tags {
		for key := range t.byTag[tag] {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	for _, key := range out {
		t.remove(key)
	}
	return out
}

// Memory is an unbounded map cache without expiry. Used by tests and the CLI.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]any
	index   tagIndex
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]any),
		index:   newTagIndex(),
	}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) Set(key string, value any, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	m.index.add(key, tags)
}

func (m *Memory) Invalidate(tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.index.take(tags) {
		delete(m.entries, key)
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
