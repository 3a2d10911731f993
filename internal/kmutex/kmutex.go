package kmutex

import "sync"

// KMutex serializes work per string key. Two operations holding different
// keys proceed in parallel; the same key serializes. Entries are dropped
// once the last holder releases, so the map stays bounded by in-flight keys.
type KMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty keyed mutex.
func New() *KMutex {
	return &KMutex{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking while another holder has it.
func (k *KMutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key.
func (k *KMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("kmutex: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
