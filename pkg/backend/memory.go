package backend

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// memoryShards bounds lock contention under the host thread pool's per-key
// parallelism.
const memoryShards = 16

// MemoryEngine is a sharded in-memory map engine keyed by byte slices.
// A PUT of an existing key is an idempotent overwrite.
type MemoryEngine struct {
	shards [memoryShards]memoryShard
	open   atomic.Bool

	putCount atomic.Int64
	getCount atomic.Int64
	delCount atomic.Int64
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryEngine creates a closed in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{}
}

func (e *MemoryEngine) shard(key []byte) *memoryShard {
	h := fnv.New32a()
	h.Write(key)
	return &e.shards[h.Sum32()%memoryShards]
}

// Open allocates the shard maps.
func (e *MemoryEngine) Open() error {
	if !e.open.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}
	for i := range e.shards {
		e.shards[i].mu.Lock()
		e.shards[i].entries = make(map[string][]byte)
		e.shards[i].mu.Unlock()
	}
	return nil
}

// Close drops the shard maps.
func (e *MemoryEngine) Close() error {
	if !e.open.CompareAndSwap(true, false) {
		return ErrNotOpen
	}
	for i := range e.shards {
		e.shards[i].mu.Lock()
		e.shards[i].entries = nil
		e.shards[i].mu.Unlock()
	}
	return nil
}

// Destroy is a no-op beyond Close semantics: the engine has no persisted
// state of its own.
func (e *MemoryEngine) Destroy() error {
	if e.open.Load() {
		return e.Close()
	}
	return nil
}

// Put stores a copy of val under key.
func (e *MemoryEngine) Put(key, val []byte) Code {
	if !e.open.Load() {
		return CodeClosed
	}
	stored := make([]byte, len(val))
	copy(stored, val)

	s := e.shard(key)
	s.mu.Lock()
	s.entries[string(key)] = stored
	s.mu.Unlock()

	e.putCount.Add(1)
	return CodeOK
}

// Get copies the value for key into dst.
func (e *MemoryEngine) Get(key, dst []byte) (int, Code) {
	if !e.open.Load() {
		return 0, CodeClosed
	}
	s := e.shard(key)
	s.mu.RLock()
	val, ok := s.entries[string(key)]
	s.mu.RUnlock()

	e.getCount.Add(1)
	if !ok {
		return 0, CodeNotFound
	}
	copy(dst, val)
	return len(val), CodeOK
}

// Delete removes key.
func (e *MemoryEngine) Delete(key []byte) Code {
	if !e.open.Load() {
		return CodeClosed
	}
	s := e.shard(key)
	s.mu.Lock()
	_, ok := s.entries[string(key)]
	if ok {
		delete(s.entries, string(key))
	}
	s.mu.Unlock()

	e.delCount.Add(1)
	if !ok {
		return CodeNotFound
	}
	return CodeOK
}

// Len returns the number of stored entries.
func (e *MemoryEngine) Len() int {
	if !e.open.Load() {
		return 0
	}
	n := 0
	for i := range e.shards {
		e.shards[i].mu.RLock()
		n += len(e.shards[i].entries)
		e.shards[i].mu.RUnlock()
	}
	return n
}

// MemoryStats reports operation counters.
type MemoryStats struct {
	Puts    int64
	Gets    int64
	Deletes int64
	Entries int
}

// Stats returns a snapshot of the engine counters.
func (e *MemoryEngine) Stats() MemoryStats {
	return MemoryStats{
		Puts:    e.putCount.Load(),
		Gets:    e.getCount.Load(),
		Deletes: e.delCount.Load(),
		Entries: e.Len(),
	}
}
