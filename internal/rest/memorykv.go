package rest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// MemoryKeyValue is an in-memory nats.KeyValue used when no NATS connection
// is available and in handler tests. Watch and history operations are not
// supported.
type MemoryKeyValue struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
	rev  uint64
}

// NewMemoryKeyValue creates an empty in-memory bucket.
func NewMemoryKeyValue(name string) *MemoryKeyValue {
	return &MemoryKeyValue{name: name, data: make(map[string][]byte)}
}

func (m *MemoryKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	return &memoryEntry{bucket: m.name, key: key, value: val, revision: m.rev}, nil
}

func (m *MemoryKeyValue) GetRevision(key string, revision uint64) (nats.KeyValueEntry, error) {
	// Revisions are not tracked; serve the current value
	return m.Get(key)
}

func (m *MemoryKeyValue) Put(key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev++
	m.data[key] = value
	return m.rev, nil
}

func (m *MemoryKeyValue) PutString(key string, value string) (uint64, error) {
	return m.Put(key, []byte(value))
}

func (m *MemoryKeyValue) Create(key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return 0, nats.ErrKeyExists
	}
	m.rev++
	m.data[key] = value
	return m.rev, nil
}

func (m *MemoryKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return 0, nats.ErrKeyNotFound
	}
	m.rev++
	m.data[key] = value
	return m.rev, nil
}

func (m *MemoryKeyValue) Delete(key string, opts ...nats.DeleteOpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return nats.ErrKeyNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryKeyValue) Purge(key string, opts ...nats.DeleteOpt) error {
	return m.Delete(key)
}

func (m *MemoryKeyValue) Keys(opts ...nats.WatchOpt) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKeyValue) ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error) {
	return nil, fmt.Errorf("list keys not supported by in-memory store")
}

func (m *MemoryKeyValue) Watch(keys string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch not supported by in-memory store")
}

func (m *MemoryKeyValue) WatchAll(opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch not supported by in-memory store")
}

func (m *MemoryKeyValue) WatchFiltered(keys []string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return nil, fmt.Errorf("watch not supported by in-memory store")
}

func (m *MemoryKeyValue) History(key string, opts ...nats.WatchOpt) ([]nats.KeyValueEntry, error) {
	return nil, fmt.Errorf("history not supported by in-memory store")
}

func (m *MemoryKeyValue) Bucket() string {
	return m.name
}

func (m *MemoryKeyValue) PurgeDeletes(opts ...nats.PurgeOpt) error {
	return nil
}

func (m *MemoryKeyValue) Status() (nats.KeyValueStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &memoryStatus{bucket: m.name, values: uint64(len(m.data))}, nil
}

type memoryEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
}

func (e *memoryEntry) Bucket() string { return e.bucket }
func (e *memoryEntry) Key() string { return e.key }
func (e *memoryEntry) Value() []byte { return e.value }
func (e *memoryEntry) Revision() uint64 { return e.revision }
func (e *memoryEntry) Created() time.Time { return time.Time{} }
func (e *memoryEntry) Delta() uint64 { return 0 }
func (e *memoryEntry) Operation() nats.KeyValueOp { return nats.KeyValuePut }

type memoryStatus struct {
	bucket string
	values uint64
}

func (s *memoryStatus) Bucket() string { return s.bucket }
func (s *memoryStatus) Values() uint64 { return s.values }
func (s *memoryStatus) History() int64 { return 1 }
func (s *memoryStatus) TTL() time.Duration { return 0 }
func (s *memoryStatus) BackingStore() string { return "Memory" }
func (s *memoryStatus) Bytes() uint64 { return 0 }
func (s *memoryStatus) IsCompressed() bool { return false }
