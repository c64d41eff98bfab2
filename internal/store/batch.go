package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Batch wraps a KV and defers writes until Commit. Reads go through
// the pending set first, so code that writes a record and re-reads it
// within the same cycle sees its own write. Commit groups the pending
// entries by top-level namespace and flushes each group in one write.
//
// Callers run Commit in a defer so partially-synced cycles still
// persist the records for the operations that did succeed.
type Batch struct {
	kv      KV
	mu      sync.Mutex
	pending map[string][]byte
	deleted map[string]struct{}
}

func NewBatch(kv KV) *Batch {
	return &Batch{
		kv:      kv,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (b *Batch) Get(key string) ([]byte, error) {
	b.mu.Lock()
	if _, gone := b.deleted[key]; gone {
		b.mu.Unlock()
		return nil, ErrNotFound
	}
	if v, ok := b.pending[key]; ok {
		cp := make([]byte, len(v))
		copy(cp, v)
		b.mu.Unlock()
		return cp, nil
	}
	b.mu.Unlock()
	return b.kv.Get(key)
}

func (b *Batch) Set(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.deleted, key)
	cp := make([]byte, len(value))
	copy(cp, value)
	b.pending[key] = cp
	return nil
}

func (b *Batch) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key)
	b.deleted[key] = struct{}{}
	return nil
}

func (b *Batch) List(prefix string) (map[string][]byte, error) {
	out, err := b.kv.List(prefix)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.deleted {
		if strings.HasPrefix(k, prefix) {
			delete(out, k)
		}
	}
	for k, v := range b.pending {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (b *Batch) SetMany(entries map[string][]byte) error {
	for k, v := range entries {
		if err := b.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Commit flushes all pending writes and deletes to the underlying KV,
// then resets the batch. Pending writes are grouped by the segment
// before the first "/" so each namespace lands in a single store call.
func (b *Batch) Commit() error {
	b.mu.Lock()
	pending := b.pending
	deleted := b.deleted
	b.pending = make(map[string][]byte)
	b.deleted = make(map[string]struct{})
	b.mu.Unlock()

	groups := make(map[string]map[string][]byte)
	for k, v := range pending {
		ns := namespaceOf(k)
		if groups[ns] == nil {
			groups[ns] = make(map[string][]byte)
		}
		groups[ns][k] = v
	}
	names := make([]string, 0, len(groups))
	for ns := range groups {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		if err := b.kv.SetMany(groups[ns]); err != nil {
			return err
		}
		log.Debug().Str("namespace", ns).Int("keys", len(groups[ns])).Msg("batch committed")
	}
	for k := range deleted {
		if err := b.kv.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func namespaceOf(key string) string {
	if i := strings.Index(key, "/"); i >= 0 {
		return key[:i]
	}
	return key
}

func (b *Batch) Close() error { return nil }
