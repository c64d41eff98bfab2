// Package store provides the persistent key-value state behind the
// tracking records, with a batching decorator that groups writes per
// sync cycle.
package store

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal key-value surface the tracking layer needs. Keys
// are namespaced paths like "thread_links/issue-42"; List returns
// every entry under a namespace prefix.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	List(prefix string) (map[string][]byte, error)
	SetMany(entries map[string][]byte) error
	Close() error
}
