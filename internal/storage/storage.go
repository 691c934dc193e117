package storage

import "errors"

// Store is a small string key-value store.
// Delete removes all given keys in one atomic step: a reader never observes
// only part of the deletion.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Delete(keys ...string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

var ErrClosed = errors.New("storage: store is closed")

const (
	BackendFile   = "file"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)
