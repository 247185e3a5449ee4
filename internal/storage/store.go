package storage

import "errors"

var ErrNotFound = errors.New("not found")

// Store is the key-value port the result store and settings persist through.
// Keys are namespaced by bucket.
type Store interface {
	Put(bucket, key string, value []byte) error
	Get(bucket, key string) ([]byte, error)
	ForEach(bucket string, fn func(key, value []byte) error) error
	Delete(bucket, key string) error
	Clear() error
	Close() error
}

// Collector is implemented by backends that can reclaim space on demand.
type Collector interface {
	CollectGarbage() error
}
