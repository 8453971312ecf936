// Handles storage of cached data in named buckets
package cache

import "errors"

// ErrInvalidName is returned for bucket names the backend cannot store
var ErrInvalidName = errors.New("invalid bucket name")

// GenericCache interface for caching operations
type GenericCache interface {
	// retrieves cached data if it exists.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores data under the given key, overwriting any previous value
	Set(key string, value []byte) error
	// removes the key; removing a missing key is not an error
	Delete(key string) error
	// lists every stored key
	Keys() ([]string, error)
	// initializes the cache (e.g., registers the bucket)
	Init() error
}
