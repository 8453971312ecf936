package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

// BoundedCache keeps at most maxEntries keys in the wrapped cache,
// evicting the least recently used one when a new key is stored
type BoundedCache struct {
	inner GenericCache
	order *lru.Cache
}

// NewBounded wraps inner. Keys already present are tracked in storage order,
// and any excess over maxEntries is evicted right away.
func NewBounded(inner GenericCache, maxEntries int) (*BoundedCache, error) {
	order, err := lru.NewWithEvict(maxEntries, func(key, _ interface{}) {
		if err := inner.Delete(key.(string)); err != nil {
			logrus.Errorf("Failed to evict %s: %v", key, err)
			return
		}
		logrus.Debugf("Evicted %s", key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eviction index: %w", err)
	}

	keys, err := inner.Keys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		order.Add(k, struct{}{})
	}

	return &BoundedCache{inner: inner, order: order}, nil
}

func (c *BoundedCache) Get(key string) ([]byte, error) {
	data, err := c.inner.Get(key)
	if err != nil || data == nil {
		return data, err
	}
	c.order.Get(key)
	return data, nil
}

func (c *BoundedCache) Set(key string, value []byte) error {
	if err := c.inner.Set(key, value); err != nil {
		return err
	}
	c.order.Add(key, struct{}{})
	return nil
}

func (c *BoundedCache) Delete(key string) error {
	if c.order.Remove(key) {
		// the eviction callback already deleted it
		return nil
	}
	return c.inner.Delete(key)
}

func (c *BoundedCache) Keys() ([]string, error) {
	return c.inner.Keys()
}

func (c *BoundedCache) Init() error {
	return c.inner.Init()
}

// Len returns the number of tracked keys
func (c *BoundedCache) Len() int {
	return c.order.Len()
}
