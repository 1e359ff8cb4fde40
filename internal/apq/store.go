package apq

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
)

// KeyValueStore is the capability the persisted-query resolver needs from an
// external cache. Get and Set are independently atomic; implementations must
// tolerate concurrent use across requests. No cross-request locking is
// provided or required.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// DefaultStoreSize bounds the in-memory store when no size is configured.
const DefaultStoreSize = 1024

// LRUStore is an in-process KeyValueStore with LRU eviction. It is the
// default backing for persisted queries when no external cache is injected.
type LRUStore struct {
	c *lru.Cache
}

// NewLRUStore creates a store holding at most size entries.
func NewLRUStore(size int) (*LRUStore, error) {
	if size <= 0 {
		size = DefaultStoreSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUStore{c: c}, nil
}

func (s *LRUStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (s *LRUStore) Set(_ context.Context, key, value string) error {
	s.c.Add(key, value)
	return nil
}
