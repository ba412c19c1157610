package release

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Clock abstracts time so cache expiry is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Store persists release indexes keyed by repository.
type Store interface {
	Load(key string) (*Index, error)
	Save(key string, idx *Index) error
	Delete(key string) error
}

// DiskStore keeps one JSON file per repository under a directory.
type DiskStore struct {
	Dir string
}

func (d *DiskStore) path(key string) string {
	return filepath.Join(d.Dir, strings.ReplaceAll(key, "/", "_")+".json")
}

func (d *DiskStore) Load(key string) (*Index, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("corrupt release cache entry %s: %w", key, err)
	}
	return &idx, nil
}

func (d *DiskStore) Save(key string, idx *Index) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return os.WriteFile(d.path(key), data, 0o644)
}

func (d *DiskStore) Delete(key string) error {
	err := os.Remove(d.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Cache is a TTL cache over a Store with an injected Clock.
type Cache struct {
	store Store
	clock Clock
	ttl   time.Duration
}

func NewCache(store Store, clock Clock, ttl time.Duration) *Cache {
	return &Cache{store: store, clock: clock, ttl: ttl}
}

// Get returns the cached index for key if one exists and is younger than the
// TTL.
func (c *Cache) Get(key string) (*Index, bool) {
	idx, err := c.store.Load(key)
	if err != nil {
		return nil, false
	}
	if c.clock.Now().Sub(idx.FetchedAt) > c.ttl {
		return nil, false
	}
	return idx, true
}

func (c *Cache) Put(key string, idx *Index) error {
	return c.store.Save(key, idx)
}

func (c *Cache) Invalidate(key string) error {
	return c.store.Delete(key)
}
