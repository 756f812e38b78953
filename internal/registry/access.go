package registry

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ilexum-group/imgtriage/internal/utils"
)

// DefaultCacheSize is the key cache capacity used by NewAccess
const DefaultCacheSize = 1000

// SearchResult is one Access.SearchValue hit.
type SearchResult struct {
	Hive    string
	KeyPath string
	Value   Value
}

// Access holds a set of named hives and caches resolved keys across them.
// It is safe for concurrent use.
type Access struct {
	mu    sync.RWMutex
	hives map[string]*Hive
	cache *lru.Cache[string, Key]
}

// NewAccess creates an Access with a cache of DefaultCacheSize keys.
func NewAccess() *Access {
	a, err := NewAccessWithCacheSize(DefaultCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size
		panic(err)
	}
	return a
}

// NewAccessWithCacheSize creates an Access whose key cache holds size entries.
func NewAccessWithCacheSize(size int) (*Access, error) {
	cache, err := lru.New[string, Key](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}
	return &Access{
		hives: make(map[string]*Hive),
		cache: cache,
	}, nil
}

// LoadHive parses the hive read from r and stores it under name, replacing
// any hive already loaded under that name.
func (a *Access) LoadHive(r io.Reader, name string) error {
	hive, err := Open(r)
	if err != nil {
		return fmt.Errorf("failed to load hive %s: %w", name, err)
	}
	a.AddHive(hive, name)
	return nil
}

// LoadHiveBytes is LoadHive for a hive already in memory.
func (a *Access) LoadHiveBytes(data []byte, name string) error {
	hive, err := OpenBytes(data)
	if err != nil {
		return fmt.Errorf("failed to load hive %s: %w", name, err)
	}
	a.AddHive(hive, name)
	return nil
}

// AddHive stores an already parsed hive under name.
func (a *Access) AddHive(hive *Hive, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hives[name] = hive
	a.purgeLocked(name)

	utils.LogDebug("Registry hive loaded", map[string]string{
		"hive":  name,
		"bytes": strconv.Itoa(hive.Size()),
		"dirty": strconv.FormatBool(hive.IsDirty()),
	})
}

// UnloadHive drops the hive stored under name and its cached keys.
// It reports whether a hive was loaded under that name.
func (a *Access) UnloadHive(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.hives[name]
	delete(a.hives, name)
	a.purgeLocked(name)
	return ok
}

func (a *Access) purgeLocked(name string) {
	prefix := name + `\`
	for _, k := range a.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			a.cache.Remove(k)
		}
	}
}

// Hive returns the hive loaded under name.
func (a *Access) Hive(name string) (*Hive, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hiveLocked(name)
}

func (a *Access) hiveLocked(name string) (*Hive, error) {
	hive, ok := a.hives[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHiveNotFound, name)
	}
	return hive, nil
}

// HiveNames returns the loaded hive names in sorted order.
func (a *Access) HiveNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.hives))
	for name := range a.hives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cacheKey(hive, path string) string {
	return hive + `\` + path
}

// GetKey resolves path inside the named hive, consulting the cache first.
func (a *Access) GetKey(hive, path string) (Key, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.getKeyLocked(hive, path)
}

func (a *Access) getKeyLocked(hive, path string) (Key, error) {
	ck := cacheKey(hive, path)
	if key, ok := a.cache.Get(ck); ok {
		return key, nil
	}
	h, err := a.hiveLocked(hive)
	if err != nil {
		return Key{}, err
	}
	key, err := h.GetKey(path)
	if err != nil {
		return Key{}, err
	}
	a.cache.Add(ck, key)
	return key, nil
}

// Cached reports whether the key for path is currently in the cache. It does
// not affect recency.
func (a *Access) Cached(hive, path string) bool {
	return a.cache.Contains(cacheKey(hive, path))
}

// CacheLen returns the number of cached keys.
func (a *Access) CacheLen() int {
	return a.cache.Len()
}

// GetValue returns the value named valueName (exact match) under keyPath.
func (a *Access) GetValue(hive, keyPath, valueName string) (Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key, err := a.getKeyLocked(hive, keyPath)
	if err != nil {
		return Value{}, err
	}
	h, err := a.hiveLocked(hive)
	if err != nil {
		return Value{}, err
	}
	v, err := h.Value(key, valueName)
	if err != nil {
		return Value{}, fmt.Errorf("%s\\%s: %w", hive, keyPath, err)
	}
	return v, nil
}

// Subkeys returns the children of the key at path.
func (a *Access) Subkeys(hive, path string) ([]Key, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key, err := a.getKeyLocked(hive, path)
	if err != nil {
		return nil, err
	}
	h, err := a.hiveLocked(hive)
	if err != nil {
		return nil, err
	}
	return h.Subkeys(key)
}

// Values returns the values of the key at path.
func (a *Access) Values(hive, path string) ([]Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	key, err := a.getKeyLocked(hive, path)
	if err != nil {
		return nil, err
	}
	h, err := a.hiveLocked(hive)
	if err != nil {
		return nil, err
	}
	return h.Values(key)
}

// SearchValue searches every loaded hive, in name order, for values named
// name. A hive whose root cannot be decoded contributes no results.
func (a *Access) SearchValue(name string) []SearchResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.hives))
	for n := range a.hives {
		names = append(names, n)
	}
	sort.Strings(names)

	results := make([]SearchResult, 0)
	for _, hiveName := range names {
		matches, err := a.hives[hiveName].SearchValue(name)
		if err != nil {
			utils.LogDebug("Registry search skipped hive", map[string]string{
				"hive":  hiveName,
				"error": err.Error(),
			})
			continue
		}
		for _, m := range matches {
			results = append(results, SearchResult{Hive: hiveName, KeyPath: m.KeyPath, Value: m.Value})
		}
	}
	return results
}
