// Package respcache implements a keyed JSON response cache:
// deterministic keys, namespace-partitioned TTLs, safe under
// concurrent access. In-memory, backed by a small sync.Mutex-guarded
// map.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Namespace partitions entries so each kind of record gets its own
// TTL/eviction policy.
type Namespace string

const (
	NamespacePaper  Namespace = "paper"
	NamespaceAuthor Namespace = "author"
	NamespaceSearch Namespace = "search"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a namespace-partitioned, TTL-expiring, in-memory response
// cache.
type Cache struct {
	mu   sync.Mutex
	data map[Namespace]map[string]entry
	ttl  map[Namespace]time.Duration
}

// New builds a cache with the given per-namespace TTLs.
func New(ttls map[Namespace]time.Duration) *Cache {
	data := make(map[Namespace]map[string]entry, len(ttls))
	for ns := range ttls {
		data[ns] = make(map[string]entry)
	}
	if _, ok := data[NamespacePaper]; !ok {
		data[NamespacePaper] = make(map[string]entry)
	}
	if _, ok := data[NamespaceAuthor]; !ok {
		data[NamespaceAuthor] = make(map[string]entry)
	}
	if _, ok := data[NamespaceSearch]; !ok {
		data[NamespaceSearch] = make(map[string]entry)
	}
	return &Cache{data: data, ttl: ttls}
}

// Get returns the cached value for key in namespace ns, and whether
// it was present and unexpired.
func (c *Cache) Get(key string, ns Namespace) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.data[ns]
	if !ok {
		return nil, false
	}
	e, ok := bucket[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(bucket, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key in namespace ns, applying that
// namespace's configured TTL.
func (c *Cache) Set(key string, value []byte, ns Namespace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.data[ns]
	if !ok {
		bucket = make(map[string]entry)
		c.data[ns] = bucket
	}
	var expiresAt time.Time
	if ttl, ok := c.ttl[ns]; ok && ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	bucket[key] = entry{value: value, expiresAt: expiresAt}
}

// GenerateKey builds a deterministic cache key from a source, method
// name, and a set of keyword arguments: source + method + a hash of
// the sorted keyword arguments.
func GenerateKey(source, method string, kwargs map[string]any) string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		b, _ := json.Marshal(kwargs[k])
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.Write(b)
		sb.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return source + ":" + method + ":" + hex.EncodeToString(sum[:])
}
