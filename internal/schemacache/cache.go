// Package schemacache persists discovered schema metadata per connection with
// a time-to-live. Expiry is evaluated lazily on read.
package schemacache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached discovery result.
type Entry struct {
	ConnectionKey string          `json:"connectionKey"`
	DiscoveredAt  time.Time       `json:"discoveredAt"`
	TTLSeconds    int             `json:"ttlSeconds"`
	Payload       json.RawMessage `json:"payload"`
}

// ValidAt reports whether the entry is still fresh at now.
func (e *Entry) ValidAt(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.DiscoveredAt) < time.Duration(e.TTLSeconds)*time.Second
}

// ExpiresAt is DiscoveredAt plus the TTL.
func (e *Entry) ExpiresAt() time.Time {
	return e.DiscoveredAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Decode unmarshals the payload into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode cached payload for %s: %w", e.ConnectionKey, err)
	}
	return nil
}

type Cache struct {
	path   string
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func New(path string, opts ...Option) *Cache {
	c := &Cache{
		path:   path,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Path() string {
	return c.path
}

// Get returns the entry for key if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	entries := c.load()
	entry, ok := entries[key]
	if !ok {
		return nil, false
	}
	if !entry.ValidAt(c.now()) {
		c.logger.Debug("schema cache entry expired",
			zap.String("key", key),
			zap.Time("discovered_at", entry.DiscoveredAt),
			zap.Int("ttl_seconds", entry.TTLSeconds))
		return nil, false
	}
	return entry, true
}

// Put replaces any entry stored under key.
func (c *Cache) Put(key string, payload any, ttlSeconds int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", key, err)
	}

	entries := c.load()
	entries[key] = &Entry{
		ConnectionKey: key,
		DiscoveredAt:  c.now().UTC(),
		TTLSeconds:    ttlSeconds,
		Payload:       raw,
	}
	return c.save(entries)
}

// Invalidate removes a single entry. Removing an absent key is not an error.
func (c *Cache) Invalidate(key string) error {
	entries := c.load()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return c.save(entries)
}

// InvalidateAll clears the whole cache file.
func (c *Cache) InvalidateAll() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear schema cache: %w", err)
	}
	return nil
}

// Entries lists every stored entry, expired ones included, sorted by key.
func (c *Cache) Entries() []*Entry {
	entries := c.load()
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionKey < out[j].ConnectionKey })
	return out
}

// load never fails: a missing or unreadable file is an empty cache.
func (c *Cache) load() map[string]*Entry {
	entries := make(map[string]*Entry)

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("schema cache unreadable, treating as empty", zap.String("path", c.path), zap.Error(err))
		}
		return entries
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("schema cache corrupt, treating as empty", zap.String("path", c.path), zap.Error(err))
		return make(map[string]*Entry)
	}
	if entries == nil {
		return make(map[string]*Entry)
	}
	for key, e := range entries {
		if e == nil {
			delete(entries, key)
			continue
		}
		e.ConnectionKey = key
	}
	return entries
}

// save writes to a temp file and renames it over the cache file.
func (c *Cache) save(entries map[string]*Entry) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".schema-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace schema cache: %w", err)
	}
	return nil
}
