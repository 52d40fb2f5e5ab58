// Package schemacache caches JSON Schema documents fetched from the content
// network. Schemas live in a bounded in-memory LRU, optionally persisted to
// an on-disk store so later runs skip the network entirely.
package schemacache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/parcelworks/canopy/pkg/collab"
)

// ErrInvalidSchema is returned when fetched schema bytes do not decode to a
// JSON object.
var ErrInvalidSchema = errors.New("schema is not a JSON object")

// DefaultCapacity bounds the LRU when no capacity is configured.
const DefaultCapacity = 256

// preloadConcurrency caps concurrent fetches during Preload.
const preloadConcurrency = 8

// Options configure a Cache.
type Options struct {
	Fetcher  collab.Fetcher
	Capacity int
	// CacheDir enables on-disk persistence. Everything found on disk is
	// loaded into memory at Open.
	CacheDir string
}

// Cache is a bounded schema cache. Safe for concurrent use.
type Cache struct {
	fetcher collab.Fetcher
	lru     *lru.Cache[string, map[string]any]
	disk    *diskStore
	logger  *slog.Logger
}

// Open builds a Cache and, when a cache dir is configured, warms the LRU
// from disk.
func Open(opts Options) (*Cache, error) {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, map[string]any](capacity)
	if err != nil {
		return nil, fmt.Errorf("schemacache: lru init: %w", err)
	}

	c := &Cache{
		fetcher: opts.Fetcher,
		lru:     l,
		logger:  slog.Default().With("component", "schemacache"),
	}

	if opts.CacheDir != "" {
		disk, err := openDiskStore(opts.CacheDir)
		if err != nil {
			return nil, err
		}
		c.disk = disk
		if err := c.warm(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// warm loads every persisted schema into the LRU.
func (c *Cache) warm() error {
	rows, err := c.disk.loadAll()
	if err != nil {
		return err
	}
	for id, body := range rows {
		schema, err := decodeSchema(body)
		if err != nil {
			c.logger.Warn("skipping corrupt cached schema", "schema_id", id, "error", err)
			continue
		}
		c.lru.Add(id, schema)
	}
	c.logger.Debug("disk cache warmed", "schemas", len(rows))
	return nil
}

// Get returns the schema for id, fetching it on a miss.
func (c *Cache) Get(ctx context.Context, id string) (map[string]any, error) {
	if schema, ok := c.lru.Get(id); ok {
		return schema, nil
	}

	raw, err := c.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("schemacache: fetch %s: %w", id, err)
	}
	schema, err := decodeSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("schemacache: schema %s: %w", id, err)
	}

	c.lru.Add(id, schema)
	if c.disk != nil {
		if err := c.disk.put(id, raw); err != nil {
			c.logger.Warn("disk cache write failed", "schema_id", id, "error", err)
		}
	}
	return schema, nil
}

// Has is a cache-only membership check; it never fetches.
func (c *Cache) Has(id string) bool {
	return c.lru.Contains(id)
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Preload fetches all missing ids concurrently. Per-id failures are logged
// and left absent for on-demand retry; Preload itself never fails.
func (c *Cache) Preload(ctx context.Context, ids []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, id := range ids {
		if c.Has(id) {
			continue
		}
		g.Go(func() error {
			if _, err := c.Get(ctx, id); err != nil {
				c.logger.Warn("schema preload failed", "schema_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close releases the disk store, if any.
func (c *Cache) Close() error {
	if c.disk == nil {
		return nil
	}
	return c.disk.close()
}

func decodeSchema(raw []byte) (map[string]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidSchema
	}
	return obj, nil
}
