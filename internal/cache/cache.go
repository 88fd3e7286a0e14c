// Package cache memoizes finished records by ISBN across Scrape calls.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JakeFAU/isbn-scraper/internal/book"
)

// Config bounds the cache. A zero Size disables caching.
type Config struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// DefaultConfig keeps an hour of results for up to 10k ISBNs.
func DefaultConfig() Config {
	return Config{Size: 10000, TTL: time.Hour}
}

// Records is an expiring LRU of records keyed by normalized ISBN. A nil
// *Records is a valid, always-empty cache.
type Records struct {
	lru *expirable.LRU[string, *book.Record]
}

// New builds a cache, or returns nil when cfg.Size is not positive.
func New(cfg Config) *Records {
	if cfg.Size <= 0 {
		return nil
	}
	return &Records{lru: expirable.NewLRU[string, *book.Record](cfg.Size, nil, cfg.TTL)}
}

// Get returns a copy of the cached record.
func (c *Records) Get(isbn string) (*book.Record, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(isbn)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Add stores a copy of rec. Only complete records are cached so partial
// results get another chance on the next run.
func (c *Records) Add(isbn string, rec *book.Record) bool {
	if c == nil || !rec.Complete() {
		return false
	}
	c.lru.Add(isbn, rec.Clone())
	return true
}

// Remove evicts isbn.
func (c *Records) Remove(isbn string) {
	if c != nil {
		c.lru.Remove(isbn)
	}
}

// Len returns the number of live entries.
func (c *Records) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Records) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}
