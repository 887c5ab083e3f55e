// Package cache holds materialised query results between GetFlightInfo and
// DoGet, keyed by an opaque ticket.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
)

// Config holds the configuration for the cache.
type Config struct {
	// MaxSize is the maximum size of the cache in bytes.
	MaxSize int64
	// TTL bounds how long an unclaimed result is kept.
	TTL time.Duration
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize: 256 * 1024 * 1024,
		TTL:     5 * time.Minute,
	}
}

// Cache stores records under tickets. A record is claimed once.
type Cache interface {
	// Put retains record and returns the ticket it is stored under.
	Put(ctx context.Context, record arrow.Record) (string, error)
	// Take removes and returns the record for ticket. The caller owns the
	// returned reference.
	Take(ctx context.Context, ticket string) (arrow.Record, bool)
	// Clear releases every entry.
	Clear(ctx context.Context) error
	// Stats returns cache statistics.
	Stats() Stats
	// Close releases any resources held by the cache.
	Close() error
}

type entry struct {
	record    arrow.Record
	createdAt time.Time
	size      int64
}

// MemoryCache implements Cache in memory with oldest-first eviction.
type MemoryCache struct {
	cfg   Config
	stats *StatsCollector
	now   func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	currSize int64
}

// NewMemoryCache creates a new memory cache.
func NewMemoryCache(cfg Config) *MemoryCache {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &MemoryCache{
		cfg:     cfg,
		stats:   NewStatsCollector(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Put stores a record batch and returns its ticket.
func (c *MemoryCache) Put(ctx context.Context, record arrow.Record) (string, error) {
	ticket := uuid.NewString()
	size := recordSize(record)
	record.Retain()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	for c.currSize+size > c.cfg.MaxSize && len(c.entries) > 0 {
		c.evictOldestLocked()
	}

	c.entries[ticket] = &entry{
		record:    record,
		createdAt: c.now(),
		size:      size,
	}
	c.currSize += size
	c.stats.UpdateSize(c.currSize)

	return ticket, nil
}

// Take claims the record stored under ticket.
func (c *MemoryCache) Take(ctx context.Context, ticket string) (arrow.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[ticket]
	if !ok || c.now().Sub(e.createdAt) > c.cfg.TTL {
		if ok {
			c.removeLocked(ticket, e)
			e.record.Release()
			c.stats.RecordEviction()
		}
		c.stats.RecordMiss()
		return nil, false
	}

	c.removeLocked(ticket, e)
	c.stats.RecordHit()
	return e.record, true
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.record.Release()
	}
	c.entries = make(map[string]*entry)
	c.currSize = 0
	c.stats.UpdateSize(0)
	return nil
}

// Len returns the number of unclaimed results.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	return c.stats.GetStats()
}

// Close releases any resources held by the cache.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}

func (c *MemoryCache) removeLocked(ticket string, e *entry) {
	delete(c.entries, ticket)
	c.currSize -= e.size
	c.stats.UpdateSize(c.currSize)
}

func (c *MemoryCache) expireLocked() {
	now := c.now()
	for ticket, e := range c.entries {
		if now.Sub(e.createdAt) > c.cfg.TTL {
			c.removeLocked(ticket, e)
			e.record.Release()
			c.stats.RecordEviction()
		}
	}
}

func (c *MemoryCache) evictOldestLocked() {
	var (
		oldestTicket string
		oldest       *entry
	)
	for ticket, e := range c.entries {
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldestTicket, oldest = ticket, e
		}
	}
	if oldest != nil {
		c.removeLocked(oldestTicket, oldest)
		oldest.record.Release()
		c.stats.RecordEviction()
	}
}

func recordSize(record arrow.Record) int64 {
	var size int64
	for _, col := range record.Columns() {
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				size += int64(buf.Len())
			}
		}
	}
	return size
}
