// Package cache stores classified expiry reports per branch and day.
// Every stock mutation bumps the branch's generation. A read reports the
// generation it observed and a write is only kept under that generation, so
// a report built from a snapshot that a mutation overtook is never served.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/expiry"
)

// Lookup is the outcome of a cache read. Generation identifies the cache
// state the read observed; a report built after a miss is stored under it.
type Lookup struct {
	Report     *expiry.Report
	Generation int64
}

// Hit reports whether a cached report was found
func (l Lookup) Hit() bool {
	return l.Report != nil
}

// ReportCache caches expiry reports keyed by branch and calendar date
type ReportCache interface {
	Get(ctx context.Context, branchID, date string) (Lookup, error)
	Set(ctx context.Context, branchID, date string, generation int64, report *expiry.Report, ttl time.Duration) error
	Invalidate(ctx context.Context, branchID string) error
}

// allScope is the cache scope for reports spanning every branch
const allScope = "*"

func scopeOf(branchID string) string {
	if branchID == "" {
		return allScope
	}
	return branchID
}

// NoopReportCache never stores anything
type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _, _ string) (Lookup, error) {
	return Lookup{}, nil
}

func (NoopReportCache) Set(_ context.Context, _, _ string, _ int64, _ *expiry.Report, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type memoryKey struct {
	scope string
	date  string
}

type memoryEntry struct {
	report     expiry.Report
	generation int64
	expires    time.Time
}

// MemoryReportCache is a process-local cache for single-instance deployments
type MemoryReportCache struct {
	mu      sync.RWMutex
	entries map[memoryKey]memoryEntry
	gens    map[string]int64
	// epoch moves on an every-branch invalidation
	epoch int64
	now   func() time.Time
}

// NewMemoryReportCache creates an empty memory cache
func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{
		entries: make(map[memoryKey]memoryEntry),
		gens:    make(map[string]int64),
		now:     time.Now,
	}
}

func (c *MemoryReportCache) generation(scope string) int64 {
	return c.gens[scope] + c.epoch
}

func (c *MemoryReportCache) Get(_ context.Context, branchID, date string) (Lookup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scope := scopeOf(branchID)
	gen := c.generation(scope)
	e, ok := c.entries[memoryKey{scope, date}]
	if !ok || e.generation != gen || !c.now().Before(e.expires) {
		return Lookup{Generation: gen}, nil
	}
	report := e.report
	return Lookup{Report: &report, Generation: gen}, nil
}

// Set stores the report unless the scope was invalidated after generation was read
func (c *MemoryReportCache) Set(_ context.Context, branchID, date string, generation int64, report *expiry.Report, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := scopeOf(branchID)
	if c.generation(scope) != generation {
		return nil
	}
	c.entries[memoryKey{scope, date}] = memoryEntry{
		report:     *report,
		generation: generation,
		expires:    c.now().Add(ttl),
	}
	return nil
}

// Invalidate drops the branch's reports and every all-branch report
func (c *MemoryReportCache) Invalidate(_ context.Context, branchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := scopeOf(branchID)
	if scope == allScope {
		c.epoch++
	} else {
		c.gens[scope]++
		c.gens[allScope]++
	}
	for key := range c.entries {
		if scope == allScope || key.scope == scope || key.scope == allScope {
			delete(c.entries, key)
		}
	}
	return nil
}
