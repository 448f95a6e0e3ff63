package ratelimit

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/failure"
)

const memoryShards = 32

// MemoryCounter keeps windows in process memory. Counts are per instance, so
// it is only correct when a single instance serves all traffic. Finished
// windows are removed by Sweep.
type MemoryCounter struct {
	clock  clock.Clock
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	records map[string]WindowRecord
}

func NewMemoryCounter(clk clock.Clock) *MemoryCounter {
	if clk == nil {
		clk = clock.System()
	}
	c := &MemoryCounter{clock: clk}
	for i := range c.shards {
		c.shards[i].records = make(map[string]WindowRecord)
	}
	return c
}

func (c *MemoryCounter) Increment(ctx context.Context, key string, window time.Duration) (WindowRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return WindowRecord{}, ErrInvalidKey
	}
	if window <= 0 {
		return WindowRecord{}, ErrInvalidWindow
	}
	if err := ctx.Err(); err != nil {
		return WindowRecord{}, failure.StoreUnavailable("memory counter increment", err)
	}

	now := c.clock.Now()
	shard := c.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	record, ok := shard.records[key]
	if !ok || !now.Before(record.ResetAt) {
		record = WindowRecord{Key: key, Count: 1, ResetAt: now.Add(window)}
	} else {
		record.Count++
	}
	shard.records[key] = record
	return record, nil
}

// Sweep drops every window that ended at or before now and returns how many
// were removed. It holds one shard lock at a time.
func (c *MemoryCounter) Sweep(now time.Time) int {
	removed := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		for key, record := range shard.records {
			if !now.Before(record.ResetAt) {
				delete(shard.records, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked windows.
func (c *MemoryCounter) Len() int {
	total := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		total += len(shard.records)
		shard.mu.Unlock()
	}
	return total
}

func (c *MemoryCounter) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%memoryShards]
}
