// Package bcache is a sharded, reference-counted block cache over one disk.
//
// It implements buf.Provider. A cached block stays resident while it has
// references, is dirty, or belongs to an uncheckpointed transaction; Evict
// drops the rest, and with them any revoke bits, which then read as unknown.
package bcache

import (
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/util"
)

type mapShard struct {
	mu    *sync.Mutex
	state map[uint64]*buf.Block
}

type Cache struct {
	d      disk.Disk
	shards []*mapShard

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64
	Misses uint64
	Cached uint64
}

const NSHARD uint64 = 67

var _ buf.Provider = (*Cache)(nil)

func mkMapShard() *mapShard {
	state := make(map[uint64]*buf.Block)
	mu := new(sync.Mutex)
	a := &mapShard{
		mu:    mu,
		state: state,
	}
	return a
}

func MkCache(d disk.Disk) *Cache {
	var shards []*mapShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkMapShard())
	}
	a := &Cache{
		d:      d,
		shards: shards,
	}
	return a
}

func (c *Cache) getShard(addr uint64) *mapShard {
	return c.shards[addr%NSHARD]
}

// Disk returns the device under the cache.
func (c *Cache) Disk() disk.Disk {
	return c.d
}

// GetBlock returns the cached block at addr, loading it on a miss, with one
// reference held for the caller.
func (c *Cache) GetBlock(addr uint64) (*buf.Block, error) {
	shard := c.getShard(addr)
	// the shard stays locked across the load so two misses on one block
	// cannot install two copies
	shard.mu.Lock()
	defer shard.mu.Unlock()
	b, ok := shard.state[addr]
	if ok {
		c.hits.Add(1)
		b.Hold()
		return b, nil
	}
	c.misses.Add(1)
	data, err := c.d.Read(addr)
	if err != nil {
		return nil, err
	}
	util.DPrintf(15, "bcache: load %d\n", addr)
	b = buf.MkBlock(addr, data, c.d)
	shard.state[addr] = b
	b.Hold()
	return b, nil
}

func (c *Cache) Get(addr uint64) (buf.Buffer, error) {
	b, err := c.GetBlock(addr)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Evict drops every clean, unreferenced block not held by the journal and
// returns how many were dropped.
func (c *Cache) Evict() uint64 {
	var n uint64
	for _, shard := range c.shards {
		shard.mu.Lock()
		for a, b := range shard.state {
			if b.Refs() == 0 && !b.Test(buf.Dirty) && !b.Test(buf.JbdDirty) {
				delete(shard.state, a)
				n++
			}
		}
		shard.mu.Unlock()
	}
	return n
}

// Purge forgets every cached block, including dirty ones, as a crash would.
func (c *Cache) Purge() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.state = make(map[uint64]*buf.Block)
		shard.mu.Unlock()
	}
}

// Flush syncs every dirty block and issues a barrier.
func (c *Cache) Flush() error {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for _, b := range shard.state {
			if b.Test(buf.Dirty) {
				if err := b.Sync(); err != nil {
					shard.mu.Unlock()
					return err
				}
			}
		}
		shard.mu.Unlock()
	}
	return c.d.Barrier()
}

func (c *Cache) Stats() Stats {
	var cached uint64
	for _, shard := range c.shards {
		shard.mu.Lock()
		cached += uint64(len(shard.state))
		shard.mu.Unlock()
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Cached: cached}
}

// Barrier makes synced blocks durable on the underlying disk.
func (c *Cache) Barrier() error {
	return c.d.Barrier()
}
