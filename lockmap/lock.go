// Package lockmap provides a lock for every block number.
//
// Callers of jrnl hold the locks of the blocks an operation touches from the
// first read until Commit; the journal itself only serializes commits.
//
// The map does not keep a lock per block. A fixed set of shards each track
// the blocks currently held (or waited on) whose number falls in the shard,
// and a block's state is dropped once nobody holds or waits for it.
package lockmap

import (
	"sort"
	"sync"

	"github.com/mit-pdos/go-jbd/common"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[common.Bnum]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[common.Bnum]*lockState),
	}
}

func (shard *lockShard) acquire(bnum common.Bnum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for {
		state, ok := shard.state[bnum]
		if !ok {
			state = &lockState{cond: sync.NewCond(shard.mu)}
			shard.state[bnum] = state
		}
		if !state.held {
			state.held = true
			return
		}
		state.waiters++
		state.cond.Wait()
		state.waiters--
	}
}

func (shard *lockShard) release(bnum common.Bnum) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[bnum]
	if !ok || !state.held {
		panic("lockmap: release of unheld block")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, bnum)
	}
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	var shards []*lockShard
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) shard(bnum common.Bnum) *lockShard {
	return lmap.shards[uint64(bnum)%NSHARD]
}

func (lmap *LockMap) Acquire(bnum common.Bnum) {
	lmap.shard(bnum).acquire(bnum)
}

func (lmap *LockMap) Release(bnum common.Bnum) {
	lmap.shard(bnum).release(bnum)
}

// AcquireAll locks every block in bnums, in increasing order so that two
// callers locking overlapping sets cannot deadlock. Duplicates are locked
// once. It returns the blocks to pass to ReleaseAll.
func (lmap *LockMap) AcquireAll(bnums []common.Bnum) []common.Bnum {
	sorted := make([]common.Bnum, 0, len(bnums))
	seen := make(map[common.Bnum]bool, len(bnums))
	for _, b := range bnums {
		if !seen[b] {
			seen[b] = true
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, b := range sorted {
		lmap.Acquire(b)
	}
	return sorted
}

func (lmap *LockMap) ReleaseAll(held []common.Bnum) {
	for i := len(held) - 1; i >= 0; i-- {
		lmap.Release(held[i])
	}
}
