package wal

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-jbd/bcache"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/ondisk"
)

var errInjected = errors.New("injected write failure")

// diskEvent is one write or barrier seen by a writeBackDisk.
type diskEvent struct {
	barrier bool
	addr    uint64
}

// writeBackDisk holds writes in a volatile cache until Barrier, like a
// drive with a write-back cache. powerFail drops whatever was not flushed.
type writeBackDisk struct {
	disk.Disk

	mu      sync.Mutex
	pending map[uint64]disk.Block
	events  []diskEvent
	// failWrite, if set, can refuse a write
	failWrite func(a uint64) error
}

func newWriteBackDisk(numBlocks uint64) *writeBackDisk {
	return &writeBackDisk{
		Disk:    disk.NewMemDisk(numBlocks),
		pending: make(map[uint64]disk.Block),
	}
}

func (d *writeBackDisk) ReadTo(a uint64, b disk.Block) error {
	d.mu.Lock()
	p, ok := d.pending[a]
	d.mu.Unlock()
	if ok {
		copy(b, p)
		return nil
	}
	return d.Disk.ReadTo(a, b)
}

func (d *writeBackDisk) Read(a uint64) (disk.Block, error) {
	b := make(disk.Block, disk.BlockSize)
	if err := d.ReadTo(a, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *writeBackDisk) Write(a uint64, v disk.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrite != nil {
		if err := d.failWrite(a); err != nil {
			return err
		}
	}
	d.events = append(d.events, diskEvent{addr: a})
	d.pending[a] = append(disk.Block(nil), v...)
	return nil
}

func (d *writeBackDisk) Barrier() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a, b := range d.pending {
		if err := d.Disk.Write(a, b); err != nil {
			return err
		}
	}
	d.pending = make(map[uint64]disk.Block)
	d.events = append(d.events, diskEvent{barrier: true})
	return nil
}

func (d *writeBackDisk) powerFail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = make(map[uint64]disk.Block)
}

// durable reads a block as it would be after a power failure.
func (d *writeBackDisk) durable(a uint64) disk.Block {
	b, err := d.Disk.Read(a)
	if err != nil {
		panic(err)
	}
	return b
}

type writeBackRig struct {
	journal *writeBackDisk
	fs      *writeBackDisk
}

func newWriteBackRig(t *testing.T) *writeBackRig {
	r := &writeBackRig{
		journal: newWriteBackDisk(journalOffset + journalBlocks),
		fs:      newWriteBackDisk(64),
	}
	_, err := Format(r.devs(), testUUID)
	require.NoError(t, err)
	return r
}

// devs builds fresh caches, so nothing survives from before a crash.
func (r *writeBackRig) devs() Devices {
	return Devices{
		Journal: bcache.MkCache(r.journal),
		Offset:  journalOffset,
		Blocks:  journalBlocks,
		FS:      bcache.MkCache(r.fs),
	}
}

func (r *writeBackRig) powerFail() {
	r.journal.powerFail()
	r.fs.powerFail()
}

func TestReplayDurableAcrossSecondCrash(t *testing.T) {
	r := newWriteBackRig(t)
	l, _, err := Open(r.devs(), nil)
	require.NoError(t, err)
	_, err = l.CommitTxn([]Update{MkBlockData(7, mkBlock(0xab))}, nil)
	require.NoError(t, err)

	r.powerFail()
	_, info, err := Open(r.devs(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.NumReplays)

	// the log is empty now, so the home block is the only copy
	r.powerFail()
	_, info, err = Open(r.devs(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.NumReplays)
	assert.Equal(t, mkBlock(0xab), r.fs.durable(7))
}

func TestCommitBlockFollowsBarrier(t *testing.T) {
	r := newWriteBackRig(t)
	l, _, err := Open(r.devs(), nil)
	require.NoError(t, err)
	r.journal.events = nil

	_, err = l.CommitTxn([]Update{
		MkBlockData(3, mkBlock(3)),
		MkBlockData(4, mkBlock(4)),
	}, []common.Bnum{9})
	require.NoError(t, err)

	ev := r.journal.events
	require.True(t, len(ev) >= 3)
	last := ev[len(ev)-2]
	assert.False(t, last.barrier)
	assert.True(t, ev[len(ev)-3].barrier, "records are flushed before the commit block")
	assert.True(t, ev[len(ev)-1].barrier, "commit block is flushed before returning")

	h, err := ondisk.DecodeHeader(r.journal.durable(last.addr))
	require.NoError(t, err)
	assert.Equal(t, ondisk.CommitBlock, h.BlockType)
	for _, e := range ev[:len(ev)-3] {
		if e.barrier {
			continue
		}
		h, err := ondisk.DecodeHeader(r.journal.durable(e.addr))
		require.NoError(t, err)
		assert.NotEqual(t, ondisk.CommitBlock, h.BlockType, "block %d", e.addr)
	}
}

func TestFailedCommitRollsBack(t *testing.T) {
	r := newWriteBackRig(t)
	l, _, err := Open(r.devs(), nil)
	require.NoError(t, err)
	tid := l.NextTid()

	// refuse the first write into the log ring
	r.journal.failWrite = func(a uint64) error {
		if a > journalOffset {
			return errInjected
		}
		return nil
	}
	_, err = l.CommitTxn([]Update{MkBlockData(40, mkBlock(1))}, nil)
	require.ErrorIs(t, err, errInjected)
	r.journal.failWrite = nil

	assert.Equal(t, tid, l.NextTid())
	assert.Equal(t, l.LogSz(), l.Free())
	assert.True(t, l.Empty())
	_, ok := l.ReadCommitted(40)
	assert.False(t, ok)

	got, err := l.CommitTxn([]Update{MkBlockData(41, mkBlock(0x29))}, nil)
	require.NoError(t, err)
	assert.Equal(t, tid, got)

	r.powerFail()
	_, info, err := Open(r.devs(), nil)
	require.NoError(t, err)
	assert.Equal(t, tid, info.StartTransaction)
	assert.Equal(t, tid+1, info.EndTransaction)
	assert.Equal(t, uint64(1), info.NumReplays)
	assert.Equal(t, mkBlock(0x29), r.fs.durable(41))
	assert.Equal(t, mkBlock(0), r.fs.durable(40))
}

func TestFailedCommitBarrierRollsBack(t *testing.T) {
	r := newWriteBackRig(t)
	l, _, err := Open(r.devs(), nil)
	require.NoError(t, err)
	_, err = l.CommitTxn([]Update{MkBlockData(5, mkBlock(5))}, nil)
	require.NoError(t, err)
	free := l.Free()
	tid := l.NextTid()

	// fail the commit of a later transaction at its commit block
	var writes int
	r.journal.failWrite = func(a uint64) error {
		writes++
		if writes == 3 {
			return errInjected
		}
		return nil
	}
	_, err = l.CommitTxn([]Update{MkBlockData(6, mkBlock(6))}, nil)
	require.ErrorIs(t, err, errInjected)
	r.journal.failWrite = nil
	assert.Equal(t, free, l.Free())
	assert.Equal(t, tid, l.NextTid())
	assert.False(t, l.Empty(), "the earlier transaction is still live")

	_, err = l.CommitTxn([]Update{MkBlockData(8, mkBlock(8))}, nil)
	require.NoError(t, err)

	r.powerFail()
	_, info, err := Open(r.devs(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.NumReplays)
	assert.Equal(t, mkBlock(5), r.fs.durable(5))
	assert.Equal(t, mkBlock(0), r.fs.durable(6))
	assert.Equal(t, mkBlock(8), r.fs.durable(8))
}
