// Package buf defines the block buffer capability the journal works with.
//
// A Buffer is a shared, reference-counted handle on one cached disk block.
// Holders call Release when they are done with it; they must not keep the
// handle afterwards.
package buf

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/util"
)

// Flag is one bit of buffer state.
type Flag uint32

const (
	// Dirty: the cached bytes differ from the disk.
	Dirty Flag = 1 << iota
	// JbdDirty: the block belongs to a transaction not yet checkpointed.
	JbdDirty
	// Revoked: the block was revoked in the running transaction.
	Revoked
	// RevokeValid: the Revoked bit is authoritative.
	RevokeValid
)

func (f Flag) String() string {
	switch f {
	case Dirty:
		return "dirty"
	case JbdDirty:
		return "jbd_dirty"
	case Revoked:
		return "revoked"
	case RevokeValid:
		return "revoke_valid"
	}
	return fmt.Sprintf("flag(%#x)", uint32(f))
}

type Buffer interface {
	Blkno() uint64
	// Data aliases the cached block; writers must Set(Dirty).
	Data() []byte

	Test(f Flag) bool
	Set(f Flag)
	Clear(f Flag)
	TestAndSet(f Flag) bool
	TestAndClear(f Flag) bool

	// Sync writes the block to its device and clears Dirty.
	Sync() error
	Release()
}

// Provider hands out buffers by device block number.
type Provider interface {
	Get(blkno uint64) (Buffer, error)
}

var _ Buffer = (*Block)(nil)

// Block is a cached disk block.
type Block struct {
	blkno uint64
	data  disk.Block
	d     disk.Disk

	mu    sync.Mutex
	flags Flag
	refs  int32
}

// MkBlock makes a block for address blkno of d holding data, with no
// references.
func MkBlock(blkno uint64, data disk.Block, d disk.Disk) *Block {
	return &Block{blkno: blkno, data: data, d: d}
}

func (b *Block) Blkno() uint64 {
	return b.blkno
}

func (b *Block) Data() []byte {
	return b.data
}

func (b *Block) Size() uint64 {
	return uint64(len(b.data))
}

func (b *Block) Test(f Flag) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags&f == f
}

func (b *Block) Set(f Flag) {
	b.mu.Lock()
	b.flags |= f
	b.mu.Unlock()
}

func (b *Block) Clear(f Flag) {
	b.mu.Lock()
	b.flags &^= f
	b.mu.Unlock()
}

func (b *Block) TestAndSet(f Flag) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.flags&f == f
	b.flags |= f
	return old
}

func (b *Block) TestAndClear(f Flag) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.flags&f == f
	b.flags &^= f
	return old
}

func (b *Block) Sync() error {
	util.DPrintf(10, "sync block %d\n", b.blkno)
	if err := b.d.Write(b.blkno, b.data); err != nil {
		return err
	}
	b.Clear(Dirty)
	return nil
}

// Hold takes a reference.
func (b *Block) Hold() {
	atomic.AddInt32(&b.refs, 1)
}

func (b *Block) Release() {
	if atomic.AddInt32(&b.refs, -1) < 0 {
		panic(fmt.Sprintf("buf: block %d released too many times", b.blkno))
	}
}

// Refs reports the number of outstanding references.
func (b *Block) Refs() int32 {
	return atomic.LoadInt32(&b.refs)
}
