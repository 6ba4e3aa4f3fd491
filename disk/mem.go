package disk

import (
	"sync"
)

var _ Disk = (*MemDisk)(nil)

// MemDisk is a volatile disk, safe for concurrent use.
type MemDisk struct {
	l      *sync.RWMutex
	blocks [][BlockSize]byte
}

func NewMemDisk(numBlocks uint64) *MemDisk {
	blocks := make([][BlockSize]byte, numBlocks)
	return &MemDisk{l: new(sync.RWMutex), blocks: blocks}
}

func (d *MemDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(buf); err != nil {
		return err
	}
	d.l.RLock()
	defer d.l.RUnlock()
	if err := checkAddr(a, uint64(len(d.blocks))); err != nil {
		return err
	}
	copy(buf, d.blocks[a][:])
	return nil
}

func (d *MemDisk) Read(a uint64) (Block, error) {
	return readBlock(d, a)
}

func (d *MemDisk) Write(a uint64, v Block) error {
	if err := checkBlock(v); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	if err := checkAddr(a, uint64(len(d.blocks))); err != nil {
		return err
	}
	copy(d.blocks[a][:], v)
	return nil
}

func (d *MemDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.blocks)), nil
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }
