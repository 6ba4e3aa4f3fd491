package buf

import (
	"sort"

	"github.com/mit-pdos/go-jbd/common"
)

// A Buf is a pending whole-block write inside an operation.
type Buf struct {
	Blkno common.Bnum
	Data  []byte
	dirty bool // has this block been written to?
}

func MkBuf(blkno common.Bnum, data []byte) *Buf {
	b := &Buf{
		Blkno: blkno,
		Data:  data,
		dirty: false,
	}
	return b
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

//
// A map from block numbers to bufs.
//

type BufMap struct {
	bufs map[common.Bnum]*Buf
}

func MkBufMap() *BufMap {
	a := &BufMap{
		bufs: make(map[common.Bnum]*Buf),
	}
	return a
}

func (bmap *BufMap) Insert(buf *Buf) {
	bmap.bufs[buf.Blkno] = buf
}

func (bmap *BufMap) Lookup(blkno common.Bnum) *Buf {
	return bmap.bufs[blkno]
}

func (bmap *BufMap) Del(blkno common.Bnum) {
	delete(bmap.bufs, blkno)
}

func (bmap *BufMap) Ndirty() uint64 {
	n := uint64(0)
	for _, buf := range bmap.bufs {
		if buf.dirty {
			n += 1
		}
	}
	return n
}

// DirtyBufs returns the dirty bufs in block order.
func (bmap *BufMap) DirtyBufs() []*Buf {
	bufs := make([]*Buf, 0, len(bmap.bufs))
	for _, b := range bmap.bufs {
		if b.dirty {
			bufs = append(bufs, b)
		}
	}
	sort.Slice(bufs, func(i, j int) bool { return bufs[i].Blkno < bufs[j].Blkno })
	return bufs
}
