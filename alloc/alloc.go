package alloc

import (
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/jrnl"
	"github.com/mit-pdos/go-jbd/util"
)

const (
	NBITBLOCK uint64 = common.BlockSize * 8
)

var (
	ErrNoSpace    = errors.New("alloc: no free numbers")
	ErrOutOfRange = errors.New("alloc: number out of range")
	ErrNotInUse   = errors.New("alloc: freeing a free number")
)

// Alloc hands out numbers in [1, max) from a bitmap kept in journaled
// blocks starting at start. Bit n of the bitmap is number n; number 0 is
// never allocated. Every change goes through the caller's jrnl.Op, so an
// allocation commits (or is lost in a crash) together with the rest of the
// operation.
//
// Callers lock the bitmap blocks (see Blocks) across an operation that
// allocates or frees.
type Alloc struct {
	lock  *sync.Mutex // protects next
	start common.Bnum
	len   uint64
	max   uint64
	next  uint64 // first number to try
}

func MkAlloc(start common.Bnum, max uint64) *Alloc {
	a := &Alloc{
		lock:  new(sync.Mutex),
		start: start,
		len:   util.RoundUp(max, NBITBLOCK),
		max:   max,
		next:  0,
	}
	return a
}

// Blocks lists the bitmap blocks.
func (a *Alloc) Blocks() []common.Bnum {
	var bs []common.Bnum
	for i := uint64(0); i < a.len; i++ {
		bs = append(bs, a.start+common.Bnum(i))
	}
	return bs
}

func (a *Alloc) incNext() uint64 {
	a.lock.Lock()
	a.next = a.next + 1
	if a.next >= a.max {
		a.next = 1
	}
	num := a.next
	a.lock.Unlock()
	return num
}

// bitmapBuf returns the buf holding bit n and the bit's byte offset and mask
// within it.
func (a *Alloc) bitmapBuf(op *jrnl.Op, n uint64) (*buf.Buf, uint64, byte, error) {
	if n == 0 || n >= a.max {
		return nil, 0, 0, errors.Wrapf(ErrOutOfRange, "%d not in [1, %d)", n, a.max)
	}
	i := n / NBITBLOCK
	bit := n % NBITBLOCK
	b, err := op.ReadBuf(a.start + common.Bnum(i))
	if err != nil {
		return nil, 0, 0, err
	}
	util.DPrintf(15, "bitmapBuf: num %d blk %d\n", n, b.Blkno)
	return b, bit / 8, 1 << (bit % 8), nil
}

// AllocNum marks a free number used in op and returns it.
func (a *Alloc) AllocNum(op *jrnl.Op) (uint64, error) {
	if a.max <= 1 {
		return 0, ErrNoSpace
	}
	num := a.incNext()
	start := num
	for {
		b, off, mask, err := a.bitmapBuf(op, num)
		if err != nil {
			return 0, err
		}
		if b.Data[off]&mask == 0 {
			b.Data[off] |= mask
			b.SetDirty()
			return num, nil
		}
		num = a.incNext()
		if num == start {
			return 0, ErrNoSpace
		}
	}
}

// MarkUsed marks num used whether or not it was free.
func (a *Alloc) MarkUsed(op *jrnl.Op, num uint64) error {
	b, off, mask, err := a.bitmapBuf(op, num)
	if err != nil {
		return err
	}
	b.Data[off] |= mask
	b.SetDirty()
	return nil
}

func (a *Alloc) FreeNum(op *jrnl.Op, num uint64) error {
	b, off, mask, err := a.bitmapBuf(op, num)
	if err != nil {
		return err
	}
	if b.Data[off]&mask == 0 {
		return errors.Wrapf(ErrNotInUse, "number %d", num)
	}
	b.Data[off] &^= mask
	b.SetDirty()
	return nil
}

func popCnt(b byte) uint64 {
	return uint64(bits.OnesCount8(b))
}

// NumFree counts the free numbers as op sees the bitmap.
func (a *Alloc) NumFree(op *jrnl.Op) (uint64, error) {
	var used uint64
	for i, bn := range a.Blocks() {
		b, err := op.ReadBuf(bn)
		if err != nil {
			return 0, err
		}
		for off, x := range b.Data {
			n := uint64(i)*NBITBLOCK + uint64(off)*8
			if n >= a.max {
				break
			}
			if n+8 > a.max {
				x &= byte(1<<(a.max-n)) - 1
			}
			if n == 0 {
				x &^= 1
			}
			used += popCnt(x)
		}
	}
	return a.max - 1 - used, nil
}
