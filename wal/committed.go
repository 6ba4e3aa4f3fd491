package wal

import (
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/util"
)

type Update struct {
	Addr  common.Bnum
	Block disk.Block
}

func MkBlockData(bn common.Bnum, blk disk.Block) Update {
	b := Update{Addr: bn, Block: blk}
	return b
}

// committed holds updates that are durable in the log but not yet installed
// at their home location, in commit order.
type committed struct {
	log     []Update
	addrPos map[common.Bnum]int
}

func mkCommitted() *committed {
	return &committed{
		addrPos: make(map[common.Bnum]int),
	}
}

// append records u, superseding any earlier update to the same block.
func (c *committed) append(u Update) {
	if pos, ok := c.addrPos[u.Addr]; ok {
		util.DPrintf(5, "committed: absorb %d pos %d\n", u.Addr, pos)
		c.log[pos] = u
		return
	}
	c.addrPos[u.Addr] = len(c.log)
	c.log = append(c.log, u)
}

// drop forgets the pending update to a revoked block.
func (c *committed) drop(blkno common.Bnum) {
	pos, ok := c.addrPos[blkno]
	if !ok {
		return
	}
	c.log = append(c.log[:pos], c.log[pos+1:]...)
	delete(c.addrPos, blkno)
	for i := pos; i < len(c.log); i++ {
		c.addrPos[c.log[i].Addr] = i
	}
}

func (c *committed) read(blkno common.Bnum) (disk.Block, bool) {
	pos, ok := c.addrPos[blkno]
	if !ok {
		return nil, false
	}
	return util.CloneByteSlice(c.log[pos].Block), true
}

func (c *committed) len() int {
	return len(c.log)
}
