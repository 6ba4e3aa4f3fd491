package wal

import (
	"github.com/google/uuid"

	"github.com/mit-pdos/go-jbd/bcache"
	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/ondisk"
)

// countingDevice counts buffer fetches.
type countingDevice struct {
	*bcache.Cache
	gets int
}

func (c *countingDevice) Get(blkno uint64) (buf.Buffer, error) {
	c.gets++
	return c.Cache.Get(blkno)
}

var testUUID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func mkBlock(b byte) disk.Block {
	block := make(disk.Block, disk.BlockSize)
	for i := range block {
		block[i] = b
	}
	return block
}

func descriptorBlock(seq common.Tid, tags ...ondisk.BlockTag) disk.Block {
	b := make(disk.Block, disk.BlockSize)
	ondisk.NewHeader(ondisk.DescriptorBlock, seq).Encode(b)
	off := ondisk.HeaderSize
	for _, tag := range tags {
		tag.Encode(b, off, testUUID)
		off += tag.Size()
	}
	return b
}

func commitBlock(seq common.Tid) disk.Block {
	b := make(disk.Block, disk.BlockSize)
	ondisk.NewHeader(ondisk.CommitBlock, seq).Encode(b)
	return b
}

func revokeBlock(seq common.Tid, recs ...common.Bnum) disk.Block {
	b := make(disk.Block, disk.BlockSize)
	ondisk.EncodeRevokeBlock(b, seq, recs)
	return b
}

func lastTag(blk common.Bnum) ondisk.BlockTag {
	return ondisk.BlockTag{BlockNr: blk, Flags: ondisk.FlagLastTag}
}

// testSuperblock describes a journal at device blocks [0, maxlen) whose log
// ring is [first, maxlen).
func testSuperblock(first, maxlen, start uint32, seq common.Tid) *ondisk.Superblock {
	return &ondisk.Superblock{
		Header:    ondisk.NewHeader(ondisk.SuperblockV2, 0),
		BlockSize: uint32(common.BlockSize),
		Maxlen:    maxlen,
		First:     first,
		Sequence:  seq,
		Start:     start,
		UUID:      testUUID,
	}
}
