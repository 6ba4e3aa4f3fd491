// Package disk provides block devices for the journal and the filesystem
// it protects.
package disk

import (
	"github.com/cockroachdb/errors"

	"github.com/mit-pdos/go-jbd/common"
)

// Block is a BlockSize-byte buffer
type Block = []byte

const BlockSize = common.BlockSize

var (
	// ErrOutOfBounds is returned for an address at or beyond Size().
	ErrOutOfBounds = errors.New("disk: block address out of bounds")

	// ErrBlockSize is returned when a buffer is not exactly BlockSize bytes.
	ErrBlockSize = errors.New("disk: buffer is not block-sized")
)

// Disk provides access to a logical block-based disk
type Disk interface {
	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

func checkAddr(a uint64, numBlocks uint64) error {
	if a >= numBlocks {
		return errors.Wrapf(ErrOutOfBounds, "block %d of %d", a, numBlocks)
	}
	return nil
}

func checkBlock(b Block) error {
	if uint64(len(b)) != BlockSize {
		return errors.Wrapf(ErrBlockSize, "%d bytes", len(b))
	}
	return nil
}

// readBlock implements Read in terms of ReadTo.
func readBlock(d Disk, a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	if err := d.ReadTo(a, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
