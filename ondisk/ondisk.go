// Package ondisk encodes and decodes the journal's on-disk records.
//
// Every multi-byte field is big-endian. Decoders take a byte slice (usually
// a whole block) and an offset, and fail with ErrShortBuffer rather than
// reading past the end of the slice.
package ondisk

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/mit-pdos/go-jbd/common"
)

var ErrShortBuffer = errors.New("ondisk: buffer too short")

// BlockType is the kind of a journal block, stored in its header.
type BlockType uint32

const (
	DescriptorBlock BlockType = 1
	CommitBlock     BlockType = 2
	SuperblockV1    BlockType = 3
	SuperblockV2    BlockType = 4
	RevokeBlock     BlockType = 5
)

func (t BlockType) Valid() bool {
	return t >= DescriptorBlock && t <= RevokeBlock
}

func (t BlockType) String() string {
	switch t {
	case DescriptorBlock:
		return "descriptor"
	case CommitBlock:
		return "commit"
	case SuperblockV1:
		return "superblock-v1"
	case SuperblockV2:
		return "superblock-v2"
	case RevokeBlock:
		return "revoke"
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// TagFlag is the flag word of a BlockTag.
type TagFlag uint32

const (
	// FlagEscape: the first 4 bytes of the data held the magic number and were
	// zeroed in the log copy.
	FlagEscape TagFlag = 1 << iota
	// FlagSameUUID: no UUID follows this tag.
	FlagSameUUID
	FlagDeleted
	// FlagLastTag terminates the tag list of a descriptor.
	FlagLastTag
)

func (f TagFlag) Has(o TagFlag) bool {
	return f&o == o
}

func (f TagFlag) String() string {
	return fmt.Sprintf("escape=%t same_uuid=%t deleted=%t last_tag=%t",
		f.Has(FlagEscape), f.Has(FlagSameUUID), f.Has(FlagDeleted), f.Has(FlagLastTag))
}

const (
	HeaderSize       uint64 = 12
	TagSize          uint64 = 8
	UUIDSize         uint64 = 16
	RevokeHeaderSize uint64 = HeaderSize + 4
	SuperblockSize   uint64 = 1024
)

// Header starts every journal block.
type Header struct {
	Magic     uint32
	BlockType BlockType
	Sequence  common.Tid
}

func NewHeader(t BlockType, seq common.Tid) Header {
	return Header{Magic: common.Magic, BlockType: t, Sequence: seq}
}

func need(b []byte, off uint64, n uint64) error {
	if off+n < off || off+n > uint64(len(b)) {
		return errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d",
			n, off, len(b))
	}
	return nil
}

func DecodeHeader(b []byte) (Header, error) {
	if err := need(b, 0, HeaderSize); err != nil {
		return Header{}, err
	}
	return Header{
		Magic:     binary.BigEndian.Uint32(b[0:4]),
		BlockType: BlockType(binary.BigEndian.Uint32(b[4:8])),
		Sequence:  common.Tid(binary.BigEndian.Uint32(b[8:12])),
	}, nil
}

func (h Header) Encode(b []byte) error {
	if err := need(b, 0, HeaderSize); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[0:4], h.Magic)
	binary.BigEndian.PutUint32(b[4:8], uint32(h.BlockType))
	binary.BigEndian.PutUint32(b[8:12], uint32(h.Sequence))
	return nil
}

// BlockTag names the home location of one data block in a descriptor.
type BlockTag struct {
	BlockNr common.Bnum
	Flags   TagFlag
}

// Size is the on-disk footprint of the tag, including its UUID if present.
func (t BlockTag) Size() uint64 {
	if t.Flags.Has(FlagSameUUID) {
		return TagSize
	}
	return TagSize + UUIDSize
}

func DecodeTag(b []byte, off uint64) (BlockTag, error) {
	if err := need(b, off, TagSize); err != nil {
		return BlockTag{}, err
	}
	return BlockTag{
		BlockNr: binary.BigEndian.Uint32(b[off : off+4]),
		Flags:   TagFlag(binary.BigEndian.Uint32(b[off+4 : off+8])),
	}, nil
}

// Encode writes the tag at off, followed by uuid unless FlagSameUUID is set.
func (t BlockTag) Encode(b []byte, off uint64, uuid [16]byte) error {
	if err := need(b, off, t.Size()); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[off:off+4], t.BlockNr)
	binary.BigEndian.PutUint32(b[off+4:off+8], uint32(t.Flags))
	if !t.Flags.Has(FlagSameUUID) {
		copy(b[off+TagSize:off+TagSize+UUIDSize], uuid[:])
	}
	return nil
}

// WalkTags calls f for each tag of the descriptor block b, stopping after
// LAST_TAG or when the next tag would not fit.
func WalkTags(b []byte, f func(tag BlockTag, off uint64) error) error {
	off := HeaderSize
	for off+TagSize <= uint64(len(b)) {
		tag, err := DecodeTag(b, off)
		if err != nil {
			return err
		}
		if err := f(tag, off); err != nil {
			return err
		}
		off += tag.Size()
		if tag.Flags.Has(FlagLastTag) {
			break
		}
	}
	return nil
}

// CountTags reports how many data blocks follow the descriptor block b.
func CountTags(b []byte) uint64 {
	var n uint64
	WalkTags(b, func(BlockTag, uint64) error {
		n++
		return nil
	})
	return n
}

// RevokeHeader starts a revoke block. Count is the number of bytes in use,
// header included.
type RevokeHeader struct {
	Header
	Count uint32
}

func DecodeRevokeHeader(b []byte) (RevokeHeader, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return RevokeHeader{}, err
	}
	if err := need(b, HeaderSize, 4); err != nil {
		return RevokeHeader{}, err
	}
	return RevokeHeader{
		Header: h,
		Count:  binary.BigEndian.Uint32(b[HeaderSize:RevokeHeaderSize]),
	}, nil
}

func (h RevokeHeader) Encode(b []byte) error {
	if err := h.Header.Encode(b); err != nil {
		return err
	}
	if err := need(b, HeaderSize, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b[HeaderSize:RevokeHeaderSize], h.Count)
	return nil
}

// RevokeRecords decodes the block numbers of the revoke block b. A count
// beyond the block is clamped to the block.
func RevokeRecords(b []byte) ([]common.Bnum, error) {
	h, err := DecodeRevokeHeader(b)
	if err != nil {
		return nil, err
	}
	end := uint64(h.Count)
	if end > uint64(len(b)) {
		end = uint64(len(b))
	}
	var recs []common.Bnum
	for off := RevokeHeaderSize; off+4 <= end; off += 4 {
		recs = append(recs, binary.BigEndian.Uint32(b[off:off+4]))
	}
	return recs, nil
}

// EncodeRevokeBlock fills b with a revoke block holding as many of recs as
// fit, and returns how many were written.
func EncodeRevokeBlock(b []byte, seq common.Tid, recs []common.Bnum) (int, error) {
	off := RevokeHeaderSize
	n := 0
	for ; n < len(recs) && off+4 <= uint64(len(b)); n++ {
		binary.BigEndian.PutUint32(b[off:off+4], recs[n])
		off += 4
	}
	h := RevokeHeader{Header: NewHeader(RevokeBlock, seq), Count: uint32(off)}
	if err := h.Encode(b); err != nil {
		return 0, err
	}
	return n, nil
}

// RevokesPerBlock is the number of records one revoke block holds.
func RevokesPerBlock(blockSize uint64) uint64 {
	return (blockSize - RevokeHeaderSize) / 4
}

// TagsPerDescriptor is the number of tags one descriptor holds when only the
// first tag carries a UUID.
func TagsPerDescriptor(blockSize uint64) uint64 {
	space := blockSize - HeaderSize
	if space < TagSize+UUIDSize {
		return 0
	}
	return 1 + (space-TagSize-UUIDSize)/TagSize
}

// NeedsEscape reports whether data would be mistaken for a journal block.
func NeedsEscape(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data[0:4]) == common.Magic
}

// Escape zeroes the magic number at the start of data.
func Escape(data []byte) {
	copy(data[0:4], []byte{0, 0, 0, 0})
}

// Unescape restores the magic number at the start of data.
func Unescape(data []byte) {
	binary.BigEndian.PutUint32(data[0:4], common.Magic)
}
