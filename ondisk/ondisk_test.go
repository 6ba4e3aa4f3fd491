package ondisk

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-jbd/common"
)

func TestHeaderBigEndian(t *testing.T) {
	b := make([]byte, common.BlockSize)
	require.NoError(t, NewHeader(CommitBlock, 7).Encode(b))
	assert.Equal(t, []byte{0xC0, 0x3B, 0x39, 0x98, 0, 0, 0, 2, 0, 0, 0, 7}, b[:12])

	h, err := DecodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, common.Magic, h.Magic)
	assert.Equal(t, CommitBlock, h.BlockType)
	assert.Equal(t, common.Tid(7), h.Sequence)
}

func TestShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 11))
	assert.True(t, errors.Is(err, ErrShortBuffer))

	_, err = DecodeTag(make([]byte, 20), 16)
	assert.True(t, errors.Is(err, ErrShortBuffer))

	_, err = DecodeRevokeHeader(make([]byte, 14))
	assert.True(t, errors.Is(err, ErrShortBuffer))

	_, err = DecodeSuperblock(make([]byte, 512))
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestBlockTypeValid(t *testing.T) {
	assert.False(t, BlockType(0).Valid())
	assert.True(t, DescriptorBlock.Valid())
	assert.True(t, RevokeBlock.Valid())
	assert.False(t, BlockType(6).Valid())
	assert.Equal(t, "commit", CommitBlock.String())
	assert.Equal(t, "unknown(9)", BlockType(9).String())
}

func TestTagFlags(t *testing.T) {
	f := FlagEscape | FlagLastTag
	assert.True(t, f.Has(FlagEscape))
	assert.False(t, f.Has(FlagSameUUID))
	assert.False(t, f.Has(FlagDeleted))
	assert.True(t, f.Has(FlagLastTag))
	assert.Equal(t, TagFlag(1), FlagEscape)
	assert.Equal(t, TagFlag(2), FlagSameUUID)
	assert.Equal(t, TagFlag(4), FlagDeleted)
	assert.Equal(t, TagFlag(8), FlagLastTag)
}

func TestTagSizes(t *testing.T) {
	b := make([]byte, common.BlockSize)
	id := uuid.New()
	off := HeaderSize
	t0 := BlockTag{BlockNr: 42}
	require.NoError(t, t0.Encode(b, off, id))
	assert.Equal(t, id[:], b[off+TagSize:off+TagSize+UUIDSize])
	off += t0.Size()
	assert.Equal(t, HeaderSize+24, off)

	t1 := BlockTag{BlockNr: 43, Flags: FlagSameUUID | FlagLastTag}
	require.NoError(t, t1.Encode(b, off, id))

	got, err := DecodeTag(b, off)
	require.NoError(t, err)
	assert.Equal(t, t1, got)
	assert.Equal(t, TagSize, got.Size())
}

func descriptor(tags ...BlockTag) []byte {
	b := make([]byte, common.BlockSize)
	NewHeader(DescriptorBlock, 1).Encode(b)
	off := HeaderSize
	for _, tag := range tags {
		tag.Encode(b, off, uuid.UUID{})
		off += tag.Size()
	}
	return b
}

func TestCountTags(t *testing.T) {
	b := descriptor(
		BlockTag{BlockNr: 1},
		BlockTag{BlockNr: 2, Flags: FlagSameUUID},
		BlockTag{BlockNr: 3, Flags: FlagSameUUID | FlagLastTag},
		BlockTag{BlockNr: 4, Flags: FlagSameUUID},
	)
	assert.Equal(t, uint64(3), CountTags(b))

	var seen []common.Bnum
	WalkTags(b, func(tag BlockTag, off uint64) error {
		seen = append(seen, tag.BlockNr)
		return nil
	})
	assert.Equal(t, []common.Bnum{1, 2, 3}, seen)
}

func TestCountTagsNoLastTag(t *testing.T) {
	// every tag carries a UUID and none is last: walk until the block is full
	b := make([]byte, 64)
	NewHeader(DescriptorBlock, 1).Encode(b)
	// 12 header + 24 + 24 = 60, the next 8-byte tag does not fit
	assert.Equal(t, uint64(2), CountTags(b))
}

func TestTagsPerDescriptor(t *testing.T) {
	n := TagsPerDescriptor(common.BlockSize)
	assert.Equal(t, uint64(1+(4096-12-24)/8), n)
	tags := make([]BlockTag, n)
	for i := range tags {
		tags[i] = BlockTag{BlockNr: common.Bnum(i), Flags: FlagSameUUID}
	}
	tags[0].Flags = 0
	tags[n-1].Flags |= FlagLastTag
	assert.Equal(t, n, CountTags(descriptor(tags...)))
}

func TestRevokeBlock(t *testing.T) {
	b := make([]byte, common.BlockSize)
	recs := []common.Bnum{5, 9, 1000}
	n, err := EncodeRevokeBlock(b, 3, recs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	h, err := DecodeRevokeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, RevokeBlock, h.BlockType)
	assert.Equal(t, common.Tid(3), h.Sequence)
	assert.Equal(t, uint32(RevokeHeaderSize+12), h.Count)

	got, err := RevokeRecords(b)
	require.NoError(t, err)
	assert.Equal(t, recs, got)
}

func TestRevokeBlockFull(t *testing.T) {
	per := RevokesPerBlock(common.BlockSize)
	recs := make([]common.Bnum, per+10)
	for i := range recs {
		recs[i] = common.Bnum(i)
	}
	b := make([]byte, common.BlockSize)
	n, err := EncodeRevokeBlock(b, 1, recs)
	require.NoError(t, err)
	assert.Equal(t, int(per), n)
	got, err := RevokeRecords(b)
	require.NoError(t, err)
	assert.Equal(t, recs[:per], got)
}

func TestRevokeCountClamped(t *testing.T) {
	b := make([]byte, 32)
	RevokeHeader{Header: NewHeader(RevokeBlock, 1), Count: 1 << 20}.Encode(b)
	binary.BigEndian.PutUint32(b[16:], 77)
	got, err := RevokeRecords(b)
	require.NoError(t, err)
	assert.Equal(t, []common.Bnum{77, 0, 0, 0}, got)
}

func TestSuperblock(t *testing.T) {
	sb := &Superblock{
		Header:         NewHeader(SuperblockV2, 0),
		BlockSize:      4096,
		Maxlen:         1024,
		First:          1,
		Sequence:       12,
		Start:          7,
		Errno:          -5,
		FeatureCompat:  1,
		UUID:           uuid.New(),
		NrUsers:        1,
		MaxTransaction: 256,
	}
	b := make([]byte, common.BlockSize)
	for i := range b {
		b[i] = 0xff
	}
	require.NoError(t, sb.Encode(b))
	assert.Equal(t, byte(0), b[SuperblockSize-1], "padding should be zeroed")
	assert.Equal(t, byte(0xff), b[SuperblockSize], "rest of block untouched")
	assert.Equal(t, []byte{0, 0, 0, 7}, b[28:32])

	got, err := DecodeSuperblock(b)
	require.NoError(t, err)
	if diff := cmp.Diff(sb, got); diff != "" {
		t.Errorf("superblock mismatch (-want +got):\n%s", diff)
	}
}

func TestEscape(t *testing.T) {
	data := make([]byte, 16)
	Unescape(data)
	data[4] = 9
	assert.True(t, NeedsEscape(data))
	Escape(data)
	assert.False(t, NeedsEscape(data))
	assert.Equal(t, byte(9), data[4])
	Unescape(data)
	assert.True(t, NeedsEscape(data))
	assert.False(t, NeedsEscape(data[:3]))
}
