package ondisk

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-jbd/common"
)

// Superblock occupies the first SuperblockSize bytes of journal block 0.
type Superblock struct {
	Header

	// static
	BlockSize uint32
	Maxlen    uint32
	First     uint32

	// dynamic: the first commit ID expected in the log and the block where
	// it begins; Start == 0 means the log is empty
	Sequence common.Tid
	Start    uint32

	Errno int32

	// version 2 only
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32
	UUID            uuid.UUID
	NrUsers         uint32
	DynSuper        uint32
	MaxTransaction  uint32
	MaxTransData    uint32
}

const (
	sbBlockSize       = 12
	sbMaxlen          = 16
	sbFirst           = 20
	sbSequence        = 24
	sbStart           = 28
	sbErrno           = 32
	sbFeatureCompat   = 36
	sbFeatureIncompat = 40
	sbFeatureRoCompat = 44
	sbUUID            = 48
	sbNrUsers         = 64
	sbDynSuper        = 68
	sbMaxTransaction  = 72
	sbMaxTransData    = 76
)

func DecodeSuperblock(b []byte) (*Superblock, error) {
	if err := need(b, 0, SuperblockSize); err != nil {
		return nil, err
	}
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	be := binary.BigEndian
	sb := &Superblock{
		Header:          h,
		BlockSize:       be.Uint32(b[sbBlockSize:]),
		Maxlen:          be.Uint32(b[sbMaxlen:]),
		First:           be.Uint32(b[sbFirst:]),
		Sequence:        common.Tid(be.Uint32(b[sbSequence:])),
		Start:           be.Uint32(b[sbStart:]),
		Errno:           int32(be.Uint32(b[sbErrno:])),
		FeatureCompat:   be.Uint32(b[sbFeatureCompat:]),
		FeatureIncompat: be.Uint32(b[sbFeatureIncompat:]),
		FeatureRoCompat: be.Uint32(b[sbFeatureRoCompat:]),
		NrUsers:         be.Uint32(b[sbNrUsers:]),
		DynSuper:        be.Uint32(b[sbDynSuper:]),
		MaxTransaction:  be.Uint32(b[sbMaxTransaction:]),
		MaxTransData:    be.Uint32(b[sbMaxTransData:]),
	}
	copy(sb.UUID[:], b[sbUUID:sbUUID+UUIDSize])
	return sb, nil
}

// Encode writes sb into the first SuperblockSize bytes of b, zeroing the
// padding and user table.
func (sb *Superblock) Encode(b []byte) error {
	if err := need(b, 0, SuperblockSize); err != nil {
		return err
	}
	for i := range b[:SuperblockSize] {
		b[i] = 0
	}
	if err := sb.Header.Encode(b); err != nil {
		return err
	}
	be := binary.BigEndian
	be.PutUint32(b[sbBlockSize:], sb.BlockSize)
	be.PutUint32(b[sbMaxlen:], sb.Maxlen)
	be.PutUint32(b[sbFirst:], sb.First)
	be.PutUint32(b[sbSequence:], uint32(sb.Sequence))
	be.PutUint32(b[sbStart:], sb.Start)
	be.PutUint32(b[sbErrno:], uint32(sb.Errno))
	be.PutUint32(b[sbFeatureCompat:], sb.FeatureCompat)
	be.PutUint32(b[sbFeatureIncompat:], sb.FeatureIncompat)
	be.PutUint32(b[sbFeatureRoCompat:], sb.FeatureRoCompat)
	copy(b[sbUUID:sbUUID+UUIDSize], sb.UUID[:])
	be.PutUint32(b[sbNrUsers:], sb.NrUsers)
	be.PutUint32(b[sbDynSuper:], sb.DynSuper)
	be.PutUint32(b[sbMaxTransaction:], sb.MaxTransaction)
	be.PutUint32(b[sbMaxTransData:], sb.MaxTransData)
	return nil
}
