package wal

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/ondisk"
)

// ReadSuperblock decodes the superblock at journal block 0.
func ReadSuperblock(devs Devices) (*ondisk.Superblock, error) {
	b, err := devs.Journal.Get(devs.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "read journal superblock")
	}
	defer b.Release()
	return ondisk.DecodeSuperblock(b.Data())
}

// ValidateSuperblock checks sb against a journal region of regionBlocks.
func ValidateSuperblock(sb *ondisk.Superblock, regionBlocks uint64) error {
	if sb.Magic != common.Magic || uint64(sb.BlockSize) != common.BlockSize {
		logger.Error("invalid journal superblock magic number or block size",
			"magic", sb.Magic, "block_size", sb.BlockSize)
		return errors.Wrapf(ErrInvalidSuperblock, "magic %#x block size %d",
			sb.Magic, sb.BlockSize)
	}
	if sb.BlockType != ondisk.SuperblockV1 && sb.BlockType != ondisk.SuperblockV2 {
		logger.Error("invalid journal superblock block type", "type", sb.BlockType)
		return errors.Wrapf(ErrInvalidSuperblock, "block type %s", sb.BlockType)
	}
	if uint64(sb.Maxlen) > regionBlocks {
		logger.Error("journal too short", "maxlen", sb.Maxlen, "region", regionBlocks)
		return errors.Wrapf(ErrInvalidSuperblock, "maxlen %d exceeds region of %d blocks",
			sb.Maxlen, regionBlocks)
	}
	if sb.First == 0 || sb.First >= sb.Maxlen {
		logger.Error("journal has invalid first block", "first", sb.First, "maxlen", sb.Maxlen)
		return errors.Wrapf(ErrInvalidSuperblock, "first block %d of %d", sb.First, sb.Maxlen)
	}
	return nil
}

// Format zeroes the journal region and writes a fresh version 2 superblock.
func Format(devs Devices, id uuid.UUID) (*ondisk.Superblock, error) {
	if devs.Blocks < uint64(common.MinJournalBlocks) || devs.Blocks > uint64(^uint32(0)) {
		return nil, errors.Wrapf(ErrJournalTooSmall, "%d blocks", devs.Blocks)
	}
	for i := uint64(0); i < devs.Blocks; i++ {
		if err := zeroBlock(devs.Journal, devs.Offset+i); err != nil {
			return nil, err
		}
	}
	sb := &ondisk.Superblock{
		Header:         ondisk.NewHeader(ondisk.SuperblockV2, 0),
		BlockSize:      uint32(common.BlockSize),
		Maxlen:         uint32(devs.Blocks),
		First:          1,
		Sequence:       1,
		Start:          0,
		UUID:           id,
		NrUsers:        1,
		MaxTransaction: uint32(devs.Blocks - 1),
	}
	if err := writeSuperblock(devs, sb); err != nil {
		return nil, err
	}
	if err := devs.Journal.Barrier(); err != nil {
		return nil, err
	}
	logger.Info("formatted journal", "blocks", devs.Blocks, "uuid", id.String())
	return sb, nil
}

func zeroBlock(dev buf.Provider, blkno uint64) error {
	b, err := dev.Get(blkno)
	if err != nil {
		return err
	}
	defer b.Release()
	data := b.Data()
	for i := range data {
		data[i] = 0
	}
	b.Set(buf.Dirty)
	return b.Sync()
}

func writeSuperblock(devs Devices, sb *ondisk.Superblock) error {
	b, err := devs.Journal.Get(devs.Offset)
	if err != nil {
		return errors.Wrap(err, "write journal superblock")
	}
	defer b.Release()
	if err := sb.Encode(b.Data()); err != nil {
		return err
	}
	b.Set(buf.Dirty)
	return b.Sync()
}
