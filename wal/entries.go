package wal

import (
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/ondisk"
)

// Entry is one metadata block found walking the log.
type Entry struct {
	Blk      uint32
	Type     ondisk.BlockType
	Sequence common.Tid
	Tags     []ondisk.BlockTag
	Revokes  []common.Bnum
}

// Entries walks the log from the superblock's start the way the scan pass
// does, without changing anything, and reports each block it recognises.
func (l *Log) Entries() ([]Entry, error) {
	var ents []Entry
	if l.sb.Start == 0 {
		return ents, nil
	}
	next := l.sb.Start
	seq := l.sb.Sequence
	for steps := uint32(0); steps < l.capacity(); steps++ {
		blk := next
		b, err := l.readBlock(next)
		if err != nil {
			return ents, err
		}
		next = l.wrap(next + 1)
		h, err := ondisk.DecodeHeader(b.Data())
		if err != nil || h.Magic != common.Magic || h.Sequence != seq || !h.BlockType.Valid() {
			b.Release()
			return ents, err
		}
		e := Entry{Blk: blk, Type: h.BlockType, Sequence: h.Sequence}
		switch h.BlockType {
		case ondisk.DescriptorBlock:
			ondisk.WalkTags(b.Data(), func(tag ondisk.BlockTag, _ uint64) error {
				e.Tags = append(e.Tags, tag)
				return nil
			})
			next = l.advance(next, uint64(len(e.Tags)))
		case ondisk.RevokeBlock:
			e.Revokes, err = ondisk.RevokeRecords(b.Data())
		case ondisk.CommitBlock:
			seq++
		}
		b.Release()
		if err != nil {
			return ents, err
		}
		ents = append(ents, e)
		if h.BlockType != ondisk.DescriptorBlock && h.BlockType != ondisk.CommitBlock &&
			h.BlockType != ondisk.RevokeBlock {
			break
		}
	}
	return ents, nil
}
