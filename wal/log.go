package wal

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/ondisk"
	"github.com/mit-pdos/go-jbd/revoke"
)

// Log is the journal engine. It is not safe for concurrent use; callers
// serialize commits.
type Log struct {
	devs    Devices
	sb      *ondisk.Superblock
	metrics Metrics

	// geometry, journal-relative
	first  uint32
	last   uint32
	maxlen uint32

	// head is the next block to write; tail is the oldest live block, 0
	// when the log is empty
	head         uint32
	tail         uint32
	tailSequence common.Tid
	free         uint32

	// transactionSequence is the tid the next commit gets
	transactionSequence common.Tid

	revoke    *revoke.Table
	committed *committed
}

// MkLog builds the engine for a journal described by sb. It does not
// recover; see Open.
func MkLog(devs Devices, sb *ondisk.Superblock, m Metrics) (*Log, error) {
	if sb.First+common.MinJournalBlocks > sb.Maxlen+1 {
		logger.Error("journal too small", "first", sb.First, "last", sb.Maxlen)
		return nil, errors.Wrapf(ErrJournalTooSmall, "blocks %d-%d", sb.First, sb.Maxlen)
	}
	l := &Log{
		devs:                devs,
		sb:                  sb,
		metrics:             m,
		first:               sb.First,
		last:                sb.Maxlen,
		maxlen:              sb.Maxlen,
		head:                sb.First,
		tail:                sb.Start,
		tailSequence:        sb.Sequence,
		free:                sb.Maxlen - sb.First,
		transactionSequence: sb.Sequence,
		revoke:              revoke.MkTable(),
		committed:           mkCommitted(),
	}
	return l, nil
}

// Open validates the superblock, recovers the log and resets it for new
// transactions.
func Open(devs Devices, m Metrics) (*Log, RecoveryInfo, error) {
	sb, err := ReadSuperblock(devs)
	if err != nil {
		return nil, RecoveryInfo{}, err
	}
	if err := ValidateSuperblock(sb, devs.Blocks); err != nil {
		return nil, RecoveryInfo{}, err
	}
	l, err := MkLog(devs, sb, m)
	if err != nil {
		return nil, RecoveryInfo{}, err
	}
	info, err := l.Recover()
	if err != nil {
		return nil, info, err
	}
	if err := l.Reset(); err != nil {
		return nil, info, err
	}
	return l, info, nil
}

// Reset starts a fresh journaling session on an empty log.
func (l *Log) Reset() error {
	l.head = l.first
	l.tail = 0
	l.tailSequence = l.transactionSequence
	l.free = l.capacity()
	l.committed = mkCommitted()
	l.revoke.Clear()
	l.setLogFree()
	return l.updateSuperblock()
}

// updateSuperblock persists the tail and its sequence.
func (l *Log) updateSuperblock() error {
	l.sb.Start = l.tail
	l.sb.Sequence = l.tailSequence
	if err := writeSuperblock(l.devs, l.sb); err != nil {
		return err
	}
	return l.devs.Journal.Barrier()
}

// readBlock fetches journal block offset.
func (l *Log) readBlock(offset uint32) (buf.Buffer, error) {
	if offset >= l.maxlen {
		return nil, errors.Wrapf(ErrInvalidSuperblock, "log block %d beyond maxlen %d",
			offset, l.maxlen)
	}
	return l.devs.Journal.Get(uint64(offset) + l.devs.Offset)
}

// fsBlock fetches a filesystem block by its own address.
func (l *Log) fsBlock(blkno common.Bnum) (buf.Buffer, error) {
	return l.devs.fs().Get(uint64(blkno))
}

func (l *Log) setLogFree() {
	if l.metrics != nil {
		l.metrics.SetLogFree(uint64(l.free))
	}
}

// UUID is the journal's identity, stamped into descriptor tags.
func (l *Log) UUID() uuid.UUID {
	return l.sb.UUID
}

// Superblock returns a copy of the in-memory superblock.
func (l *Log) Superblock() ondisk.Superblock {
	return *l.sb
}

// NextTid is the tid the next commit will get.
func (l *Log) NextTid() common.Tid {
	return l.transactionSequence
}

// Free is the number of unused log blocks.
func (l *Log) Free() uint32 {
	return l.free
}

// LogSz is the largest transaction the log can hold, in log blocks.
func (l *Log) LogSz() uint32 {
	return l.capacity()
}

// Empty reports whether nothing in the log awaits checkpointing.
func (l *Log) Empty() bool {
	return l.tail == 0
}
