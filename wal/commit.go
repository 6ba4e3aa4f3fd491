package wal

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/ondisk"
	"github.com/mit-pdos/go-jbd/util"
)

// txnBlocks is the number of log blocks a transaction occupies.
func txnBlocks(nupdates uint64, nrevokes uint64) uint64 {
	revokeBlocks := util.RoundUp(nrevokes, ondisk.RevokesPerBlock(common.BlockSize))
	descBlocks := util.RoundUp(nupdates, ondisk.TagsPerDescriptor(common.BlockSize))
	return revokeBlocks + descBlocks + nupdates + 1
}

// CommitTxn durably logs one transaction: revocations of the blocks in
// revokes and new contents for the blocks in updates. It returns the
// transaction's tid.
//
// The log is checkpointed first if the transaction does not fit in the free
// space.
func (l *Log) CommitTxn(updates []Update, revokes []common.Bnum) (common.Tid, error) {
	begin := time.Now()
	n := txnBlocks(uint64(len(updates)), uint64(len(revokes)))
	if n > uint64(l.capacity()) {
		return 0, errors.Wrapf(ErrNotEnoughSpace, "transaction needs %d log blocks, log holds %d",
			n, l.capacity())
	}
	if n > uint64(l.free) {
		util.DPrintf(1, "CommitTxn: log full (%d free, need %d); checkpoint\n", l.free, n)
		if err := l.Checkpoint(); err != nil {
			return 0, err
		}
	}

	tid := l.transactionSequence
	pos := l.position()
	if err := l.logTxn(tid, updates, revokes); err != nil {
		logger.Warn("commit failed, rolling back log head", "tid", tid, "error", err)
		l.rollback(pos)
		return 0, err
	}

	for _, blk := range revokes {
		l.committed.drop(blk)
		l.setJbdDirty(blk, false)
	}
	for _, u := range updates {
		l.committed.append(Update{Addr: u.Addr, Block: util.CloneByteSlice(u.Block)})
		l.setJbdDirty(u.Addr, true)
	}
	l.transactionSequence++

	if l.metrics != nil {
		l.metrics.ObserveCommit(n, time.Since(begin))
	}
	l.setLogFree()
	return tid, nil
}

// logPosition is the part of the log's state a commit moves.
type logPosition struct {
	head         uint32
	free         uint32
	tail         uint32
	tailSequence common.Tid
}

func (l *Log) position() logPosition {
	return logPosition{head: l.head, free: l.free, tail: l.tail, tailSequence: l.tailSequence}
}

// rollback returns the log to pos after a failed commit, so the next commit
// reuses the same log blocks and tid and recovery never meets a hole before
// it.
func (l *Log) rollback(pos logPosition) {
	movedTail := l.tail != pos.tail
	l.head = pos.head
	l.free = pos.free
	l.tail = pos.tail
	l.tailSequence = pos.tailSequence
	if !movedTail {
		return
	}
	// if this fails the on-disk start still names the retry's block and tid
	if err := l.updateSuperblock(); err != nil {
		logger.Warn("could not restore journal superblock", "error", err)
	}
}

// logTxn writes the transaction's records to the log. The commit block is
// written only once everything it covers is durable.
func (l *Log) logTxn(tid common.Tid, updates []Update, revokes []common.Bnum) error {
	if l.tail == 0 {
		// the first transaction after an empty log moves the tail
		l.tail = l.head
		l.tailSequence = tid
		if err := l.updateSuperblock(); err != nil {
			return err
		}
	}

	logger.Debug("committing transaction", "tid", tid, "updates", len(updates),
		"revokes", len(revokes), "log_start", l.head)
	if err := l.writeRevokeRecords(tid, revokes); err != nil {
		return err
	}
	if err := l.writeDescriptors(tid, updates); err != nil {
		return err
	}
	if err := l.devs.Journal.Barrier(); err != nil {
		return err
	}
	if err := l.writeCommit(tid); err != nil {
		return err
	}
	return l.devs.Journal.Barrier()
}

// setJbdDirty flags the home buffer of blkno as held by the log until
// checkpoint. The transaction is already durable, so a failure here is only
// logged.
func (l *Log) setJbdDirty(blkno common.Bnum, on bool) {
	b, err := l.fsBlock(blkno)
	if err != nil {
		logger.Warn("cannot flag logged block", "block", blkno, "error", err)
		return
	}
	if on {
		b.Set(buf.JbdDirty)
	} else {
		b.Clear(buf.JbdDirty)
	}
	b.Release()
}

// writeLogBlock claims the next log block, lets fill write its contents and
// syncs it.
func (l *Log) writeLogBlock(fill func(data []byte) error) error {
	blk := l.nextLogBlock()
	b, err := l.readBlock(blk)
	if err != nil {
		return err
	}
	defer b.Release()
	data := b.Data()
	for i := range data {
		data[i] = 0
	}
	if err := fill(data); err != nil {
		return err
	}
	b.Set(buf.Dirty)
	return b.Sync()
}

func (l *Log) writeRevokeRecords(tid common.Tid, revokes []common.Bnum) error {
	recs := revokes
	for len(recs) > 0 {
		var n int
		err := l.writeLogBlock(func(data []byte) error {
			var err error
			n, err = ondisk.EncodeRevokeBlock(data, tid, recs)
			return err
		})
		if err != nil {
			return err
		}
		recs = recs[n:]
	}
	if len(revokes) > 0 {
		util.DPrintf(3, "wrote %d revoke records for txn %d\n", len(revokes), tid)
	}
	return nil
}

// writeDescriptors writes each descriptor block followed by the data blocks
// its tags describe.
func (l *Log) writeDescriptors(tid common.Tid, updates []Update) error {
	per := int(ondisk.TagsPerDescriptor(common.BlockSize))
	id := l.sb.UUID
	for start := 0; start < len(updates); start += per {
		end := start + per
		if end > len(updates) {
			end = len(updates)
		}
		chunk := updates[start:end]

		desc, err := l.readBlock(l.nextLogBlock())
		if err != nil {
			return err
		}
		data := desc.Data()
		for i := range data {
			data[i] = 0
		}
		if err := ondisk.NewHeader(ondisk.DescriptorBlock, tid).Encode(data); err != nil {
			desc.Release()
			return err
		}

		off := ondisk.HeaderSize
		for i, u := range chunk {
			escape := ondisk.NeedsEscape(u.Block)
			err := l.writeLogBlock(func(logData []byte) error {
				copy(logData, u.Block)
				if escape {
					ondisk.Escape(logData)
				}
				return nil
			})
			if err != nil {
				desc.Release()
				return err
			}

			tag := ondisk.BlockTag{BlockNr: u.Addr}
			if escape {
				tag.Flags |= ondisk.FlagEscape
			}
			if i > 0 {
				tag.Flags |= ondisk.FlagSameUUID
			}
			if i == len(chunk)-1 {
				tag.Flags |= ondisk.FlagLastTag
			}
			if err := tag.Encode(data, off, id); err != nil {
				desc.Release()
				return err
			}
			off += tag.Size()
		}

		desc.Set(buf.Dirty)
		err = desc.Sync()
		desc.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) writeCommit(tid common.Tid) error {
	return l.writeLogBlock(func(data []byte) error {
		return ondisk.NewHeader(ondisk.CommitBlock, tid).Encode(data)
	})
}

// ReadCommitted returns the newest committed but uncheckpointed contents of
// blkno.
func (l *Log) ReadCommitted(blkno common.Bnum) (disk.Block, bool) {
	return l.committed.read(blkno)
}
