package wal

import (
	"sort"
	"time"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/util"
)

// installBlocks writes committed updates to their home locations.
func (l *Log) installBlocks(bufs []Update) error {
	for i, u := range bufs {
		util.DPrintf(5, "installBlocks: write log block %d to %d\n", i, u.Addr)
		b, err := l.fsBlock(u.Addr)
		if err != nil {
			return err
		}
		copy(b.Data(), u.Block)
		b.Set(buf.Dirty)
		err = b.Sync()
		if err == nil {
			b.Clear(buf.JbdDirty)
		}
		b.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint installs every committed transaction and retires the whole log.
// Head is left where it is so later transactions continue around the ring.
func (l *Log) Checkpoint() error {
	if l.tail == 0 && l.committed.len() == 0 {
		return nil
	}
	begin := time.Now()
	bufs := append([]Update(nil), l.committed.log...)
	sort.SliceStable(bufs, func(i, j int) bool { return bufs[i].Addr < bufs[j].Addr })
	if err := l.installBlocks(bufs); err != nil {
		return err
	}
	if err := l.devs.fs().Barrier(); err != nil {
		return err
	}

	l.committed = mkCommitted()
	l.tail = 0
	l.tailSequence = l.transactionSequence
	l.free = l.capacity()
	if err := l.updateSuperblock(); err != nil {
		return err
	}
	util.DPrintf(1, "checkpoint: installed %d blocks, next txn %d\n", len(bufs), l.transactionSequence)
	if l.metrics != nil {
		l.metrics.ObserveCheckpoint(uint64(len(bufs)), time.Since(begin))
	}
	l.setLogFree()
	return nil
}

// Shutdown checkpoints and leaves the journal clean.
func (l *Log) Shutdown() error {
	if err := l.Checkpoint(); err != nil {
		return err
	}
	l.tailSequence = l.transactionSequence
	return l.updateSuperblock()
}
