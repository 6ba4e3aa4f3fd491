// Package wal implements the journal: a circular on-disk log of
// transactions, the commit path that writes it, checkpointing that installs
// committed blocks home, and crash recovery.
//
//  The layout of the journal region (journal-relative block numbers):
//  [ superblock | ... log ring ... ]
//    0            first            last (= maxlen, exclusive)
//
//  Within the ring:
//  [ free | tail ... committed transactions ... | head  free ... ]
//
// A transaction is written as revoke blocks, then descriptor blocks each
// followed by the data blocks it describes, then one commit block. The
// superblock records the oldest live block (start) and its sequence; start
// == 0 means the log holds nothing to recover.
package wal

// wrap returns the log block following one that just advanced to blk.
//
// blk must be at most last.
func (l *Log) wrap(blk uint32) uint32 {
	if blk >= l.last {
		blk -= l.last - l.first
	}
	return blk
}

// advance moves n log blocks past blk.
func (l *Log) advance(blk uint32, n uint64) uint32 {
	for i := uint64(0); i < n; i++ {
		blk = l.wrap(blk + 1)
	}
	return blk
}

// nextLogBlock claims the block at head for writing.
func (l *Log) nextLogBlock() uint32 {
	blk := l.head
	l.head = l.wrap(l.head + 1)
	l.free--
	return blk
}

func (l *Log) capacity() uint32 {
	return l.last - l.first
}
