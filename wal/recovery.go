package wal

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/ondisk"
	"github.com/mit-pdos/go-jbd/util"
)

// RecoveryInfo summarizes one Recover call.
type RecoveryInfo struct {
	StartTransaction common.Tid
	// EndTransaction is the first tid without a commit block; every
	// transaction before it was replayed.
	EndTransaction common.Tid

	NumReplays    uint64
	NumRevokes    uint64
	NumRevokeHits uint64
}

type pass int

const (
	passScan pass = iota
	passRevoke
	passReplay
)

func (p pass) String() string {
	switch p {
	case passScan:
		return "scan"
	case passRevoke:
		return "revoke"
	}
	return "replay"
}

// Recover replays every committed transaction in the log into the
// filesystem, skipping writes a later transaction revoked. It leaves the
// next tid one past the last replayed transaction and the revoke table
// empty.
func (l *Log) Recover() (RecoveryInfo, error) {
	var info RecoveryInfo
	defer l.revoke.Clear()

	if l.sb.Start == 0 {
		logger.Debug("journal clean, nothing to recover", "sequence", l.sb.Sequence)
		l.transactionSequence = l.sb.Sequence + 1
		return info, nil
	}

	begin := time.Now()
	for _, p := range []pass{passScan, passRevoke, passReplay} {
		if err := l.doOnePass(&info, p); err != nil {
			logger.Error("journal recovery failed", "pass", p.String(), "error", err)
			return info, err
		}
	}
	// replayed blocks must be durable before the caller empties the log
	if info.NumReplays > 0 {
		if err := l.devs.fs().Barrier(); err != nil {
			return info, err
		}
	}
	l.transactionSequence = info.EndTransaction + 1

	logger.Info("journal recovered",
		"start_transaction", info.StartTransaction,
		"end_transaction", info.EndTransaction,
		"replays", info.NumReplays,
		"revokes", info.NumRevokes,
		"revoke_hits", info.NumRevokeHits)
	if l.metrics != nil {
		l.metrics.ObserveRecovery(info, time.Since(begin))
	}
	return info, nil
}

func (l *Log) doOnePass(info *RecoveryInfo, p pass) error {
	next := l.sb.Start
	nextCommitID := l.sb.Sequence
	if p == passScan {
		info.StartTransaction = nextCommitID
	}

	util.DPrintf(1, "recovery %s pass from block %d seq %d\n", p, next, nextCommitID)
loop:
	for {
		// later passes stop at the end the scan found rather than relying
		// on the log's contents
		if p != passScan && !nextCommitID.Before(info.EndTransaction) {
			break
		}

		b, err := l.readBlock(next)
		if err != nil {
			return err
		}
		next = l.wrap(next + 1)

		h, err := ondisk.DecodeHeader(b.Data())
		if err != nil {
			b.Release()
			return err
		}
		if h.Magic != common.Magic || h.Sequence != nextCommitID {
			b.Release()
			break
		}

		switch h.BlockType {
		case ondisk.DescriptorBlock:
			if p != passReplay {
				next = l.advance(next, ondisk.CountTags(b.Data()))
				b.Release()
				continue
			}
			err := ondisk.WalkTags(b.Data(), func(tag ondisk.BlockTag, _ uint64) error {
				var err error
				next, err = l.replayTag(info, tag, next, nextCommitID)
				return err
			})
			b.Release()
			if err != nil {
				return err
			}
		case ondisk.CommitBlock:
			b.Release()
			nextCommitID++
		case ondisk.RevokeBlock:
			if p == passRevoke {
				err := l.scanRevokeRecords(info, b.Data(), nextCommitID)
				if err != nil {
					b.Release()
					return err
				}
			}
			b.Release()
		default:
			logger.Warn("unrecognised block in journal, treating as end of log",
				"pass", p.String(), "type", h.BlockType.String(), "sequence", h.Sequence)
			b.Release()
			break loop
		}
	}

	if p == passScan {
		info.EndTransaction = nextCommitID
		return nil
	}
	if p == passRevoke {
		logger.Debug("revoke table built", "blocks", l.revoke.Len())
		util.DPrintf(5, "revoke table: %v\n", l.revoke.Records())
	}
	if nextCommitID != info.EndTransaction {
		logger.Error("recovery pass ended early",
			"pass", p.String(), "expected", info.EndTransaction, "got", nextCommitID)
		return errors.Wrapf(ErrCorruptLog, "%s pass ended at transaction %d, scan at %d",
			p, nextCommitID, info.EndTransaction)
	}
	return nil
}

// replayTag installs the log copy at next for tag, unless it was revoked,
// and returns the following log block.
func (l *Log) replayTag(info *RecoveryInfo, tag ondisk.BlockTag, next uint32, seq common.Tid) (uint32, error) {
	src, err := l.readBlock(next)
	if err != nil {
		return next, err
	}
	defer src.Release()
	next = l.wrap(next + 1)

	if l.revoke.Test(tag.BlockNr, seq) {
		util.DPrintf(5, "replay: block %d of txn %d revoked\n", tag.BlockNr, seq)
		info.NumRevokeHits++
		return next, nil
	}

	dst, err := l.fsBlock(tag.BlockNr)
	if err != nil {
		return next, err
	}
	defer dst.Release()
	copy(dst.Data(), src.Data())
	if tag.Flags.Has(ondisk.FlagEscape) {
		ondisk.Unescape(dst.Data())
	}
	dst.Set(buf.Dirty)
	if err := dst.Sync(); err != nil {
		return next, err
	}
	util.DPrintf(5, "replay: block %d of txn %d\n", tag.BlockNr, seq)
	info.NumReplays++
	return next, nil
}

func (l *Log) scanRevokeRecords(info *RecoveryInfo, data []byte, seq common.Tid) error {
	recs, err := ondisk.RevokeRecords(data)
	if err != nil {
		return err
	}
	for _, blk := range recs {
		l.revoke.Set(blk, seq)
		info.NumRevokes++
	}
	return nil
}
