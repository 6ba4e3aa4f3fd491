package wal

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-jbd/bcache"
	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/ondisk"
)

// The journal lives at device blocks [200, 264); filesystem blocks below.
const (
	journalOffset uint64 = 200
	journalBlocks uint64 = 64
)

type fakeMetrics struct {
	recoveries  []RecoveryInfo
	commits     []uint64
	checkpoints []uint64
	free        uint64
}

func (m *fakeMetrics) ObserveRecovery(info RecoveryInfo, d time.Duration) {
	m.recoveries = append(m.recoveries, info)
}

func (m *fakeMetrics) ObserveCommit(n uint64, d time.Duration) {
	m.commits = append(m.commits, n)
}

func (m *fakeMetrics) ObserveCheckpoint(n uint64, d time.Duration) {
	m.checkpoints = append(m.checkpoints, n)
}

func (m *fakeMetrics) SetLogFree(free uint64) {
	m.free = free
}

type CommitSuite struct {
	suite.Suite
	d disk.Disk
	l *Log
}

func TestCommit(t *testing.T) {
	suite.Run(t, new(CommitSuite))
}

func (suite *CommitSuite) devs() Devices {
	return Devices{
		Journal: bcache.MkCache(suite.d),
		Offset:  journalOffset,
		Blocks:  journalBlocks,
	}
}

func (suite *CommitSuite) SetupTest() {
	suite.d = disk.NewMemDisk(journalOffset + journalBlocks)
	_, err := Format(suite.devs(), uuid.New())
	suite.Require().NoError(err)
	l, info, err := Open(suite.devs(), nil)
	suite.Require().NoError(err)
	suite.Equal(RecoveryInfo{}, info)
	suite.l = l
}

// crash drops all in-memory state and opens the journal again.
func (suite *CommitSuite) crash() RecoveryInfo {
	l, info, err := Open(suite.devs(), nil)
	suite.Require().NoError(err)
	suite.l = l
	return info
}

func (suite *CommitSuite) read(a uint64) disk.Block {
	b, err := suite.d.Read(a)
	suite.Require().NoError(err)
	return b
}

func (suite *CommitSuite) commit(updates []Update, revokes ...common.Bnum) common.Tid {
	tid, err := suite.l.CommitTxn(updates, revokes)
	suite.Require().NoError(err)
	return tid
}

func (suite *CommitSuite) TestCommitThenRecover() {
	tid := suite.commit([]Update{
		MkBlockData(5, mkBlock(1)),
		MkBlockData(6, mkBlock(2)),
	})
	suite.Equal(tid+1, suite.l.NextTid())
	suite.Equal(mkBlock(0), suite.read(5), "commit does not install")

	info := suite.crash()
	suite.Equal(tid, info.StartTransaction)
	suite.Equal(tid+1, info.EndTransaction)
	suite.Equal(uint64(2), info.NumReplays)
	suite.Equal(mkBlock(1), suite.read(5))
	suite.Equal(mkBlock(2), suite.read(6))

	sb := suite.l.Superblock()
	suite.Equal(uint32(0), sb.Start, "open resets the log")
	suite.Equal(tid+2, suite.l.NextTid())
}

func (suite *CommitSuite) TestCheckpointEmptiesLog() {
	suite.commit([]Update{MkBlockData(3, mkBlock(3))})
	suite.False(suite.l.Empty())
	suite.Require().NoError(suite.l.Checkpoint())
	suite.True(suite.l.Empty())
	suite.Equal(mkBlock(3), suite.read(3))
	suite.Equal(suite.l.LogSz(), suite.l.Free())

	sb, err := ondisk.DecodeSuperblock(suite.read(journalOffset))
	suite.Require().NoError(err)
	suite.Equal(uint32(0), sb.Start)
	suite.Equal(suite.l.NextTid(), sb.Sequence)

	info := suite.crash()
	suite.Equal(RecoveryInfo{}, info)
	suite.Equal(mkBlock(3), suite.read(3))
}

func (suite *CommitSuite) TestRevokeAcrossCrash() {
	suite.commit([]Update{MkBlockData(7, mkBlock(7))})
	suite.commit(nil, 7)
	_, ok := suite.l.ReadCommitted(7)
	suite.False(ok, "revoke drops the pending update")

	info := suite.crash()
	suite.Equal(uint64(1), info.NumRevokes)
	suite.Equal(uint64(1), info.NumRevokeHits)
	suite.Equal(uint64(0), info.NumReplays)
	suite.Equal(mkBlock(0), suite.read(7))
}

func (suite *CommitSuite) TestRewriteAfterRevoke() {
	suite.commit([]Update{MkBlockData(7, mkBlock(1))})
	suite.commit(nil, 7)
	suite.commit([]Update{MkBlockData(7, mkBlock(2))})

	info := suite.crash()
	suite.Equal(uint64(1), info.NumRevokeHits)
	suite.Equal(uint64(1), info.NumReplays)
	suite.Equal(mkBlock(2), suite.read(7))
}

func (suite *CommitSuite) TestEscapeThroughCommit() {
	data := mkBlock(0x11)
	ondisk.Unescape(data)
	suite.commit([]Update{MkBlockData(9, data)})

	ents, err := suite.l.Entries()
	suite.Require().NoError(err)
	suite.Require().Len(ents, 2)
	suite.Equal(ondisk.DescriptorBlock, ents[0].Type)
	suite.Require().Len(ents[0].Tags, 1)
	suite.True(ents[0].Tags[0].Flags.Has(ondisk.FlagEscape))
	logged := suite.read(journalOffset + uint64(ents[0].Blk) + 1)
	suite.False(ondisk.NeedsEscape(logged), "log copy is escaped")

	suite.crash()
	suite.Equal(data, suite.read(9))
}

func (suite *CommitSuite) jbdDirty(blkno common.Bnum) bool {
	b, err := suite.l.fsBlock(blkno)
	suite.Require().NoError(err)
	defer b.Release()
	return b.Test(buf.JbdDirty)
}

func (suite *CommitSuite) TestLoggedBlocksPinned() {
	suite.commit([]Update{MkBlockData(12, mkBlock(1)), MkBlockData(13, mkBlock(1))})
	suite.True(suite.jbdDirty(12))
	suite.True(suite.jbdDirty(13))
	suite.False(suite.jbdDirty(14))

	suite.commit(nil, 12)
	suite.False(suite.jbdDirty(12), "revoked block is no longer logged")

	suite.Require().NoError(suite.l.Checkpoint())
	suite.False(suite.jbdDirty(13))
	suite.Equal(mkBlock(1), suite.read(13))
}

func (suite *CommitSuite) TestReadCommitted() {
	suite.commit([]Update{MkBlockData(4, mkBlock(1))})
	suite.commit([]Update{MkBlockData(4, mkBlock(2))})
	b, ok := suite.l.ReadCommitted(4)
	suite.True(ok)
	suite.Equal(mkBlock(2), b)
	_, ok = suite.l.ReadCommitted(5)
	suite.False(ok)

	suite.Require().NoError(suite.l.Checkpoint())
	_, ok = suite.l.ReadCommitted(4)
	suite.False(ok)
	suite.Equal(mkBlock(2), suite.read(4))
}

func (suite *CommitSuite) TestManyTagsSpanDescriptors() {
	per := ondisk.TagsPerDescriptor(common.BlockSize)
	suite.Equal(uint64(3+1+1), txnBlocks(2, 1))
	suite.Equal(uint64(2+per+1+1), txnBlocks(per+1, 0))
}

func (suite *CommitSuite) TestTooBig() {
	var updates []Update
	for i := uint64(0); i < journalBlocks; i++ {
		updates = append(updates, MkBlockData(common.Bnum(i), mkBlock(1)))
	}
	_, err := suite.l.CommitTxn(updates, nil)
	suite.True(errors.Is(err, ErrNotEnoughSpace))
	suite.True(suite.l.Empty())
}

// Transactions of four log blocks around a 63-block ring: the sixteenth
// forces a checkpoint and then wraps past the end of the ring.
func (suite *CommitSuite) TestRingWrap() {
	var last common.Tid
	for i := 0; i < 16; i++ {
		last = suite.commit([]Update{
			MkBlockData(common.Bnum(2*i), mkBlock(byte(i+1))),
			MkBlockData(common.Bnum(2*i+1), mkBlock(byte(i+1))),
		})
	}
	sb := suite.l.Superblock()
	suite.Equal(uint32(61), sb.Start, "last transaction starts near the end")
	suite.Equal(uint32(2), suite.l.head, "head wrapped")

	info := suite.crash()
	suite.Equal(last, info.StartTransaction)
	suite.Equal(uint64(2), info.NumReplays)
	for i := 0; i < 16; i++ {
		suite.Equal(mkBlock(byte(i+1)), suite.read(uint64(2*i)), "block %d", 2*i)
		suite.Equal(mkBlock(byte(i+1)), suite.read(uint64(2*i+1)), "block %d", 2*i+1)
	}
}

func (suite *CommitSuite) TestShutdownLeavesClean() {
	suite.commit([]Update{MkBlockData(1, mkBlock(1))})
	suite.Require().NoError(suite.l.Shutdown())
	info := suite.crash()
	suite.Equal(RecoveryInfo{}, info)
	suite.Equal(mkBlock(1), suite.read(1))
}

func TestMetricsObserved(t *testing.T) {
	d := disk.NewMemDisk(journalOffset + journalBlocks)
	devs := Devices{Journal: bcache.MkCache(d), Offset: journalOffset, Blocks: journalBlocks}
	_, err := Format(devs, uuid.New())
	require.NoError(t, err)

	m := &fakeMetrics{}
	l, _, err := Open(devs, m)
	require.NoError(t, err)
	_, err = l.CommitTxn([]Update{MkBlockData(1, mkBlock(1))}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, m.commits)
	assert.Equal(t, uint64(60), m.free)

	devs.Journal = bcache.MkCache(d)
	m2 := &fakeMetrics{}
	_, info, err := Open(devs, m2)
	require.NoError(t, err)
	assert.Equal(t, []RecoveryInfo{info}, m2.recoveries)
	assert.Equal(t, uint64(63), m2.free)
}

func TestOpenValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(sb *ondisk.Superblock)
		ok     bool
	}{
		{"v2", func(sb *ondisk.Superblock) {}, true},
		{"v1", func(sb *ondisk.Superblock) { sb.BlockType = ondisk.SuperblockV1 }, true},
		{"magic", func(sb *ondisk.Superblock) { sb.Magic = 0 }, false},
		{"block size", func(sb *ondisk.Superblock) { sb.BlockSize = 1024 }, false},
		{"type", func(sb *ondisk.Superblock) { sb.BlockType = ondisk.CommitBlock }, false},
		{"maxlen", func(sb *ondisk.Superblock) { sb.Maxlen = uint32(journalBlocks + 1) }, false},
		{"first zero", func(sb *ondisk.Superblock) { sb.First = 0 }, false},
		{"first past maxlen", func(sb *ondisk.Superblock) { sb.First = sb.Maxlen }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := disk.NewMemDisk(journalOffset + journalBlocks)
			devs := Devices{Journal: bcache.MkCache(d), Offset: journalOffset, Blocks: journalBlocks}
			sb, err := Format(devs, uuid.New())
			require.NoError(t, err)
			tc.mutate(sb)
			require.NoError(t, writeSuperblock(devs, sb))

			_, _, err = Open(devs, nil)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidSuperblock), "got %v", err)
			}
		})
	}
}

func TestFormatTooSmall(t *testing.T) {
	devs := Devices{Journal: bcache.MkCache(disk.NewMemDisk(4)), Blocks: 4}
	_, err := Format(devs, uuid.New())
	assert.True(t, errors.Is(err, ErrJournalTooSmall))
}
