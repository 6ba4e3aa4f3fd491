package jrnl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-jbd/bcache"
	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/jrnl"
)

func TestStartLimits(t *testing.T) {
	_, j := mkJournal(t)
	limit, err := j.MaxCredits()
	require.NoError(t, err)
	assert.Equal(t, journalBlocks-1, limit)

	_, err = jrnl.Start(j, 0)
	assert.ErrorIs(t, err, jrnl.ErrNoCredits)
	_, err = jrnl.Start(j, limit+1)
	assert.ErrorIs(t, err, jrnl.ErrNoCredits)
	op, err := jrnl.Start(j, limit)
	require.NoError(t, err)
	assert.Equal(t, limit, op.Credits())

	op = jrnl.Begin(j)
	assert.Equal(t, uint64(0), op.Credits())
	require.NoError(t, op.Extend(1000), "unbounded operations ignore Extend")
}

func TestCreditsBoundWrites(t *testing.T) {
	d, j := mkJournal(t)
	op, err := jrnl.Start(j, 2)
	require.NoError(t, err)

	require.NoError(t, op.OverWrite(1, data()))
	require.NoError(t, op.OverWrite(2, data()))
	require.NoError(t, op.OverWrite(1, data()), "rewriting a block is free")
	assert.ErrorIs(t, op.OverWrite(3, data()), jrnl.ErrNoCredits)

	require.NoError(t, op.Revoke(2), "revoking a written block trades one for the other")
	require.NoError(t, op.OverWrite(2, data()))
	assert.ErrorIs(t, op.Revoke(3), jrnl.ErrNoCredits)

	require.NoError(t, op.Extend(1))
	assert.Equal(t, uint64(3), op.Credits())
	bs := data()
	require.NoError(t, op.OverWrite(3, bs))
	assert.Equal(t, uint64(3), op.NDirty())

	limit, _ := j.MaxCredits()
	assert.ErrorIs(t, op.Extend(limit), jrnl.ErrNoCredits)
	assert.Equal(t, uint64(3), op.Credits())

	_, err = op.Commit()
	require.NoError(t, err)
	j, _ = restart(t, d, j)
	assertBlock(t, bs, j, 3)
}

func TestCreditsCheckedAtCommit(t *testing.T) {
	_, j := mkJournal(t)
	op, err := jrnl.Start(j, 1)
	require.NoError(t, err)
	for _, bnum := range []common.Bnum{4, 5} {
		b, err := op.ReadBuf(bnum)
		require.NoError(t, err)
		b.Data[0] = 1
		b.SetDirty()
	}
	_, err = op.Commit()
	assert.ErrorIs(t, err, jrnl.ErrNoCredits)
}

func TestRevokeBufferFlags(t *testing.T) {
	d := disk.NewMemDisk(fsBlocks + journalBlocks)
	c := bcache.MkCache(d)
	j, err := jrnl.Create(jrnl.Devices{Journal: c, Offset: fsBlocks, Blocks: journalBlocks}, jrnl.Options{})
	require.NoError(t, err)

	flags := func(bnum uint64) (revoked, valid, logged bool) {
		b, err := c.GetBlock(bnum)
		require.NoError(t, err)
		defer b.Release()
		return b.Test(buf.Revoked), b.Test(buf.RevokeValid), b.Test(buf.JbdDirty)
	}

	op := jrnl.Begin(j)
	require.NoError(t, op.Revoke(30))
	revoked, valid, _ := flags(30)
	assert.True(t, revoked)
	assert.True(t, valid)

	require.NoError(t, op.OverWrite(30, data()))
	revoked, valid, _ = flags(30)
	assert.False(t, revoked, "overwrite cancels the revoke")
	assert.True(t, valid)

	_, err = op.Commit()
	require.NoError(t, err)
	_, _, logged := flags(30)
	assert.True(t, logged)
	assert.NotZero(t, c.Stats().Cached)

	require.NoError(t, j.Checkpoint())
	_, _, logged = flags(30)
	assert.False(t, logged)
	require.NoError(t, j.Checkpoint())
	assert.Equal(t, uint64(0), c.Stats().Cached, "checkpoint evicts clean blocks")
}
