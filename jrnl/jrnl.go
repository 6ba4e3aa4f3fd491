// Package jrnl is the top-level journal API.
//
// It provides atomic operations over whole disk blocks that are buffered
// locally and made durable together.
//
// The caller uses this interface by beginning an operation Op,
// reading/writing/revoking blocks within it, and finally committing it.
// Commit returns once the operation is durable in the log; its blocks reach
// their home locations at the next checkpoint, or on recovery after a crash.
//
// Only writes are made atomic. Reads see the operation's own writes, then
// committed operations, then the disk; they are not isolated from concurrent
// operations, so callers lock the blocks they use across an operation.
//
// Revoking a block tells recovery never to replay earlier logged writes of
// it, which a caller must do before reusing a freed metadata block for data
// that is not journaled. Revoke and a later OverWrite also maintain the
// Revoked and RevokeValid bits on the block's cached buffer.
//
// An operation started with Start reserves credits: the most blocks it may
// write or revoke. Extend asks for more.
package jrnl

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mit-pdos/go-jbd/buf"
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/ondisk"
	"github.com/mit-pdos/go-jbd/revoke"
	"github.com/mit-pdos/go-jbd/util"
	"github.com/mit-pdos/go-jbd/wal"
)

// ErrDoubleRevoke is returned when an operation revokes a block twice.
var ErrDoubleRevoke = errors.New("jrnl: block already revoked in this operation")

// ErrCrashed is returned by a journal after Crash.
var ErrCrashed = errors.New("jrnl: journal crashed")

// ErrNoCredits is returned when an operation would change more blocks than
// it reserved, or reserves more than one transaction can hold.
var ErrNoCredits = errors.New("jrnl: operation exceeds its block credits")

type Devices = wal.Devices

type Options struct {
	// Metrics may be nil.
	Metrics wal.Metrics
	// UUID names a new journal; zero picks a random one.
	UUID uuid.UUID
}

// Journal serializes operations over one write-ahead log.
type Journal struct {
	mu   *sync.Mutex
	devs Devices
	log  *wal.Log
}

// Create formats the journal region and opens an empty journal on it.
func Create(devs Devices, opts Options) (*Journal, error) {
	id := opts.UUID
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, err := wal.Format(devs, id); err != nil {
		return nil, err
	}
	j, _, err := Load(devs, opts)
	return j, err
}

// Load opens an existing journal, replaying whatever a crash left in its
// log.
func Load(devs Devices, opts Options) (*Journal, wal.RecoveryInfo, error) {
	log, info, err := wal.Open(devs, opts.Metrics)
	if err != nil {
		return nil, info, err
	}
	j := &Journal{
		mu:   new(sync.Mutex),
		devs: devs,
		log:  log,
	}
	return j, info, nil
}

func (j *Journal) getLog() (*wal.Log, error) {
	if j.log == nil {
		return nil, ErrCrashed
	}
	return j.log, nil
}

// Checkpoint installs all committed operations and empties the log.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.getLog()
	if err != nil {
		return err
	}
	if err := l.Checkpoint(); err != nil {
		return err
	}
	j.evict()
	return nil
}

// Destroy checkpoints and marks the journal clean. The journal is unusable
// afterwards.
func (j *Journal) Destroy() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.getLog()
	if err != nil {
		return err
	}
	err = l.Shutdown()
	j.log = nil
	j.evict()
	return err
}

type purger interface {
	Purge()
}

type evicter interface {
	Evict() uint64
}

// evict drops cached blocks the log no longer needs.
func (j *Journal) evict() {
	for _, dev := range []wal.Device{j.devs.Journal, j.devs.FS} {
		if e, ok := dev.(evicter); ok {
			n := e.Evict()
			util.DPrintf(3, "evicted %d cached blocks\n", n)
		}
	}
}

func (j *Journal) fs() wal.Device {
	if j.devs.FS == nil {
		return j.devs.Journal
	}
	return j.devs.FS
}

// MaxCredits is the most blocks one operation can reserve.
func (j *Journal) MaxCredits() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.getLog()
	if err != nil {
		return 0, err
	}
	return uint64(l.LogSz()), nil
}

// Crash drops the journal's in-memory state without checkpointing, as a
// power failure would, and empties any block caches under it.
func (j *Journal) Crash() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log = nil
	for _, dev := range []wal.Device{j.devs.Journal, j.devs.FS} {
		if p, ok := dev.(purger); ok {
			p.Purge()
		}
	}
}

// Superblock returns a copy of the journal superblock.
func (j *Journal) Superblock() (ondisk.Superblock, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.getLog()
	if err != nil {
		return ondisk.Superblock{}, err
	}
	return l.Superblock(), nil
}

// Entries lists the records in the log.
func (j *Journal) Entries() ([]wal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, err := j.getLog()
	if err != nil {
		return nil, err
	}
	return l.Entries()
}

// Inspect reads the superblock and walks the log as a crash left it,
// without recovering or writing anything.
func Inspect(devs Devices) (ondisk.Superblock, []wal.Entry, error) {
	sb, err := wal.ReadSuperblock(devs)
	if err != nil {
		return ondisk.Superblock{}, nil, err
	}
	if err := wal.ValidateSuperblock(sb, devs.Blocks); err != nil {
		return *sb, nil, err
	}
	l, err := wal.MkLog(devs, sb, nil)
	if err != nil {
		return *sb, nil, err
	}
	ents, err := l.Entries()
	return *sb, ents, err
}

// readBlock returns the newest committed contents of bnum; assumes j.mu is
// held.
func (j *Journal) readBlock(bnum common.Bnum) (disk.Block, error) {
	l, err := j.getLog()
	if err != nil {
		return nil, err
	}
	if blk, ok := l.ReadCommitted(bnum); ok {
		return blk, nil
	}
	b, err := j.fs().Get(uint64(bnum))
	if err != nil {
		return nil, err
	}
	defer b.Release()
	return util.CloneByteSlice(b.Data()), nil
}

// ReadBlock returns the committed contents of bnum.
func (j *Journal) ReadBlock(bnum common.Bnum) (disk.Block, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readBlock(bnum)
}

// Op is an in-progress journal operation.
//
// Call Commit to persist the operation's writes.
// To abort the operation simply stop using it.
type Op struct {
	j       *Journal
	bufs    *buf.BufMap // map of bufs read/written by this operation
	revokes *revoke.Table
	// credits bounds NDirty; zero means unbounded
	credits uint64
}

// Begin starts a local journal operation with no writes and no credit
// limit.
func Begin(j *Journal) *Op {
	op := &Op{
		j:       j,
		bufs:    buf.MkBufMap(),
		revokes: revoke.MkTable(),
	}
	util.DPrintf(3, "Begin: %p\n", op)
	return op
}

// Start begins an operation that may write or revoke at most credits
// blocks.
func Start(j *Journal, credits uint64) (*Op, error) {
	limit, err := j.MaxCredits()
	if err != nil {
		return nil, err
	}
	if credits == 0 || credits > limit {
		return nil, errors.Wrapf(ErrNoCredits, "%d credits, journal allows %d", credits, limit)
	}
	op := Begin(j)
	op.credits = credits
	return op, nil
}

// Extend reserves n more credits. On failure the operation keeps its
// current credits; the caller can commit it and start another.
func (op *Op) Extend(n uint64) error {
	if op.credits == 0 {
		return nil
	}
	limit, err := op.j.MaxCredits()
	if err != nil {
		return err
	}
	if op.credits+n > limit {
		return errors.Wrapf(ErrNoCredits, "extend %d+%d, journal allows %d", op.credits, n, limit)
	}
	op.credits += n
	return nil
}

// Credits reports the operation's reservation, zero if unbounded.
func (op *Op) Credits() uint64 {
	return op.credits
}

// charge checks that changing one more block fits in the credits.
func (op *Op) charge(bnum common.Bnum) error {
	if op.credits == 0 {
		return nil
	}
	if b := op.bufs.Lookup(bnum); b != nil && b.IsDirty() {
		return nil
	}
	if op.revoked(bnum) {
		return nil
	}
	if op.NDirty()+1 > op.credits {
		return errors.Wrapf(ErrNoCredits, "block %d over %d credits", bnum, op.credits)
	}
	return nil
}

// revoked reports whether this operation revoked bnum. Tids are assigned at
// commit, so records carry tid 0.
func (op *Op) revoked(bnum common.Bnum) bool {
	return op.revokes.Test(bnum, 0)
}

// ReadBuf returns the operation's buf for bnum, loading it on first use.
// Callers that modify Data must call SetDirty.
func (op *Op) ReadBuf(bnum common.Bnum) (*buf.Buf, error) {
	b := op.bufs.Lookup(bnum)
	if b != nil {
		return b, nil
	}
	op.j.mu.Lock()
	data, err := op.j.readBlock(bnum)
	op.j.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b = buf.MkBuf(bnum, data)
	op.bufs.Insert(b)
	return b, nil
}

// ReadBlock returns a copy of bnum as this operation sees it.
func (op *Op) ReadBlock(bnum common.Bnum) (disk.Block, error) {
	b, err := op.ReadBuf(bnum)
	if err != nil {
		return nil, err
	}
	return util.CloneByteSlice(b.Data), nil
}

// updateBuffer applies fn to the cached home buffer of bnum.
func (op *Op) updateBuffer(bnum common.Bnum, fn func(b buf.Buffer)) error {
	b, err := op.j.fs().Get(uint64(bnum))
	if err != nil {
		return err
	}
	fn(b)
	b.Release()
	return nil
}

// OverWrite replaces the contents of bnum. It cancels an earlier Revoke of
// bnum in this operation.
func (op *Op) OverWrite(bnum common.Bnum, data []byte) error {
	if uint64(len(data)) != disk.BlockSize {
		return errors.Wrapf(disk.ErrBlockSize, "overwrite of block %d with %d bytes",
			bnum, len(data))
	}
	if err := op.charge(bnum); err != nil {
		return err
	}
	if op.revoked(bnum) {
		op.revokes.Remove(bnum)
		err := op.updateBuffer(bnum, func(b buf.Buffer) {
			b.Clear(buf.Revoked)
			b.Set(buf.RevokeValid)
		})
		if err != nil {
			return err
		}
	}
	var b = op.bufs.Lookup(bnum)
	if b == nil {
		b = buf.MkBuf(bnum, util.CloneByteSlice(data))
		op.bufs.Insert(b)
	} else {
		b.Data = util.CloneByteSlice(data)
	}
	b.SetDirty()
	return nil
}

// Revoke records that earlier logged writes of bnum must not be replayed,
// and discards this operation's own write of it.
func (op *Op) Revoke(bnum common.Bnum) error {
	if op.revoked(bnum) {
		return errors.Wrapf(ErrDoubleRevoke, "block %d", bnum)
	}
	if err := op.charge(bnum); err != nil {
		return err
	}
	err := op.updateBuffer(bnum, func(b buf.Buffer) {
		b.Set(buf.Revoked | buf.RevokeValid)
	})
	if err != nil {
		return err
	}
	op.bufs.Del(bnum)
	op.revokes.Set(bnum, 0)
	return nil
}

// NDirty reports an upper bound on the number of blocks this operation
// changes.
func (op *Op) NDirty() uint64 {
	return op.bufs.Ndirty() + uint64(op.revokes.Len())
}

// Commit makes the operation's writes and revocations durable atomically and
// returns its transaction id. An operation with nothing to commit returns
// zero and writes nothing.
func (op *Op) Commit() (common.Tid, error) {
	if op.NDirty() == 0 {
		return 0, nil
	}
	if op.credits != 0 && op.NDirty() > op.credits {
		return 0, errors.Wrapf(ErrNoCredits, "%d blocks changed, %d reserved", op.NDirty(), op.credits)
	}
	var updates []wal.Update
	for _, b := range op.bufs.DirtyBufs() {
		updates = append(updates, wal.MkBlockData(b.Blkno, b.Data))
	}
	revokes := op.revokes.Records()

	op.j.mu.Lock()
	defer op.j.mu.Unlock()
	l, err := op.j.getLog()
	if err != nil {
		return 0, err
	}
	tid, err := l.CommitTxn(updates, revokes)
	if err != nil {
		return 0, err
	}
	util.DPrintf(3, "Commit %p: txn %d, %d blocks, %d revokes\n", op, tid, len(updates), len(revokes))
	return tid, nil
}
