// Package replicated keeps one logical block in two disk blocks, updated
// together through the journal.
package replicated

import (
	"github.com/mit-pdos/go-jbd/common"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/jrnl"
	"github.com/mit-pdos/go-jbd/lockmap"
)

type RepBlock struct {
	j *jrnl.Journal

	locks *lockmap.LockMap
	a0    common.Bnum
	a1    common.Bnum
}

// Open uses blocks a and a+1 of the journaled disk, locking them in locks
// while in use.
func Open(j *jrnl.Journal, locks *lockmap.LockMap, a common.Bnum) *RepBlock {
	return &RepBlock{
		j:     j,
		locks: locks,
		a0:    a,
		a1:    a + 1,
	}
}

func (rb *RepBlock) lock() []common.Bnum {
	return rb.locks.AcquireAll([]common.Bnum{rb.a0, rb.a1})
}

// Read returns the primary copy.
func (rb *RepBlock) Read() (disk.Block, error) {
	rb.locks.Acquire(rb.a0)
	defer rb.locks.Release(rb.a0)
	tx := jrnl.Begin(rb.j)
	return tx.ReadBlock(rb.a0)
}

// ReadBackup returns the secondary copy.
func (rb *RepBlock) ReadBackup() (disk.Block, error) {
	rb.locks.Acquire(rb.a1)
	defer rb.locks.Release(rb.a1)
	tx := jrnl.Begin(rb.j)
	return tx.ReadBlock(rb.a1)
}

// Write updates both copies in one operation.
func (rb *RepBlock) Write(b disk.Block) error {
	defer rb.locks.ReleaseAll(rb.lock())
	tx := jrnl.Begin(rb.j)
	if err := tx.OverWrite(rb.a0, b); err != nil {
		return err
	}
	if err := tx.OverWrite(rb.a1, b); err != nil {
		return err
	}
	_, err := tx.Commit()
	return err
}
