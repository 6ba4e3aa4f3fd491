// Package revoke records which blocks were revoked and by which transaction.
package revoke

import (
	"sort"

	"github.com/mit-pdos/go-jbd/common"
)

// Table maps a block number to the newest transaction that revoked it.
type Table struct {
	records map[common.Bnum]common.Tid
}

func MkTable() *Table {
	return &Table{records: make(map[common.Bnum]common.Tid)}
}

// Set records that tid revoked blk, keeping the newest revocation.
func (t *Table) Set(blk common.Bnum, tid common.Tid) {
	old, ok := t.records[blk]
	if ok {
		tid = common.MaxTid(old, tid)
	}
	t.records[blk] = tid
}

// Test reports whether a write to blk made by tid is superseded: some
// transaction at least as new as tid revoked blk.
func (t *Table) Test(blk common.Bnum, tid common.Tid) bool {
	rec, ok := t.records[blk]
	return ok && !rec.Before(tid)
}

// Remove cancels any revocation of blk.
func (t *Table) Remove(blk common.Bnum) {
	delete(t.records, blk)
}

func (t *Table) Clear() {
	t.records = make(map[common.Bnum]common.Tid)
}

func (t *Table) Len() int {
	return len(t.records)
}

// Records returns the revoked block numbers in ascending order.
func (t *Table) Records() []common.Bnum {
	blks := make([]common.Bnum, 0, len(t.records))
	for b := range t.records {
		blks = append(blks, b)
	}
	sort.Slice(blks, func(i, j int) bool { return blks[i] < blks[j] })
	return blks
}
