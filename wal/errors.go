package wal

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidSuperblock: the superblock is malformed, or an offset read
	// from it lies outside the journal.
	ErrInvalidSuperblock = errors.New("wal: invalid journal superblock")

	// ErrCorruptLog: a recovery pass disagreed with the scan about where the
	// log ends.
	ErrCorruptLog = errors.New("wal: corrupt log")

	ErrJournalTooSmall = errors.New("wal: journal too small")

	// ErrNotEnoughSpace: a transaction does not fit in the log even when it
	// is empty.
	ErrNotEnoughSpace = errors.New("wal: not enough log space")
)
