package common

const (
	// BlockSize is the size of every journal and filesystem block.
	BlockSize uint64 = 4096

	// Magic marks every journal metadata block.
	Magic uint32 = 0xC03B3998

	// MinJournalBlocks is the smallest journal region Create and Load accept,
	// superblock included.
	MinJournalBlocks uint32 = 8
)

// Bnum is a block number as stored in the journal (32 bits on disk).
type Bnum = uint32

const NULLBNUM Bnum = 0

// Tid identifies a transaction.
//
// Tids wrap around, so they must only be compared with Before/After rather
// than with < and >.
type Tid uint32

// Before reports whether t was issued before o, modulo wrap-around.
func (t Tid) Before(o Tid) bool {
	return int32(t-o) < 0
}

// After reports whether t was issued after o, modulo wrap-around.
func (t Tid) After(o Tid) bool {
	return int32(t-o) > 0
}

// MaxTid returns the newer of a and b.
func MaxTid(a, b Tid) Tid {
	if a.After(b) {
		return a
	}
	return b
}
