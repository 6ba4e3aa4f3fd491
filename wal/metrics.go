package wal

import (
	"time"
)

// Metrics observes the journal. Implementations must tolerate concurrent
// calls; a nil Metrics disables collection.
type Metrics interface {
	ObserveRecovery(info RecoveryInfo, d time.Duration)
	ObserveCommit(logBlocks uint64, d time.Duration)
	ObserveCheckpoint(installed uint64, d time.Duration)
	SetLogFree(free uint64)
}
