package util

import (
	"github.com/mit-pdos/go-jbd/internal/logger"
)

// Debug is the highest DPrintf level that is emitted.
var Debug uint64 = 1

// DPrintf logs per-block trace output at the logger's debug level.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		logger.Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
