package wal

import (
	"github.com/mit-pdos/go-jbd/buf"
)

// Device is a buffer provider whose writes can be made durable.
type Device interface {
	buf.Provider
	Barrier() error
}

// Devices locates the journal and the filesystem it protects.
type Devices struct {
	// Journal holds the journal region starting at block Offset.
	Journal Device
	Offset  uint64
	// Blocks is the length of the journal region.
	Blocks uint64

	// FS is addressed directly by tag block numbers. Nil means the
	// filesystem shares the journal's device.
	FS Device
}

func (devs Devices) fs() Device {
	if devs.FS == nil {
		return devs.Journal
	}
	return devs.FS
}
