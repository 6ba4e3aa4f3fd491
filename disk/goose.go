package disk

import (
	gdisk "github.com/tchajed/goose/machine/disk"
)

// gooseDisk adapts a goose machine disk, which panics on misuse, to Disk.
type gooseDisk struct {
	d gdisk.Disk
}

// FromGoose wraps a goose disk (for example gdisk.NewMemDisk) so verified
// goose code and the journal can share one device.
func FromGoose(d gdisk.Disk) Disk {
	return gooseDisk{d: d}
}

func (g gooseDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(buf); err != nil {
		return err
	}
	if err := checkAddr(a, g.d.Size()); err != nil {
		return err
	}
	copy(buf, g.d.Read(a))
	return nil
}

func (g gooseDisk) Read(a uint64) (Block, error) {
	return readBlock(g, a)
}

func (g gooseDisk) Write(a uint64, v Block) error {
	if err := checkBlock(v); err != nil {
		return err
	}
	if err := checkAddr(a, g.d.Size()); err != nil {
		return err
	}
	g.d.Write(a, v)
	return nil
}

func (g gooseDisk) Size() (uint64, error) {
	return g.d.Size(), nil
}

func (g gooseDisk) Barrier() error {
	g.d.Barrier()
	return nil
}

func (g gooseDisk) Close() error {
	g.d.Close()
	return nil
}
