// Package image lays out a journaled disk image on a host store: a file, a
// badger or leveldb directory, or memory.
//
// Block 0 holds a label describing the layout, the journal follows at
// block 1, and the remaining blocks belong to the filesystem.
package image

import (
	"github.com/cockroachdb/errors"
	gdisk "github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-jbd/bcache"
	"github.com/mit-pdos/go-jbd/disk"
	"github.com/mit-pdos/go-jbd/internal/logger"
	"github.com/mit-pdos/go-jbd/jrnl"
)

const (
	labelMagic   uint64 = 0x6a62642d696d6721 // "jbd-img!"
	labelVersion uint64 = 1
)

var (
	ErrBadLabel = errors.New("image: bad label")

	ErrBackend = errors.New("image: unsupported backend")
)

// Backend names the store holding an image's blocks.
type Backend string

const (
	// File is a single host file.
	File Backend = "file"
	// Badger and LevelDB are key-value directories with one key per block.
	Badger  Backend = "badger"
	LevelDB Backend = "leveldb"
	// Mem is a volatile goose memory disk; it cannot be reopened.
	Mem Backend = "mem"
)

func (b Backend) create(path string, numBlocks uint64) (disk.Disk, error) {
	switch b {
	case File, "":
		return disk.NewFileDisk(path, numBlocks)
	case Badger:
		return disk.OpenBadgerDisk(path, numBlocks)
	case LevelDB:
		return disk.OpenLevelDisk(path, numBlocks)
	case Mem:
		return disk.FromGoose(gdisk.NewMemDisk(numBlocks)), nil
	}
	return nil, errors.Wrapf(ErrBackend, "%q", string(b))
}

func (b Backend) open(path string) (disk.Disk, error) {
	switch b {
	case File, "":
		return disk.OpenFileDisk(path)
	case Badger:
		return disk.OpenBadgerDisk(path, 0)
	case LevelDB:
		return disk.OpenLevelDisk(path, 0)
	}
	return nil, errors.Wrapf(ErrBackend, "cannot reopen a %q image", string(b))
}

type Label struct {
	TotalBlocks   uint64
	JournalStart  uint64
	JournalBlocks uint64
}

// FSStart is the first block not used by the label or the journal.
func (l Label) FSStart() uint64 {
	return l.JournalStart + l.JournalBlocks
}

func (l Label) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(labelMagic)
	enc.PutInt(labelVersion)
	enc.PutInt(l.TotalBlocks)
	enc.PutInt(l.JournalStart)
	enc.PutInt(l.JournalBlocks)
	return enc.Finish()
}

func decodeLabel(b disk.Block) (Label, error) {
	dec := marshal.NewDec(b)
	magic := dec.GetInt()
	version := dec.GetInt()
	if magic != labelMagic {
		return Label{}, errors.Wrapf(ErrBadLabel, "magic %#x", magic)
	}
	if version != labelVersion {
		return Label{}, errors.Wrapf(ErrBadLabel, "version %d", version)
	}
	l := Label{
		TotalBlocks:   dec.GetInt(),
		JournalStart:  dec.GetInt(),
		JournalBlocks: dec.GetInt(),
	}
	return l, nil
}

// Image is an open disk image.
type Image struct {
	Label   Label
	Backend Backend
	Disk    disk.Disk
	Cache   *bcache.Cache
}

// Devices describes the image's journal for jrnl.
func (img *Image) Devices() jrnl.Devices {
	return jrnl.Devices{
		Journal: img.Cache,
		Offset:  img.Label.JournalStart,
		Blocks:  img.Label.JournalBlocks,
	}
}

// Close writes back any dirty cached blocks and closes the store.
func (img *Image) Close() error {
	if err := img.Cache.Flush(); err != nil {
		img.Disk.Close()
		return err
	}
	return img.Disk.Close()
}

// Format creates an image at path on backend b, writes its label and
// formats its journal.
func Format(b Backend, path string, totalBlocks uint64, journalBlocks uint64, opts jrnl.Options) (*Image, error) {
	l := Label{TotalBlocks: totalBlocks, JournalStart: 1, JournalBlocks: journalBlocks}
	if l.FSStart() >= totalBlocks {
		return nil, errors.Wrapf(ErrBadLabel, "journal of %d blocks leaves no room in %d",
			journalBlocks, totalBlocks)
	}
	d, err := b.create(path, totalBlocks)
	if err != nil {
		return nil, err
	}
	if err := d.Write(0, l.encode()); err != nil {
		d.Close()
		return nil, err
	}
	img := &Image{Label: l, Backend: b, Disk: d, Cache: bcache.MkCache(d)}
	j, err := jrnl.Create(img.Devices(), opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	if err := j.Destroy(); err != nil {
		d.Close()
		return nil, err
	}
	logger.Info("formatted image", "path", path, "backend", string(b), "blocks", totalBlocks,
		"journal_blocks", journalBlocks, "fs_start", l.FSStart())
	return img, nil
}

// Open opens an existing image on backend b and checks its label against
// the store.
func Open(b Backend, path string) (*Image, error) {
	d, err := b.open(path)
	if err != nil {
		return nil, err
	}
	blk, err := d.Read(0)
	if err != nil {
		d.Close()
		return nil, err
	}
	l, err := decodeLabel(blk)
	if err != nil {
		d.Close()
		return nil, err
	}
	sz, _ := d.Size()
	if l.TotalBlocks > sz || l.FSStart() > l.TotalBlocks || l.JournalStart == 0 {
		d.Close()
		return nil, errors.Wrapf(ErrBadLabel, "label %+v for a %d-block store", l, sz)
	}
	return &Image{Label: l, Backend: b, Disk: d, Cache: bcache.MkCache(d)}, nil
}
