package disk

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/mit-pdos/go-jbd/util"
)

// Key-value backed disks store one key per written block; blocks never
// written read as zeros. The disk's size is kept under sizeKey so a store
// can be reopened without knowing it.

var (
	blockPrefix = []byte("blk/")
	sizeKey     = []byte("meta/size")
)

// ErrUnsized is returned when reopening a store that never recorded a size.
var ErrUnsized = errors.New("disk: store has no recorded size")

func encodeSize(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func blockKey(a uint64) []byte {
	k := make([]byte, len(blockPrefix)+8)
	copy(k, blockPrefix)
	binary.BigEndian.PutUint64(k[len(blockPrefix):], a)
	return k
}

var _ Disk = (*BadgerDisk)(nil)

// BadgerDisk is a disk stored in a badger database.
type BadgerDisk struct {
	db        *badger.DB
	numBlocks uint64
	inMemory  bool
}

// OpenBadgerDisk opens a badger database at dir, or an in-memory one when
// dir is empty. A nonzero numBlocks sets the disk's size; zero uses the size
// recorded when the store was created.
func OpenBadgerDisk(dir string, numBlocks uint64) (*BadgerDisk, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	d := &BadgerDisk{db: db, inMemory: dir == ""}
	if d.numBlocks, err = d.resolveSize(numBlocks); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *BadgerDisk) resolveSize(numBlocks uint64) (uint64, error) {
	if numBlocks != 0 {
		err := d.db.Update(func(txn *badger.Txn) error {
			return txn.Set(sizeKey, encodeSize(numBlocks))
		})
		return numBlocks, errors.Wrap(err, "record disk size")
	}
	var n uint64
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sizeKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUnsized
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			n = binary.BigEndian.Uint64(v)
			return nil
		})
	})
	return n, err
}

func (d *BadgerDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(buf); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	return d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(a))
		if errors.Is(err, badger.ErrKeyNotFound) {
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read block %d", a)
		}
		return item.Value(func(v []byte) error {
			copy(buf, v)
			return nil
		})
	})
}

func (d *BadgerDisk) Read(a uint64) (Block, error) {
	return readBlock(d, a)
}

func (d *BadgerDisk) Write(a uint64, v Block) error {
	if err := checkBlock(v); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(a), util.CloneByteSlice(v))
	})
	return errors.Wrapf(err, "write block %d", a)
}

func (d *BadgerDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *BadgerDisk) Barrier() error {
	if d.inMemory {
		return nil
	}
	return errors.Wrap(d.db.Sync(), "badger sync")
}

func (d *BadgerDisk) Close() error {
	return d.db.Close()
}

var _ Disk = (*LevelDisk)(nil)

// LevelDisk is a disk stored in a goleveldb database. Writes are synchronous.
type LevelDisk struct {
	db        *leveldb.DB
	numBlocks uint64
	wo        *opt.WriteOptions
}

// OpenLevelDisk opens a leveldb database at dir, or an in-memory one when
// dir is empty. numBlocks is treated as in OpenBadgerDisk.
func OpenLevelDisk(dir string, numBlocks uint64) (*LevelDisk, error) {
	var db *leveldb.DB
	var err error
	if dir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(dir, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	d := &LevelDisk{
		db: db,
		wo: &opt.WriteOptions{Sync: dir != ""},
	}
	if d.numBlocks, err = d.resolveSize(numBlocks); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *LevelDisk) resolveSize(numBlocks uint64) (uint64, error) {
	if numBlocks != 0 {
		err := d.db.Put(sizeKey, encodeSize(numBlocks), d.wo)
		return numBlocks, errors.Wrap(err, "record disk size")
	}
	v, err := d.db.Get(sizeKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, ErrUnsized
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func (d *LevelDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(buf); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	v, err := d.db.Get(blockKey(a), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read block %d", a)
	}
	copy(buf, v)
	return nil
}

func (d *LevelDisk) Read(a uint64) (Block, error) {
	return readBlock(d, a)
}

func (d *LevelDisk) Write(a uint64, v Block) error {
	if err := checkBlock(v); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	return errors.Wrapf(d.db.Put(blockKey(a), v, d.wo), "write block %d", a)
}

func (d *LevelDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *LevelDisk) Barrier() error { return nil }

func (d *LevelDisk) Close() error {
	return d.db.Close()
}
