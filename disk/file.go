package disk

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

var _ Disk = (*FileDisk)(nil)

// FileDisk is a disk backed by a regular file or block device.
type FileDisk struct {
	fd        int
	numBlocks uint64
}

// NewFileDisk opens (creating if needed) path and sizes a regular file to
// numBlocks blocks.
func NewFileDisk(path string, numBlocks uint64) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && uint64(stat.Size) != numBlocks*BlockSize {
		if err := unix.Ftruncate(fd, int64(numBlocks*BlockSize)); err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "truncate %s", path)
		}
	}
	return &FileDisk{fd: fd, numBlocks: numBlocks}, nil
}

// OpenFileDisk opens an existing regular file and derives its size.
func OpenFileDisk(path string) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	return &FileDisk{fd: fd, numBlocks: uint64(stat.Size) / BlockSize}, nil
}

func (d *FileDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock(buf); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return errors.Wrapf(err, "read block %d", a)
	}
	// a sparse tail reads short
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (d *FileDisk) Read(a uint64) (Block, error) {
	return readBlock(d, a)
}

func (d *FileDisk) Write(a uint64, v Block) error {
	if err := checkBlock(v); err != nil {
		return err
	}
	if err := checkAddr(a, d.numBlocks); err != nil {
		return err
	}
	if _, err := unix.Pwrite(d.fd, v, int64(a*BlockSize)); err != nil {
		return errors.Wrapf(err, "write block %d", a)
	}
	return nil
}

func (d *FileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *FileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	if err := unix.Fsync(d.fd); err != nil {
		return errors.Wrap(err, "fsync")
	}
	return nil
}

func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}
