// Package state provides bounds-checked access to the state drive, the
// persistent-memory block device holding the machine's raw memory image.
//
// The drive is a resource independent of the rollup device: operations here
// carry no ordering guarantee relative to each other or to rollup
// transactions. The caller is expected to serialize its own load/save
// sequence; within the process, page-cache semantics apply.
package state

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// EnvVar names the state-drive device path in the process environment.
	EnvVar = "STATE_DRIVE"

	// DefaultPath is used when EnvVar is unset.
	DefaultPath = "/dev/pmem1"
)

// ErrOutOfBounds is returned when a requested window exceeds the drive's
// capacity. No copy is performed in that case.
var ErrOutOfBounds = errors.New("offset and size exceed memory bounds")

// Drive is a fixed-capacity byte-addressable block device. The capacity is
// queried per operation, never cached: it must not be assumed constant
// across devices.
type Drive struct {
	path string
}

// New returns a Drive over the device at path.
func New(path string) *Drive {
	return &Drive{path: path}
}

// FromEnv resolves the drive path from the STATE_DRIVE environment
// variable. When unset, the default path is used and persisted back into
// the environment for later readers.
func FromEnv() *Drive {
	return New(PathFromEnv())
}

// PathFromEnv returns the state-drive path per the FromEnv rules.
func PathFromEnv() string {
	if path := os.Getenv(EnvVar); path != "" {
		return path
	}
	os.Setenv(EnvVar, DefaultPath)
	return DefaultPath
}

// Path returns the device path this drive operates on.
func (d *Drive) Path() string { return d.path }

// Size opens the drive read-only and returns its capacity.
func (d *Drive) Size() (uint64, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return 0, errors.Wrap(err, "open state drive")
	}
	defer f.Close()

	return deviceSize(f)
}

// Read copies the window [offset, offset+size) out of the drive. The full
// device is mapped for the duration of the copy and unmapped on every exit
// path. Windows exceeding the capacity are rejected before any copy.
func (d *Drive) Read(offset, size uint64) ([]byte, error) {
	// mapping a block device requires a writable descriptor
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open state drive")
	}
	defer f.Close()

	capacity, err := deviceSize(f)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(offset, size, capacity); err != nil {
		return nil, err
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "map state drive")
	}
	defer unix.Munmap(mem)

	out := make([]byte, size)
	copy(out, mem[offset:offset+size])
	return out, nil
}

// Write copies data into the drive at offset and flushes synchronously
// before returning. A flush failure is fatal for the request and performs
// no rollback: the underlying store may be left partially updated.
func (d *Drive) Write(offset uint64, data []byte) error {
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open state drive")
	}
	defer f.Close()

	capacity, err := deviceSize(f)
	if err != nil {
		return err
	}
	if err := checkBounds(offset, uint64(len(data)), capacity); err != nil {
		return err
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "map state drive")
	}
	defer unix.Munmap(mem)

	copy(mem[offset:], data)

	if err := unix.Msync(mem, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "flush state drive")
	}
	return nil
}

func checkBounds(offset, size, capacity uint64) error {
	if size > capacity || offset > capacity-size {
		return ErrOutOfBounds
	}
	return nil
}

// deviceSize queries the capacity of a block device through BLKGETSIZE64.
// Regular files (file-backed drives, tests) report ENOTTY on that ioctl and
// fall back to their plain file size.
func deviceSize(f *os.File) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	switch errno {
	case 0:
		return size, nil
	case unix.ENOTTY, unix.EINVAL:
		st, err := f.Stat()
		if err != nil {
			return 0, errors.Wrap(err, "stat state drive")
		}
		return uint64(st.Size()), nil
	default:
		return 0, errors.Wrap(errno, "query state drive size")
	}
}
