//go:build linux
// +build linux

package rollup

import (
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is where the kernel exposes the rollup character device.
const DefaultDevicePath = "/dev/rollup"

// maxGIOResponse bounds the buffer handed to the device for GIO responses.
const maxGIOResponse = 2 << 20

// Wire structs of the rollup character device ABI. Layouts mirror the
// kernel driver headers on 64-bit targets.
type rollupBytes struct {
	data   *byte
	length uint64
}

type rollupInputMetadata struct {
	msgSender   [AddressSize]byte
	blockNumber uint64
	timestamp   uint64
	epochIndex  uint64
	inputIndex  uint64
}

type rollupAdvanceState struct {
	metadata rollupInputMetadata
	payload  rollupBytes
}

type rollupInspectState struct {
	payload rollupBytes
}

type rollupFinish struct {
	acceptPreviousRequest    bool
	nextRequestType          int32
	nextRequestPayloadLength uint64
}

type rollupVoucher struct {
	destination [AddressSize]byte
	payload     rollupBytes
	index       uint64
}

type rollupNotice struct {
	payload rollupBytes
	index   uint64
}

type rollupReport struct {
	payload rollupBytes
}

type rollupException struct {
	payload rollupBytes
}

type rollupGIO struct {
	domain       uint16
	id           uint64
	payload      rollupBytes
	response     rollupBytes
	responseCode uint16
}

// _IOWR(0xd3, nr, size)
func iowr(nr, size uintptr) uintptr {
	const (
		iocDirRW    = 3
		iocType     = 0xd3
		iocSizeBits = 16
		iocTypeBits = 8
		iocDirBits  = 30
	)
	return iocDirRW<<iocDirBits | size<<iocSizeBits | iocType<<iocTypeBits | nr
}

var (
	ioctlWriteVoucher   = iowr(0, unsafe.Sizeof(rollupVoucher{}))
	ioctlWriteNotice    = iowr(1, unsafe.Sizeof(rollupNotice{}))
	ioctlWriteReport    = iowr(2, unsafe.Sizeof(rollupReport{}))
	ioctlFinish         = iowr(3, unsafe.Sizeof(rollupFinish{}))
	ioctlReadAdvance    = iowr(4, unsafe.Sizeof(rollupAdvanceState{}))
	ioctlReadInspect    = iowr(5, unsafe.Sizeof(rollupInspectState{}))
	ioctlThrowException = iowr(6, unsafe.Sizeof(rollupException{}))
	ioctlGIO            = iowr(7, unsafe.Sizeof(rollupGIO{}))
)

// ioctlDriver talks to the rollup character device through raw ioctls. All
// transport and struct layout details stay behind the Driver interface;
// Device provides the serialization this type requires.
type ioctlDriver struct {
	f *os.File

	// payload length announced by the last finish transaction, consumed
	// by the following read.
	nextLength uint64
}

var _ Driver = (*ioctlDriver)(nil)

// OpenDevice opens the rollup character device at path.
func OpenDevice(path string) (Driver, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open rollup device: %w", err)
	}
	return &ioctlDriver{f: f}, nil
}

func (d *ioctlDriver) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func newRollupBytes(b []byte) rollupBytes {
	if len(b) == 0 {
		return rollupBytes{}
	}
	return rollupBytes{data: &b[0], length: uint64(len(b))}
}

func (d *ioctlDriver) Finish(accept bool) (int, error) {
	finish := rollupFinish{acceptPreviousRequest: accept}
	if err := d.ioctl(ioctlFinish, unsafe.Pointer(&finish)); err != nil {
		return 0, fmt.Errorf("ioctl finish: %w", err)
	}
	d.nextLength = finish.nextRequestPayloadLength
	return int(finish.nextRequestType), nil
}

func (d *ioctlDriver) ReadAdvance() (*AdvanceRequest, error) {
	payload := make([]byte, d.nextLength)
	state := rollupAdvanceState{payload: newRollupBytes(payload)}
	if err := d.ioctl(ioctlReadAdvance, unsafe.Pointer(&state)); err != nil {
		return nil, fmt.Errorf("ioctl read advance state: %w", err)
	}
	runtime.KeepAlive(payload)

	meta := state.metadata
	return &AdvanceRequest{
		Metadata: AdvanceMetadata{
			MsgSender:   "0x" + hex.EncodeToString(meta.msgSender[:]),
			EpochIndex:  meta.epochIndex,
			InputIndex:  meta.inputIndex,
			BlockNumber: meta.blockNumber,
			Timestamp:   meta.timestamp,
		},
		Payload: payload[:state.payload.length],
	}, nil
}

func (d *ioctlDriver) ReadInspect() (*InspectRequest, error) {
	payload := make([]byte, d.nextLength)
	state := rollupInspectState{payload: newRollupBytes(payload)}
	if err := d.ioctl(ioctlReadInspect, unsafe.Pointer(&state)); err != nil {
		return nil, fmt.Errorf("ioctl read inspect state: %w", err)
	}
	runtime.KeepAlive(payload)

	return &InspectRequest{Payload: payload[:state.payload.length]}, nil
}

func (d *ioctlDriver) WriteVoucher(destination [AddressSize]byte, payload []byte) (uint64, error) {
	voucher := rollupVoucher{
		destination: destination,
		payload:     newRollupBytes(payload),
	}
	if err := d.ioctl(ioctlWriteVoucher, unsafe.Pointer(&voucher)); err != nil {
		return 0, fmt.Errorf("ioctl write voucher: %w", err)
	}
	runtime.KeepAlive(payload)
	return voucher.index, nil
}

func (d *ioctlDriver) WriteNotice(payload []byte) (uint64, error) {
	notice := rollupNotice{payload: newRollupBytes(payload)}
	if err := d.ioctl(ioctlWriteNotice, unsafe.Pointer(&notice)); err != nil {
		return 0, fmt.Errorf("ioctl write notice: %w", err)
	}
	runtime.KeepAlive(payload)
	return notice.index, nil
}

func (d *ioctlDriver) WriteReport(payload []byte) error {
	report := rollupReport{payload: newRollupBytes(payload)}
	if err := d.ioctl(ioctlWriteReport, unsafe.Pointer(&report)); err != nil {
		return fmt.Errorf("ioctl write report: %w", err)
	}
	runtime.KeepAlive(payload)
	return nil
}

func (d *ioctlDriver) ThrowException(payload []byte) error {
	exception := rollupException{payload: newRollupBytes(payload)}
	if err := d.ioctl(ioctlThrowException, unsafe.Pointer(&exception)); err != nil {
		return fmt.Errorf("ioctl throw exception: %w", err)
	}
	runtime.KeepAlive(payload)
	return nil
}

func (d *ioctlDriver) GIO(domain uint16, id uint64, payload []byte) (*GIOResponse, error) {
	response := make([]byte, maxGIOResponse)
	gio := rollupGIO{
		domain:   domain,
		id:       id,
		payload:  newRollupBytes(payload),
		response: newRollupBytes(response),
	}
	if err := d.ioctl(ioctlGIO, unsafe.Pointer(&gio)); err != nil {
		return nil, fmt.Errorf("ioctl gio: %w", err)
	}
	runtime.KeepAlive(payload)
	runtime.KeepAlive(response)

	return &GIOResponse{
		ResponseCode: gio.responseCode,
		Response:     response[:gio.response.length],
	}, nil
}

func (d *ioctlDriver) Close() error {
	return d.f.Close()
}
