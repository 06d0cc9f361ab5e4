package rollup

import (
	"context"
	"fmt"

	"github.com/stateshift/rollup-httpd/libs/log"
)

// Driver is the narrow boundary to the kernel rollup device. Implementations
// are not safe for concurrent use; Device provides the serialization.
type Driver interface {
	// Finish signals completion of the previous request and blocks until
	// the node enqueues the next one, returning its type discriminator.
	Finish(accept bool) (int, error)

	// ReadAdvance fetches the advance request announced by Finish.
	ReadAdvance() (*AdvanceRequest, error)

	// ReadInspect fetches the inspect request announced by Finish.
	ReadInspect() (*InspectRequest, error)

	// WriteVoucher records a voucher and returns its assigned index.
	WriteVoucher(destination [AddressSize]byte, payload []byte) (uint64, error)

	// WriteNotice records a notice and returns its assigned index.
	WriteNotice(payload []byte) (uint64, error)

	// WriteReport records a report.
	WriteReport(payload []byte) error

	// ThrowException records a diagnostic exception.
	ThrowException(payload []byte) error

	// GIO forwards a generic I/O request and returns the raw response.
	GIO(domain uint16, id uint64, payload []byte) (*GIOResponse, error)

	Close() error
}

// Device owns the process's single rollup device channel. It is the unit of
// mutual exclusion: every transaction acquires exclusive access for its full
// duration, so no two device transactions ever interleave. The underlying
// Driver is never exposed.
type Device struct {
	logger log.Logger
	driver Driver

	// sem is a one-slot semaphore guarding the driver. A channel rather
	// than a mutex so that waiters can abandon the acquisition when their
	// request context terminates.
	sem chan struct{}
}

// NewDevice wraps driver in the process-wide exclusion discipline.
func NewDevice(logger log.Logger, driver Driver) *Device {
	return &Device{
		logger: logger,
		driver: driver,
		sem:    make(chan struct{}, 1),
	}
}

// acquire takes exclusive ownership of the device channel, or gives up when
// the caller's context terminates first. Once acquired, a transaction always
// runs to completion; cancellation mid-transaction only discards the
// would-be response.
func (d *Device) acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) release() { <-d.sem }

// Finish issues the finish transaction with the given acceptance flag and
// blocks, holding exclusive access, until the node delivers the next
// request. The exclusivity is held for the entire wait: a concurrent write
// on the same channel would violate the one-in-flight protocol invariant.
//
// A device error or an unrecognized discriminator is returned to the caller
// without poisoning the handle; a later call may proceed normally. Whether
// the kernel-side protocol state survives a failed finish intact is an
// unresolved contract, so the error is surfaced rather than retried.
func (d *Device) Finish(ctx context.Context, accept bool) (*Request, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	d.logger.Debug("writing finish to device", "accept", accept)

	reqType, err := d.driver.Finish(accept)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFinishTransaction, err)
	}

	switch reqType {
	case requestTypeAdvance:
		advance, err := d.driver.ReadAdvance()
		if err != nil {
			return nil, fmt.Errorf("read advance state: %w", err)
		}
		return &Request{Advance: advance}, nil

	case requestTypeInspect:
		inspect, err := d.driver.ReadInspect()
		if err != nil {
			return nil, fmt.Errorf("read inspect state: %w", err)
		}
		return &Request{Inspect: inspect}, nil

	default:
		return nil, fmt.Errorf("%w: device returned discriminator %d", ErrUnknownRequestType, reqType)
	}
}

// EmitVoucher records a voucher and returns the index assigned by the
// device. The destination must already be validated.
func (d *Device) EmitVoucher(ctx context.Context, v *Voucher) (uint64, error) {
	destination, err := DecodeAddress(v.Destination)
	if err != nil {
		return 0, err
	}

	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()

	index, err := d.driver.WriteVoucher(destination, v.Payload)
	if err != nil {
		return 0, fmt.Errorf("write voucher: %w", err)
	}
	return index, nil
}

// EmitNotice records a notice and returns the index assigned by the device.
func (d *Device) EmitNotice(ctx context.Context, n *Notice) (uint64, error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()

	index, err := d.driver.WriteNotice(n.Payload)
	if err != nil {
		return 0, fmt.Errorf("write notice: %w", err)
	}
	return index, nil
}

// EmitReport records a report. Reports carry no index.
func (d *Device) EmitReport(ctx context.Context, r *Report) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	if err := d.driver.WriteReport(r.Payload); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ThrowException records a diagnostic exception.
func (d *Device) ThrowException(ctx context.Context, e *Exception) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	if err := d.driver.ThrowException(e.Payload); err != nil {
		return fmt.Errorf("throw exception: %w", err)
	}
	return nil
}

// GIO forwards a generic I/O request to the device and returns its raw
// response.
func (d *Device) GIO(ctx context.Context, req *GIORequest) (*GIOResponse, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	resp, err := d.driver.GIO(req.Domain, req.ID, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("gio request: %w", err)
	}
	return resp, nil
}

// Close releases the underlying device connection.
func (d *Device) Close() error {
	if err := d.acquire(context.Background()); err != nil {
		return err
	}
	defer d.release()

	return d.driver.Close()
}
