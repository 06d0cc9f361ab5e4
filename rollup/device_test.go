package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateshift/rollup-httpd/libs/log"
)

// mockDriver records every transaction and flags any overlap, which would
// mean two device transactions ran concurrently.
type mockDriver struct {
	mtx      sync.Mutex
	inFlight bool
	overlap  bool

	finishGate  chan struct{} // when set, Finish parks until closed
	finishErr   error
	reqType     int
	advance     *AdvanceRequest
	inspect     *InspectRequest
	writeErr    error
	nextIndex   uint64
	writeCalls  int
	finishCalls int
	gioResp     *GIOResponse
}

func (m *mockDriver) enter() func() {
	m.mtx.Lock()
	if m.inFlight {
		m.overlap = true
	}
	m.inFlight = true
	m.mtx.Unlock()

	// widen the race window so overlapping transactions get caught
	time.Sleep(time.Millisecond)

	return func() {
		m.mtx.Lock()
		m.inFlight = false
		m.mtx.Unlock()
	}
}

func (m *mockDriver) Finish(accept bool) (int, error) {
	defer m.enter()()
	m.mtx.Lock()
	m.finishCalls++
	gate := m.finishGate
	m.mtx.Unlock()

	if gate != nil {
		<-gate
	}
	if m.finishErr != nil {
		return 0, m.finishErr
	}
	return m.reqType, nil
}

func (m *mockDriver) ReadAdvance() (*AdvanceRequest, error) {
	defer m.enter()()
	return m.advance, nil
}

func (m *mockDriver) ReadInspect() (*InspectRequest, error) {
	defer m.enter()()
	return m.inspect, nil
}

func (m *mockDriver) WriteVoucher(_ [AddressSize]byte, _ []byte) (uint64, error) {
	return m.write()
}

func (m *mockDriver) WriteNotice(_ []byte) (uint64, error) {
	return m.write()
}

func (m *mockDriver) write() (uint64, error) {
	defer m.enter()()
	m.mtx.Lock()
	m.writeCalls++
	index := m.nextIndex
	m.nextIndex++
	m.mtx.Unlock()

	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return index, nil
}

func (m *mockDriver) WriteReport(_ []byte) error {
	defer m.enter()()
	m.mtx.Lock()
	m.writeCalls++
	m.mtx.Unlock()
	return m.writeErr
}

func (m *mockDriver) ThrowException(_ []byte) error {
	defer m.enter()()
	m.mtx.Lock()
	m.writeCalls++
	m.mtx.Unlock()
	return m.writeErr
}

func (m *mockDriver) GIO(_ uint16, _ uint64, _ []byte) (*GIOResponse, error) {
	defer m.enter()()
	return m.gioResp, nil
}

func (m *mockDriver) Close() error { return nil }

func newTestDevice(t *testing.T, driver Driver) *Device {
	t.Helper()
	return NewDevice(log.NewTestingLogger(t), driver)
}

func TestDeviceFinishAdvance(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{
		reqType: requestTypeAdvance,
		advance: &AdvanceRequest{Payload: []byte{0x01, 0x02}},
	}
	dev := newTestDevice(t, driver)

	req, err := dev.Finish(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, req.Advance)
	require.Nil(t, req.Inspect)
	assert.Equal(t, AdvanceStateType, req.Type())
	assert.Equal(t, []byte{0x01, 0x02}, []byte(req.Advance.Payload))
}

func TestDeviceFinishInspect(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{
		reqType: requestTypeInspect,
		inspect: &InspectRequest{Payload: []byte{0xaa}},
	}
	dev := newTestDevice(t, driver)

	req, err := dev.Finish(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, req.Inspect)
	assert.Equal(t, InspectStateType, req.Type())
}

func TestDeviceFinishUnknownDiscriminator(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{reqType: 7}
	dev := newTestDevice(t, driver)

	_, err := dev.Finish(ctx, true)
	require.ErrorIs(t, err, ErrUnknownRequestType)
	require.NotErrorIs(t, err, ErrFinishTransaction)

	// the handle stays usable after a protocol error
	driver.reqType = requestTypeInspect
	driver.inspect = &InspectRequest{}
	_, err = dev.Finish(ctx, true)
	require.NoError(t, err)
}

func TestDeviceFinishErrorDoesNotPoison(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{finishErr: errors.New("device reset")}
	dev := newTestDevice(t, driver)

	_, err := dev.Finish(ctx, true)
	require.ErrorIs(t, err, ErrFinishTransaction)
	require.Contains(t, err.Error(), "device reset")

	driver.finishErr = nil
	driver.reqType = requestTypeAdvance
	driver.advance = &AdvanceRequest{}
	_, err = dev.Finish(ctx, true)
	require.NoError(t, err)
}

func TestDeviceSerializesTransactions(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{}
	dev := newTestDevice(t, driver)

	const n = 16
	indices := make([]uint64, 0, n)
	var (
		idxMtx sync.Mutex
		wg     sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			index, err := dev.EmitNotice(ctx, &Notice{Payload: []byte{0x01}})
			require.NoError(t, err)
			idxMtx.Lock()
			indices = append(indices, index)
			idxMtx.Unlock()
		}()
	}
	wg.Wait()

	require.False(t, driver.overlap, "device transactions interleaved")
	require.Len(t, indices, n)

	// all indices assigned, each exactly once, starting at 0
	seen := make(map[uint64]bool, n)
	for _, index := range indices {
		require.Less(t, index, uint64(n))
		require.False(t, seen[index])
		seen[index] = true
	}
}

func TestDeviceFinishHoldsExclusiveAccess(t *testing.T) {
	ctx := context.Background()

	gate := make(chan struct{})
	driver := &mockDriver{
		finishGate: gate,
		reqType:    requestTypeInspect,
		inspect:    &InspectRequest{},
	}
	dev := newTestDevice(t, driver)

	finishDone := make(chan error, 1)
	go func() {
		_, err := dev.Finish(ctx, true)
		finishDone <- err
	}()

	// wait for the finish transaction to reach the device
	require.Eventually(t, func() bool {
		driver.mtx.Lock()
		defer driver.mtx.Unlock()
		return driver.finishCalls == 1
	}, time.Second, time.Millisecond)

	// a recorder waiting behind the parked finish must time out
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := dev.EmitNotice(shortCtx, &Notice{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, driver.writeCalls)

	close(gate)
	require.NoError(t, <-finishDone)

	// once the finish resolves, the channel is free again
	_, err = dev.EmitNotice(ctx, &Notice{})
	require.NoError(t, err)
}

func TestEmitVoucherInvalidAddress(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{}
	dev := newTestDevice(t, driver)

	_, err := dev.EmitVoucher(ctx, &Voucher{Destination: "not-an-address"})
	require.ErrorIs(t, err, ErrInvalidAddress)
	require.Equal(t, 0, driver.writeCalls)
}

func TestDeviceErrorText(t *testing.T) {
	ctx := context.Background()

	driver := &mockDriver{writeErr: fmt.Errorf("operation not permitted")}
	dev := newTestDevice(t, driver)

	_, err := dev.EmitNotice(ctx, &Notice{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
}
