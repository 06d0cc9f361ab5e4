package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stateshift/rollup-httpd/libs/log"
)

type testService struct {
	BaseService
	started chan struct{}
	stopped chan struct{}
}

func newTestService() *testService {
	ts := &testService{
		started: make(chan struct{}, 1),
		stopped: make(chan struct{}, 1),
	}
	ts.BaseService = *NewBaseService(log.NewNopLogger(), "TestService", ts)
	return ts
}

func (ts *testService) OnStart(context.Context) error {
	ts.started <- struct{}{}
	return nil
}

func (ts *testService) OnStop() {
	ts.stopped <- struct{}{}
}

func TestBaseServiceStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	<-ts.started
	require.True(t, ts.IsRunning())

	// starting twice must fail
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, ts.Stop())
	<-ts.stopped
	require.False(t, ts.IsRunning())

	require.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)

	ts.Wait()
}

func TestBaseServiceContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))
	<-ts.started

	cancel()

	select {
	case <-ts.stopped:
	case <-time.After(time.Second):
		t.Fatal("service did not stop on context cancellation")
	}
}

func TestBaseServiceStopWithoutStart(t *testing.T) {
	ts := newTestService()
	require.ErrorIs(t, ts.Stop(), ErrNotStarted)
}
