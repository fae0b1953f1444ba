// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuseadapter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/fuseadapter"
)

// blockingBackend lets a test hold the worker mid-call, so a second
// AsyncOpen can be observed to collide with the single in-flight reply
// slot.
type blockingBackend struct {
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (b *blockingBackend) Open(path string, flags int32) int32 {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.release != nil {
		<-b.release
	}
	return 0
}

func TestAsyncOpenRoundTripsThroughWorker(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())
	adapter, err := fuseadapter.NewAdapter(loop, timeutil.RealClock(), time.Second)
	require.NoError(t, err)

	backend := &blockingBackend{}
	worker := fuseadapter.NewWorker(adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD, backend)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run() }()

	var gotRet int32
	var gotErr error
	adapter.AsyncOpen("/f", 0, func(ret int32, err error) {
		gotRet = ret
		gotErr = err
	})

	require.NoError(t, loop.Run())
	require.NoError(t, gotErr)
	require.Equal(t, int32(0), gotRet)
	require.Equal(t, 1, backend.calls)

	require.NoError(t, adapter.StopBlocking())
	select {
	case err := <-workerDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker never returned after quit")
	}
	require.NoError(t, worker.Close())
	require.NoError(t, adapter.Close())
}

func TestAsyncOpenResourceExhaustedWhileInFlight(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())
	adapter, err := fuseadapter.NewAdapter(loop, timeutil.RealClock(), time.Second)
	require.NoError(t, err)

	backend := &blockingBackend{release: make(chan struct{})}
	worker := fuseadapter.NewWorker(adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD, backend)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run() }()

	firstDone := make(chan struct{})
	adapter.AsyncOpen("/first", 0, func(ret int32, err error) {
		require.NoError(t, err)
		close(firstDone)
	})

	// The first call is now mid-flight inside the worker (blocked on
	// backend.release); a second call must observe the reply slot busy.
	var secondErr error
	secondCalled := false
	adapter.AsyncOpen("/second", 0, func(ret int32, err error) {
		secondCalled = true
		secondErr = err
	})
	require.True(t, secondCalled, "second AsyncOpen should report done synchronously when the slot is busy")
	require.ErrorIs(t, secondErr, fuseadapter.ErrResourceExhausted)

	close(backend.release)

	require.NoError(t, loop.Run())
	<-firstDone
	require.Equal(t, 1, backend.calls)

	require.NoError(t, adapter.StopBlocking())
	select {
	case err := <-workerDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker never returned after quit")
	}
	require.NoError(t, worker.Close())
	require.NoError(t, adapter.Close())
}

func TestAsyncOpenWarnsWhenReplySlotBusyPastWindow(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())
	clock := timeutil.NewSimulatedClock(time.Unix(0, 0))
	adapter, err := fuseadapter.NewAdapter(loop, clock, 10*time.Millisecond)
	require.NoError(t, err)

	backend := &blockingBackend{release: make(chan struct{})}
	worker := fuseadapter.NewWorker(adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD, backend)
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run() }()

	adapter.AsyncOpen("/first", 0, func(int32, error) {})

	// Advance the clock well past the configured window before the second
	// call observes the slot still busy; this only exercises the warning
	// path without crashing, since the warning itself is a log line.
	clock.AdvanceTime(time.Second)

	secondCalled := false
	var secondErr error
	adapter.AsyncOpen("/second", 0, func(ret int32, err error) {
		secondCalled = true
		secondErr = err
	})
	require.True(t, secondCalled)
	require.ErrorIs(t, secondErr, fuseadapter.ErrResourceExhausted)

	close(backend.release)
	require.NoError(t, loop.Run())

	require.NoError(t, adapter.StopBlocking())
	select {
	case err := <-workerDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker never returned after quit")
	}
	require.NoError(t, worker.Close())
	require.NoError(t, adapter.Close())
}

func TestWorkerRunReturnsOnEOF(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())
	adapter, err := fuseadapter.NewAdapter(loop, timeutil.RealClock(), time.Second)
	require.NoError(t, err)

	worker := fuseadapter.NewWorker(adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD, &blockingBackend{})
	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run() }()

	require.NoError(t, adapter.Close())

	select {
	case err := <-workerDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker never observed EOF")
	}
	require.NoError(t, worker.Close())
}
