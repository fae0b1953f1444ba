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

package fdevent_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/fdevent"
)

func mustPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWatchFiresOnReadiness(t *testing.T) {
	r, w := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())

	var fired fdevent.FDEvent
	calls := 0
	_, err := loop.AddWatch(r, fdevent.Read, func(ev fdevent.FDEvent, ud any) {
		fired = ev
		calls++
	}, nil)
	require.NoError(t, err)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, loop.Run())
	require.Equal(t, 1, calls)
	require.Equal(t, r, fired.FD)
	require.NotZero(t, fired.Ready&fdevent.Read)
}

func TestRemoveWatchPreventsDispatchAcrossReregister(t *testing.T) {
	r, w := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())

	calls := 0
	key, err := loop.AddWatch(r, fdevent.Read, func(ev fdevent.FDEvent, ud any) {
		calls++
	}, nil)
	require.NoError(t, err)

	loop.RemoveWatch(key)

	// Re-add a watch for the same fd before the next cycle; the removed
	// watch must never fire even though a new one now exists.
	calls2 := 0
	_, err = loop.AddWatch(r, fdevent.Read, func(ev fdevent.FDEvent, ud any) {
		calls2++
	}, nil)
	require.NoError(t, err)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, loop.Run())
	require.Equal(t, 0, calls)
	require.Equal(t, 1, calls2)
}

func TestRemovalDuringDispatchIsSafe(t *testing.T) {
	r1, w1 := mustPipe(t)
	r2, w2 := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())

	var key2 fdevent.WatchKey
	calls2 := 0

	_, err := loop.AddWatch(r1, fdevent.Read, func(ev fdevent.FDEvent, ud any) {
		loop.RemoveWatch(key2)
	}, nil)
	require.NoError(t, err)

	key2, err = loop.AddWatch(r2, fdevent.Read, func(ev fdevent.FDEvent, ud any) {
		calls2++
	}, nil)
	require.NoError(t, err)

	_, err = unix.Write(w1, []byte("x"))
	require.NoError(t, err)
	_, err = unix.Write(w2, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, loop.Run())
	require.Equal(t, 0, calls2)
}

func TestRunReturnsWhenDrained(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())
	require.NoError(t, loop.Run())
}

func TestAddWatchResourceExhausted(t *testing.T) {
	r, _ := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())
	loop.FailNextAllocForTesting()

	_, err := loop.AddWatch(r, fdevent.Read, func(fdevent.FDEvent, any) {}, nil)
	require.ErrorIs(t, err, fdevent.ErrResourceExhausted)
}

func TestTimerFiresAfterDeadlineWithNoWatches(t *testing.T) {
	loop := fdevent.New(timeutil.RealClock())

	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.AddTimer(20*time.Millisecond, func() {
		fired <- time.Now()
	})

	require.NoError(t, loop.Run())
	select {
	case at := <-fired:
		require.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
	default:
		t.Fatal("timer never fired before Run returned")
	}
}

func TestRemoveTimerPreventsFire(t *testing.T) {
	r, w := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())

	key := loop.AddTimer(time.Hour, func() {
		t.Fatal("removed timer fired")
	})
	loop.RemoveTimer(key)

	_, err := loop.AddWatch(r, fdevent.Read, func(fdevent.FDEvent, any) {}, nil)
	require.NoError(t, err)

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, loop.Run())
}

func TestTimerAndWatchBothFireInOneRun(t *testing.T) {
	r, w := mustPipe(t)
	loop := fdevent.New(timeutil.RealClock())

	watchFired := false
	_, err := loop.AddWatch(r, fdevent.Read, func(fdevent.FDEvent, any) {
		watchFired = true
	}, nil)
	require.NoError(t, err)

	timerFired := false
	loop.AddTimer(10*time.Millisecond, func() {
		timerFired = true
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		unix.Write(w, []byte("x"))
	}()

	require.NoError(t, loop.Run())
	require.True(t, timerFired)
	require.True(t, watchFired)
}
