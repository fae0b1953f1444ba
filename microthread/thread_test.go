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

package microthread_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacobsa/davserve/microthread"
)

func TestCallReturnsTerminalEventToCallback(t *testing.T) {
	done := make(chan microthread.Event, 1)

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		return microthread.Event{Kind: "done", Payload: 42}
	}, func(terminal microthread.Event, ud any) {
		done <- terminal
	}, nil)

	select {
	case ev := <-done:
		require.Equal(t, microthread.EventKind("done"), ev.Kind)
		require.Equal(t, 42, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestYieldSuspendsUntilResumed(t *testing.T) {
	scheduled := make(chan microthread.Resume, 1)
	done := make(chan microthread.Event, 1)

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		ev := y.Yield(func(r microthread.Resume) {
			scheduled <- r
		})
		return microthread.Event{Kind: "resumed", Payload: ev.Payload}
	}, func(terminal microthread.Event, ud any) {
		done <- terminal
	}, nil)

	var resume microthread.Resume
	select {
	case resume = <-scheduled:
	case <-time.After(time.Second):
		t.Fatal("never scheduled")
	}

	select {
	case <-done:
		t.Fatal("callback fired before resume")
	default:
	}

	resume(microthread.Event{Kind: "x", Payload: "hello"})

	select {
	case ev := <-done:
		require.Equal(t, "hello", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked after resume")
	}
}

func TestReceiveReturnsPayloadOnMatch(t *testing.T) {
	type payload struct{ N int }
	done := make(chan microthread.Event, 1)

	microthread.Call(func(y *microthread.Yielder) microthread.Event {
		p := y.Receive("kind-a", func(r microthread.Resume) {
			r(microthread.Event{Kind: "kind-a", Payload: payload{N: 7}})
		})
		return microthread.Event{Payload: p}
	}, func(terminal microthread.Event, ud any) {
		done <- terminal
	}, nil)

	select {
	case ev := <-done:
		require.Equal(t, payload{N: 7}, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}
