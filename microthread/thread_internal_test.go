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

package microthread

import (
	"errors"
	"testing"
	"time"
)

// TestReceiveMismatchedKindPanics exercises the protocol-violation path
// directly against a Yielder, reproducing the Call/Resume hand-off by hand
// since the panic happens inside the microthread's own goroutine and must
// be recovered there, not by whatever drives it.
func TestReceiveMismatchedKindPanics(t *testing.T) {
	y := &Yielder{resume: make(chan Event), handback: make(chan struct{})}

	resumeCh := make(chan Resume, 1)
	panicked := make(chan any, 1)

	go func() {
		defer func() { panicked <- recover() }()
		y.Receive("expected-kind", func(r Resume) {
			resumeCh <- r
		})
	}()

	select {
	case <-y.handback:
	case <-time.After(time.Second):
		t.Fatal("microthread never yielded")
	}

	var r Resume
	select {
	case r = <-resumeCh:
	case <-time.After(time.Second):
		t.Fatal("schedule callback never ran")
	}
	go r(Event{Kind: "other-kind"})

	select {
	case got := <-panicked:
		if got == nil {
			t.Fatal("expected panic, got none")
		}
		err, ok := got.(error)
		if !ok || !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected ErrProtocolViolation, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("microthread never panicked")
	}
}
