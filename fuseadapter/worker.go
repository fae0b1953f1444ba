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

package fuseadapter

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Backend is the out-of-scope filesystem backend ABI's Open entry point,
// the only operation this adapter tunnels. A real deployment wires in
// whatever concrete filesystem (including a FUSE-mounted one) implements
// this; package fuseadapter only ever calls it from the worker side.
type Backend interface {
	Open(path string, flags int32) (returnCode int32)
}

// Worker runs the synchronous side of the adapter: it blocks reading
// requests off ToWorker and replies on ToServer, one at a time, until it
// reads a QuitMessage or ToWorker's write end is closed. It is meant to run
// on its own goroutine (for tests and the default in-process deployment) or
// as the entire body of a separate worker process.
type Worker struct {
	toWorkerReadFD  int
	toServerWriteFD int
	backend         Backend
}

// NewWorker wraps the blocking ends of an adapter's two channels. Call this
// with (adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD) for an in-process
// worker, or with the corresponding inherited fds in a separate process.
func NewWorker(toWorkerReadFD, toServerWriteFD int, backend Backend) *Worker {
	return &Worker{toWorkerReadFD: toWorkerReadFD, toServerWriteFD: toServerWriteFD, backend: backend}
}

// Run processes requests until Quit or EOF. It returns nil on a clean Quit
// or EOF, and an error wrapping ErrProtocolViolation if reading a request
// fails or yields a short frame. It panics (per the
// ProtocolViolationInternal taxonomy) on a frame that does not decode or a
// reply write failure, since both indicate the wire contract between the
// two sides has been broken.
func (w *Worker) Run() error {
	for {
		raw, err := readFrameBlocking(w.toWorkerReadFD)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading request: %v", ErrProtocolViolation, err)
		}

		msg, err := decode(raw)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrProtocolViolation, err))
		}

		switch m := msg.(type) {
		case QuitMessage:
			return nil

		case OpenMessage:
			ret := w.backend.Open(m.Path, m.Flags)
			reply, err := encode(OpenReplyMessage{ReturnCode: ret})
			if err != nil {
				panic(fmt.Errorf("%w: encoding open reply: %v", ErrProtocolViolation, err))
			}
			n, werr := unix.Write(w.toServerWriteFD, reply)
			if werr != nil || n != len(reply) {
				panic(fmt.Errorf("%w: reply write failed: %v", ErrProtocolViolation, werr))
			}

		default:
			panic(fmt.Errorf("%w: unexpected message type %T", ErrProtocolViolation, msg))
		}
	}
}

// Close releases the worker-side fds: ToWorker's read end and ToServer's
// write end. Call this from the worker process/goroutine after Run returns.
func (w *Worker) Close() error {
	err1 := unix.Close(w.toWorkerReadFD)
	err2 := unix.Close(w.toServerWriteFD)
	if err1 != nil {
		return err1
	}
	return err2
}
