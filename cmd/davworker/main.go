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

// Command davworker is the subprocess cmd/davserved execs when started with
// --worker-command pointing at this binary's path. It answers Open calls
// read over the pipe fds its parent passed through via ExtraFiles, and is
// the genuine out-of-process counterpart to the in-process goroutine worker
// davserved falls back to when --worker-command is unset.
package main

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/davserve/davlog"
	"github.com/jacobsa/davserve/fuseadapter"
)

// toWorkerReadFD and toServerWriteFD are the fixed fd numbers cmd/davserved's
// launchWorker assigns via ExtraFiles: the first extra file always lands at
// fd 3, the second at fd 4.
const (
	toWorkerReadFD  = 3
	toServerWriteFD = 4
)

// stubBackend mirrors cmd/davserved's placeholder until a real filesystem
// backend is wired in; every Open succeeds with return code 0.
type stubBackend struct{}

func (stubBackend) Open(path string, flags int32) int32 { return 0 }

func main() {
	if _, err := unix.FcntlInt(toWorkerReadFD, unix.F_GETFD, 0); err != nil {
		davlog.L().WithError(err).Fatal("davworker: fd 3 not inherited; must be exec'd by davserved")
	}
	if _, err := unix.FcntlInt(toServerWriteFD, unix.F_GETFD, 0); err != nil {
		davlog.L().WithError(err).Fatal("davworker: fd 4 not inherited; must be exec'd by davserved")
	}

	worker := fuseadapter.NewWorker(toWorkerReadFD, toServerWriteFD, stubBackend{})
	if err := worker.Run(); err != nil {
		davlog.L().WithError(err).Error("worker exited with error")
		os.Exit(1)
	}
}
