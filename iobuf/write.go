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

package iobuf

import (
	"golang.org/x/sys/unix"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/microthread"
)

// WriteAll writes every byte of src to fd, retrying on EAGAIN by yielding
// until fd is writable and advancing past partial writes. It returns the
// number of bytes written, which equals len(src) on success.
func WriteAll(y *microthread.Yielder, loop *fdevent.EventLoop, fd int, src []byte) (int, error) {
	written := 0
	for written < len(src) {
		n, err := unix.Write(fd, src[written:])
		switch {
		case err == unix.EAGAIN:
			awaitWritable(y, loop, fd)
			continue
		case err != nil:
			return written, err
		default:
			written += n
		}
	}
	return written, nil
}
