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

package httpconn

import "errors"

// ErrParse marks a malformed request: oversize token, missing literal,
// too many headers, and the like. Always reported to the handler through
// the failing operation's done callback; never fatal.
var ErrParse = errors.New("httpconn: parse error")

// ErrTransport marks an I/O failure on the socket, including unexpected EOF
// mid-request. Always reported to the handler through the failing
// operation's done callback; never fatal.
var ErrTransport = errors.New("httpconn: transport error")

// ErrUnknownStatus is returned by WriteHeaders when asked to serialize a
// status code with no known reason phrase.
var ErrUnknownStatus = errors.New("httpconn: unknown status code")

// ErrWrongState is returned when an operation's precondition on ReadState or
// WriteState is violated by the caller.
var ErrWrongState = errors.New("httpconn: operation invalid in current state")

// ErrContentLengthExceeded is returned by Read if the handler asks for more
// body bytes than Content-Length declared remain.
var ErrContentLengthExceeded = errors.New("httpconn: read past declared content-length")

// ErrEnded is returned by any operation invoked on a Request after End has
// already been called.
var ErrEnded = errors.New("httpconn: request already ended")
