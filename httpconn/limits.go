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

// Package httpconn implements the HTTP/1.x connection state machine: header
// parsing, body read, response header formatting, body write, and lifecycle
// transitions. No pipelining, keep-alive, chunked transfer, or HTTP/2: one
// request is served per connection, and bodies are delimited exclusively by
// Content-Length.
package httpconn

// Hard size bounds enforced by the parser and buffers. These are part of the
// security story: they bound memory per connection regardless of what a
// client sends.
const (
	MaxLineLen      = 1024
	MaxMethodLen    = 16
	MaxURILen       = 1024
	MaxVersionLen   = 8
	MaxHeaderName   = 64
	MaxHeaderValue  = 128
	MaxHeaders      = 16
	MaxReasonPhrase = 64

	InputBufferSize  = 4096
	OutputBufferSize = 4096
)
