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

import (
	"strconv"
	"strings"
)

// HeaderPair is a single, already-trimmed header name/value pair.
type HeaderPair struct {
	Name  string
	Value string
}

// RequestHeaders is the parsed request line plus header block. All fields
// are bounded per the constants in limits.go; a parse that would overflow
// any of them fails instead of growing unboundedly.
type RequestHeaders struct {
	Method       string
	URI          string
	MajorVersion int
	MinorVersion int
	Headers      []HeaderPair
}

// Get returns the value of the first header matching name, matched
// case-insensitively, as the HTTP spec requires.
func (h *RequestHeaders) Get(name string) (string, bool) {
	for _, p := range h.Headers {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// ContentLength parses the Content-Length header, if present. ok is false
// if the header is absent or malformed.
func (h *RequestHeaders) ContentLength() (n int64, ok bool) {
	v, present := h.Get("Content-Length")
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ResponseHeaders is the status line plus header block a handler builds up
// to send back. Unlike RequestHeaders it is written by the handler, so it
// grows the slice rather than enforcing MaxHeaders at append time; WriteHeaders
// enforces the bound when it serializes.
type ResponseHeaders struct {
	Status StatusCode
	Headers []HeaderPair
}

// Set appends a header pair. It does not deduplicate: setting the same name
// twice produces two header lines, matching how most WebDAV handlers build
// responses (e.g. multiple Set-Cookie-like repeated headers).
func (r *ResponseHeaders) Set(name, value string) {
	r.Headers = append(r.Headers, HeaderPair{Name: name, Value: value})
}

// ContentLength returns the declared Content-Length, if the handler set one.
func (r *ResponseHeaders) ContentLength() (int64, bool) {
	for _, p := range r.Headers {
		if strings.EqualFold(p.Name, "Content-Length") {
			n, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
			if err == nil && n >= 0 {
				return n, true
			}
		}
	}
	return 0, false
}
