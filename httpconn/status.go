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

// StatusCode is one of the fixed set of codes this server knows how to
// serialize a reason phrase for. Response serialization of any other code
// fails rather than emitting a blank reason phrase.
type StatusCode int

const (
	StatusOK                   StatusCode = 200
	StatusCreated              StatusCode = 201
	StatusNoContent            StatusCode = 204
	StatusMultiStatus          StatusCode = 207
	StatusBadRequest           StatusCode = 400
	StatusForbidden            StatusCode = 403
	StatusNotFound             StatusCode = 404
	StatusMethodNotAllowed     StatusCode = 405
	StatusConflict             StatusCode = 409
	StatusPreconditionFailed   StatusCode = 412
	StatusUnsupportedMediaType StatusCode = 415
	StatusExpectationFailed    StatusCode = 417
	StatusInternalServerError  StatusCode = 500
	StatusNotImplemented       StatusCode = 501
	StatusInsufficientStorage  StatusCode = 507
)

// reasonPhrases holds the canonical IANA phrase for each enumerated code.
var reasonPhrases = map[StatusCode]string{
	StatusOK:                   "OK",
	StatusCreated:              "Created",
	StatusNoContent:            "No Content",
	StatusMultiStatus:          "Multi-Status",
	StatusBadRequest:           "Bad Request",
	StatusForbidden:            "Forbidden",
	StatusNotFound:             "Not Found",
	StatusMethodNotAllowed:     "Method Not Allowed",
	StatusConflict:             "Conflict",
	StatusPreconditionFailed:   "Precondition Failed",
	StatusUnsupportedMediaType: "Unsupported Media Type",
	StatusExpectationFailed:    "Expectation Failed",
	StatusInternalServerError:  "Internal Server Error",
	StatusNotImplemented:       "Not Implemented",
	StatusInsufficientStorage:  "Insufficient Storage",
}

// ReasonPhrase returns the canonical phrase for code, and false if code is
// not one of the enumerated statuses this server supports.
func ReasonPhrase(code StatusCode) (string, bool) {
	p, ok := reasonPhrases[code]
	return p, ok
}
