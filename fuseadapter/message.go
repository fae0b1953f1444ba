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

// Package fuseadapter tunnels blocking filesystem backend calls from the
// single-threaded event-loop process to a worker process (or goroutine, in
// tests) over a pair of pipes, preserving nonblocking semantics on the
// event-loop side. Every message is a fixed-size frame that fits well under
// PIPE_BUF, so a single read(2)/write(2) transfers it atomically; this
// package never splits a frame across more than one syscall.
package fuseadapter

import (
	"encoding/binary"
	"fmt"
)

// frameSize is the fixed wire size of every message. Linux's PIPE_BUF is
// 4096; this module's frames are sixteen times smaller, leaving
// ample headroom for the atomicity guarantee to hold regardless of platform.
const frameSize = 256

// maxPathLen bounds the path carried by an OpenMessage so it always fits in
// frameSize alongside the kind tag and flags.
const maxPathLen = frameSize - 1 - 4 - 2

type messageKind byte

const (
	kindQuit messageKind = iota
	kindOpen
	kindOpenReply
)

// Message is the tagged union of frames exchanged between the event-loop
// side and the worker. Concrete types: QuitMessage, OpenMessage,
// OpenReplyMessage.
type Message interface {
	isMessage()
}

// QuitMessage tells the worker loop to stop after this message.
type QuitMessage struct{}

func (QuitMessage) isMessage() {}

// OpenMessage asks the worker to call the backend's Open.
type OpenMessage struct {
	Path  string
	Flags int32
}

func (OpenMessage) isMessage() {}

// OpenReplyMessage carries the backend's Open result back to the event-loop
// side. ReturnCode follows errno convention: 0 means success.
type OpenReplyMessage struct {
	ReturnCode int32
}

func (OpenReplyMessage) isMessage() {}

func encode(m Message) ([]byte, error) {
	buf := make([]byte, frameSize)
	switch v := m.(type) {
	case QuitMessage:
		buf[0] = byte(kindQuit)

	case OpenMessage:
		if len(v.Path) > maxPathLen {
			return nil, fmt.Errorf("fuseadapter: path %d bytes exceeds max %d", len(v.Path), maxPathLen)
		}
		buf[0] = byte(kindOpen)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(v.Flags))
		binary.LittleEndian.PutUint16(buf[5:7], uint16(len(v.Path)))
		copy(buf[7:7+len(v.Path)], v.Path)

	case OpenReplyMessage:
		buf[0] = byte(kindOpenReply)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(v.ReturnCode))

	default:
		return nil, fmt.Errorf("fuseadapter: unknown message type %T", m)
	}
	return buf, nil
}

func decode(buf []byte) (Message, error) {
	if len(buf) != frameSize {
		return nil, fmt.Errorf("fuseadapter: frame is %d bytes, want %d", len(buf), frameSize)
	}
	switch messageKind(buf[0]) {
	case kindQuit:
		return QuitMessage{}, nil

	case kindOpen:
		flags := int32(binary.LittleEndian.Uint32(buf[1:5]))
		n := binary.LittleEndian.Uint16(buf[5:7])
		if int(n) > maxPathLen {
			return nil, fmt.Errorf("fuseadapter: decoded path length %d exceeds max %d", n, maxPathLen)
		}
		path := string(buf[7 : 7+n])
		return OpenMessage{Path: path, Flags: flags}, nil

	case kindOpenReply:
		ret := int32(binary.LittleEndian.Uint32(buf[1:5]))
		return OpenReplyMessage{ReturnCode: ret}, nil

	default:
		return nil, fmt.Errorf("fuseadapter: unknown wire kind %d", buf[0])
	}
}
