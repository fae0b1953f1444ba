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

// Package davlog provides the process-wide, lifecycle-bounded logging
// configuration every other package in this module reads from. It is
// initialized once, before the event loop starts running, mirroring the
// teacher library's sync.Once-gated debug logger but generalized to four
// severities and a structured sink.
package davlog

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level is a logging severity. Levels compare in increasing verbosity order:
// Error < Warn < Info < Debug.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	currentLevel atomic.Int32
	initOnce     sync.Once
	logger       *logrus.Logger
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func toLogrusLevel(l Level) logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel sets the process-wide severity gate. Intended to be called
// exactly once, by the entrypoint, before the event loop runs; every other
// package only ever reads it via L().
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
	initOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	logger.SetLevel(toLogrusLevel(l))
}

// L returns the shared structured logger, lazily defaulting to LevelInfo if
// SetLevel was never called (matching the teacher library's "debug disabled
// unless a flag says otherwise" default).
func L() *logrus.Logger {
	initOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(toLogrusLevel(Level(currentLevel.Load())))
	})
	return logger
}
