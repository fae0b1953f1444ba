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

package httpconn_test

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/httpconn"
)

// startListener binds a loopback TCP listener and hands back its address
// plus a raw, nonblocking fd suitable for httpconn.Start, mirroring
// cmd/davserved's own bootstrap.
func startListener(t *testing.T) (addr string, fd int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpLn := ln.(*net.TCPListener)
	f, err := tcpLn.File()
	require.NoError(t, err)
	addr = ln.Addr().String()
	require.NoError(t, tcpLn.Close())
	require.NoError(t, unix.SetNonblock(int(f.Fd()), true))
	t.Cleanup(func() { unix.Close(int(f.Fd())) })
	return addr, int(f.Fd())
}

// runOneRequest starts the server with handler, dials addr, lets
// interact drive the client side of the connection, and then runs the
// event loop to completion. The server stops itself (and so lets Run
// return) the moment the single request ends.
func runOneRequest(t *testing.T, handler func(loop *fdevent.EventLoop, srv **httpconn.Server) httpconn.Handler, interact func(conn net.Conn)) {
	t.Helper()
	addr, fd := startListener(t)
	loop := fdevent.New(timeutil.RealClock())

	var srv *httpconn.Server
	var err error
	srv, err = httpconn.Start(loop, fd, handler(loop, &srv), timeutil.RealClock())
	require.NoError(t, err)

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return
		}
		defer conn.Close()
		interact(conn)
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run() }()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop never drained")
	}
	<-clientDone
}

func TestMinimalGetReturnsFixed404(t *testing.T) {
	runOneRequest(t,
		func(loop *fdevent.EventLoop, srv **httpconn.Server) httpconn.Handler {
			return func(ev httpconn.HandlerEvent) {
				switch ev.Kind {
				case httpconn.EventNewRequest:
					ev.Request.ReadHeaders(func(err error, expectUnsupported bool) {
						require.NoError(t, err)
						require.False(t, expectUnsupported)
						rsp := httpconn.ResponseHeaders{Status: httpconn.StatusNotFound}
						rsp.Set("Content-Length", "9")
						ev.Request.WriteHeaders(rsp, func(err error) {
							require.NoError(t, err)
							ev.Request.Write([]byte("SORRY BRO"), func(err error) {
								require.NoError(t, err)
								ev.Request.End()
							})
						})
					})
				case httpconn.EventEndRequest:
					(*srv).Stop(time.Second)
				}
			}
		},
		func(conn net.Conn) {
			_, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
			require.NoError(t, err)

			r := bufio.NewReader(conn)
			status, err := r.ReadString('\n')
			require.NoError(t, err)
			require.Equal(t, "HTTP/1.1 404 Not Found\r\n", status)

			body, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Contains(t, string(body), "Content-Length: 9")
			require.True(t, strings.HasSuffix(string(body), "SORRY BRO"))
		},
	)
}

func TestPostBodyDeliveredWhole(t *testing.T) {
	var gotBody []byte
	runOneRequest(t,
		func(loop *fdevent.EventLoop, srv **httpconn.Server) httpconn.Handler {
			return func(ev httpconn.HandlerEvent) {
				switch ev.Kind {
				case httpconn.EventNewRequest:
					ev.Request.ReadHeaders(func(err error, expectUnsupported bool) {
						require.NoError(t, err)
						buf := make([]byte, 5)
						ev.Request.Read(buf, func(n int, err error) {
							require.NoError(t, err)
							require.Equal(t, 5, n)
							gotBody = buf
							rsp := httpconn.ResponseHeaders{Status: httpconn.StatusNoContent}
							ev.Request.WriteHeaders(rsp, func(err error) {
								require.NoError(t, err)
								ev.Request.End()
							})
						})
					})
				case httpconn.EventEndRequest:
					(*srv).Stop(time.Second)
				}
			}
		},
		func(conn net.Conn) {
			_, err := conn.Write([]byte("POST /x HTTP/1.0\r\nContent-Length: 5\r\n\r\nhello"))
			require.NoError(t, err)
			io.ReadAll(conn)
		},
	)
	require.Equal(t, "hello", string(gotBody))
}

func TestOversizeURIFailsParseWithoutCrashing(t *testing.T) {
	var gotErr error
	runOneRequest(t,
		func(loop *fdevent.EventLoop, srv **httpconn.Server) httpconn.Handler {
			return func(ev httpconn.HandlerEvent) {
				switch ev.Kind {
				case httpconn.EventNewRequest:
					ev.Request.ReadHeaders(func(err error, expectUnsupported bool) {
						gotErr = err
						ev.Request.End()
					})
				case httpconn.EventEndRequest:
					(*srv).Stop(time.Second)
				}
			}
		},
		func(conn net.Conn) {
			uri := "/" + strings.Repeat("a", 2000)
			conn.Write([]byte("GET " + uri + " HTTP/1.1\r\n\r\n"))
			io.ReadAll(conn)
		},
	)
	require.Error(t, gotErr)
	require.ErrorIs(t, gotErr, httpconn.ErrParse)
}

func TestSlowBodyDeliveredOneByteAtATime(t *testing.T) {
	var gotBody []byte
	var readCalls int
	runOneRequest(t,
		func(loop *fdevent.EventLoop, srv **httpconn.Server) httpconn.Handler {
			return func(ev httpconn.HandlerEvent) {
				switch ev.Kind {
				case httpconn.EventNewRequest:
					ev.Request.ReadHeaders(func(err error, expectUnsupported bool) {
						require.NoError(t, err)
						buf := make([]byte, 5)
						ev.Request.Read(buf, func(n int, err error) {
							readCalls++
							require.NoError(t, err)
							require.Equal(t, 5, n)
							gotBody = buf
							ev.Request.End()
						})
					})
				case httpconn.EventEndRequest:
					(*srv).Stop(time.Second)
				}
			}
		},
		func(conn net.Conn) {
			_, err := conn.Write([]byte("POST /x HTTP/1.0\r\nContent-Length: 5\r\n\r\n"))
			require.NoError(t, err)
			for _, b := range []byte("hello") {
				time.Sleep(5 * time.Millisecond)
				_, err := conn.Write([]byte{b})
				require.NoError(t, err)
			}
			io.ReadAll(conn)
		},
	)
	require.Equal(t, "hello", string(gotBody))
	require.Equal(t, 1, readCalls)
}

func TestStopWithNoActiveRequestsReturnsImmediately(t *testing.T) {
	addr, fd := startListener(t)
	_ = addr
	loop := fdevent.New(timeutil.RealClock())

	srv, err := httpconn.Start(loop, fd, func(httpconn.HandlerEvent) {}, timeutil.RealClock())
	require.NoError(t, err)

	srv.Stop(time.Hour)

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run() }()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop should have drained immediately with no active requests")
	}
}

// TestStopForceEndsActiveRequestAfterDrainTimeout exercises the path where a
// request is still in flight when Stop is called: the drain timer must force
// it to End once drainTimeout elapses, letting the event loop drain. Stop is
// invoked from a handler triggered by a watch on a trigger pipe, since
// EventLoop requires AddWatch/AddTimer calls to originate from its own
// goroutine.
func TestStopForceEndsActiveRequestAfterDrainTimeout(t *testing.T) {
	addr, fd := startListener(t)
	loop := fdevent.New(timeutil.RealClock())

	ended := make(chan struct{})
	var srv *httpconn.Server
	handler := func(ev httpconn.HandlerEvent) {
		switch ev.Kind {
		case httpconn.EventNewRequest:
			ev.Request.ReadHeaders(func(err error, _ bool) {
				require.NoError(t, err)
				buf := make([]byte, 5)
				// This body never arrives in full; only the drain timeout
				// should cause this read's Request to End.
				ev.Request.Read(buf, func(int, error) {})
			})
		case httpconn.EventEndRequest:
			close(ended)
		}
	}

	var err error
	srv, err = httpconn.Start(loop, fd, handler, timeutil.RealClock())
	require.NoError(t, err)

	var triggerFDs [2]int
	require.NoError(t, unix.Pipe(triggerFDs[:]))
	t.Cleanup(func() {
		unix.Close(triggerFDs[0])
		unix.Close(triggerFDs[1])
	})
	_, err = loop.AddWatch(triggerFDs[0], fdevent.Read, func(fdevent.FDEvent, any) {
		srv.Stop(30 * time.Millisecond)
	}, nil)
	require.NoError(t, err)

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("POST /x HTTP/1.0\r\nContent-Length: 5\r\n\r\n"))
		conn.Write([]byte("h"))
		io.ReadAll(conn)
	}()

	go func() {
		time.Sleep(50 * time.Millisecond)
		unix.Write(triggerFDs[1], []byte{0})
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- loop.Run() }()

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("drain timeout never force-ended the in-flight request")
	}
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("event loop never drained after forced end")
	}
	<-clientDone
}
