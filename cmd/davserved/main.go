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

// Command davserved wires the event loop, HTTP connection state machine,
// and async FUSE adapter together into a runnable WebDAV transport. The
// WebDAV XML/method layer and the filesystem backend beyond Open remain out
// of scope; this binary only proves the transport's wiring.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/timeutil"

	"github.com/jacobsa/davserve/config"
	"github.com/jacobsa/davserve/davlog"
	"github.com/jacobsa/davserve/fdevent"
	"github.com/jacobsa/davserve/fuseadapter"
	"github.com/jacobsa/davserve/httpconn"
	"github.com/jacobsa/davserve/metrics"
)

// stubBackend satisfies fuseadapter.Backend until a real filesystem backend
// is wired in; every call succeeds with return code 0, matching the "SORRY
// BRO" placeholder handler below.
type stubBackend struct{}

func (stubBackend) Open(path string, flags int32) int32 { return 0 }

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "davserved",
		Short: "Single-threaded, event-driven WebDAV transport server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.RegisterFlags(cmd.Flags(), v)
	return cmd
}

func run(cfg config.Config) error {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	davlog.SetLevel(level)

	// Out-of-scope socket bootstrap: ignore SIGPIPE so a client closing its
	// read side mid-write doesn't kill the process, matching the reference
	// ignore_sigpipe() collaborator.
	signalIgnoreSIGPIPE()

	listenFD, err := bindListener(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.ListenAddr, err)
	}

	loop := fdevent.New(timeutil.RealClock())

	adapter, err := fuseadapter.NewAdapter(loop, timeutil.RealClock(), cfg.ReplySlotWindow)
	if err != nil {
		return fmt.Errorf("creating fuse adapter: %w", err)
	}

	workerCmd, workerDone, err := launchWorker(cfg.WorkerCommand, adapter)
	if err != nil {
		return fmt.Errorf("launching fuse worker: %w", err)
	}

	srv, err := httpconn.Start(loop, listenFD, func(ev httpconn.HandlerEvent) {
		handleEvent(ev, adapter)
	}, timeutil.RealClock())
	if err != nil {
		return fmt.Errorf("starting http server: %w", err)
	}

	if err := registerShutdownOnSignal(loop, srv, cfg.DrainTimeout); err != nil {
		return fmt.Errorf("registering shutdown signal watch: %w", err)
	}

	go serveMetrics(cfg.MetricsAddr)

	davlog.L().WithField("addr", cfg.ListenAddr).Info("davserved listening")
	runErr := loop.Run()

	if err := adapter.StopBlocking(); err != nil {
		davlog.L().WithError(err).Warn("failed to signal fuse worker to stop")
	}
	select {
	case werr := <-workerDone:
		if werr != nil {
			davlog.L().WithError(werr).Warn("fuse worker exited with error")
		}
	case <-time.After(cfg.DrainTimeout):
		davlog.L().Warn("fuse worker did not exit before drain timeout")
		if workerCmd != nil {
			_ = workerCmd.Process.Kill()
		}
	}
	if err := adapter.Close(); err != nil {
		davlog.L().WithError(err).Warn("closing fuse adapter")
	}

	return runErr
}

// launchWorker starts the FUSE worker that will answer requests sent over
// adapter's channels. When cmd is non-empty it is exec'd as a genuine child
// process, with the worker-side pipe fds passed through via ExtraFiles; this
// is the production path. When cmd is empty the worker runs in-process on a
// goroutine against stubBackend, a fallback reserved for tests and local
// development where no separate worker binary is available.
func launchWorker(cmd string, adapter *fuseadapter.Adapter) (*exec.Cmd, chan error, error) {
	done := make(chan error, 1)

	if cmd == "" {
		worker := fuseadapter.NewWorker(adapter.ToWorker.ReadFD, adapter.ToServer.WriteFD, stubBackend{})
		go func() { done <- worker.Run() }()
		return nil, done, nil
	}

	// ExtraFiles maps these, in order, to fd 3 and 4 in the child; see
	// cmd/davworker, which reads them back at those fixed numbers.
	toWorkerRead := os.NewFile(uintptr(adapter.ToWorker.ReadFD), "to-worker-read")
	toServerWrite := os.NewFile(uintptr(adapter.ToServer.WriteFD), "to-server-write")

	c := exec.Command(cmd)
	c.ExtraFiles = []*os.File{toWorkerRead, toServerWrite}
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %s: %w", cmd, err)
	}

	// os/exec dup's these into the child; our own copies of the worker-side
	// fds must be closed now so that, if the child dies, the parent's
	// ToServer.ReadFD correctly observes EOF instead of a phantom open
	// writer keeping the pipe alive.
	_ = unix.Close(adapter.ToWorker.ReadFD)
	_ = unix.Close(adapter.ToServer.WriteFD)

	go func() { done <- c.Wait() }()
	return c, done, nil
}

// registerShutdownOnSignal arranges for SIGINT/SIGTERM to call srv.Stop
// on the event loop's own goroutine, via the classic self-pipe trick:
// EventLoop requires AddWatch/RemoveWatch/AddTimer calls to originate from
// Run's goroutine, so the actual signal.Notify channel is drained on a
// separate goroutine that only ever writes a byte to wake the loop up.
func registerShutdownOnSignal(loop *fdevent.EventLoop, srv *httpconn.Server, drainTimeout time.Duration) error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fmt.Errorf("creating shutdown self-pipe: %w", err)
	}
	readFD, writeFD := fds[0], fds[1]
	if err := unix.SetNonblock(readFD, true); err != nil {
		unix.Close(readFD)
		unix.Close(writeFD)
		return fmt.Errorf("setting shutdown self-pipe nonblocking: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		unix.Write(writeFD, []byte{0})
	}()

	_, err := loop.AddWatch(readFD, fdevent.Read, func(fdevent.FDEvent, any) {
		davlog.L().Info("received shutdown signal, draining")
		unix.Close(readFD)
		unix.Close(writeFD)
		srv.Stop(drainTimeout)
	}, nil)
	return err
}

// handleEvent is the single registered httpconn.Handler. It drives every
// accepted request through read_headers -> write_headers -> write -> end
// without reading the request body, responding 404 with a fixed body (or
// 417 with an empty body for an unsupported Expect header), per the
// minimal-GET scenario this core is built to satisfy end to end; a real
// deployment replaces this with the out-of-scope WebDAV method layer.
func handleEvent(ev httpconn.HandlerEvent, adapter *fuseadapter.Adapter) {
	switch ev.Kind {
	case httpconn.EventNewRequest:
		ev.Request.ReadHeaders(func(err error, expectUnsupported bool) {
			if err != nil {
				davlog.L().WithError(err).Debug("read headers failed")
				ev.Request.End()
				return
			}
			if expectUnsupported {
				respondAndEnd(ev.Request, httpconn.StatusExpectationFailed, nil)
				return
			}
			respondAndEnd(ev.Request, httpconn.StatusNotFound, []byte("SORRY BRO"))
		})

	case httpconn.EventEndRequest:
		// Nothing further to do; Request.End already ran cleanup and logging.
	}
}

func respondAndEnd(r *httpconn.Request, status httpconn.StatusCode, body []byte) {
	rsp := httpconn.ResponseHeaders{Status: status}
	rsp.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	r.WriteHeaders(rsp, func(err error) {
		if err != nil || len(body) == 0 {
			r.End()
			return
		}
		r.Write(body, func(err error) {
			r.End()
		})
	})
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		davlog.L().WithError(err).Error("metrics server exited")
	}
}

func bindListener(addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return 0, fmt.Errorf("listener for %s is not TCP", addr)
	}
	f, err := tcpLn.File()
	if err != nil {
		ln.Close()
		return 0, err
	}
	// The dup'd fd outlives tcpLn; tcpLn itself is no longer needed once we
	// drive the fd through our own nonblocking event loop.
	_ = tcpLn.Close()
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		return 0, err
	}
	return fd, nil
}

func signalIgnoreSIGPIPE() {
	// Equivalent to the reference implementation's ignore_sigpipe(): a
	// write(2) to a peer that has reset the connection should surface EPIPE
	// to this process's own write calls, not terminate it.
	signal.Ignore(syscall.SIGPIPE)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
