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

// Package metrics registers the small fixed set of Prometheus instruments
// this server exposes: event-loop cycle/watch counters, HTTP request
// counters and latency, and FUSE adapter round-trip latency plus reply-slot
// contention.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the registry cmd/davserved exposes on /metrics. Package-level
// so every component can register against the same instance without plumbing
// it through every constructor.
var Registry = prometheus.NewRegistry()

var (
	// LoopCycles counts completed select(2) cycles in the event loop.
	LoopCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "davserve",
		Subsystem: "fdevent",
		Name:      "loop_cycles_total",
		Help:      "Number of event loop select(2) cycles completed.",
	})

	// ActiveWatches gauges the number of currently-registered, active
	// watches across all fdevent.EventLoop instances in the process.
	ActiveWatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "davserve",
		Subsystem: "fdevent",
		Name:      "active_watches",
		Help:      "Number of currently active fdevent watches.",
	})

	// RequestsTotal counts completed HTTP requests by status class
	// ("2xx", "4xx", "5xx", "none" if the connection ended before a status
	// was written).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "davserve",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Completed HTTP requests by status class.",
	}, []string{"status_class"})

	// RequestDuration histograms end-to-end request duration in seconds,
	// from accept to Request.End.
	RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "davserve",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "End-to-end HTTP request duration.",
		Buckets:   prometheus.DefBuckets,
	})

	// FuseRoundTrip histograms send-to-reply latency for the async FUSE
	// adapter's Open request/reply round trip.
	FuseRoundTrip = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "davserve",
		Subsystem: "fuse",
		Name:      "roundtrip_seconds",
		Help:      "Async FUSE adapter request/reply round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// FuseReplySlotBusy counts requests rejected because the adapter's
	// single reply slot was already in use.
	FuseReplySlotBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "davserve",
		Subsystem: "fuse",
		Name:      "reply_slot_busy_total",
		Help:      "Requests rejected because the FUSE reply slot was busy.",
	})
)

func init() {
	Registry.MustRegister(LoopCycles, ActiveWatches, RequestsTotal, RequestDuration, FuseRoundTrip, FuseReplySlotBusy)
}

// ObserveRequest records a completed HTTP request's status and duration.
func ObserveRequest(status int, dur interface{ Seconds() float64 }) {
	class := "none"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	RequestsTotal.WithLabelValues(class).Inc()
	RequestDuration.Observe(dur.Seconds())
}
