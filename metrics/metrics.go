// Copyright (c) 2024 The readypoll Authors
// Copyright (c) 2022 The rcproxy Authors
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

// Package metrics exposes the demo binary's prometheus instrumentation of
// a running Poller, grounded on the teacher's core.ProxyStats/GlobalStats
// (a package-level prometheus.*Vec bundle registered once at init and
// updated from hot-path call sites).
package metrics

import "github.com/prometheus/client_golang/prometheus"

type PollerStats struct {
	PollCalls       *prometheus.CounterVec
	PollDurations   *prometheus.HistogramVec
	EventsDelivered *prometheus.CounterVec
	WakeCalls       *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	Registrations   *prometheus.GaugeVec
}

var Global PollerStats

func init() {
	Global = NewPollerStats("readypoll")
}

func NewPollerStats(namespace string) PollerStats {
	stats := PollerStats{
		PollCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_calls_total",
			Help:      "number of Poll/PollUnsync calls made",
		}, []string{"poller"}),
		PollDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_ms",
			Help:      "time spent inside a single Poll call",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"poller"}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "number of Event values returned across all Poll calls",
		}, []string{"poller", "source"}),
		WakeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_calls_total",
			Help:      "number of times the waker was triggered",
		}, []string{"poller"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_queue_depth",
			Help:      "approximate number of user-space nodes awaiting delivery",
		}, []string{"poller"}),
		Registrations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations",
			Help:      "number of fds currently registered with the selector",
		}, []string{"poller"}),
	}
	prometheus.MustRegister(
		stats.PollCalls, stats.PollDurations, stats.EventsDelivered,
		stats.WakeCalls, stats.QueueDepth, stats.Registrations,
	)
	return stats
}

// ObservePoll records one Poll call's duration and the number of events it
// returned, labelled by poller so a process hosting several Pollers can
// tell them apart on the /metrics endpoint.
func ObservePoll(poller string, durationMS float64, delivered int) {
	Global.PollCalls.WithLabelValues(poller).Inc()
	Global.PollDurations.WithLabelValues(poller).Observe(durationMS)
	if delivered > 0 {
		Global.EventsDelivered.WithLabelValues(poller, "mixed").Add(float64(delivered))
	}
}

// ObserveWake records one Wake call against poller.
func ObserveWake(poller string) {
	Global.WakeCalls.WithLabelValues(poller).Inc()
}

// SetRegistrations records the current fd count registered with poller.
func SetRegistrations(poller string, n int) {
	Global.Registrations.WithLabelValues(poller).Set(float64(n))
}
