// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package router

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reason labels.
const (
	droppedBlocklist = "blocklist"
	droppedLoopback  = "loopback"
	droppedParse     = "parse_error"
	droppedNoEgress  = "no_egress"
	droppedBusy      = "busy"
	droppedSend      = "send_error"
)

// Metrics instruments the dataplane. promauto registers on the default
// registry, so there can be only one set; every dataplane in the process
// shares it.
type Metrics struct {
	InputPackets    *prometheus.CounterVec
	OutputPackets   *prometheus.CounterVec
	DroppedPackets  *prometheus.CounterVec
	IntInitiated    prometheus.Counter
	IntHopsAppended prometheus.Counter
	IntHopBudget    prometheus.Counter
	Digests         *prometheus.CounterVec
	DigestsDropped  prometheus.Counter
}

// NewMetrics creates the dataplane metrics. Must be called at most once per
// process.
func NewMetrics() *Metrics {
	return &Metrics{
		InputPackets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tps_input_pkts_total",
				Help: "Total number of packets received.",
			},
			[]string{"port"},
		),
		OutputPackets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tps_output_pkts_total",
				Help: "Total number of packets sent.",
			},
			[]string{"port"},
		),
		DroppedPackets: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tps_dropped_pkts_total",
				Help: "Total number of packets dropped, by reason.",
			},
			[]string{"reason"},
		),
		IntInitiated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tps_int_initiated_total",
				Help: "Packets tagged with a fresh INT header stack.",
			},
		),
		IntHopsAppended: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tps_int_hops_appended_total",
				Help: "Hop records appended to already tagged packets.",
			},
		),
		IntHopBudget: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tps_int_hop_budget_exceeded_total",
				Help: "Packets whose remaining INT hop budget was exhausted.",
			},
		),
		Digests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tps_digests_total",
				Help: "Digests delivered to the control plane, by kind.",
			},
			[]string{"kind"},
		),
		DigestsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tps_digests_dropped_total",
				Help: "Digests dropped because the queue was full.",
			},
		),
	}
}

func portLabel(port uint16) string {
	return strconv.Itoa(int(port))
}
