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

import "net"

// DigestKind identifies the event that produced a digest.
type DigestKind int

const (
	// DigestSrcMiss reports a source MAC seen for the first time.
	DigestSrcMiss DigestKind = iota
	// DigestSrcMove reports a known source MAC arriving on a different
	// port than the one it was learned on.
	DigestSrcMove
	// DigestArp reports an ARP packet, for gratuitous-ARP tracking.
	DigestArp
)

func (k DigestKind) String() string {
	switch k {
	case DigestSrcMiss:
		return "src_miss"
	case DigestSrcMove:
		return "src_move"
	case DigestArp:
		return "arp"
	default:
		return "unknown"
	}
}

// Digest is a compact notification emitted by the learning pipeline toward
// the control plane. Emission is fire-and-forget: when the queue is full
// the digest is dropped and the packet is unaffected.
type Digest struct {
	Kind        DigestKind
	SrcMac      net.HardwareAddr
	IngressPort uint16
}
