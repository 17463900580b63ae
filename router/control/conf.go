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

// Package control is the table-provisioning API of the switch and specifies
// the management interface expected of the dataplane.
package control

import (
	"net"
	"net/netip"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

// Dataplane is the interface that the controller expects from the
// dataplane. All methods may be called while the dataplane is processing
// packets.
type Dataplane interface {
	AddInspectionEntry(mac net.HardwareAddr, switchID uint32) error
	AddHopEntry(dstPort uint16, switchID uint32) error
	AddBlockEntry(mac net.HardwareAddr, v4, v6 netip.Addr, dstPort uint16) error
	AddForwardEntry(mac net.HardwareAddr, port uint16) error
	SetLearnedPort(mac net.HardwareAddr, port uint16) error
	AddRouteEntry(prefix netip.Prefix, port uint16) error
}

// InspectionEntry tags traffic from one source MAC with INT.
type InspectionEntry struct {
	SrcMac   string `toml:"src_mac"`
	SwitchID uint32 `toml:"switch_id,omitempty"`
}

// HopEntry appends this switch's hop record to INT traffic arriving on the
// given outer UDP destination port.
type HopEntry struct {
	DstPort  uint16 `toml:"dst_port"`
	SwitchID uint32 `toml:"switch_id,omitempty"`
}

// BlockEntry drops traffic matching the compound key exactly. At most one
// of DstV4 and DstV6 is normally set; leaving one empty matches on the
// other family.
type BlockEntry struct {
	SrcMac  string `toml:"src_mac"`
	DstV4   string `toml:"dst_v4,omitempty"`
	DstV6   string `toml:"dst_v6,omitempty"`
	DstPort uint16 `toml:"dst_port"`
}

// ForwardEntry binds a destination MAC to an egress port.
type ForwardEntry struct {
	DstMac string `toml:"dst_mac"`
	Port   uint16 `toml:"port"`
}

// RouteEntry binds an IPv4 prefix to an egress port, for the route
// forwarding mode.
type RouteEntry struct {
	Prefix string `toml:"prefix"`
	Port   uint16 `toml:"port"`
}

// Tables is the static table content installed at startup. The same entry
// shapes are used by the runtime provisioning API.
type Tables struct {
	Inspection []InspectionEntry `toml:"inspection,omitempty"`
	Hops       []HopEntry        `toml:"hops,omitempty"`
	Block      []BlockEntry      `toml:"block,omitempty"`
	Forward    []ForwardEntry    `toml:"forward,omitempty"`
	Routes     []RouteEntry      `toml:"routes,omitempty"`
}

// Validate checks that every entry parses. It is called before Apply so
// that a bad config fails at startup rather than mid-provisioning.
func (t *Tables) Validate() error {
	for _, e := range t.Inspection {
		if _, err := net.ParseMAC(e.SrcMac); err != nil {
			return serrors.Wrap("inspection entry", err, "src_mac", e.SrcMac)
		}
	}
	for _, e := range t.Block {
		if _, err := net.ParseMAC(e.SrcMac); err != nil {
			return serrors.Wrap("block entry", err, "src_mac", e.SrcMac)
		}
		if _, _, err := e.addrs(); err != nil {
			return err
		}
	}
	for _, e := range t.Forward {
		if _, err := net.ParseMAC(e.DstMac); err != nil {
			return serrors.Wrap("forward entry", err, "dst_mac", e.DstMac)
		}
	}
	for _, e := range t.Routes {
		if _, err := netip.ParsePrefix(e.Prefix); err != nil {
			return serrors.Wrap("route entry", err, "prefix", e.Prefix)
		}
	}
	return nil
}

func (e BlockEntry) addrs() (netip.Addr, netip.Addr, error) {
	var v4, v6 netip.Addr
	if e.DstV4 != "" {
		a, err := netip.ParseAddr(e.DstV4)
		if err != nil || !a.Is4() {
			return v4, v6, serrors.New("block entry: bad v4 address", "addr", e.DstV4)
		}
		v4 = a
	}
	if e.DstV6 != "" {
		a, err := netip.ParseAddr(e.DstV6)
		if err != nil || !a.Is6() {
			return v4, v6, serrors.New("block entry: bad v6 address", "addr", e.DstV6)
		}
		v6 = a
	}
	if !v4.IsValid() && !v6.IsValid() {
		return v4, v6, serrors.New("block entry: no destination address")
	}
	return v4, v6, nil
}

// Apply installs the static table content into the dataplane.
func Apply(dp Dataplane, t Tables) error {
	for _, e := range t.Inspection {
		mac, err := net.ParseMAC(e.SrcMac)
		if err != nil {
			return serrors.Wrap("inspection entry", err, "src_mac", e.SrcMac)
		}
		if err := dp.AddInspectionEntry(mac, e.SwitchID); err != nil {
			return err
		}
	}
	for _, e := range t.Hops {
		if err := dp.AddHopEntry(e.DstPort, e.SwitchID); err != nil {
			return err
		}
	}
	for _, e := range t.Block {
		mac, err := net.ParseMAC(e.SrcMac)
		if err != nil {
			return serrors.Wrap("block entry", err, "src_mac", e.SrcMac)
		}
		v4, v6, err := e.addrs()
		if err != nil {
			return err
		}
		if err := dp.AddBlockEntry(mac, v4, v6, e.DstPort); err != nil {
			return err
		}
	}
	for _, e := range t.Forward {
		mac, err := net.ParseMAC(e.DstMac)
		if err != nil {
			return serrors.Wrap("forward entry", err, "dst_mac", e.DstMac)
		}
		if err := dp.AddForwardEntry(mac, e.Port); err != nil {
			return err
		}
	}
	for _, e := range t.Routes {
		prefix, err := netip.ParsePrefix(e.Prefix)
		if err != nil {
			return serrors.Wrap("route entry", err, "prefix", e.Prefix)
		}
		if err := dp.AddRouteEntry(prefix, e.Port); err != nil {
			return err
		}
	}
	return nil
}
