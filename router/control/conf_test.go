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

package control

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDataplane struct {
	inspection map[string]uint32
	hops       map[uint16]uint32
	block      int
	forward    map[string]uint16
	learned    map[string]uint16
	routes     map[netip.Prefix]uint16
}

func newFakeDataplane() *fakeDataplane {
	return &fakeDataplane{
		inspection: make(map[string]uint32),
		hops:       make(map[uint16]uint32),
		forward:    make(map[string]uint16),
		learned:    make(map[string]uint16),
		routes:     make(map[netip.Prefix]uint16),
	}
}

func (f *fakeDataplane) AddInspectionEntry(mac net.HardwareAddr, switchID uint32) error {
	f.inspection[mac.String()] = switchID
	return nil
}

func (f *fakeDataplane) AddHopEntry(dstPort uint16, switchID uint32) error {
	f.hops[dstPort] = switchID
	return nil
}

func (f *fakeDataplane) AddBlockEntry(mac net.HardwareAddr, v4, v6 netip.Addr,
	dstPort uint16) error {

	f.block++
	return nil
}

func (f *fakeDataplane) AddForwardEntry(mac net.HardwareAddr, port uint16) error {
	f.forward[mac.String()] = port
	return nil
}

func (f *fakeDataplane) SetLearnedPort(mac net.HardwareAddr, port uint16) error {
	f.learned[mac.String()] = port
	return nil
}

func (f *fakeDataplane) AddRouteEntry(prefix netip.Prefix, port uint16) error {
	f.routes[prefix] = port
	return nil
}

func TestApply(t *testing.T) {
	tables := Tables{
		Inspection: []InspectionEntry{
			{SrcMac: "02:42:ac:11:00:02", SwitchID: 7},
		},
		Hops: []HopEntry{
			{DstPort: 555},
		},
		Block: []BlockEntry{
			{SrcMac: "02:42:ac:11:00:02", DstV4: "10.1.2.3", DstPort: 443},
		},
		Forward: []ForwardEntry{
			{DstMac: "02:42:ac:11:00:03", Port: 2},
		},
		Routes: []RouteEntry{
			{Prefix: "10.1.0.0/16", Port: 2},
		},
	}
	require.NoError(t, tables.Validate())

	dp := newFakeDataplane()
	require.NoError(t, Apply(dp, tables))

	assert.Equal(t, uint32(7), dp.inspection["02:42:ac:11:00:02"])
	assert.Equal(t, uint32(0), dp.hops[555])
	assert.Equal(t, 1, dp.block)
	assert.Equal(t, uint16(2), dp.forward["02:42:ac:11:00:03"])
	assert.Equal(t, uint16(2), dp.routes[netip.MustParsePrefix("10.1.0.0/16")])
}

func TestValidateRejectsBadEntries(t *testing.T) {
	testCases := map[string]Tables{
		"bad inspection mac": {
			Inspection: []InspectionEntry{{SrcMac: "zz:zz"}},
		},
		"bad block mac": {
			Block: []BlockEntry{{SrcMac: "nope", DstV4: "10.0.0.1"}},
		},
		"block without address": {
			Block: []BlockEntry{{SrcMac: "02:42:ac:11:00:02"}},
		},
		"block with v6 in v4 field": {
			Block: []BlockEntry{{SrcMac: "02:42:ac:11:00:02", DstV4: "2001:db8::1"}},
		},
		"bad forward mac": {
			Forward: []ForwardEntry{{DstMac: "nope", Port: 1}},
		},
		"bad route prefix": {
			Routes: []RouteEntry{{Prefix: "10.0.0.0/40", Port: 1}},
		},
	}
	for name, tables := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, tables.Validate())
		})
	}
}
