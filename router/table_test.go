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
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactTable(t *testing.T) {
	tbl := newTable[uint16, uint32]()
	_, ok := tbl.Lookup(555)
	assert.False(t, ok)

	tbl.Insert(555, 42)
	got, ok := tbl.Lookup(555)
	assert.True(t, ok)
	assert.Equal(t, uint32(42), got)
	assert.Equal(t, 1, tbl.Len())

	tbl.Insert(555, 43)
	got, _ = tbl.Lookup(555)
	assert.Equal(t, uint32(43), got)
	assert.Equal(t, 1, tbl.Len())

	tbl.Delete(555)
	_, ok = tbl.Lookup(555)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())

	// Deleting a missing key is a no-op.
	tbl.Delete(556)
	assert.Equal(t, 0, tbl.Len())
}

func TestLPMTable(t *testing.T) {
	tbl := newLPMTable[uint16]()
	tbl.Insert(netip.MustParsePrefix("10.0.0.0/8"), 1)
	tbl.Insert(netip.MustParsePrefix("10.1.0.0/16"), 2)
	tbl.Insert(netip.MustParsePrefix("10.1.2.0/24"), 3)

	testCases := map[string]struct {
		addr string
		want uint16
		hit  bool
	}{
		"most specific": {addr: "10.1.2.3", want: 3, hit: true},
		"mid prefix":    {addr: "10.1.3.4", want: 2, hit: true},
		"covering":      {addr: "10.9.9.9", want: 1, hit: true},
		"miss":          {addr: "192.168.0.1", hit: false},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, ok := tbl.Lookup(netip.MustParseAddr(tc.addr))
			require.Equal(t, tc.hit, ok)
			if tc.hit {
				assert.Equal(t, tc.want, got)
			}
		})
	}

	tbl.Delete(netip.MustParsePrefix("10.1.2.0/24"))
	got, ok := tbl.Lookup(netip.MustParseAddr("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, uint16(2), got)
}

func TestMacKey(t *testing.T) {
	mac, err := net.ParseMAC("02:42:ac:11:00:02")
	require.NoError(t, err)
	k, err := macKey(mac)
	require.NoError(t, err)
	assert.Equal(t, macAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}, k)

	_, err = macKey(net.HardwareAddr{1, 2, 3})
	assert.Error(t, err)
}

func TestDropKeyOf(t *testing.T) {
	mac, err := net.ParseMAC("02:42:ac:11:00:02")
	require.NoError(t, err)

	v4 := netip.MustParseAddr("10.0.0.1")
	k, err := dropKeyOf(mac, v4, netip.Addr{}, 443)
	require.NoError(t, err)
	assert.Equal(t, v4, k.dstAddr)
	assert.Equal(t, uint16(443), k.dstPort)

	// A valid v6 address takes precedence.
	v6 := netip.MustParseAddr("2001:db8::1")
	k, err = dropKeyOf(mac, v4, v6, 443)
	require.NoError(t, err)
	assert.Equal(t, v6, k.dstAddr)

	_, err = dropKeyOf(mac, netip.Addr{}, netip.Addr{}, 443)
	assert.Error(t, err)
}
