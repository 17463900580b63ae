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
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekmixon/transparent-security/pkg/tpslayers"
)

func ipv6UDPFrame(t *testing.T, dstPort uint16) []byte {
	t.Helper()
	eth := layers.Ethernet{
		SrcMAC:       hostMac,
		DstMAC:       gwMac,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.ParseIP("2001:db8::2"),
		DstIP:      net.ParseIP("2001:db8::99"),
	}
	udp := layers.UDP{
		SrcPort: 40000,
		DstPort: layers.UDPPort(dstPort),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))
	return serialize(t, true, &eth, &ip, &udp, gopacket.Payload(payload))
}

func TestParsePlainTCP(t *testing.T) {
	p := parser{intPort: 555}
	h := &packetHeaders{}
	require.NoError(t, p.parse(tcpFrame(t, 443), h))

	assert.True(t, h.has(hdrEth))
	assert.True(t, h.has(hdrIPv4))
	assert.True(t, h.has(hdrTCP))
	assert.False(t, h.has(hdrUDP))
	assert.False(t, h.has(hdrIntShim))
	assert.Equal(t, hostMac, h.eth.SrcMAC)
	assert.Equal(t, layers.TCPPort(443), h.tcp.DstPort)
	assert.Equal(t, payload, h.payload)
}

func TestParseIPv6UDP(t *testing.T) {
	p := parser{intPort: 555}
	h := &packetHeaders{}
	require.NoError(t, p.parse(ipv6UDPFrame(t, 53), h))

	assert.True(t, h.has(hdrIPv6))
	assert.True(t, h.has(hdrUDP))
	assert.False(t, h.has(hdrIPv4))
	assert.False(t, h.has(hdrIntShim))
	assert.Equal(t, payload, h.payload)
}

func TestParseNonIntUDPSkipsShim(t *testing.T) {
	// Destination port 555 triggers INT extraction, anything else does not,
	// even if the payload would decode as a shim.
	p := parser{intPort: 555}
	h := &packetHeaders{}
	require.NoError(t, p.parse(udpFrame(t, 53), h))
	assert.False(t, h.has(hdrIntShim))
	assert.Equal(t, payload, h.payload)
}

func TestParseTaggedFrame(t *testing.T) {
	p := parser{intPort: 555}
	h := &packetHeaders{}
	raw := intTCPFrame(t, 2, []tpslayers.IntHop{
		{SwitchID: 7, OrigMac: hostMac},
		{SwitchID: 3, OrigMac: hostMac},
	})
	require.NoError(t, p.parse(raw, h))

	assert.True(t, h.has(hdrIntShim))
	assert.True(t, h.has(hdrIntHeader))
	assert.True(t, h.has(hdrIntMeta))
	assert.True(t, h.has(hdrTCP))
	require.Len(t, h.meta.Hops, 2)
	assert.Equal(t, uint32(7), h.meta.Hops[0].SwitchID)
	assert.Equal(t, uint8(10), h.shim.Length)
	assert.Equal(t, payload, h.payload)
}

func TestParseUnknownEtherType(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       hostMac,
		DstMAC:       gwMac,
		EthernetType: 0x88cc, // LLDP, not handled
	}
	raw := serialize(t, false, &eth, gopacket.Payload(payload))

	p := parser{intPort: 555}
	h := &packetHeaders{}
	require.NoError(t, p.parse(raw, h))
	assert.True(t, h.has(hdrEth))
	assert.False(t, h.has(hdrIPv4))
	assert.Equal(t, payload, h.payload)
}

func TestParseTruncated(t *testing.T) {
	p := parser{intPort: 555}
	h := &packetHeaders{}

	assert.Error(t, p.parse([]byte{0x02, 0x42}, h))

	raw := tcpFrame(t, 443)
	assert.Error(t, p.parse(raw[:20], h))

	// A tagged frame whose declared metadata extent exceeds the data.
	tagged := intTCPFrame(t, 2, []tpslayers.IntHop{
		{SwitchID: 7, OrigMac: hostMac},
	})
	assert.Error(t, p.parse(tagged[:len(tagged)-40], h))
}

func TestParserReset(t *testing.T) {
	p := parser{intPort: 555}
	h := &packetHeaders{}
	tagged := intTCPFrame(t, 2, []tpslayers.IntHop{
		{SwitchID: 7, OrigMac: hostMac},
	})
	require.NoError(t, p.parse(tagged, h))
	require.True(t, h.has(hdrIntShim))

	// Reusing the same header set for a plain packet must clear the INT
	// validity bits.
	require.NoError(t, p.parse(tcpFrame(t, 443), h))
	assert.False(t, h.has(hdrIntShim))
	assert.False(t, h.has(hdrIntMeta))
	assert.Empty(t, h.meta.Hops)
}
