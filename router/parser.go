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
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
	"github.com/ekmixon/transparent-security/pkg/tpslayers"
)

// Header validity flags. A flag is set once the corresponding header was
// successfully extracted from the packet.
const (
	hdrEth uint16 = 1 << iota
	hdrArp
	hdrIPv4
	hdrIPv6
	hdrUDP
	hdrTCP
	hdrIntShim
	hdrIntHeader
	hdrIntMeta
	hdrUDPInt
)

// packetHeaders is the extracted header set of one packet. The layer
// structs are preallocated and reused across packets to keep the packet
// path allocation free; the validity mask says which of them hold data for
// the current packet.
type packetHeaders struct {
	valid uint16

	eth    layers.Ethernet
	arp    layers.ARP
	ip4    layers.IPv4
	ip6    layers.IPv6
	udp    layers.UDP
	tcp    layers.TCP
	shim   tpslayers.IntShim
	intHdr tpslayers.IntHeader
	meta   tpslayers.IntMetadata
	udpInt tpslayers.UDPInt

	// payload is whatever follows the last extracted header.
	payload []byte
}

func (h *packetHeaders) has(flag uint16) bool {
	return h.valid&flag != 0
}

func (h *packetHeaders) reset() {
	h.valid = 0
	h.payload = nil
	h.meta.Hops = h.meta.Hops[:0]
}

// parser extracts the typed header stack from raw packets. It is a small
// state machine: each state decodes one header and selects the next state
// from the header's demux field. Unknown protocols terminate extraction
// with the remaining bytes as payload, they are not an error.
type parser struct {
	intPort uint16
}

type parseState int

const (
	stateEthernet parseState = iota
	stateArp
	stateIPv4
	stateIPv6
	stateUDP
	stateTCP
	stateIntShim
	stateInner
	stateAccept
)

// parse fills h from raw. On error h is left partially filled; the caller
// must discard the packet.
func (p *parser) parse(raw []byte, h *packetHeaders) error {
	h.reset()
	df := gopacket.NilDecodeFeedback
	data := raw
	state := stateEthernet
	for state != stateAccept {
		switch state {
		case stateEthernet:
			if err := h.eth.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding ethernet", err)
			}
			h.valid |= hdrEth
			data = h.eth.Payload
			switch h.eth.EthernetType {
			case layers.EthernetTypeARP:
				state = stateArp
			case layers.EthernetTypeIPv4:
				state = stateIPv4
			case layers.EthernetTypeIPv6:
				state = stateIPv6
			default:
				state = stateAccept
			}
		case stateArp:
			if err := h.arp.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding arp", err)
			}
			h.valid |= hdrArp
			data = nil
			state = stateAccept
		case stateIPv4:
			if err := h.ip4.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding ipv4", err)
			}
			h.valid |= hdrIPv4
			data = h.ip4.Payload
			state = p.transportState(h.ip4.Protocol)
		case stateIPv6:
			if err := h.ip6.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding ipv6", err)
			}
			h.valid |= hdrIPv6
			data = h.ip6.Payload
			state = p.transportState(h.ip6.NextHeader)
		case stateUDP:
			if err := h.udp.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding udp", err)
			}
			h.valid |= hdrUDP
			data = h.udp.Payload
			if uint16(h.udp.DstPort) == p.intPort {
				state = stateIntShim
			} else {
				state = stateAccept
			}
		case stateTCP:
			if err := h.tcp.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding tcp", err)
			}
			h.valid |= hdrTCP
			data = h.tcp.Payload
			state = stateAccept
		case stateIntShim:
			if err := h.shim.DecodeFromBytes(data, df); err != nil {
				return serrors.Wrap("decoding int shim", err)
			}
			h.valid |= hdrIntShim
			if err := h.intHdr.DecodeFromBytes(h.shim.Payload, df); err != nil {
				return serrors.Wrap("decoding int header", err)
			}
			h.valid |= hdrIntHeader
			metaBytes := h.shim.MetadataLength()
			rest := h.intHdr.Payload
			if len(rest) < metaBytes {
				return serrors.New("truncated int metadata stack",
					"expected", metaBytes, "actual", len(rest))
			}
			if err := h.meta.DecodeFromBytes(rest[:metaBytes], df); err != nil {
				return serrors.Wrap("decoding int metadata", err)
			}
			h.valid |= hdrIntMeta
			data = rest[metaBytes:]
			state = stateInner
		case stateInner:
			switch h.shim.NextProto {
			case layers.IPProtocolUDP:
				if err := h.udpInt.DecodeFromBytes(data, df); err != nil {
					return serrors.Wrap("decoding preserved udp", err)
				}
				h.valid |= hdrUDPInt
				data = h.udpInt.Payload
				state = stateAccept
			case layers.IPProtocolTCP:
				if err := h.tcp.DecodeFromBytes(data, df); err != nil {
					return serrors.Wrap("decoding inner tcp", err)
				}
				h.valid |= hdrTCP
				data = h.tcp.Payload
				state = stateAccept
			default:
				state = stateAccept
			}
		}
	}
	h.payload = data
	return nil
}

func (p *parser) transportState(proto layers.IPProtocol) parseState {
	switch proto {
	case layers.IPProtocolUDP:
		return stateUDP
	case layers.IPProtocolTCP:
		return stateTCP
	default:
		return stateAccept
	}
}
