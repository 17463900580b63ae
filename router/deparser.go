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

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

// deparse re-serializes the mutated header set back into the packet
// buffer. Headers are emitted in a fixed order; invalid headers contribute
// zero bytes. Checksums of every emitted header that carries one are
// recomputed here, after all field mutation has settled; length fields are
// taken as-is from the headers.
func (p *packetProcessor) deparse(pkt *Packet) error {
	h := &p.hdrs

	if h.has(hdrUDP) {
		var err error
		if h.has(hdrIPv4) {
			err = h.udp.SetNetworkLayerForChecksum(&h.ip4)
		} else if h.has(hdrIPv6) {
			err = h.udp.SetNetworkLayerForChecksum(&h.ip6)
		}
		if err != nil {
			return err
		}
	}
	if h.has(hdrTCP) {
		var err error
		if h.has(hdrIPv4) {
			err = h.tcp.SetNetworkLayerForChecksum(&h.ip4)
		} else if h.has(hdrIPv6) {
			err = h.tcp.SetNetworkLayerForChecksum(&h.ip6)
		}
		if err != nil {
			return err
		}
	}

	// Emission order is fixed; only valid headers are included.
	sl := make([]gopacket.SerializableLayer, 0, 10)
	if h.has(hdrEth) {
		sl = append(sl, &h.eth)
	}
	if h.has(hdrArp) {
		sl = append(sl, &h.arp)
	}
	if h.has(hdrIPv4) {
		sl = append(sl, &h.ip4)
	}
	if h.has(hdrIPv6) {
		sl = append(sl, &h.ip6)
	}
	if h.has(hdrUDP) {
		sl = append(sl, &h.udp)
	}
	if h.has(hdrIntShim) {
		sl = append(sl, &h.shim)
	}
	if h.has(hdrIntHeader) {
		sl = append(sl, &h.intHdr)
	}
	if h.has(hdrIntMeta) {
		sl = append(sl, &h.meta)
	}
	if h.has(hdrUDPInt) {
		sl = append(sl, &h.udpInt)
	}
	if h.has(hdrTCP) {
		sl = append(sl, &h.tcp)
	}
	sl = append(sl, gopacket.Payload(h.payload))

	buf := gopacket.NewSerializeBufferExpectedSize(len(pkt.RawPacket)+64, 0)
	opts := gopacket.SerializeOptions{
		FixLengths:       false,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, sl...); err != nil {
		return serrors.Wrap("serializing headers", err)
	}
	out := buf.Bytes()
	if len(out) > bufSize {
		return serrors.New("serialized packet exceeds buffer",
			"len", len(out), "max", bufSize)
	}
	n := copy(pkt.buffer[:], out)
	pkt.RawPacket = pkt.buffer[:n]
	return nil
}
