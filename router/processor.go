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

	"github.com/gopacket/gopacket/layers"

	"github.com/ekmixon/transparent-security/pkg/log"
	"github.com/ekmixon/transparent-security/pkg/tpslayers"
)

// instSwitchID is the INT instruction bitmap announcing the metadata layout
// carried in every hop slot: switch id plus originating MAC.
const instSwitchID uint16 = 0x8000

// packetProcessor processes packets. Each goroutine that processes packets
// should use a single dedicated processor; the processor's scratch state is
// reused from packet to packet.
type packetProcessor struct {
	d      *DataPlane
	parser parser
	hdrs   packetHeaders

	// Per-packet scratch, reset at the start of processPkt.
	tagged  bool // this switch inserted or extended INT
	mutated bool // any header field changed; the packet must be re-serialized
}

func newPacketProcessor(d *DataPlane) *packetProcessor {
	return &packetProcessor{
		d:      d,
		parser: parser{intPort: d.intPort},
	}
}

// processPkt runs one packet through the ingress pipeline. The packet's
// header mutations, including all length fixups, are applied in this single
// pass before the packet is re-serialized; there is no second traversal.
func (p *packetProcessor) processPkt(pkt *Packet) disposition {
	p.tagged = false
	p.mutated = false
	if err := p.parser.parse(pkt.RawPacket, &p.hdrs); err != nil {
		log.Debug("Dropping unparseable packet", "ingress", pkt.Ingress, "err", err)
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedParse).Inc()
		return pDiscard
	}

	if p.hdrs.has(hdrIntShim) {
		p.appendHop()
	} else {
		p.initiateINT()
	}

	disp := p.forwardOrDrop(pkt)
	if disp != pForward {
		return disp
	}
	if pkt.egress == pkt.Ingress {
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedLoopback).Inc()
		return pDiscard
	}
	if p.mutated {
		if err := p.deparse(pkt); err != nil {
			log.Debug("Error serializing packet", "err", err)
			p.d.Metrics.DroppedPackets.WithLabelValues(droppedParse).Inc()
			return pDiscard
		}
	}
	return pForward
}

// appendHop extends the INT metadata stack of an already tagged packet
// with this switch's hop record. The add_switch_id table is keyed on the
// outer UDP destination port; a miss leaves the packet untouched.
func (p *packetProcessor) appendHop() {
	h := &p.hdrs
	if !h.has(hdrUDP) {
		return
	}
	switchID, ok := p.d.addSwitchID.Lookup(uint16(h.udp.DstPort))
	if !ok {
		return
	}
	if h.intHdr.RemainingHopCnt == 0 {
		if !h.intHdr.HopCountExceeded {
			h.intHdr.HopCountExceeded = true
			p.mutated = true
		}
		p.d.Metrics.IntHopBudget.Inc()
		return
	}
	before := h.meta.Length()
	hop := tpslayers.IntHop{
		SwitchID: switchID,
		OrigMac:  h.eth.SrcMAC,
	}
	dropOldest := p.d.overflow == OverflowDropOldest
	if !h.meta.Push(hop, p.d.stackDepth, dropOldest) {
		return
	}
	grown := h.meta.Length() - before
	h.intHdr.RemainingHopCnt--
	h.shim.Length += uint8(grown / tpslayers.LineLen)
	if h.has(hdrIPv4) {
		h.ip4.Length += uint16(grown)
	}
	if h.has(hdrIPv6) {
		h.ip6.Length += uint16(grown)
	}
	h.udp.Length += uint16(grown)
	p.tagged = true
	p.mutated = true
	p.d.Metrics.IntHopsAppended.Inc()
}

// initiateINT tags a packet with a fresh INT header stack when its source
// MAC hits the data_inspection table. All length growth, protocol rewrites
// and the preserved UDP header are produced here in one step.
func (p *packetProcessor) initiateINT() {
	h := &p.hdrs
	if !h.has(hdrIPv4) && !h.has(hdrIPv6) {
		return
	}
	if !h.has(hdrUDP) && !h.has(hdrTCP) {
		return
	}
	srcKey, err := macKey(h.eth.SrcMAC)
	if err != nil {
		return
	}
	switchID, ok := p.d.dataInspection.Lookup(srcKey)
	if !ok {
		return
	}

	h.meta.Hops = append(h.meta.Hops[:0], tpslayers.IntHop{
		SwitchID: switchID,
		OrigMac:  h.eth.SrcMAC,
	})
	h.valid |= hdrIntMeta
	h.intHdr = tpslayers.IntHeader{
		Version:         tpslayers.IntVersion,
		MetaLen:         tpslayers.MetaLenWords,
		RemainingHopCnt: p.d.maxHops,
		Instructions:    instSwitchID,
		DomainID:        p.d.domainID,
		DSInstructions:  instSwitchID,
	}
	h.valid |= hdrIntHeader
	h.shim = tpslayers.IntShim{
		Type:   tpslayers.ShimTypeHopMetadata,
		Length: (tpslayers.IntShimLen + tpslayers.IntHeaderLen + tpslayers.IntHopLen) / tpslayers.LineLen,
	}
	h.valid |= hdrIntShim

	if h.has(hdrIPv4) {
		h.shim.NextProto = h.ip4.Protocol
		h.ip4.Protocol = layers.IPProtocolUDP
		h.ip4.TTL--
		h.ip4.Length += tpslayers.IntInsertOverhead
	} else {
		h.shim.NextProto = h.ip6.NextHeader
		h.ip6.NextHeader = layers.IPProtocolUDP
		h.ip6.Length += tpslayers.IntInsertOverhead
	}

	if h.has(hdrUDP) {
		// Preserve the original UDP header before the ports are overwritten.
		h.shim.NPT = tpslayers.NPTUDPPort
		h.udpInt = tpslayers.UDPInt{
			SrcPort:  uint16(h.udp.SrcPort),
			DstPort:  uint16(h.udp.DstPort),
			Length:   h.udp.Length,
			Checksum: h.udp.Checksum,
		}
		h.valid |= hdrUDPInt
		h.udp.SrcPort = layers.UDPPort(p.d.intPort)
		h.udp.DstPort = layers.UDPPort(p.d.intPort)
		h.udp.Length += tpslayers.IntInsertOverhead
	} else {
		// TCP: there is no UDP header to preserve, synthesize the outer one.
		h.shim.NPT = tpslayers.NPTIPProto
		h.udp = layers.UDP{
			SrcPort: layers.UDPPort(p.d.intPort),
			DstPort: layers.UDPPort(p.d.intPort),
		}
		if h.has(hdrIPv4) {
			h.udp.Length = h.ip4.Length - uint16(h.ip4.IHL)*4
		} else {
			h.udp.Length = h.ip6.Length
		}
		h.valid |= hdrUDP
	}

	p.tagged = true
	p.mutated = true
	p.d.Metrics.IntInitiated.Inc()
}

// forwardOrDrop makes the forwarding decision: blocklist first, then the
// ARP short path, then the mode-specific forwarding pipeline.
func (p *packetProcessor) forwardOrDrop(pkt *Packet) disposition {
	h := &p.hdrs
	if p.blocked() {
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedBlocklist).Inc()
		return pDiscard
	}

	if h.has(hdrArp) {
		if h.arp.Operation == layers.ARPRequest {
			p.d.sendDigest(Digest{
				Kind:        DigestArp,
				SrcMac:      append(net.HardwareAddr{}, h.eth.SrcMAC...),
				IngressPort: pkt.Ingress,
			})
		}
		pkt.egress = p.d.uplinkPort
		return pForward
	}

	switch p.d.mode {
	case ForwardModeRoute:
		return p.routeForward(pkt)
	default:
		return p.learnForward(pkt)
	}
}

// learnForward is the MAC-learning pipeline: dst-MAC exact match, source
// learning digests on unknown or moved sources, uplink default.
func (p *packetProcessor) learnForward(pkt *Packet) disposition {
	h := &p.hdrs
	dstKey, err := macKey(h.eth.DstMAC)
	if err != nil {
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedParse).Inc()
		return pDiscard
	}
	if port, ok := p.d.dataForward.Lookup(dstKey); ok {
		pkt.egress = port
		return pForward
	}
	if pkt.Ingress != p.d.uplinkPort {
		srcKey, err := macKey(h.eth.SrcMAC)
		if err == nil {
			bound, known := p.d.srcLearned.Lookup(srcKey)
			switch {
			case !known:
				p.d.sendDigest(Digest{
					Kind:        DigestSrcMiss,
					SrcMac:      append(net.HardwareAddr{}, h.eth.SrcMAC...),
					IngressPort: pkt.Ingress,
				})
			case bound^pkt.Ingress != 0:
				p.d.sendDigest(Digest{
					Kind:        DigestSrcMove,
					SrcMac:      append(net.HardwareAddr{}, h.eth.SrcMAC...),
					IngressPort: pkt.Ingress,
				})
			}
		}
	}
	pkt.egress = p.d.uplinkPort
	return pForward
}

// routeForward is the simplified pipeline: longest-prefix-match IPv4
// forwarding. Packets this switch tagged additionally get an independent
// copy toward the analysis port.
func (p *packetProcessor) routeForward(pkt *Packet) disposition {
	h := &p.hdrs
	if !h.has(hdrIPv4) {
		pkt.egress = p.d.uplinkPort
		return pForward
	}
	dst, ok := netip.AddrFromSlice(h.ip4.DstIP.To4())
	if !ok {
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedParse).Inc()
		return pDiscard
	}
	port, ok := p.d.routes.Lookup(dst)
	if !ok {
		p.d.Metrics.DroppedPackets.WithLabelValues(droppedNoEgress).Inc()
		return pDiscard
	}
	pkt.egress = port
	pkt.mirror = p.tagged
	return pForward
}

// blocked consults the exact-match drop blocklist. Non-IP packets cannot
// match; the resolved destination port is the pre-INT one when the packet
// carries a preserved UDP header.
func (p *packetProcessor) blocked() bool {
	h := &p.hdrs
	if p.d.dropBlocklist.Len() == 0 {
		return false
	}
	srcKey, err := macKey(h.eth.SrcMAC)
	if err != nil {
		return false
	}
	var addr netip.Addr
	switch {
	case h.has(hdrIPv6):
		addr, _ = netip.AddrFromSlice(h.ip6.DstIP)
	case h.has(hdrIPv4):
		addr, _ = netip.AddrFromSlice(h.ip4.DstIP.To4())
	default:
		return false
	}
	var dstPort uint16
	switch {
	case h.has(hdrUDPInt):
		dstPort = h.udpInt.DstPort
	case h.has(hdrTCP):
		dstPort = uint16(h.tcp.DstPort)
	case h.has(hdrUDP):
		dstPort = uint16(h.udp.DstPort)
	}
	_, hit := p.d.dropBlocklist.Lookup(dropKey{
		srcMac:  srcKey,
		dstAddr: addr.Unmap(),
		dstPort: dstPort,
	})
	return hit
}
