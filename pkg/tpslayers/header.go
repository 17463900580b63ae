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

package tpslayers

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

const (
	// IntVersion is the supported version of the INT header format.
	IntVersion = 1
	// MetaLenWords is the per-hop metadata record size in 4-byte words.
	MetaLenWords = IntHopLen / LineLen
)

// IntHeader is the fixed INT metadata header. It follows the shim and
// precedes the per-hop metadata stack.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-------+-+-+-+-+-----+---------+---------------+---------------+
//	|  Ver  |D|E|M|R| Res | MetaLen | RemainingHops |   Reserved    |
//	+-------+-+-+-+-+-----+---------+---------------+---------------+
//	|         Instructions          |           Domain ID           |
//	+-------------------------------+-------------------------------+
//	|        DS Instructions        |           DS Flags            |
//	+-------------------------------+-------------------------------+
type IntHeader struct {
	layers.BaseLayer
	Version uint8
	// Discard indicates the packet should be discarded at the INT sink.
	Discard bool
	// HopCountExceeded indicates a hop could not record metadata because the
	// hop budget was exhausted.
	HopCountExceeded bool
	// MTUExceeded indicates inserting metadata would have exceeded the
	// egress link MTU.
	MTUExceeded bool
	// MetaLen is the length of one per-hop metadata record in 4-byte words.
	MetaLen uint8
	// RemainingHopCnt bounds the number of hops that may still add
	// metadata. It is decremented by every hop that records metadata and
	// never wraps.
	RemainingHopCnt uint8
	Instructions    uint16
	DomainID        uint16
	DSInstructions  uint16
	DSFlags         uint16
}

func (h *IntHeader) LayerType() gopacket.LayerType {
	return LayerTypeIntHeader
}

func (h *IntHeader) CanDecode() gopacket.LayerClass {
	return LayerClassIntHeader
}

func (h *IntHeader) NextLayerType() gopacket.LayerType {
	return LayerTypeIntMetadata
}

func (h *IntHeader) LayerPayload() []byte {
	return h.Payload
}

// DecodeFromBytes implements the gopacket.DecodingLayer interface.
func (h *IntHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < IntHeaderLen {
		df.SetTruncated()
		return serrors.New("packet is shorter than the INT header length",
			"min", IntHeaderLen, "actual", len(data))
	}
	h.Version = data[0] >> 4
	h.Discard = data[0]&0x8 != 0
	h.HopCountExceeded = data[0]&0x4 != 0
	h.MTUExceeded = data[0]&0x2 != 0
	h.MetaLen = data[1] & 0x1F
	h.RemainingHopCnt = data[2]
	h.Instructions = binary.BigEndian.Uint16(data[4:6])
	h.DomainID = binary.BigEndian.Uint16(data[6:8])
	h.DSInstructions = binary.BigEndian.Uint16(data[8:10])
	h.DSFlags = binary.BigEndian.Uint16(data[10:12])
	h.BaseLayer = layers.BaseLayer{Contents: data[:IntHeaderLen], Payload: data[IntHeaderLen:]}
	return nil
}

// SerializeTo implements the gopacket.SerializableLayer interface.
func (h *IntHeader) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(IntHeaderLen)
	if err != nil {
		return err
	}
	buf[0] = (h.Version & 0xF) << 4
	if h.Discard {
		buf[0] |= 0x8
	}
	if h.HopCountExceeded {
		buf[0] |= 0x4
	}
	if h.MTUExceeded {
		buf[0] |= 0x2
	}
	buf[1] = h.MetaLen & 0x1F
	buf[2] = h.RemainingHopCnt
	buf[3] = 0
	binary.BigEndian.PutUint16(buf[4:6], h.Instructions)
	binary.BigEndian.PutUint16(buf[6:8], h.DomainID)
	binary.BigEndian.PutUint16(buf[8:10], h.DSInstructions)
	binary.BigEndian.PutUint16(buf[10:12], h.DSFlags)
	return nil
}

func (h *IntHeader) String() string {
	return fmt.Sprintf("Ver=%d, DomainID=%#x, RemainingHopCnt=%d",
		h.Version, h.DomainID, h.RemainingHopCnt)
}

func decodeIntHeader(data []byte, pb gopacket.PacketBuilder) error {
	h := &IntHeader{}
	if err := h.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(h)
	return pb.NextDecoder(LayerTypeIntMetadata)
}
