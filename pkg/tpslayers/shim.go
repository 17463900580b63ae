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
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

const (
	// LineLen is the length of an INT header line in bytes. All INT length
	// fields count in multiples of it.
	LineLen = 4
	// IntShimLen is the serialized length of the INT shim header in bytes.
	IntShimLen = 4
	// IntHeaderLen is the serialized length of the INT metadata header in
	// bytes.
	IntHeaderLen = 12
	// IntHopLen is the serialized length of one per-hop metadata record in
	// bytes.
	IntHopLen = 12
	// UDPIntLen is the serialized length of the preserved UDP header in
	// bytes.
	UDPIntLen = 8

	// IntInsertOverhead is the total number of bytes added to a packet when
	// it first gains INT: shim, INT header, one hop record, and the outer or
	// preserved UDP header.
	IntInsertOverhead = IntShimLen + IntHeaderLen + IntHopLen + UDPIntLen

	// DefaultINTPort is the well-known UDP destination port marking INT
	// traffic.
	DefaultINTPort uint16 = 555
)

// IntShimType is the type of INT metadata following the shim.
type IntShimType uint8

// IntShimType values.
const (
	ShimTypeHopMetadata IntShimType = 1
	ShimTypeDestination IntShimType = 2
)

// NPT values describing what the shim stores about the displaced headers.
const (
	NPTNone    uint8 = 0
	NPTUDPPort uint8 = 1
	NPTIPProto uint8 = 2
)

// IntShim is the INT shim header. It marks the start of the INT metadata
// stack and records the real next-layer protocol that was hidden when the IP
// protocol field was rewritten to UDP.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-------+---+---+---------------+---------------+---------------+
//	| Type  |NPT|Res|    Length     |   Reserved    |  Next Proto   |
//	+-------+---+---+---------------+---------------+---------------+
type IntShim struct {
	layers.BaseLayer
	Type IntShimType
	NPT  uint8
	// Length is the total size of shim, INT header and metadata stack in
	// 4-byte words.
	Length    uint8
	Reserved  uint8
	NextProto layers.IPProtocol
}

func (s *IntShim) LayerType() gopacket.LayerType {
	return LayerTypeIntShim
}

func (s *IntShim) CanDecode() gopacket.LayerClass {
	return LayerClassIntShim
}

func (s *IntShim) NextLayerType() gopacket.LayerType {
	return LayerTypeIntHeader
}

func (s *IntShim) LayerPayload() []byte {
	return s.Payload
}

// MetadataLength returns the byte length of the per-hop metadata stack
// declared by the shim.
func (s *IntShim) MetadataLength() int {
	return int(s.Length)*LineLen - IntShimLen - IntHeaderLen
}

// HopCount returns the number of per-hop records declared by the shim.
func (s *IntShim) HopCount() int {
	return s.MetadataLength() / IntHopLen
}

// DecodeFromBytes implements the gopacket.DecodingLayer interface.
func (s *IntShim) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < IntShimLen {
		df.SetTruncated()
		return serrors.New("packet is shorter than the INT shim length",
			"min", IntShimLen, "actual", len(data))
	}
	s.Type = IntShimType(data[0] >> 4)
	s.NPT = data[0] >> 2 & 0x3
	s.Length = data[1]
	s.Reserved = data[2]
	s.NextProto = layers.IPProtocol(data[3])
	if ml := s.MetadataLength(); ml < 0 || ml%IntHopLen != 0 {
		return serrors.New("invalid INT shim length", "words", s.Length)
	}
	s.BaseLayer = layers.BaseLayer{Contents: data[:IntShimLen], Payload: data[IntShimLen:]}
	return nil
}

// SerializeTo implements the gopacket.SerializableLayer interface.
func (s *IntShim) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(IntShimLen)
	if err != nil {
		return err
	}
	buf[0] = uint8(s.Type&0xF)<<4 | (s.NPT&0x3)<<2
	buf[1] = s.Length
	buf[2] = s.Reserved
	buf[3] = uint8(s.NextProto)
	return nil
}

func (s *IntShim) String() string {
	return fmt.Sprintf("Type=%d, NPT=%d, Length=%d, NextProto=%s",
		s.Type, s.NPT, s.Length, s.NextProto)
}

// decodeIntStack decodes the full INT region of a packet: shim, INT header
// and the metadata stack, whose extent is only known to the shim. It then
// hands off to the inner transport protocol recorded in the shim.
func decodeIntStack(data []byte, pb gopacket.PacketBuilder) error {
	shim := &IntShim{}
	if err := shim.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(shim)

	hdr := &IntHeader{}
	if err := hdr.DecodeFromBytes(shim.LayerPayload(), pb); err != nil {
		return err
	}
	pb.AddLayer(hdr)

	metaBytes := shim.MetadataLength()
	rest := hdr.LayerPayload()
	if len(rest) < metaBytes {
		pb.SetTruncated()
		return serrors.New("INT metadata stack truncated",
			"expected", metaBytes, "actual", len(rest))
	}
	meta := &IntMetadata{}
	if err := meta.DecodeFromBytes(rest[:metaBytes], pb); err != nil {
		return err
	}
	meta.Payload = rest[metaBytes:]
	pb.AddLayer(meta)

	switch shim.NextProto {
	case layers.IPProtocolUDP:
		return pb.NextDecoder(LayerTypeUDPInt)
	case layers.IPProtocolTCP:
		return pb.NextDecoder(layers.LayerTypeTCP)
	}
	return pb.NextDecoder(gopacket.LayerTypePayload)
}
