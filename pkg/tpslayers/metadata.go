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
	"net"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/ekmixon/transparent-security/pkg/private/serrors"
)

// IntHop is one per-hop metadata record: the identity of a switch the packet
// traversed and the source MAC the packet carried when it arrived there.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+---------------------------------------------------------------+
//	|                           Switch ID                           |
//	+---------------------------------------------------------------+
//	|                        Originating MAC                        |
//	+-------------------------------+-------------------------------+
//	|       Originating MAC         |           Reserved            |
//	+-------------------------------+-------------------------------+
type IntHop struct {
	SwitchID uint32
	OrigMac  net.HardwareAddr
	Reserved uint16
}

func (h IntHop) String() string {
	return fmt.Sprintf("SwitchID=%d, OrigMac=%s", h.SwitchID, h.OrigMac)
}

// IntMetadata is the bounded stack of per-hop metadata records. Hops[0] is
// the most recent hop. Pushing prepends a record and shifts older records
// down; records are never mutated in place.
type IntMetadata struct {
	layers.BaseLayer
	Hops []IntHop
}

func (m *IntMetadata) LayerType() gopacket.LayerType {
	return LayerTypeIntMetadata
}

func (m *IntMetadata) CanDecode() gopacket.LayerClass {
	return LayerClassIntMetadata
}

func (m *IntMetadata) NextLayerType() gopacket.LayerType {
	// The protocol following the stack is recorded in the shim, not here.
	return gopacket.LayerTypePayload
}

func (m *IntMetadata) LayerPayload() []byte {
	return m.Payload
}

// Push prepends hop to the stack, shifting existing records down one slot.
// The stack never grows beyond maxDepth: when full, the oldest record is
// dropped if dropOldest is set, otherwise the push is refused. Push reports
// whether the hop was recorded.
func (m *IntMetadata) Push(hop IntHop, maxDepth int, dropOldest bool) bool {
	if len(m.Hops) >= maxDepth {
		if !dropOldest {
			return false
		}
		m.Hops = m.Hops[:maxDepth-1]
	}
	m.Hops = append([]IntHop{hop}, m.Hops...)
	return true
}

// Length returns the serialized length of the stack in bytes.
func (m *IntMetadata) Length() int {
	return len(m.Hops) * IntHopLen
}

// DecodeFromBytes implements the gopacket.DecodingLayer interface. data must
// cover exactly the metadata stack region; its extent is declared by the
// shim.
func (m *IntMetadata) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < IntHopLen {
		df.SetTruncated()
		return serrors.New("packet is shorter than one INT hop record",
			"min", IntHopLen, "actual", len(data))
	}
	if len(data)%IntHopLen != 0 {
		return serrors.New("INT metadata stack is not a whole number of records",
			"len", len(data))
	}
	m.Hops = m.Hops[:0]
	for off := 0; off < len(data); off += IntHopLen {
		rec := data[off : off+IntHopLen]
		m.Hops = append(m.Hops, IntHop{
			SwitchID: binary.BigEndian.Uint32(rec[0:4]),
			OrigMac:  net.HardwareAddr(rec[4:10]),
			Reserved: binary.BigEndian.Uint16(rec[10:12]),
		})
	}
	m.BaseLayer = layers.BaseLayer{Contents: data}
	return nil
}

// SerializeTo implements the gopacket.SerializableLayer interface. Records
// are emitted newest to oldest.
func (m *IntMetadata) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(m.Length())
	if err != nil {
		return err
	}
	for i, hop := range m.Hops {
		rec := buf[i*IntHopLen : (i+1)*IntHopLen]
		if len(hop.OrigMac) != 6 {
			return serrors.New("invalid originating MAC", "mac", hop.OrigMac)
		}
		binary.BigEndian.PutUint32(rec[0:4], hop.SwitchID)
		copy(rec[4:10], hop.OrigMac)
		binary.BigEndian.PutUint16(rec[10:12], hop.Reserved)
	}
	return nil
}

func (m *IntMetadata) String() string {
	hops := make([]string, 0, len(m.Hops))
	for _, h := range m.Hops {
		hops = append(hops, h.String())
	}
	return fmt.Sprintf("Hops=[%s]", strings.Join(hops, ", "))
}

func decodeIntMetadata(data []byte, pb gopacket.PacketBuilder) error {
	m := &IntMetadata{}
	if err := m.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(m)
	return pb.NextDecoder(gopacket.LayerTypePayload)
}
