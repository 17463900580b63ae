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

// UDPInt preserves the original UDP header of a packet whose outer UDP ports
// were rewritten to the well-known INT ports. It trails the metadata stack
// so that stripping the INT headers and restoring it is a symmetric
// operation. The wire layout is identical to UDP.
type UDPInt struct {
	layers.BaseLayer
	SrcPort, DstPort uint16
	Length           uint16
	Checksum         uint16
}

func (u *UDPInt) LayerType() gopacket.LayerType {
	return LayerTypeUDPInt
}

func (u *UDPInt) CanDecode() gopacket.LayerClass {
	return LayerClassUDPInt
}

func (u *UDPInt) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

func (u *UDPInt) LayerPayload() []byte {
	return u.Payload
}

// DecodeFromBytes implements the gopacket.DecodingLayer interface.
func (u *UDPInt) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < UDPIntLen {
		df.SetTruncated()
		return serrors.New("packet is shorter than the UDP-INT header length",
			"min", UDPIntLen, "actual", len(data))
	}
	u.SrcPort = binary.BigEndian.Uint16(data[0:2])
	u.DstPort = binary.BigEndian.Uint16(data[2:4])
	u.Length = binary.BigEndian.Uint16(data[4:6])
	u.Checksum = binary.BigEndian.Uint16(data[6:8])
	u.BaseLayer = layers.BaseLayer{Contents: data[:UDPIntLen], Payload: data[UDPIntLen:]}
	return nil
}

// SerializeTo implements the gopacket.SerializableLayer interface.
func (u *UDPInt) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	buf, err := b.PrependBytes(UDPIntLen)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf[0:2], u.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], u.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], u.Length)
	binary.BigEndian.PutUint16(buf[6:8], u.Checksum)
	return nil
}

func (u *UDPInt) String() string {
	return fmt.Sprintf("SrcPort=%d, DstPort=%d, Length=%d", u.SrcPort, u.DstPort, u.Length)
}

func decodeUDPInt(data []byte, pb gopacket.PacketBuilder) error {
	u := &UDPInt{}
	if err := u.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(u)
	return pb.NextDecoder(gopacket.LayerTypePayload)
}
