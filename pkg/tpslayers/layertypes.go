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

// Package tpslayers implements the transparent-security in-band network
// telemetry (INT) headers as gopacket layers. An INT-tagged packet carries,
// after the outer UDP header, a shim header, a fixed INT metadata header and
// a stack of per-hop metadata records, followed by the original transport
// header (TCP, or the preserved UDP header for packets that already were
// UDP).
package tpslayers

import (
	"github.com/gopacket/gopacket"
)

var (
	LayerTypeIntShim = gopacket.RegisterLayerType(
		1980,
		gopacket.LayerTypeMetadata{
			Name:    "IntShim",
			Decoder: gopacket.DecodeFunc(decodeIntStack),
		},
	)
	LayerClassIntShim gopacket.LayerClass = LayerTypeIntShim

	LayerTypeIntHeader = gopacket.RegisterLayerType(
		1981,
		gopacket.LayerTypeMetadata{
			Name:    "IntHeader",
			Decoder: gopacket.DecodeFunc(decodeIntHeader),
		},
	)
	LayerClassIntHeader gopacket.LayerClass = LayerTypeIntHeader

	LayerTypeIntMetadata = gopacket.RegisterLayerType(
		1982,
		gopacket.LayerTypeMetadata{
			Name:    "IntMetadata",
			Decoder: gopacket.DecodeFunc(decodeIntMetadata),
		},
	)
	LayerClassIntMetadata gopacket.LayerClass = LayerTypeIntMetadata

	LayerTypeUDPInt = gopacket.RegisterLayerType(
		1983,
		gopacket.LayerTypeMetadata{
			Name:    "UDPInt",
			Decoder: gopacket.DecodeFunc(decodeUDPInt),
		},
	)
	LayerClassUDPInt gopacket.LayerClass = LayerTypeUDPInt
)
