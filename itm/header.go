/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package itm

// stubKind discriminates packetStub, the "what to consume next" result of
// decoding a header byte that doesn't carry a complete packet on its own.
type stubKind uint8

const (
	stubSync stubKind = iota
	stubInstrumentation
	stubHardwareSource
	stubLocalTimestamp
	stubGlobalTimestamp1
	stubGlobalTimestamp2
)

// packetStub describes how to consume the remainder of a packet whose
// header alone doesn't carry a complete TracePacket.
type packetStub struct {
	kind stubKind

	// stubSync
	zeroCount int

	// stubInstrumentation, stubHardwareSource
	port         uint8 // instrumentation stimulus port, or hardware disc_id
	expectedSize int

	// stubLocalTimestamp
	dataRelation TimestampDataRelation
}

// translateSS maps the SS field of a source packet header (Appendix
// D4.2.8, Table D4-4) to the payload size in bytes it commits to. ss=00 is
// reserved and reported via ok=false.
func translateSS(ss byte) (size int, ok bool) {
	switch ss {
	case 0b01:
		return 1, true
	case 0b10:
		return 2, true
	case 0b11:
		return 4, true
	default:
		return 0, false
	}
}

// decodeHeader decodes the first byte of a packet. It either returns a
// complete packet (headers with no payload: Overflow, LocalTimestamp2,
// Extension) or a stub describing the payload still to be consumed.
// (Appendix D4.2, pattern table.)
func decodeHeader(header byte) (*TracePacket, *packetStub, error) {
	switch {
	case header == 0b0000_0000:
		// Synchronization packet start. The header's own 8 zero bits count
		// toward the >=47 required.
		return nil, &packetStub{kind: stubSync, zeroCount: 8}, nil

	case header == 0b0111_0000:
		return &TracePacket{Kind: KindOverflow}, nil, nil

	case header&0b1100_1111 == 0b1100_0000:
		// Local timestamp, format 1 (LTS1): 11tc_0000. Bits [5:4] select
		// the relationship to the corresponding ITM/DWT data.
		tc := (header >> 4) & 0b11
		var relation TimestampDataRelation
		switch tc {
		case 0b00:
			relation = RelationSync
		case 0b01:
			relation = RelationUnknownDelay
		case 0b10:
			relation = RelationAssocEventDelay
		case 0b11:
			relation = RelationUnknownAssocEventDelay
		}
		return nil, &packetStub{kind: stubLocalTimestamp, dataRelation: relation}, nil

	case header&0b1000_1111 == 0b0000_0000 && header&0b0111_0000 != 0 && header&0b0111_0000 != 0b0111_0000:
		// Local timestamp, format 2 (LTS2): 0ttt_0000, t in 1..=6.
		ts := (header >> 4) & 0b111
		return &TracePacket{Kind: KindLocalTimestamp2, Timestamp: uint64(ts)}, nil, nil

	case header == 0b1001_0100:
		return nil, &packetStub{kind: stubGlobalTimestamp1}, nil

	case header == 0b1011_0100:
		return nil, &packetStub{kind: stubGlobalTimestamp2}, nil

	case header&0b1000_1111 == 0b0000_1000:
		// Extension packet: 0ppp_1000.
		page := (header >> 4) & 0b111
		return &TracePacket{Kind: KindExtension, Page: page}, nil, nil

	case header&0b0000_0100 == 0:
		// Instrumentation packet: aaaa_a0ss.
		port := header >> 3
		ss := header & 0b11
		size, ok := translateSS(ss)
		if !ok {
			return nil, nil, &InvalidSourcePayloadError{Header: header, Size: ss}
		}
		return nil, &packetStub{kind: stubInstrumentation, port: port, expectedSize: size}, nil

	case header&0b0000_0100 == 0b0000_0100:
		// Hardware source packet: aaaa_a1ss.
		discID := header >> 3
		ss := header & 0b11
		if !validHardwareDisc(discID) {
			return nil, nil, &InvalidHardwareDiscError{DiscID: discID, Size: int(ss)}
		}
		size, ok := translateSS(ss)
		if !ok {
			return nil, nil, &InvalidSourcePayloadError{Header: header, Size: ss}
		}
		return nil, &packetStub{kind: stubHardwareSource, port: discID, expectedSize: size}, nil
	}

	return nil, nil, &InvalidHeaderError{Header: header}
}

// validHardwareDisc reports whether a 5-bit hardware source discriminator
// is one of the defined values: {0,1,2} (event counter wrap, exception
// trace, PC sample) or [8,23] (data trace family).
func validHardwareDisc(discID byte) bool {
	return discID <= 2 || (discID >= 8 && discID <= 23)
}
