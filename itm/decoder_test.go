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

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecoderOverflow(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x70}))

	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindOverflow, packet.Kind)

	_, err = d.NextPacket()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderLocalTimestamp1AndTimestamp2(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0xC0, 0xC9, 0x01, 0x50}))

	lts1, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindLocalTimestamp1, lts1.Kind)
	require.Equal(t, uint64(0xC9), lts1.Timestamp)
	require.Equal(t, RelationSync, lts1.DataRelation)

	lts2, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindLocalTimestamp2, lts2.Kind)
	require.Equal(t, uint64(5), lts2.Timestamp)
}

func TestDecoderInstrumentation(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x8B, 0x03, 0x0F, 0x3F, 0xFF}))

	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindInstrumentation, packet.Kind)
	require.Equal(t, uint8(17), packet.Port)
	require.Equal(t, []byte{0x03, 0x0F, 0x3F, 0xFF}, packet.Payload)
}

func TestDecoderExceptionTraceExternalReturned(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x0E, 0x20, 0x30}))

	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindExceptionTrace, packet.Kind)
	require.True(t, packet.Exception.IsExternal())
	require.Equal(t, uint16(32), packet.Exception.IRQn())
	require.Equal(t, ExceptionReturned, packet.Action)
}

func TestDecoderHardwareSourcePackets(t *testing.T) {
	cases := []struct {
		name string
		wire []byte
		want func(t *testing.T, p TracePacket)
	}{
		{
			name: "event counter wrap",
			wire: []byte{0x05, 0x2B}, // disc=0, ss=01 (1 byte); payload 0b0010_1011
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindEventCounterWrap, p.Kind)
				require.True(t, p.CPI)
				require.True(t, p.Exc)
				require.False(t, p.Sleep)
				require.True(t, p.LSU)
				require.False(t, p.Fold)
				require.True(t, p.Cyc)
			},
		},
		{
			name: "pc sample awake",
			wire: []byte{0x17, 0x78, 0x56, 0x34, 0x12}, // disc=2, ss=11 (4 bytes); PC=0x12345678 LE
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindPCSample, p.Kind)
				require.False(t, p.Asleep)
				require.Equal(t, uint32(0x12345678), p.PC)
			},
		},
		{
			name: "data trace pc",
			wire: []byte{0x47, 0xDD, 0xCC, 0xBB, 0xAA}, // disc=8 (tt=01,cmp=0,d=0), ss=11; PC=0xAABBCCDD LE
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindDataTracePC, p.Kind)
				require.Equal(t, uint8(0), p.Comparator)
				require.Equal(t, uint32(0xAABBCCDD), p.PC)
			},
		},
		{
			name: "data trace address",
			wire: []byte{0x4E, 0x11, 0x22}, // disc=9 (tt=01,cmp=0,d=1), ss=10
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindDataTraceAddress, p.Kind)
				require.Equal(t, uint8(0), p.Comparator)
				require.Equal(t, []byte{0x11, 0x22}, p.Data)
			},
		},
		{
			name: "data trace value read",
			wire: []byte{0x85, 0x7F}, // disc=16 (tt=10,cmp=0,d=0=read), ss=01
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindDataTraceValue, p.Kind)
				require.Equal(t, uint8(0), p.Comparator)
				require.Equal(t, AccessRead, p.Access)
				require.Equal(t, []byte{0x7F}, p.Value)
			},
		},
		{
			name: "data trace value write",
			wire: []byte{0x8F, 0xDE, 0xAD, 0xBE, 0xEF}, // disc=17 (tt=10,cmp=0,d=1=write), ss=11
			want: func(t *testing.T, p TracePacket) {
				require.Equal(t, KindDataTraceValue, p.Kind)
				require.Equal(t, uint8(0), p.Comparator)
				require.Equal(t, AccessWrite, p.Access)
				require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, p.Value)
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := NewDecoder(bytes.NewReader(c.wire))
			packet, err := d.NextPacket()
			require.NoError(t, err)
			c.want(t, packet)
		})
	}
}

func TestDecoderSyncAboveThreshold(t *testing.T) {
	// 55 zero bits (6 zero bytes + 7 leading zero bits of 0x80, popped
	// LSB-first) followed by a 1 bit: more than the 47 required.
	stream := append(bytes.Repeat([]byte{0x00}, 6), 0x80)
	d := NewDecoder(bytes.NewReader(stream))

	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindSync, packet.Kind)
}

func TestDecoderSyncBelowThreshold(t *testing.T) {
	// 46 zero bits (5 zero bytes + 6 leading zero bits of the 6th byte)
	// followed by a 1 bit: one short of the 47 required.
	stream := append(bytes.Repeat([]byte{0x00}, 5), 0b0100_0000)
	d := NewDecoder(bytes.NewReader(stream))

	_, err := d.NextPacket()
	require.Error(t, err)
	var target *InvalidSyncError
	require.ErrorAs(t, err, &target)
	require.Equal(t, 46, target.ZeroCount)
}

func TestDecoderFramingResetAfterError(t *testing.T) {
	// A hardware-source header with an undefined discriminator (31),
	// followed by a clean Overflow packet.
	d := NewDecoder(bytes.NewReader([]byte{0xFF, 0x70}))

	_, err := d.NextPacket()
	require.Error(t, err)
	var target *InvalidHardwareDiscError
	require.ErrorAs(t, err, &target)
	require.Equal(t, byte(31), target.DiscID)

	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindOverflow, packet.Kind)
}

func TestDecoderTruncatedPayloadIsUnexpectedEOF(t *testing.T) {
	// Instrumentation header promising 4 bytes, only 1 supplied.
	d := NewDecoder(bytes.NewReader([]byte{0x8B, 0x03}))

	_, err := d.NextPacket()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoderSinglesStopsCleanlyAtEOF(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0x70, 0x70}))

	var kinds []Kind
	for packet, err := range d.Singles() {
		require.NoError(t, err)
		kinds = append(kinds, packet.Kind)
	}
	require.Equal(t, []Kind{KindOverflow, KindOverflow}, kinds)
}

func TestDecoderGlobalTimestamp1And2(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(gts1Bytes(0x42000, true, false))
	stream.Write(gts2Bytes48(0x1FFFFF))

	d := NewDecoder(&stream)

	gts1, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindGlobalTimestamp1, gts1.Kind)
	require.Equal(t, uint64(0x42000), gts1.Timestamp)
	require.True(t, gts1.Wrap)
	require.False(t, gts1.Clkch)

	gts2, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindGlobalTimestamp2, gts2.Kind)
	require.Equal(t, uint64(0x1FFFFF), gts2.Timestamp)
}

func TestExtractTimestampSingleByte(t *testing.T) {
	// LTS1 payload 0xC9, 0x01: continuation bit set on first byte (0x49
	// in the low 7 bits plus continuation), terminator 0x01.
	require.Equal(t, uint64(0xC9), extractTimestamp([]byte{0xC9, 0x01}, 27))
}
