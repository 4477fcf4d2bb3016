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
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// TestDecoderFragmentedReadsAssembleOnePacket exercises a byte source that,
// like a real serial port, never returns a full packet in a single Read:
// an Instrumentation header plus its 4-byte payload arrive as five
// single-byte reads.
func TestDecoderFragmentedReadsAssembleOnePacket(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := NewMockReader(ctrl)

	wire := []byte{0x8B, 0x03, 0x0F, 0x3F, 0xFF}
	gomock.InOrder(
		fragmentedReads(reader, wire)...,
	)

	d := NewDecoder(reader)
	packet, err := d.NextPacket()
	require.NoError(t, err)
	require.Equal(t, KindInstrumentation, packet.Kind)
	require.Equal(t, []byte{0x03, 0x0F, 0x3F, 0xFF}, packet.Payload)
}

// TestDecoderMidPayloadReadFailureIsUnexpectedEOF exercises the byte source
// returning io.EOF partway through a packet's payload: the same condition
// a serial port reports when unplugged mid-transfer.
func TestDecoderMidPayloadReadFailureIsUnexpectedEOF(t *testing.T) {
	ctrl := gomock.NewController(t)
	reader := NewMockReader(ctrl)

	gomock.InOrder(
		append(
			fragmentedReads(reader, []byte{0x8B, 0x03}),
			reader.EXPECT().Read(gomock.Any()).Return(0, io.EOF),
		)...,
	)

	d := NewDecoder(reader)
	_, err := d.NextPacket()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// fragmentedReads builds an ordered sequence of one-byte-at-a-time Read
// expectations that together hand back data.
func fragmentedReads(reader *MockReader, data []byte) []*gomock.Call {
	calls := make([]*gomock.Call, 0, len(data))
	for _, b := range data {
		b := b
		calls = append(calls, reader.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			p[0] = b
			return 1, nil
		}))
	}
	return calls
}
