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
	"encoding/binary"
	"errors"
	"io"
	"iter"
)

// syncMinZeros is the minimum number of consecutive zero bits a
// Synchronization packet must contain before its terminating one bit.
// (Appendix D4.2.1.)
const syncMinZeros = 47

// Decoder drives the ITM/DWT packet state machine over an io.Reader,
// yielding one TracePacket per NextPacket call. It owns its bitBuffer
// exclusively, as specified: nothing else may pop from it concurrently.
//
// Decoder has two top-level states: Header (idle between packets) and
// Syncing (inside a Synchronization packet, tracked by syncing != nil).
// Every emitted packet returns the state to Header.
type Decoder struct {
	r       io.Reader
	buf     *bitBuffer
	scratch [256]byte

	syncing *int // consecutive zero-bit count while inside a Sync packet
}

// NewDecoder returns a Decoder that reads raw ITM/DWT trace bytes from r.
func NewDecoder(r io.Reader) *Decoder {
	d := &Decoder{r: r}
	d.buf = newBitBuffer(d.readMore)
	return d
}

// readMore is bitBuffer's refill callback: it performs one blocking Read
// against the underlying byte source. An io.Reader that has no bytes
// available yet (a pipe, socket, or serial port) simply blocks here,
// which is this decoder's realization of the BitBuffer contract's
// NeedMore condition — see Appendix D4 component design, §5.
func (d *Decoder) readMore() ([]byte, error) {
	n, err := d.r.Read(d.scratch[:])
	if n > 0 {
		return append([]byte(nil), d.scratch[:n]...), nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

// NextPacket returns the next TracePacket in the stream. It returns
// io.EOF when the stream ends cleanly between packets, or
// io.ErrUnexpectedEOF when the stream ends in the middle of a packet.
//
// On any DecoderError other than a clean end-of-stream, the decoder's
// state is reset to Header: the next call treats the following byte as a
// fresh header, so a caller may resynchronize after a malformed region.
func (d *Decoder) NextPacket() (TracePacket, error) {
	if d.syncing != nil {
		return d.handleSync()
	}

	header, err := d.buf.popByte()
	if err != nil {
		return TracePacket{}, asCleanEOF(err)
	}

	packet, stub, err := decodeHeader(header)
	if err != nil {
		d.syncing = nil
		return TracePacket{}, err
	}
	if packet != nil {
		return *packet, nil
	}
	return d.processStub(stub)
}

// Singles returns an iterator over every packet remaining in the stream,
// stopping (without yielding an error) on a clean io.EOF. A malformed
// packet error is yielded and iteration then continues, since the decoder
// has already resynchronized to Header; the caller may stop ranging at
// that point. Any other error, such as a truncated stream, is yielded as
// the iterator's final pair before it stops.
func (d *Decoder) Singles() iter.Seq2[TracePacket, error] {
	return func(yield func(TracePacket, error) bool) {
		for {
			packet, err := d.NextPacket()
			if err == io.EOF {
				return
			}
			if !yield(packet, err) {
				return
			}
			if err != nil && !errors.Is(err, ErrMalformedPacket) {
				return
			}
		}
	}
}

// asCleanEOF normalizes a readMore failure encountered while waiting for
// a fresh header byte into io.EOF, the clean end-of-stream signal.
func asCleanEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

// asMidPacketEOF normalizes a readMore failure encountered while
// consuming a packet's payload into io.ErrUnexpectedEOF, since the
// decoder is now mid-packet rather than between packets.
func asMidPacketEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (d *Decoder) processStub(stub *packetStub) (TracePacket, error) {
	switch stub.kind {
	case stubSync:
		d.syncing = new(int)
		*d.syncing = stub.zeroCount
		return d.handleSync()

	case stubInstrumentation:
		payload, err := d.buf.popN(stub.expectedSize)
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		return TracePacket{Kind: KindInstrumentation, Port: stub.port, Payload: payload}, nil

	case stubHardwareSource:
		payload, err := d.buf.popN(stub.expectedSize)
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		return decodeHardwareSource(stub.port, payload)

	case stubLocalTimestamp:
		payload, err := d.buf.popPayload()
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		// MAGIC(27): Appendix D4.2.4.
		return TracePacket{
			Kind:         KindLocalTimestamp1,
			Timestamp:    extractTimestamp(payload, 27),
			DataRelation: stub.dataRelation,
		}, nil

	case stubGlobalTimestamp1:
		payload, err := d.buf.popPayload()
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		last := payload[len(payload)-1]
		return TracePacket{
			Kind:  KindGlobalTimestamp1,
			// MAGIC(25): Appendix D4.2.5 — the final byte's bits[4:0] carry
			// the top 5 of the 26-bit timestamp, wrap is bit 6, clkch bit 5.
			Timestamp: extractTimestamp(payload, 25),
			Wrap:      last&0b0100_0000 != 0,
			Clkch:     last&0b0010_0000 != 0,
		}, nil

	case stubGlobalTimestamp2:
		payload, err := d.buf.popPayload()
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		var maxBits int
		switch len(payload) {
		case 4:
			maxBits = 47 - 26 // 48-bit timestamp, high 22 bits
		case 6:
			maxBits = 63 - 26 // 64-bit timestamp, high 38 bits
		default:
			return TracePacket{}, &InvalidGTS2SizeError{Payload: payload}
		}
		return TracePacket{Kind: KindGlobalTimestamp2, Timestamp: extractTimestamp(payload, maxBits)}, nil
	}

	panic("itm: unreachable stub kind")
}

// handleSync consumes the bitstream one bit at a time while in the
// Syncing state, counting consecutive zero bits until a one bit is seen.
// If at least syncMinZeros zeros preceded it, a Sync packet is emitted;
// otherwise InvalidSync is returned. Either way the decoder returns to
// Header. Syncing is entered only via the 0000_0000 header; the bytes
// consumed here do not respect byte framing until the terminating 1-bit.
func (d *Decoder) handleSync() (TracePacket, error) {
	for {
		bit, err := d.buf.popBit()
		if err != nil {
			return TracePacket{}, asMidPacketEOF(err)
		}
		if !bit {
			*d.syncing++
			continue
		}
		zeros := *d.syncing
		d.syncing = nil
		if zeros >= syncMinZeros {
			return TracePacket{Kind: KindSync}, nil
		}
		return TracePacket{}, &InvalidSyncError{ZeroCount: zeros}
	}
}

// extractTimestamp concatenates the low 7 bits of each non-final payload
// byte (least significant byte first), then the final byte masked to its
// low maxBits%7+1 bits, into a single value. A payload of maxBits/7+1
// bytes thus yields a value spanning bits [maxBits:0].
// (Appendix D4.2.4/D4.2.5 continuation-bit encoding.)
func extractTimestamp(payload []byte, maxBits int) uint64 {
	tail, head := payload[:len(payload)-1], payload[len(payload)-1]

	var ts uint64
	for i, b := range tail {
		ts |= uint64(b&0x7F) << uint(7*i)
	}

	shift := uint(7 - maxBits%7)
	mask := byte(0xFF<<shift) >> shift
	return ts | uint64(head&mask)<<uint(7*len(tail))
}

// decodeHardwareSource decodes the payload of a hardware source packet,
// dispatching on the 5-bit discriminator per Appendix D4.3.
func decodeHardwareSource(discID byte, payload []byte) (TracePacket, error) {
	switch {
	case discID == 0:
		return decodeEventCounterWrap(payload)
	case discID == 1:
		return decodeExceptionTrace(payload)
	case discID == 2:
		return decodePCSample(payload)
	case discID >= 8 && discID <= 23:
		return decodeDataTrace(discID, payload)
	}
	panic("itm: unreachable discriminator")
}

func decodeEventCounterWrap(payload []byte) (TracePacket, error) {
	if len(payload) != 1 {
		return TracePacket{}, &InvalidHardwarePacketError{DiscID: 0, Payload: payload}
	}
	b := payload[0]
	return TracePacket{
		Kind:  KindEventCounterWrap,
		CPI:   b&0b0000_0001 != 0,
		Exc:   b&0b0000_0010 != 0,
		Sleep: b&0b0000_0100 != 0,
		LSU:   b&0b0000_1000 != 0,
		Fold:  b&0b0001_0000 != 0,
		Cyc:   b&0b0010_0000 != 0,
	}, nil
}

func decodeExceptionTrace(payload []byte) (TracePacket, error) {
	if len(payload) != 2 {
		return TracePacket{}, &InvalidHardwarePacketError{DiscID: 1, Payload: payload}
	}
	function := (payload[1] >> 4) & 0b11
	number := uint16(payload[1]&0b1)<<8 | uint16(payload[0])

	exception, ok := NewExceptionID(number)
	if !ok {
		return TracePacket{}, &InvalidExceptionTraceError{Exception: number, Function: function}
	}

	var action ExceptionAction
	switch function {
	case 0b01:
		action = ExceptionEntered
	case 0b10:
		action = ExceptionExited
	case 0b11:
		action = ExceptionReturned
	default:
		return TracePacket{}, &InvalidExceptionTraceError{Exception: number, Function: function}
	}

	return TracePacket{Kind: KindExceptionTrace, Exception: exception, Action: action}, nil
}

func decodePCSample(payload []byte) (TracePacket, error) {
	switch {
	case len(payload) == 1 && payload[0] == 0:
		return TracePacket{Kind: KindPCSample, Asleep: true}, nil
	case len(payload) == 4:
		return TracePacket{Kind: KindPCSample, PC: binary.LittleEndian.Uint32(payload)}, nil
	default:
		return TracePacket{}, &InvalidPCSampleSizeError{Payload: payload}
	}
}

// decodeDataTrace decodes discriminators 8..=23, whose low 5 bits further
// decompose as ???t_tccd: tt selects the packet kind, cc is the
// comparator number, d is a kind-dependent sub-flag. (Appendix D4.3.4.)
func decodeDataTrace(discID byte, payload []byte) (TracePacket, error) {
	tt := (discID >> 3) & 0b11
	comparator := (discID >> 1) & 0b11
	d := discID & 0b1

	switch {
	case tt == 0b01 && d == 0 && len(payload) == 4:
		return TracePacket{Kind: KindDataTracePC, Comparator: comparator, PC: binary.LittleEndian.Uint32(payload)}, nil
	case tt == 0b01 && d == 1 && len(payload) == 2:
		return TracePacket{Kind: KindDataTraceAddress, Comparator: comparator, Data: payload}, nil
	case tt == 0b10:
		access := AccessRead
		if d == 1 {
			access = AccessWrite
		}
		return TracePacket{Kind: KindDataTraceValue, Comparator: comparator, Access: access, Value: payload}, nil
	default:
		return TracePacket{}, &InvalidHardwarePacketError{DiscID: discID, Payload: payload}
	}
}
