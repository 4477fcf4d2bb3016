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
	"errors"
	"math/big"
	"math/bits"
	"time"
)

// LTSPrescaler is the ITM's TS_Prescale configuration (Appendix D4.2.4),
// needed to convert a local timestamp's tick count into real time.
type LTSPrescaler uint8

const (
	LTSPrescalerDiv1 LTSPrescaler = iota
	LTSPrescalerDiv4
	LTSPrescalerDiv16
	LTSPrescalerDiv64
)

func (p LTSPrescaler) factor() uint64 {
	switch p {
	case LTSPrescalerDiv4:
		return 4
	case LTSPrescalerDiv16:
		return 16
	case LTSPrescalerDiv64:
		return 64
	default:
		return 1
	}
}

// TimestampsConfig configures a TimestampReducer.
type TimestampsConfig struct {
	// ClockFrequency is the ITM timestamp clock frequency, in Hz.
	ClockFrequency uint32

	// LTSPrescaler is the TS_Prescale value the target was configured
	// with. Required to convert LTS tick counts into real time.
	LTSPrescaler LTSPrescaler

	// ExpectMalformed, when set, routes malformed-packet errors into
	// TimestampedBatch.MalformedPackets instead of aborting NextBatch.
	ExpectMalformed bool
}

// Timestamp is an absolute offset from target reset, with the relation of
// the originating local timestamp packet to its associated trace data.
type Timestamp struct {
	Offset       time.Duration
	DataRelation TimestampDataRelation
}

// TimestampedBatch is every TracePacket generated between two timestamp
// packets, paired with the absolute time that batch ended at.
type TimestampedBatch struct {
	Timestamp        Timestamp
	Packets          []TracePacket
	MalformedPackets []error
	ConsumedPackets  int
}

// globalTimestampState accumulates GlobalTimestamp1 (low bits) and
// GlobalTimestamp2 (high bits) packets into a single merged value.
// (Appendix D4.2.5.)
type globalTimestampState struct {
	lower    uint64
	haveLow  bool
	upper    uint64
	haveHigh bool
}

// gts2Shift is the bit position at which GTS2's value begins contributing
// to the merged global timestamp: GTS1 carries bits [25:0].
const gts2Shift = 26

// replaceLower merges a new GTS1 reading into the accumulated low bits.
// The target may compress a GTS1 packet by omitting unchanged high-order
// payload bytes, so a new reading only overwrites the bits at or below its
// own most-significant set bit, preserving bits above that from the
// previous reading.
func (g *globalTimestampState) replaceLower(newLower uint64) {
	if !g.haveLow {
		g.lower = newLower
		g.haveLow = true
		return
	}
	shift := 64 - bits.LeadingZeros64(newLower)
	g.lower = (g.lower>>uint(shift))<<uint(shift) | newLower
}

func (g *globalTimestampState) reset() {
	g.haveLow = false
	g.haveHigh = false
	g.lower = 0
	g.upper = 0
}

// merge returns the combined timestamp once both halves are known.
func (g *globalTimestampState) merge() (uint64, bool) {
	if !g.haveLow || !g.haveHigh {
		return 0, false
	}
	return g.upper<<gts2Shift | g.lower, true
}

// TimestampReducer wraps a Decoder, folding the packet stream into
// timestamped batches: every non-timestamp packet accumulates into the
// current batch until a local timestamp packet closes it out, assigning
// it an absolute offset from target reset.
type TimestampReducer struct {
	decoder *Decoder
	config  TimestampsConfig
	offset  time.Duration
	gts     globalTimestampState
}

// NewTimestampReducer returns a TimestampReducer reading packets from d.
func NewTimestampReducer(d *Decoder, cfg TimestampsConfig) *TimestampReducer {
	return &TimestampReducer{decoder: d, config: cfg}
}

var nanosPerSecond = big.NewInt(1_000_000_000)

// calcOffset converts a tick count at the given prescaler (withPrescaler
// false meaning "no prescaler", used for global timestamps) into a
// nanosecond Duration, rounding up so that an event is never reported as
// occurring before it did on hardware. The multiply-then-divide runs in
// arbitrary precision so a 64-bit tick count times a 64x prescaler times
// 1e9 ns/s never wraps the way a plain uint64 computation would.
func calcOffset(ticks uint64, prescaler LTSPrescaler, withPrescaler bool, freqHz uint32) time.Duration {
	factor := uint64(1)
	if withPrescaler {
		factor = prescaler.factor()
	}

	num := new(big.Int).SetUint64(ticks)
	num.Mul(num, new(big.Int).SetUint64(factor))
	num.Mul(num, nanosPerSecond)

	denom := big.NewInt(int64(freqHz))
	num.Add(num, denom)
	num.Sub(num, big.NewInt(1))
	num.Div(num, denom)

	return time.Duration(num.Uint64())
}

// applyLTS advances the running offset by a local timestamp's delta and
// returns the resulting absolute Timestamp.
func (t *TimestampReducer) applyLTS(ticks uint64, relation TimestampDataRelation) Timestamp {
	delta := calcOffset(ticks, t.config.LTSPrescaler, true, t.config.ClockFrequency)
	t.offset += delta
	return Timestamp{Offset: t.offset, DataRelation: relation}
}

// applyGTS recomputes the absolute offset from the merged global
// timestamp, if both halves are present. Unlike a local timestamp, a
// global timestamp sets the offset outright rather than advancing it: it
// is itself already absolute.
func (t *TimestampReducer) applyGTS() {
	merged, ok := t.gts.merge()
	if !ok {
		return
	}
	t.offset = calcOffset(merged, 0, false, t.config.ClockFrequency)
}

// NextBatch decodes packets until a local timestamp packet is reached,
// folding any global timestamp packets seen along the way into the
// running offset, and returns everything else collected as one batch.
// It returns io.EOF/io.ErrUnexpectedEOF exactly as Decoder.NextPacket
// would from the same stream position.
func (t *TimestampReducer) NextBatch() (TimestampedBatch, error) {
	var batch TimestampedBatch

	for {
		batch.ConsumedPackets++
		packet, err := t.decoder.NextPacket()
		if err != nil {
			if t.config.ExpectMalformed && isMalformedPacket(err) {
				batch.MalformedPackets = append(batch.MalformedPackets, err)
				continue
			}
			return TimestampedBatch{}, err
		}

		switch packet.Kind {
		case KindLocalTimestamp1:
			batch.Timestamp = t.applyLTS(packet.Timestamp, packet.DataRelation)
			return batch, nil

		case KindLocalTimestamp2:
			batch.Timestamp = t.applyLTS(packet.Timestamp, RelationSync)
			return batch, nil

		case KindGlobalTimestamp1:
			t.gts.replaceLower(packet.Timestamp)
			switch {
			case packet.Wrap:
				// Upper bits are about to change: the next GTS2 carries a
				// fresh value, so the stale upper half must not be reused.
				t.gts.haveHigh = false
			case packet.Clkch:
				// Clock-ratio change asserted: the whole accumulated value
				// is now untrustworthy.
				t.gts.reset()
			default:
				t.applyGTS()
			}

		case KindGlobalTimestamp2:
			t.gts.upper = packet.Timestamp
			t.gts.haveHigh = true
			t.applyGTS()

		default:
			batch.Packets = append(batch.Packets, packet)
		}
	}
}

func isMalformedPacket(err error) bool {
	return errors.Is(err, ErrMalformedPacket)
}
