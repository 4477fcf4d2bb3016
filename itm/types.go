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

// Package itm decodes the ARM ITM/DWT trace packet protocol described in
// the ARMv7-M Architecture Reference Manual, Appendix D4. All references
// in this package's comments are to that appendix unless noted otherwise.
package itm

import "fmt"

// Kind discriminates the variants of TracePacket.
type Kind uint8

// The set of valid packet kinds that can be decoded. See Appendix D4 for
// the packet categories these belong to.
const (
	KindSync Kind = iota
	KindOverflow
	KindLocalTimestamp1
	KindLocalTimestamp2
	KindGlobalTimestamp1
	KindGlobalTimestamp2
	KindExtension
	KindInstrumentation
	KindEventCounterWrap
	KindExceptionTrace
	KindPCSample
	KindDataTracePC
	KindDataTraceAddress
	KindDataTraceValue
)

// KindNames maps Kind to a human-readable name, in the style of
// facebook/time's ptp/protocol.MessageTypeToString.
var KindNames = map[Kind]string{
	KindSync:             "Sync",
	KindOverflow:         "Overflow",
	KindLocalTimestamp1:  "LocalTimestamp1",
	KindLocalTimestamp2:  "LocalTimestamp2",
	KindGlobalTimestamp1: "GlobalTimestamp1",
	KindGlobalTimestamp2: "GlobalTimestamp2",
	KindExtension:        "Extension",
	KindInstrumentation:  "Instrumentation",
	KindEventCounterWrap: "EventCounterWrap",
	KindExceptionTrace:   "ExceptionTrace",
	KindPCSample:         "PCSample",
	KindDataTracePC:      "DataTracePC",
	KindDataTraceAddress: "DataTraceAddress",
	KindDataTraceValue:   "DataTraceValue",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if name, ok := KindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// TimestampDataRelation indicates the relationship between the generation
// of a local timestamp packet and the corresponding ITM or DWT data
// packet. (Appendix D4.2.4)
type TimestampDataRelation uint8

const (
	// RelationSync: the TS field is the timestamp counter value when the
	// ITM or DWT packet was generated.
	RelationSync TimestampDataRelation = iota
	// RelationUnknownDelay: the TS field is the timestamp counter value
	// when the Local timestamp packet was generated; the value for the
	// previous data packet is unknown but bounded by the two LTS values.
	RelationUnknownDelay
	// RelationAssocEventDelay: output of the associated ITM/DWT packet was
	// delayed relative to other trace output packets.
	RelationAssocEventDelay
	// RelationUnknownAssocEventDelay combines UnknownDelay and
	// AssocEventDelay.
	RelationUnknownAssocEventDelay
)

var relationNames = map[TimestampDataRelation]string{
	RelationSync:                   "Sync",
	RelationUnknownDelay:           "UnknownDelay",
	RelationAssocEventDelay:        "AssocEventDelay",
	RelationUnknownAssocEventDelay: "UnknownAssocEventDelay",
}

func (r TimestampDataRelation) String() string {
	if name, ok := relationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("TimestampDataRelation(%d)", uint8(r))
}

// ExceptionAction denotes the action taken by the processor with respect
// to a given exception. (Table D4-6)
type ExceptionAction uint8

const (
	ExceptionEntered ExceptionAction = iota
	ExceptionExited
	ExceptionReturned
)

var exceptionActionNames = map[ExceptionAction]string{
	ExceptionEntered:  "Entered",
	ExceptionExited:   "Exited",
	ExceptionReturned: "Returned",
}

func (a ExceptionAction) String() string {
	if name, ok := exceptionActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("ExceptionAction(%d)", uint8(a))
}

// MemoryAccessType denotes the type of memory access a DataTraceValue
// packet reports.
type MemoryAccessType uint8

const (
	AccessRead MemoryAccessType = iota
	AccessWrite
)

func (a MemoryAccessType) String() string {
	if a == AccessWrite {
		return "Write"
	}
	return "Read"
}

// ExceptionID identifies the exception number carried by an ExceptionTrace
// packet. Numbers 1-6, 11, 12, 14, 15 are the fixed ARMv7-M system
// exceptions; numbers >= 16 are external interrupts, reported by IRQn as
// the raw exception number (matching cortex-m's VectActive::Interrupt
// convention, not the CMSIS IRQn_Type numbering that subtracts 16).
type ExceptionID uint16

// Fixed ARMv7-M system exception numbers (Table B1-4 of the ARMv7-M ARM).
const (
	ExceptionReset            ExceptionID = 1
	ExceptionNMI              ExceptionID = 2
	ExceptionHardFault        ExceptionID = 3
	ExceptionMemManage        ExceptionID = 4
	ExceptionBusFault         ExceptionID = 5
	ExceptionUsageFault       ExceptionID = 6
	ExceptionSVCall           ExceptionID = 11
	ExceptionDebugMonitor     ExceptionID = 12
	ExceptionPendSV           ExceptionID = 14
	ExceptionSysTick          ExceptionID = 15
	externalInterruptBase                 = 16
)

var fixedExceptionNames = map[ExceptionID]string{
	ExceptionReset:        "Reset",
	ExceptionNMI:          "NMI",
	ExceptionHardFault:    "HardFault",
	ExceptionMemManage:    "MemManage",
	ExceptionBusFault:     "BusFault",
	ExceptionUsageFault:   "UsageFault",
	ExceptionSVCall:       "SVCall",
	ExceptionDebugMonitor: "DebugMonitor",
	ExceptionPendSV:       "PendSV",
	ExceptionSysTick:      "SysTick",
}

// NewExceptionID validates a raw 9-bit exception number against the set of
// fixed system exceptions and the external-interrupt range, returning ok =
// false for numbers that map to neither (0, 7, 8, 9, 10, 13 are reserved).
func NewExceptionID(number uint16) (id ExceptionID, ok bool) {
	if _, isFixed := fixedExceptionNames[ExceptionID(number)]; isFixed {
		return ExceptionID(number), true
	}
	if number >= externalInterruptBase {
		return ExceptionID(number), true
	}
	return 0, false
}

// IsExternal reports whether the exception is an external interrupt rather
// than one of the fixed ARMv7-M system exceptions.
func (e ExceptionID) IsExternal() bool {
	return uint16(e) >= externalInterruptBase
}

// IRQn returns the external interrupt number. Only meaningful when
// IsExternal reports true.
func (e ExceptionID) IRQn() uint16 {
	return uint16(e)
}

// String implements fmt.Stringer.
func (e ExceptionID) String() string {
	if name, ok := fixedExceptionNames[e]; ok {
		return name
	}
	if e.IsExternal() {
		return fmt.Sprintf("ExternalInterrupt(irqn=%d)", e.IRQn())
	}
	return fmt.Sprintf("ExceptionID(%d)", uint16(e))
}

// TracePacket is a decoded ITM/DWT trace packet. It is a tagged union:
// Kind selects which of the fields below are meaningful, following the
// pattern facebook/time's ptp/protocol package uses for its own closed set
// of wire types (a discriminant field plus the union of possible payload
// fields, rather than an interface hierarchy — the set of packet kinds is
// fixed by the ARMv7-M manual and will not grow at runtime).
type TracePacket struct {
	Kind Kind

	// LocalTimestamp1, LocalTimestamp2
	Timestamp    uint64 // LTS1: <=27 bits. LTS2: 1..=6.
	DataRelation TimestampDataRelation

	// GlobalTimestamp1
	Wrap  bool
	Clkch bool

	// GlobalTimestamp2 reuses Timestamp for its high-half value.

	// Extension
	Page uint8

	// Instrumentation
	Port    uint8
	Payload []byte

	// EventCounterWrap
	CPI   bool
	Exc   bool
	Sleep bool
	LSU   bool
	Fold  bool
	Cyc   bool

	// ExceptionTrace
	Exception ExceptionID
	Action    ExceptionAction

	// PCSample
	PC     uint32
	Asleep bool // true when PCSample.PC is not meaningful (sleeping)

	// DataTracePC, DataTraceAddress, DataTraceValue
	Comparator uint8
	Access     MemoryAccessType
	Data       []byte
	Value      []byte
}

func (p TracePacket) String() string {
	switch p.Kind {
	case KindSync:
		return "Sync"
	case KindOverflow:
		return "Overflow"
	case KindLocalTimestamp1:
		return fmt.Sprintf("LocalTimestamp1{ts=%d, relation=%s}", p.Timestamp, p.DataRelation)
	case KindLocalTimestamp2:
		return fmt.Sprintf("LocalTimestamp2{ts=%d}", p.Timestamp)
	case KindGlobalTimestamp1:
		return fmt.Sprintf("GlobalTimestamp1{ts=%#x, wrap=%t, clkch=%t}", p.Timestamp, p.Wrap, p.Clkch)
	case KindGlobalTimestamp2:
		return fmt.Sprintf("GlobalTimestamp2{ts=%#x}", p.Timestamp)
	case KindExtension:
		return fmt.Sprintf("Extension{page=%d}", p.Page)
	case KindInstrumentation:
		return fmt.Sprintf("Instrumentation{port=%d, payload=%x}", p.Port, p.Payload)
	case KindEventCounterWrap:
		return fmt.Sprintf("EventCounterWrap{cpi=%t, exc=%t, sleep=%t, lsu=%t, fold=%t, cyc=%t}",
			p.CPI, p.Exc, p.Sleep, p.LSU, p.Fold, p.Cyc)
	case KindExceptionTrace:
		return fmt.Sprintf("ExceptionTrace{exception=%s, action=%s}", p.Exception, p.Action)
	case KindPCSample:
		if p.Asleep {
			return "PCSample{pc=sleeping}"
		}
		return fmt.Sprintf("PCSample{pc=%#08x}", p.PC)
	case KindDataTracePC:
		return fmt.Sprintf("DataTracePC{comparator=%d, pc=%#08x}", p.Comparator, p.PC)
	case KindDataTraceAddress:
		return fmt.Sprintf("DataTraceAddress{comparator=%d, data=%x}", p.Comparator, p.Data)
	case KindDataTraceValue:
		return fmt.Sprintf("DataTraceValue{comparator=%d, access=%s, value=%x}", p.Comparator, p.Access, p.Value)
	default:
		return p.Kind.String()
	}
}
