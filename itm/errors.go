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
	"fmt"
)

// ErrMalformedPacket is wrapped by every error below so callers can test
// errors.Is(err, ErrMalformedPacket) to decide whether a decode error is a
// recoverable, payload-level condition rather than a harder I/O failure.
var ErrMalformedPacket = errors.New("malformed trace packet")

// InvalidHeaderError means a header byte matched none of the known bit
// patterns in the D4.2 pattern table.
type InvalidHeaderError struct {
	Header byte
}

func (e *InvalidHeaderError) Error() string {
	return fmt.Sprintf("header is invalid and cannot be decoded: %#08b", e.Header)
}

func (e *InvalidHeaderError) Unwrap() error { return ErrMalformedPacket }

// InvalidHardwareDiscError means a hardware source packet's 5-bit
// discriminator fell outside {0,1,2} ∪ [8,23].
type InvalidHardwareDiscError struct {
	DiscID byte
	Size   int
}

func (e *InvalidHardwareDiscError) Error() string {
	return fmt.Sprintf("hardware source packet discriminator ID is invalid: %d", e.DiscID)
}

func (e *InvalidHardwareDiscError) Unwrap() error { return ErrMalformedPacket }

// InvalidSourcePayloadError means the SS field of a source packet header
// decoded to the reserved 00 value.
type InvalidSourcePayloadError struct {
	Header byte
	Size   byte
}

func (e *InvalidSourcePayloadError) Error() string {
	return "a source packet (from software or hardware) contains an invalid expected payload size"
}

func (e *InvalidSourcePayloadError) Unwrap() error { return ErrMalformedPacket }

// InvalidHardwarePacketError means a hardware source packet's payload
// length, or its data-trace sub-field combination, was not one of the
// defined shapes.
type InvalidHardwarePacketError struct {
	DiscID  byte
	Payload []byte
}

func (e *InvalidHardwarePacketError) Error() string {
	return fmt.Sprintf("hardware source packet type discriminator ID (%d) or payload length (%d) is invalid", e.DiscID, len(e.Payload))
}

func (e *InvalidHardwarePacketError) Unwrap() error { return ErrMalformedPacket }

// InvalidExceptionTraceError means the exception-trace sub-function code
// was not one of Entered/Exited/Returned, or the exception number could not
// be represented.
type InvalidExceptionTraceError struct {
	Exception uint16
	Function  byte
}

func (e *InvalidExceptionTraceError) Error() string {
	return fmt.Sprintf("IRQ number %d and/or action %d is invalid", e.Exception, e.Function)
}

func (e *InvalidExceptionTraceError) Unwrap() error { return ErrMalformedPacket }

// InvalidPCSampleSizeError means a PCSample packet's payload was neither a
// single zero byte (sleeping) nor 4 bytes (a PC value).
type InvalidPCSampleSizeError struct {
	Payload []byte
}

func (e *InvalidPCSampleSizeError) Error() string {
	return fmt.Sprintf("payload length of PC sample is invalid: %d", len(e.Payload))
}

func (e *InvalidPCSampleSizeError) Unwrap() error { return ErrMalformedPacket }

// InvalidGTS2SizeError means a GlobalTimestamp2 packet's payload was
// neither 4 (48-bit) nor 6 (64-bit) bytes.
type InvalidGTS2SizeError struct {
	Payload []byte
}

func (e *InvalidGTS2SizeError) Error() string {
	return "global timestamp format 2 packet does not contain a 48-bit or 64-bit timestamp"
}

func (e *InvalidGTS2SizeError) Unwrap() error { return ErrMalformedPacket }

// InvalidSyncError means a synchronization packet had fewer than 47 leading
// zero bits before its terminating one bit.
type InvalidSyncError struct {
	ZeroCount int
}

func (e *InvalidSyncError) Error() string {
	return fmt.Sprintf("the number of zeroes in the synchronization packet is less than expected: %d < %d", e.ZeroCount, syncMinZeros)
}

func (e *InvalidSyncError) Unwrap() error { return ErrMalformedPacket }
