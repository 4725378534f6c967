package modbusrtu

import (
	"encoding/binary"
	"fmt"
)

// Function codes the bridge uses.
const (
	FnReadHoldingRegisters   = 0x03
	FnWriteSingleRegister    = 0x06
	FnWriteMultipleRegisters = 0x10
)

const (
	// minimum ADU: address + function + CRC
	minFrameLength = 4
	maxFrameLength = 256

	// exception ADU: address + function|0x80 + code + CRC
	exceptionFrameLength = 5

	excFlag = 0x80
)

// Frame is a decoded RTU application data unit, CRC stripped.
type Frame struct {
	Address  byte
	Function byte
	Payload  []byte
}

// Encode builds the wire form of a frame:
// address, function code, payload, CRC-16 low byte first.
func Encode(address, function byte, payload []byte) []byte {
	adu := make([]byte, 0, len(payload)+minFrameLength)
	adu = append(adu, address, function)
	adu = append(adu, payload...)
	sum := crc16(adu)
	return append(adu, byte(sum), byte(sum>>8))
}

// Decode validates and parses a received ADU. The CRC is always recomputed
// and compared before anything else is looked at. An exception response is
// reported as a *StationException error, never as a Frame.
func Decode(adu []byte) (Frame, error) {
	if len(adu) < minFrameLength {
		return Frame{}, ErrIncomplete
	}
	if len(adu) > maxFrameLength {
		return Frame{}, fmt.Errorf("modbusrtu: frame too long (%d bytes)", len(adu))
	}
	want := uint16(adu[len(adu)-2]) | uint16(adu[len(adu)-1])<<8
	if crc16(adu[:len(adu)-2]) != want {
		return Frame{}, ErrChecksumMismatch
	}
	if adu[1]&excFlag != 0 {
		if len(adu) < exceptionFrameLength {
			return Frame{}, ErrIncomplete
		}
		return Frame{}, &StationException{Function: adu[1], Code: adu[2]}
	}
	return Frame{
		Address:  adu[0],
		Function: adu[1],
		Payload:  adu[2 : len(adu)-2],
	}, nil
}

// crc16 computes the Modbus CRC: polynomial 0xA001, initial value 0xFFFF.
func crc16(data []byte) uint16 {
	var sum uint16 = 0xFFFF
	for _, b := range data {
		sum ^= uint16(b)
		for i := 0; i < 8; i++ {
			if sum&1 != 0 {
				sum = sum>>1 ^ 0xA001
			} else {
				sum >>= 1
			}
		}
	}
	return sum
}

// expectedResponseLength computes how many bytes a well-formed response to
// the given request occupies on the wire, CRC included. An exception
// response is always shorter; the transport detects that case on the fly.
func expectedResponseLength(function byte, payload []byte) int {
	switch function {
	case FnReadHoldingRegisters:
		if len(payload) < 4 {
			return minFrameLength
		}
		count := int(binary.BigEndian.Uint16(payload[2:4]))
		return minFrameLength + 1 + 2*count
	case FnWriteSingleRegister, FnWriteMultipleRegisters:
		// echo of address and value/quantity
		return minFrameLength + 4
	default:
		return minFrameLength
	}
}
