package modbusrtu

import (
	"errors"
	"fmt"
)

// Codec errors
var (
	// ErrIncomplete means the byte sequence is too short to be an RTU frame.
	// The transport should keep reading until its timeout expires.
	ErrIncomplete = errors.New("modbusrtu: incomplete frame")

	// ErrChecksumMismatch means the received CRC does not match the frame
	// contents. The frame is never passed upward.
	ErrChecksumMismatch = errors.New("modbusrtu: crc mismatch")
)

// Transport errors
var (
	// ErrTimeout means the station sent no bytes at all within the
	// transaction timeout.
	ErrTimeout = errors.New("modbusrtu: response timeout")
)

// PartialReadError means bytes arrived but a full frame never completed
// before the transaction deadline.
type PartialReadError struct {
	Got  int
	Want int
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("modbusrtu: partial read (%d of %d bytes)", e.Got, e.Want)
}

// IOFailureError wraps an underlying device error (e.g. adapter unplugged).
// It is fatal for the process lifetime: the bus master never retries it.
type IOFailureError struct {
	Err error
}

func (e *IOFailureError) Error() string {
	return fmt.Sprintf("modbusrtu: io failure: %v", e.Err)
}

func (e *IOFailureError) Unwrap() error { return e.Err }

// StationException is returned by Decode when the station replies with an
// exception frame (function code with bit 0x80 set). Exception codes are
// vendor-defined, so the set is open.
type StationException struct {
	Function byte
	Code     byte
}

func (e *StationException) Error() string {
	return fmt.Sprintf("modbusrtu: station exception 0x%02x (function 0x%02x)", e.Code, e.Function&^excFlag)
}

// Bus master errors
type (
	// RejectedError means the station explicitly rejected the request.
	// Retrying would yield the same answer, so the master does not.
	RejectedError struct {
		Code byte
	}

	// ExhaustedError means all retry attempts failed with transient errors.
	ExhaustedError struct {
		Attempts int
		Last     error
	}

	// TransportFatalError wraps an IOFailureError surfaced through Execute.
	// The bridge should refuse further commands until the transport is
	// reinitialized by an operator.
	TransportFatalError struct {
		Err error
	}
)

func (e *RejectedError) Error() string {
	return fmt.Sprintf("modbusrtu: request rejected by station (exception 0x%02x)", e.Code)
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("modbusrtu: %d attempts exhausted, last error: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *TransportFatalError) Error() string {
	return fmt.Sprintf("modbusrtu: transport fatal: %v", e.Err)
}

func (e *TransportFatalError) Unwrap() error { return e.Err }

// IsTransient reports whether an error is retriable by the bus master.
func IsTransient(err error) bool {
	var partial *PartialReadError
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrIncomplete) ||
		errors.As(err, &partial)
}
