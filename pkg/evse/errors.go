package evse

import (
	"errors"
	"fmt"
)

var (
	// ErrBridgeDegraded is returned once a fatal transport error was seen.
	// No further bus traffic is attempted until an operator reconnects the
	// adapter and restarts the bridge.
	ErrBridgeDegraded = errors.New("evse: bridge degraded, transport needs operator attention")

	// ErrUnknownStationStatus is returned while the station reports a
	// status code outside the modeled set. Commands stay blocked until a
	// recognized status is observed again.
	ErrUnknownStationStatus = errors.New("evse: station reports unrecognized status")
)

// UnknownRegisterError is returned by Map.Resolve for undeclared names.
type UnknownRegisterError struct {
	Name string
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("evse: unknown register %q", e.Name)
}

// IllegalCommandError rejects a command that is not legal in the current
// station state. The bus is never touched.
type IllegalCommandError struct {
	Command string
	State   StationState
}

func (e *IllegalCommandError) Error() string {
	return fmt.Sprintf("evse: command %s illegal in state %s", e.Command, e.State)
}

// OutOfRangeError rejects a power limit outside the station's documented
// bounds before any bus round trip.
type OutOfRangeError struct {
	Watts float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("evse: power limit %.0f W outside [%.0f, %.0f]", e.Watts, e.Min, e.Max)
}

// AccessError rejects a read of a write-only register or a write to a
// read-only one.
type AccessError struct {
	Register string
	Op       string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("evse: register %s does not allow %s", e.Register, e.Op)
}
