package evse

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallbus/pkg/modbusrtu"
)

// StationState is the bridge's view of the charging-station lifecycle.
// It is mutated only by the session, and only after interpreting a status
// register read or a write result; a transition is never assumed without
// observing it on the wire.
type StationState int

const (
	StateDisconnected StationState = iota
	StateIdle
	StateVehicleConnected
	StateAuthorizing
	StateCharging
	StateSuspended
	StateFault
)

func (s StationState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateVehicleConnected:
		return "vehicle_connected"
	case StateAuthorizing:
		return "authorizing"
	case StateCharging:
		return "charging"
	case StateSuspended:
		return "suspended"
	case StateFault:
		return "fault"
	default:
		return "invalid"
	}
}

// Bus is the serialized transaction path the session issues register
// operations through. *modbusrtu.Master implements it.
type Bus interface {
	ReadHoldingRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, addr, value uint16) error
	WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error
}

// PowerLimits are the station's documented charge power bounds, checked
// locally before any power-limit write reaches the bus.
type PowerLimits struct {
	MinWatts float64
	MaxWatts float64
}

// Snapshot is the state view returned to status queries.
type Snapshot struct {
	State         StationState
	Status        StatusCode
	RawStatus     uint16
	StatusUnknown bool
	Degraded      bool
	UpdatedAt     time.Time
}

// Measurements are the station's live output readings.
type Measurements struct {
	CurrentL1Amps float64
	CurrentL2Amps float64
	CurrentL3Amps float64
	PowerWatts    float64
}

// ChargeSessionInfo describes the running (or last) charging session.
type ChargeSessionInfo struct {
	EnergyWh float64
	Duration time.Duration
}

// StationInfo carries static identification and diagnostic registers.
type StationInfo struct {
	LayoutVersion uint16
	LastError     uint32
}

// Session tracks one charging station. All methods are safe for concurrent
// use; state mutations and bus access are serialized through the session
// mutex on top of the bus master's own single-slot queue.
type Session struct {
	mu     sync.Mutex
	bus    Bus
	regs   *Map
	limits PowerLimits
	logger *zap.Logger

	state         StationState
	status        StatusCode
	rawStatus     uint16
	statusUnknown bool
	pendingStop   bool
	degraded      bool
	updatedAt     time.Time
}

// NewSession validates that every register the state machine depends on is
// declared and returns a session in the Disconnected state.
func NewSession(bus Bus, regs *Map, limits PowerLimits, logger *zap.Logger) (*Session, error) {
	if err := regs.RequireAll(
		RegChargingState,
		RegChargingRelease,
		RegHeartbeat,
		RegPowerLimit,
	); err != nil {
		return nil, err
	}
	return &Session{
		bus:    bus,
		regs:   regs,
		limits: limits,
		logger: logger.With(zap.String("component", "session")),
		state:  StateDisconnected,
	}, nil
}

// Snapshot returns the last observed state without touching the bus.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:         s.state,
		Status:        s.status,
		RawStatus:     s.rawStatus,
		StatusUnknown: s.statusUnknown,
		Degraded:      s.degraded,
		UpdatedAt:     s.updatedAt,
	}
}

// Refresh reads the charging-state register and folds the observation into
// the state machine. A read timeout leaves the state untouched: Fault needs
// an explicit fault code or a rejected write, never a silent line.
func (s *Session) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return s.snapshotLocked(), ErrBridgeDegraded
	}
	raw, err := s.readValue(ctx, RegChargingState)
	if err != nil {
		return s.snapshotLocked(), err
	}
	s.observe(uint16(raw))
	return s.snapshotLocked(), nil
}

// StartCharging releases charging. Legal only while a session can actually
// begin; the accepted write moves the state to Authorizing until a status
// read confirms active charging.
func (s *Session) StartCharging(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandPrecheck(); err != nil {
		return err
	}
	if s.state != StateIdle && s.state != StateVehicleConnected {
		return &IllegalCommandError{Command: "start", State: s.state}
	}
	if err := s.writeControl(ctx, RegChargingRelease, 1); err != nil {
		return err
	}
	s.pendingStop = false
	s.transition(StateAuthorizing)
	return nil
}

// StopCharging withdraws the charging release. The state only moves to Idle
// once a later status read confirms the station is no longer charging.
func (s *Session) StopCharging(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandPrecheck(); err != nil {
		return err
	}
	if s.state == StateDisconnected || s.state == StateIdle {
		return &IllegalCommandError{Command: "stop", State: s.state}
	}
	if err := s.writeControl(ctx, RegChargingRelease, 0); err != nil {
		return err
	}
	s.pendingStop = true
	return nil
}

// SetPowerLimit writes the charge power limit after a local range check.
// A station rejection is surfaced as-is and leaves the state untouched:
// a refused configuration write says nothing about the charging lifecycle.
func (s *Session) SetPowerLimit(ctx context.Context, watts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandPrecheck(); err != nil {
		return err
	}
	if s.state == StateFault {
		return &IllegalCommandError{Command: "set_power_limit", State: s.state}
	}
	if watts < s.limits.MinWatts || watts > s.limits.MaxWatts {
		return &OutOfRangeError{Watts: watts, Min: s.limits.MinWatts, Max: s.limits.MaxWatts}
	}
	return s.writeValue(ctx, RegPowerLimit, watts)
}

// PowerLimit reads the configured charge power limit back from the station.
func (s *Session) PowerLimit(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return 0, ErrBridgeDegraded
	}
	return s.readValue(ctx, RegPowerLimit)
}

// SetLockMode locks or unlocks the station.
func (s *Session) SetLockMode(ctx context.Context, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandPrecheck(); err != nil {
		return err
	}
	if s.state == StateFault {
		return &IllegalCommandError{Command: "set_lock_mode", State: s.state}
	}
	var v float64
	if locked {
		v = 1
	}
	return s.writeControl(ctx, RegLockMode, v)
}

// SetSolarChargeMode selects the station's solar charging mode
// (0 disabled, 1 normal, 2 sunshine, 4 sunshine+).
func (s *Session) SetSolarChargeMode(ctx context.Context, mode uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commandPrecheck(); err != nil {
		return err
	}
	if s.state == StateFault {
		return &IllegalCommandError{Command: "set_solar_charge_mode", State: s.state}
	}
	return s.writeControl(ctx, RegSolarChargeMode, float64(mode))
}

// Heartbeat writes the master keepalive pattern. It runs in any state:
// without it the station downgrades the charge current on its own.
func (s *Session) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return ErrBridgeDegraded
	}
	return s.writeValue(ctx, RegHeartbeat, float64(HeartbeatPattern))
}

// Measurements reads the output measurement block in one transaction.
func (s *Session) Measurements(ctx context.Context) (Measurements, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return Measurements{}, ErrBridgeDegraded
	}
	first, err := s.regs.Resolve(RegCurrentL1)
	if err != nil {
		return Measurements{}, err
	}
	last, err := s.regs.Resolve(RegPowerOverall)
	if err != nil {
		return Measurements{}, err
	}
	quantity := last.Addr + last.Width - first.Addr
	words, err := s.read(ctx, first.Addr, quantity)
	if err != nil {
		return Measurements{}, err
	}
	var m Measurements
	for _, field := range []struct {
		name string
		dst  *float64
	}{
		{RegCurrentL1, &m.CurrentL1Amps},
		{RegCurrentL2, &m.CurrentL2Amps},
		{RegCurrentL3, &m.CurrentL3Amps},
		{RegPowerOverall, &m.PowerWatts},
	} {
		reg, err := s.regs.Resolve(field.name)
		if err != nil {
			return Measurements{}, err
		}
		off := reg.Addr - first.Addr
		v, err := reg.DecodeValue(words[off : off+reg.Width])
		if err != nil {
			return Measurements{}, err
		}
		*field.dst = v
	}
	return m, nil
}

// ChargeSession reads the running session's energy and duration.
func (s *Session) ChargeSession(ctx context.Context) (ChargeSessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return ChargeSessionInfo{}, ErrBridgeDegraded
	}
	energy, err := s.regs.Resolve(RegSessionEnergy)
	if err != nil {
		return ChargeSessionInfo{}, err
	}
	duration, err := s.regs.Resolve(RegSessionDuration)
	if err != nil {
		return ChargeSessionInfo{}, err
	}
	quantity := duration.Addr + duration.Width - energy.Addr
	words, err := s.read(ctx, energy.Addr, quantity)
	if err != nil {
		return ChargeSessionInfo{}, err
	}
	wh, err := energy.DecodeValue(words[:energy.Width])
	if err != nil {
		return ChargeSessionInfo{}, err
	}
	secs, err := duration.DecodeValue(words[duration.Addr-energy.Addr:])
	if err != nil {
		return ChargeSessionInfo{}, err
	}
	return ChargeSessionInfo{
		EnergyWh: wh,
		Duration: time.Duration(secs) * time.Second,
	}, nil
}

// Info reads identification and diagnostic registers.
func (s *Session) Info(ctx context.Context) (StationInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return StationInfo{}, ErrBridgeDegraded
	}
	layout, err := s.readValue(ctx, RegLayoutVersion)
	if err != nil {
		return StationInfo{}, err
	}
	lastErr, err := s.readValue(ctx, RegLastError)
	if err != nil {
		return StationInfo{}, err
	}
	return StationInfo{
		LayoutVersion: uint16(layout),
		LastError:     uint32(lastErr),
	}, nil
}

// Degraded reports whether a fatal transport error was latched.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// commandPrecheck gates every user command: a degraded transport refuses
// all traffic and an unrecognized station status blocks commands until a
// modeled status is observed again.
func (s *Session) commandPrecheck() error {
	if s.degraded {
		return ErrBridgeDegraded
	}
	if s.statusUnknown {
		return ErrUnknownStationStatus
	}
	return nil
}

// observe folds a raw charging-state register value into the state machine.
func (s *Session) observe(raw uint16) {
	s.rawStatus = raw
	s.updatedAt = time.Now()
	code := DecodeStatus(raw)
	s.status = code
	if code == StatusUnknown {
		if !s.statusUnknown {
			s.logger.Warn("station reports unmodeled status", zap.Uint16("raw", raw))
		}
		s.statusUnknown = true
		return
	}
	s.statusUnknown = false
	s.transition(s.nextState(code))
}

func (s *Session) transition(next StationState) {
	if next == s.state {
		return
	}
	s.logger.Info("state transition",
		zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
}

// nextState applies the observed status to the transition table. An
// observation that implies an unmodeled transition lands in Fault rather
// than being silently accepted.
func (s *Session) nextState(code StatusCode) StationState {
	switch code {
	case StatusFault:
		s.pendingStop = false
		return StateFault

	case StatusNoVehicle:
		if s.state == StateCharging && !s.pendingStop {
			// active session and the vehicle is suddenly gone
			return StateFault
		}
		s.pendingStop = false
		return StateDisconnected

	case StatusVehicleConnected:
		switch s.state {
		case StateDisconnected, StateVehicleConnected:
			return StateVehicleConnected
		case StateIdle:
			// vehicle stays plugged after a finished session
			return StateIdle
		case StateAuthorizing:
			// station has not begun charging yet
			return StateAuthorizing
		case StateCharging, StateSuspended:
			if s.pendingStop {
				s.pendingStop = false
				return StateIdle
			}
			return StateFault
		case StateFault:
			return StateVehicleConnected
		}

	case StatusCharging:
		switch s.state {
		case StateAuthorizing, StateCharging, StateSuspended:
			return StateCharging
		case StateFault:
			// recovery requires a healthy non-charging observation
			return StateFault
		default:
			// charging without an accepted start command
			return StateFault
		}

	case StatusSuspended:
		switch s.state {
		case StateAuthorizing, StateCharging, StateSuspended:
			return StateSuspended
		default:
			return StateFault
		}
	}
	return s.state
}

// writeControl performs a charging-control write. A station rejection is a
// Fault observation: the bridge's view of legality disagreed with the
// station's.
func (s *Session) writeControl(ctx context.Context, name string, value float64) error {
	err := s.writeValue(ctx, name, value)
	var rejected *modbusrtu.RejectedError
	if errors.As(err, &rejected) {
		s.transition(StateFault)
	}
	return err
}

func (s *Session) readValue(ctx context.Context, name string) (float64, error) {
	reg, err := s.regs.Resolve(name)
	if err != nil {
		return 0, err
	}
	if !reg.Readable() {
		return 0, &AccessError{Register: name, Op: "read"}
	}
	words, err := s.read(ctx, reg.Addr, reg.Width)
	if err != nil {
		return 0, err
	}
	return reg.DecodeValue(words)
}

func (s *Session) writeValue(ctx context.Context, name string, value float64) error {
	reg, err := s.regs.Resolve(name)
	if err != nil {
		return err
	}
	if !reg.Writable() {
		return &AccessError{Register: name, Op: "write"}
	}
	words, err := reg.EncodeValue(value)
	if err != nil {
		return err
	}
	if len(words) == 1 {
		err = s.bus.WriteSingleRegister(ctx, reg.Addr, words[0])
	} else {
		err = s.bus.WriteMultipleRegisters(ctx, reg.Addr, words)
	}
	return s.latchFatal(err)
}

func (s *Session) read(ctx context.Context, addr, quantity uint16) ([]uint16, error) {
	words, err := s.bus.ReadHoldingRegisters(ctx, addr, quantity)
	if err != nil {
		return nil, s.latchFatal(err)
	}
	return words, nil
}

// latchFatal marks the bridge degraded on a fatal transport error. Only an
// operator-triggered reconnect (a process restart) clears it.
func (s *Session) latchFatal(err error) error {
	var fatal *modbusrtu.TransportFatalError
	if errors.As(err, &fatal) {
		if !s.degraded {
			s.logger.Error("transport fatal, bridge degraded", zap.Error(err))
		}
		s.degraded = true
	}
	return err
}
