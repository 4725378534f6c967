package evse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallbus/pkg/modbusrtu"
)

const testStationAddress = 0x32

func newTestSession(t *testing.T) (*Session, *TestStation) {
	t.Helper()
	station := NewTestStation()
	master := modbusrtu.NewMaster(station, modbusrtu.MasterConfig{
		StationAddress: testStationAddress,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}, zap.NewNop())
	regs, err := NewMap(WallboxRegisters())
	require.NoError(t, err)
	session, err := NewSession(master, regs, PowerLimits{MinWatts: 1400, MaxWatts: 11000}, zap.NewNop())
	require.NoError(t, err)
	return session, station
}

func refreshTo(t *testing.T, s *Session, station *TestStation, raw uint16, want StationState) {
	t.Helper()
	station.SetStatus(raw)
	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, snap.State)
}

func TestChargeLifecycle(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	require.Equal(StateDisconnected, session.Snapshot().State)

	refreshTo(t, session, station, 1, StateVehicleConnected)

	require.NoError(session.StartCharging(ctx))
	require.Equal(StateAuthorizing, session.Snapshot().State)
	require.Equal(uint16(1), station.Register(0x0D05))

	refreshTo(t, session, station, 2, StateCharging)

	// stop is only confirmed by a later status read
	require.NoError(session.StopCharging(ctx))
	require.Equal(uint16(0), station.Register(0x0D05))
	require.Equal(StateCharging, session.Snapshot().State)

	refreshTo(t, session, station, 1, StateIdle)

	// vehicle stays plugged, another session may start
	refreshTo(t, session, station, 1, StateIdle)
	require.NoError(session.StartCharging(ctx))
	require.Equal(StateAuthorizing, session.Snapshot().State)
}

func TestIllegalCommandsNeverTouchTheBus(t *testing.T) {
	session, station := newTestSession(t)
	ctx := context.Background()

	var illegal *IllegalCommandError
	assert.ErrorAs(t, session.StartCharging(ctx), &illegal)
	assert.Equal(t, "start", illegal.Command)
	assert.ErrorAs(t, session.StopCharging(ctx), &illegal)
	assert.Zero(t, station.RequestCount())
}

func TestStartRejectedByStationFaults(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	refreshTo(t, session, station, 1, StateVehicleConnected)
	station.RejectWrites(0x0D05, 0x02)

	var rejected *modbusrtu.RejectedError
	require.ErrorAs(session.StartCharging(ctx), &rejected)
	require.Equal(byte(0x02), rejected.Code)
	require.Equal(StateFault, session.Snapshot().State)

	// fault blocks further charging commands
	var illegal *IllegalCommandError
	require.ErrorAs(session.StartCharging(ctx), &illegal)

	// a healthy non-charging observation recovers
	station.AcceptWrites(0x0D05)
	refreshTo(t, session, station, 1, StateVehicleConnected)
	require.NoError(session.StartCharging(ctx))
}

func TestPowerLimitRejectionKeepsState(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	refreshTo(t, session, station, 1, StateVehicleConnected)
	require.NoError(session.StartCharging(ctx))
	refreshTo(t, session, station, 2, StateCharging)

	station.RejectWrites(0x0302, 0x02)
	var rejected *modbusrtu.RejectedError
	require.ErrorAs(session.SetPowerLimit(ctx, 7200), &rejected)
	require.Equal(StateCharging, session.Snapshot().State)

	station.AcceptWrites(0x0302)
	require.NoError(session.SetPowerLimit(ctx, 7200))
	require.Equal(uint16(720), station.Register(0x0302))

	watts, err := session.PowerLimit(ctx)
	require.NoError(err)
	require.Equal(7200.0, watts)
}

func TestPowerLimitRangeCheckedLocally(t *testing.T) {
	session, station := newTestSession(t)
	ctx := context.Background()

	refreshTo(t, session, station, 1, StateVehicleConnected)
	before := station.RequestCount()

	var oor *OutOfRangeError
	assert.ErrorAs(t, session.SetPowerLimit(ctx, 300), &oor)
	assert.ErrorAs(t, session.SetPowerLimit(ctx, 22000), &oor)
	assert.Equal(t, before, station.RequestCount())
}

func TestUnknownStatusBlocksCommands(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	refreshTo(t, session, station, 1, StateVehicleConnected)

	station.SetStatus(9)
	snap, err := session.Refresh(ctx)
	require.NoError(err)
	require.True(snap.StatusUnknown)
	require.Equal(StatusUnknown, snap.Status)
	// last recognized state stays on record
	require.Equal(StateVehicleConnected, snap.State)

	require.ErrorIs(session.StartCharging(ctx), ErrUnknownStationStatus)
	require.ErrorIs(session.SetPowerLimit(ctx, 7200), ErrUnknownStationStatus)

	refreshTo(t, session, station, 1, StateVehicleConnected)
	require.NoError(session.StartCharging(ctx))
}

func TestVehicleGoneMidChargeFaults(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)

	refreshTo(t, session, station, 1, StateVehicleConnected)
	require.NoError(session.StartCharging(context.Background()))
	refreshTo(t, session, station, 2, StateCharging)

	refreshTo(t, session, station, 0, StateFault)

	// and recovery through a healthy observation
	refreshTo(t, session, station, 0, StateDisconnected)
}

func TestStationFaultCodeOverridesEverything(t *testing.T) {
	session, station := newTestSession(t)

	refreshTo(t, session, station, 1, StateVehicleConnected)
	refreshTo(t, session, station, 4, StateFault)
	// charging report while faulted does not resurrect the session
	refreshTo(t, session, station, 2, StateFault)
	refreshTo(t, session, station, 1, StateVehicleConnected)
}

func TestSuspendedRoundTrip(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)

	refreshTo(t, session, station, 1, StateVehicleConnected)
	require.NoError(session.StartCharging(context.Background()))
	refreshTo(t, session, station, 2, StateCharging)
	refreshTo(t, session, station, 3, StateSuspended)
	refreshTo(t, session, station, 2, StateCharging)
}

func TestHeartbeatWritesPattern(t *testing.T) {
	session, station := newTestSession(t)

	require.NoError(t, session.Heartbeat(context.Background()))
	assert.Equal(t, uint16(0x55AA), station.Register(0x0D00))
}

func TestReadTimeoutLeavesStateUntouched(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)

	refreshTo(t, session, station, 1, StateVehicleConnected)

	// every retry times out, the transaction is exhausted
	station.FailNext(modbusrtu.ErrTimeout, modbusrtu.ErrTimeout,
		modbusrtu.ErrTimeout, modbusrtu.ErrTimeout)
	_, err := session.Refresh(context.Background())
	var exhausted *modbusrtu.ExhaustedError
	require.ErrorAs(err, &exhausted)
	require.Equal(4, exhausted.Attempts)

	snap := session.Snapshot()
	require.Equal(StateVehicleConnected, snap.State)
	require.False(snap.Degraded)
}

func TestCorruptionRecoveredByRetry(t *testing.T) {
	session, station := newTestSession(t)

	station.SetStatus(1)
	station.CorruptNext(2)
	snap, err := session.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateVehicleConnected, snap.State)
	assert.Equal(t, 3, station.RequestCount())
}

func TestFatalTransportErrorDegradesBridge(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	station.FailNext(&modbusrtu.IOFailureError{Err: assert.AnError})
	_, err := session.Refresh(ctx)
	var fatal *modbusrtu.TransportFatalError
	require.ErrorAs(err, &fatal)
	require.True(session.Degraded())

	before := station.RequestCount()
	require.ErrorIs(session.Heartbeat(ctx), ErrBridgeDegraded)
	require.ErrorIs(session.StartCharging(ctx), ErrBridgeDegraded)
	_, err = session.Refresh(ctx)
	require.ErrorIs(err, ErrBridgeDegraded)
	require.Equal(before, station.RequestCount())
}

func TestMeasurementsReadsBlock(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)

	station.SetRegister(0x0501, 161) // 16.1 A
	station.SetRegister(0x0503, 160)
	station.SetRegister(0x0505, 159)
	station.SetRegister(0x0513, 11040)

	m, err := session.Measurements(context.Background())
	require.NoError(err)
	require.InDelta(16.1, m.CurrentL1Amps, 1e-9)
	require.InDelta(16.0, m.CurrentL2Amps, 1e-9)
	require.InDelta(15.9, m.CurrentL3Amps, 1e-9)
	require.InDelta(11040, m.PowerWatts, 1e-9)
	assert.Equal(t, 1, station.RequestCount())
}

func TestChargeSessionInfo(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)

	station.SetRegister(0x0B03, 4250)
	station.SetRegister(0x0B05, 600)

	info, err := session.ChargeSession(context.Background())
	require.NoError(err)
	require.InDelta(4250, info.EnergyWh, 1e-9)
	require.Equal(10*time.Minute, info.Duration)
}

func TestLockAndSolarModeWrites(t *testing.T) {
	require := require.New(t)
	session, station := newTestSession(t)
	ctx := context.Background()

	refreshTo(t, session, station, 1, StateVehicleConnected)

	require.NoError(session.SetLockMode(ctx, true))
	require.Equal(uint16(1), station.Register(0x0D06))
	require.NoError(session.SetLockMode(ctx, false))
	require.Equal(uint16(0), station.Register(0x0D06))

	require.NoError(session.SetSolarChargeMode(ctx, 2))
	require.Equal(uint16(2), station.Register(0x0D03))
}
