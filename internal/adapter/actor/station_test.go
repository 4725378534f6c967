package actor

import (
	"testing"
	"time"

	"wallbus/internal/core/domain"
	"wallbus/internal/util/actorutil"
	"wallbus/pkg/evse"
	"wallbus/pkg/modbusrtu"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStationSession(t *testing.T, logger *zap.Logger) (*evse.TestStation, *evse.Session) {
	t.Helper()

	station := evse.NewTestStation()
	station.SetStatus(1)

	master := modbusrtu.NewMaster(station, modbusrtu.MasterConfig{
		StationAddress: 0x32,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
	}, logger)
	regs, err := evse.NewMap(evse.WallboxRegisters())
	require.NoError(t, err)
	session, err := evse.NewSession(master, regs, evse.PowerLimits{
		MinWatts: 1400,
		MaxWatts: 11000,
	}, logger)
	require.NoError(t, err)

	return station, session
}

func TestStationActorStatus(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	_, session := newTestStationSession(t, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewStationActor(session, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.GetStationStatusRequest{}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.GetStationStatusResponse)

	assert.False(resp.HasResponseError())
	assert.Equal(evse.StateVehicleConnected, resp.Snapshot.State, "station state")
	assert.Equal(evse.StatusVehicleConnected, resp.Snapshot.Status, "status code")
	assert.False(resp.Snapshot.Degraded, "degraded")

	context.Stop(pid)

	as.Shutdown()
}

func TestStationActorChargeControl(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	station, session := newTestStationSession(t, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewStationActor(session, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.StartChargingRequest{}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	startResp := result.(domain.StartChargingResponse)
	assert.False(startResp.HasResponseError())
	assert.Equal(uint16(1), station.Register(0x0D05), "charging release register")

	result, err = context.RequestFuture(pid, domain.SetPowerLimitRequest{Watts: 7200}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	limitResp := result.(domain.SetPowerLimitResponse)
	assert.False(limitResp.HasResponseError())
	assert.Equal(uint16(720), station.Register(0x0302), "power limit register (scaled)")

	// out-of-range limit never reaches the bus
	before := station.RequestCount()
	result, err = context.RequestFuture(pid, domain.SetPowerLimitRequest{Watts: 100}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	limitResp = result.(domain.SetPowerLimitResponse)
	assert.True(limitResp.HasResponseError())
	assert.Equal(before, station.RequestCount(), "bus request count")

	context.Stop(pid)

	as.Shutdown()
}

func TestStationActorHeartbeat(t *testing.T) {

	assert := assert.New(t)

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	station, session := newTestStationSession(t, logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewStationActor(session, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.HeartbeatRequest{}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp := result.(domain.HeartbeatResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(evse.HeartbeatPattern, station.Register(0x0D00), "heartbeat register")

	context.Stop(pid)

	as.Shutdown()
}
