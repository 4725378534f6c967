package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "wallbus/internal/adapter/actor"
	"wallbus/internal/core/domain"
	"wallbus/internal/util"
	"wallbus/pkg/evse"
	"wallbus/pkg/modbusrtu"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStationProvider(t *testing.T, logger *zap.Logger) (StationActorProvider, *evse.TestStation) {
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

	return func() *adactor.StationActor {
		return adactor.NewStationActor(session, logger)
	}, station
}

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	stationProv, _ := testStationProvider(t, logger)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, stationProv, func(_ *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewDummyMQTTActor(&cfg, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		//return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorMQTTDisabled(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MQTT.Enable = false
	logger := zap.NewNop()

	stationProv, _ := testStationProvider(t, logger)

	// the provider points at a broker that does not exist; with MQTT
	// disabled it must never be invoked
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, stationProv, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(t, healthResp.Healthy, "bridge is healthy without a broker")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorRoutesChargeControl(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logger := zap.NewNop()

	stationProv, station := testStationProvider(t, logger)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, stationProv, func(_ *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewDummyMQTTActor(&cfg, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	require.NoError(t, err)

	time.Sleep(1 * time.Second)

	// status request is forwarded to the station adapter
	res, err := context.RequestFuture(pid, domain.GetStationStatusRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	statusResp, ok := res.(domain.GetStationStatusResponse)
	require.True(t, ok)
	require.False(t, statusResp.HasResponseError())

	// charge control commands keep the original sender
	res, err = context.RequestFuture(pid, domain.StartChargingRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	startResp, ok := res.(domain.StartChargingResponse)
	require.True(t, ok)
	assert.False(t, startResp.HasResponseError())
	assert.Equal(t, uint16(1), station.Register(0x0D05))

	context.Stop(pid)

	as.Shutdown()
}
