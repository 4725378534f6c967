package actor

import (
	"errors"
	"fmt"
	"time"

	"wallbus/internal/config"
	"wallbus/internal/core/domain"
	"wallbus/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the bridge and station entities to Home
// Assistant once both the station and MQTT adapters report healthy.
type HADiscoveryActor struct {
	config              *config.Config
	behavior            actor.Behavior
	stash               *actorutil.Stash
	stationActor        *actor.PID
	mqttActor           *actor.PID
	stationActorHealthy bool
	mqttActorHealthy    bool
	healthyRecv         int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, stationActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:       config,
		stationActor: stationActor,
		mqttActor:    mqttActor,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// check station and MQTT actor healthy
		state.healthyRecv = 0
		state.stationActorHealthy = false
		state.mqttActorHealthy = false
		// station actor request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_STATION,
				Healthy: false,
			}
		})
		// MQTT actor request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_STATION:
				state.stationActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {

			if state.stationActorHealthy && state.mqttActorHealthy {
				// ask the station for its identification registers
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.GetStationInfoRequest{}, 15*time.Second), func(err error) any {
					return domain.GetStationInfoResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT actor or station actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetStationInfoResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@info: GetStationInfoResponse", zap.Any("response", msg))

		var sensors []domain.GenericSensor
		var switches []domain.GenericSwitch
		var inputNumbers []domain.GenericInputNumber

		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

		link := state.config.Serial.Device
		if state.config.Serial.TCPAddress != "" {
			link = state.config.Serial.TCPAddress
		}
		stationDevice := domain.StationDevice(link, state.config.Station.Address, msg.Info.LayoutVersion)
		stationDevice.ViaDevice = bridgeDevice.Id
		stationSensors := domain.StationBaseSensors(stationDevice)
		for i := range stationSensors {
			if i > 0 {
				stationSensors[i].Device = domain.IdDevice(stationDevice)
			}
			sensors = append(sensors, stationSensors[i])
		}

		switches = append(switches, domain.ChargeControlSwitches(stationDevice)...)
		inputNumbers = append(inputNumbers, domain.ChargeControlInputNumbers(stationDevice,
			float64(state.config.ChargeControlConfig.MinPowerWatts),
			float64(state.config.ChargeControlConfig.MaxPowerWatts))...)

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:      sensors,
			Switches:     switches,
			InputNumbers: inputNumbers,
		})
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
