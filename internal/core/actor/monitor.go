package actor

import (
	"fmt"
	"time"

	"wallbus/internal/config"
	"wallbus/internal/core/domain"
	"wallbus/internal/core/events"
	. "wallbus/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// MonitorActor polls the station on a fixed interval and publishes sensor
// updates to the event stream. Status and measurements go out every tick,
// the charge session block every few ticks.
type MonitorActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	stationActor        *actor.PID
	config              *config.Config
	eventStream         *eventstream.EventStream
	currentSessionCount uint
	sessionCount        uint
	bridgeOnline        bool
	bridgeStateKnown    bool

	logger *zap.Logger
}

type monitorTick struct {
}

func NewMonitorActor(config *config.Config, stationActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *MonitorActor {
	act := &MonitorActor{
		config:              config,
		stationActor:        stationActor,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MONITOR, logger),
		eventStream:         eventStream,
		currentSessionCount: 2,
		sessionCount:        2,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MonitorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MonitorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("monitor@starting started")

		if state.config.MonitorConfig.PollIntervalMillis > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(time.Duration(state.config.MonitorConfig.PollIntervalMillis)*time.Millisecond, ctx.Self(), monitorTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.logger.Debug("monitor@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("monitor@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MONITOR,
			Healthy: true,
			State:   "idle",
		})
	case monitorTick:
		state.logger.Debug("monitor@default tick")
		// get station status
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.GetStationStatusRequest{}, 15*time.Second), func(err error) any {
			return domain.GetStationStatusResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		// get measurements
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.GetMeasurementsRequest{}, 15*time.Second), func(err error) any {
			return domain.GetMeasurementsResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		// get charge session block and power limit read-back
		if state.currentSessionCount == state.sessionCount {
			state.currentSessionCount = 0
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.GetChargeSessionRequest{}, 15*time.Second), func(err error) any {
				return domain.GetChargeSessionResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.stationActor, domain.GetPowerLimitRequest{}, 15*time.Second), func(err error) any {
				return domain.GetPowerLimitResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
		} else {
			state.currentSessionCount++
		}

		// schedule next tick
		state.scheduler.RequestOnce(time.Duration(state.config.MonitorConfig.PollIntervalMillis)*time.Millisecond, ctx.Self(), monitorTick{})
		state.behavior.BecomeStacked(state.WaitingStatusReceive)
	case domain.GetMeasurementsResponse:
		state.logger.Debug("monitor@default GetMeasurementsResponse")
		if !msg.HasResponseError() {
			for _, ev := range events.MeasurementsToUpdateEvents(msg.Measurements) {
				state.eventStream.Publish(ev)
			}
		}
	case domain.GetChargeSessionResponse:
		state.logger.Debug("monitor@default GetChargeSessionResponse")
		if !msg.HasResponseError() {
			for _, ev := range events.ChargeSessionToUpdateEvents(msg.Session) {
				state.eventStream.Publish(ev)
			}
		}
	case domain.GetPowerLimitResponse:
		state.logger.Debug("monitor@default GetPowerLimitResponse")
		if !msg.HasResponseError() {
			state.eventStream.Publish(events.PowerLimitToUpdateEvent(msg.Watts))
		}
	default:
		state.logger.Debug("monitor@default: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MonitorActor) WaitingStatusReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetStationStatusResponse:
		if msg.HasResponseError() {
			state.logger.Error("monitor@waiting GetStationStatusResponse error", zap.Error(msg.GetResponseError()))
			state.publishBridgeState(false)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("monitor@waiting GetStationStatusResponse")
		state.publishBridgeState(!msg.Snapshot.Degraded)
		for _, ev := range events.SnapshotToUpdateEvents(msg.Snapshot) {
			state.eventStream.Publish(ev)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("monitor@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// publishBridgeState emits the bridge availability sensor on changes only.
func (state *MonitorActor) publishBridgeState(online bool) {
	if state.bridgeStateKnown && state.bridgeOnline == online {
		return
	}
	state.bridgeStateKnown = true
	state.bridgeOnline = online
	state.eventStream.Publish(events.BridgeStateToUpdateEvent(online))
}
