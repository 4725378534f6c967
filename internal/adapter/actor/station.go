package actor

import (
	"context"
	"fmt"
	"time"

	"wallbus/internal/core/domain"
	"wallbus/internal/util/actorutil"
	"wallbus/pkg/evse"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// StationActor is the bus-facing adapter. It owns the station session and
// runs every register transaction as a background task while the mailbox
// stashes incoming work, so one slow serial exchange never blocks the actor
// system.
type StationActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	session  *evse.Session
	timeout  time.Duration
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewStationActor(session *evse.Session, logger *zap.Logger) *StationActor {
	act := &StationActor{
		session:  session,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		timeout:  10 * time.Second,
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_STATION, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *StationActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *StationActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("station@starting started")
		// prime the state machine with a first status read
		actorutil.NewBackgroundTask(ctx, state.getStatus).
			Recover(func(err error) domain.GetStationStatusResponse {
				return domain.GetStationStatusResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			}).WithTimeout(state.timeout).PipeTo(ctx.Self())
	case domain.GetStationStatusResponse:
		if msg.HasResponseError() {
			state.logger.Warn("station@starting initial status read failed",
				zap.Error(msg.GetResponseError()))
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("station@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *StationActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("station@default ActorHealthRequest")
		healthy := !state.session.Degraded()
		st := "idle"
		if !healthy {
			st = "degraded"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_STATION,
			Healthy: healthy,
			State:   st,
		})
	case domain.GetStationStatusRequest:
		state.logger.Debug("station@default GetStationStatusRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.getStatus)
	case domain.GetMeasurementsRequest:
		state.logger.Debug("station@default GetMeasurementsRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.getMeasurements)
	case domain.GetChargeSessionRequest:
		state.logger.Debug("station@default GetChargeSessionRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.getChargeSession)
	case domain.GetStationInfoRequest:
		state.logger.Debug("station@default GetStationInfoRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.getInfo)
	case domain.GetPowerLimitRequest:
		state.logger.Debug("station@default GetPowerLimitRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.getPowerLimit)
	case domain.HeartbeatRequest:
		state.logger.Debug("station@default HeartbeatRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.heartbeat)
	case domain.StartChargingRequest:
		state.logger.Debug("station@default StartChargingRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.startCharging)
	case domain.StopChargingRequest:
		state.logger.Debug("station@default StopChargingRequest")
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), state.stopCharging)
	case domain.SetPowerLimitRequest:
		state.logger.Debug("station@default SetPowerLimitRequest", zap.Float64("watts", msg.Watts))
		watts := msg.Watts
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), func() (*domain.SetPowerLimitResponse, error) {
			return state.setPowerLimit(watts)
		})
	case domain.SetLockModeRequest:
		state.logger.Debug("station@default SetLockModeRequest", zap.Bool("locked", msg.Locked))
		locked := msg.Locked
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), func() (*domain.SetLockModeResponse, error) {
			return state.setLockMode(locked)
		})
	case domain.SetSolarChargeModeRequest:
		state.logger.Debug("station@default SetSolarChargeModeRequest", zap.Uint16("mode", msg.Mode))
		mode := msg.Mode
		pipeStationTask(state, ctx, actorutil.ForRequest(msg).ReplyTo(ctx), func() (*domain.SetSolarChargeModeResponse, error) {
			return state.setSolarChargeMode(mode)
		})
	default:
		state.logger.Debug("station@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *StationActor) WaitingStation(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("station@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("station@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *StationActor) getStatus() (*domain.GetStationStatusResponse, error) {
	snap, err := a.session.Refresh(context.Background())
	return &domain.GetStationStatusResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		Snapshot:           snap,
	}, nil
}

func (a *StationActor) getMeasurements() (*domain.GetMeasurementsResponse, error) {
	m, err := a.session.Measurements(context.Background())
	return &domain.GetMeasurementsResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		Measurements:       m,
	}, nil
}

func (a *StationActor) getChargeSession() (*domain.GetChargeSessionResponse, error) {
	info, err := a.session.ChargeSession(context.Background())
	return &domain.GetChargeSessionResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		Session:            info,
	}, nil
}

func (a *StationActor) getInfo() (*domain.GetStationInfoResponse, error) {
	info, err := a.session.Info(context.Background())
	return &domain.GetStationInfoResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		Info:               info,
	}, nil
}

func (a *StationActor) getPowerLimit() (*domain.GetPowerLimitResponse, error) {
	watts, err := a.session.PowerLimit(context.Background())
	return &domain.GetPowerLimitResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
		Watts:              watts,
	}, nil
}

func (a *StationActor) heartbeat() (*domain.HeartbeatResponse, error) {
	err := a.session.Heartbeat(context.Background())
	return &domain.HeartbeatResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
	}, nil
}

func (a *StationActor) startCharging() (*domain.StartChargingResponse, error) {
	err := a.session.StartCharging(context.Background())
	return &domain.StartChargingResponse{
		ChargeControlResponseMixIn: domain.ChargeControlResponseMixIn{
			ActorResponse: domain.ActorResponseMixIn{ResponseError: err},
		},
	}, nil
}

func (a *StationActor) stopCharging() (*domain.StopChargingResponse, error) {
	err := a.session.StopCharging(context.Background())
	return &domain.StopChargingResponse{
		ChargeControlResponseMixIn: domain.ChargeControlResponseMixIn{
			ActorResponse: domain.ActorResponseMixIn{ResponseError: err},
		},
	}, nil
}

func (a *StationActor) setPowerLimit(watts float64) (*domain.SetPowerLimitResponse, error) {
	err := a.session.SetPowerLimit(context.Background(), watts)
	return &domain.SetPowerLimitResponse{
		ChargeControlResponseMixIn: domain.ChargeControlResponseMixIn{
			ActorResponse: domain.ActorResponseMixIn{ResponseError: err},
		},
		Watts: watts,
	}, nil
}

func (a *StationActor) setLockMode(locked bool) (*domain.SetLockModeResponse, error) {
	err := a.session.SetLockMode(context.Background(), locked)
	return &domain.SetLockModeResponse{
		ChargeControlResponseMixIn: domain.ChargeControlResponseMixIn{
			ActorResponse: domain.ActorResponseMixIn{ResponseError: err},
		},
		Locked: locked,
	}, nil
}

func (a *StationActor) setSolarChargeMode(mode uint16) (*domain.SetSolarChargeModeResponse, error) {
	err := a.session.SetSolarChargeMode(context.Background(), mode)
	return &domain.SetSolarChargeModeResponse{
		ChargeControlResponseMixIn: domain.ChargeControlResponseMixIn{
			ActorResponse: domain.ActorResponseMixIn{ResponseError: err},
		},
		Mode: mode,
	}, nil
}

// pipeStationTask runs fn off the mailbox, addresses its outcome to sender
// and parks the actor in WaitingStation until the result comes back.
func pipeStationTask[T any](state *StationActor, ctx actor.Context, sender *actor.PID, fn func() (*T, error)) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, fn),
		mapTaskResult[T](sender)).Recover(func(err error) backgroundTaskResult {
		return backgroundTaskResult{
			message: domain.ActorResponseMixIn{ResponseError: err},
			replyTo: sender,
		}
	}).WithTimeout(state.timeout).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingStation)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
