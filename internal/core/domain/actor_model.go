package domain

import (
	"wallbus/pkg/evse"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_STATION      = "station"
	ACTOR_ID_MONITOR      = "monitor"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetStationStatusRequest struct {
	ActorRequestMixIn
}

type GetStationStatusResponse struct {
	ActorResponseMixIn
	Snapshot evse.Snapshot
}

type GetMeasurementsRequest struct {
	ActorRequestMixIn
}

type GetMeasurementsResponse struct {
	ActorResponseMixIn
	Measurements evse.Measurements
}

type GetChargeSessionRequest struct {
	ActorRequestMixIn
}

type GetChargeSessionResponse struct {
	ActorResponseMixIn
	Session evse.ChargeSessionInfo
}

type GetStationInfoRequest struct {
	ActorRequestMixIn
}

type GetStationInfoResponse struct {
	ActorResponseMixIn
	Info evse.StationInfo
}

type GetPowerLimitRequest struct {
	ActorRequestMixIn
}

type GetPowerLimitResponse struct {
	ActorResponseMixIn
	Watts float64
}

type HeartbeatRequest struct {
	ActorRequestMixIn
}

type HeartbeatResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
