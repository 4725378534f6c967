package domain

import "fmt"

// ChargeControlRequest

type ChargeControlRequest interface {
	ActorRequest
	ChargeControlCommand() string
}

type ChargeControlRequestMixIn struct {
	ActorRequestMixIn
}

func (r ChargeControlRequestMixIn) ChargeControlCommand() string {
	return fmt.Sprintf("%T", r)
}

// ChargeControlResponse

type ChargeControlResponse interface {
	ActorResponse
	ChargeControlResponse() string
}

type ChargeControlResponseMixIn struct {
	ActorResponse
}

func (r ChargeControlResponseMixIn) ChargeControlResponse() string {
	return fmt.Sprintf("%T", r)
}

// ChargeControl commands

type StartChargingRequest struct {
	ChargeControlRequestMixIn
}

type StartChargingResponse struct {
	ChargeControlResponseMixIn
}

type StopChargingRequest struct {
	ChargeControlRequestMixIn
}

type StopChargingResponse struct {
	ChargeControlResponseMixIn
}

type SetPowerLimitRequest struct {
	ChargeControlRequestMixIn
	Watts float64
}

type SetPowerLimitResponse struct {
	ChargeControlResponseMixIn
	Watts float64
}

type SetLockModeRequest struct {
	ChargeControlRequestMixIn
	Locked bool
}

type SetLockModeResponse struct {
	ChargeControlResponseMixIn
	Locked bool
}

type SetSolarChargeModeRequest struct {
	ChargeControlRequestMixIn
	Mode uint16
}

type SetSolarChargeModeResponse struct {
	ChargeControlResponseMixIn
	Mode uint16
}

// ensure interface compliance
var _ ChargeControlRequest = (*StartChargingRequest)(nil)
