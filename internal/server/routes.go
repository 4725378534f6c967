package server

import (
	"errors"
	"net/http"
	"time"

	"wallbus/internal/core/domain"
	"wallbus/pkg/evse"
	"wallbus/pkg/modbusrtu"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const requestTimeout = 15 * time.Second

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/status", s.StatusHandler)
	api.GET("/measurements", s.MeasurementsHandler)
	api.GET("/session", s.ChargeSessionHandler)
	api.GET("/info", s.StationInfoHandler)
	api.POST("/charge/start", s.StartChargingHandler)
	api.POST("/charge/stop", s.StopChargingHandler)
	api.GET("/power_limit", s.PowerLimitHandler)
	api.PUT("/power_limit", s.SetPowerLimitHandler)
	api.PUT("/lock", s.SetLockModeHandler)
	api.PUT("/solar_charge_mode", s.SetSolarChargeModeHandler)

	return e
}

type statusResponse struct {
	State         string `json:"state"`
	Status        string `json:"status"`
	RawStatus     uint16 `json:"raw_status"`
	StatusUnknown bool   `json:"status_unknown"`
	Degraded      bool   `json:"degraded"`
	UpdatedAt     string `json:"updated_at"`
}

type measurementsResponse struct {
	CurrentL1Amps float64 `json:"current_l1_amps"`
	CurrentL2Amps float64 `json:"current_l2_amps"`
	CurrentL3Amps float64 `json:"current_l3_amps"`
	PowerWatts    float64 `json:"power_watts"`
}

type chargeSessionResponse struct {
	EnergyWh        float64 `json:"energy_wh"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type stationInfoResponse struct {
	LayoutVersion uint16 `json:"layout_version"`
	LastError     uint32 `json:"last_error"`
}

type powerLimitParams struct {
	Watts float64 `json:"watts"`
}

type lockModeParams struct {
	Locked bool `json:"locked"`
}

type solarChargeModeParams struct {
	Mode uint16 `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetStationStatusRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.GetStationStatusResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	snap := response.Snapshot
	return c.JSON(http.StatusOK, statusResponse{
		State:         snap.State.String(),
		Status:        snap.Status.String(),
		RawStatus:     snap.RawStatus,
		StatusUnknown: snap.StatusUnknown,
		Degraded:      snap.Degraded,
		UpdatedAt:     snap.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) MeasurementsHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetMeasurementsRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.GetMeasurementsResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	m := response.Measurements
	return c.JSON(http.StatusOK, measurementsResponse{
		CurrentL1Amps: m.CurrentL1Amps,
		CurrentL2Amps: m.CurrentL2Amps,
		CurrentL3Amps: m.CurrentL3Amps,
		PowerWatts:    m.PowerWatts,
	})
}

func (s *Server) ChargeSessionHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetChargeSessionRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.GetChargeSessionResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	return c.JSON(http.StatusOK, chargeSessionResponse{
		EnergyWh:        response.Session.EnergyWh,
		DurationSeconds: response.Session.Duration.Seconds(),
	})
}

func (s *Server) StationInfoHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetStationInfoRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.GetStationInfoResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	return c.JSON(http.StatusOK, stationInfoResponse{
		LayoutVersion: response.Info.LayoutVersion,
		LastError:     response.Info.LastError,
	})
}

func (s *Server) PowerLimitHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetPowerLimitRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.GetPowerLimitResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	return c.JSON(http.StatusOK, powerLimitParams{Watts: response.Watts})
}

func (s *Server) StartChargingHandler(c echo.Context) error {
	return s.chargeControl(c, domain.StartChargingRequest{})
}

func (s *Server) StopChargingHandler(c echo.Context) error {
	return s.chargeControl(c, domain.StopChargingRequest{})
}

func (s *Server) SetPowerLimitHandler(c echo.Context) error {
	var params powerLimitParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return s.chargeControl(c, domain.SetPowerLimitRequest{Watts: params.Watts})
}

func (s *Server) SetLockModeHandler(c echo.Context) error {
	var params lockModeParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return s.chargeControl(c, domain.SetLockModeRequest{Locked: params.Locked})
}

func (s *Server) SetSolarChargeModeHandler(c echo.Context) error {
	var params solarChargeModeParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	return s.chargeControl(c, domain.SetSolarChargeModeRequest{Mode: params.Mode})
}

func (s *Server) chargeControl(c echo.Context, request domain.ChargeControlRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, request, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.ChargeControlResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected response"})
	}
	if response.HasResponseError() {
		return commandError(c, response.GetResponseError())
	}
	return c.JSON(http.StatusOK, map[string]string{"result": "ok"})
}

// commandError maps domain errors to HTTP statuses: commands that were
// never legal are client errors, a refusing or unreachable station is an
// upstream error.
func commandError(c echo.Context, err error) error {
	var illegal *evse.IllegalCommandError
	var outOfRange *evse.OutOfRangeError
	var rejected *modbusrtu.RejectedError
	var exhausted *modbusrtu.ExhaustedError
	switch {
	case errors.As(err, &illegal), errors.Is(err, evse.ErrUnknownStationStatus):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &outOfRange):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, evse.ErrBridgeDegraded):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &rejected):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.As(err, &exhausted), errors.Is(err, modbusrtu.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
