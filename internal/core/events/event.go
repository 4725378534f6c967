package events

import (
	. "wallbus/internal/core/domain"
	"wallbus/pkg/evse"
)

func SnapshotToUpdateEvents(snap evse.Snapshot) []any {
	var events []any

	// Station state
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_STATION_STATE,
		},
		Value: snap.State.String(),
	})
	// Raw status code
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_STATION_STATUS_CODE,
		},
		Value: snap.Status.String(),
	})
	// Vehicle connected
	connected := snap.Status == evse.StatusVehicleConnected ||
		snap.Status == evse.StatusCharging || snap.Status == evse.StatusSuspended
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_VEHICLE_CONNECTED,
		},
		Value: connected,
	})
	// Charging release switch mirrors the active states
	charging := snap.State == evse.StateAuthorizing ||
		snap.State == evse.StateCharging || snap.State == evse.StateSuspended
	events = append(events, SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_CHARGING_RELEASE,
		},
		Value: charging,
	})

	return events
}

func MeasurementsToUpdateEvents(m evse.Measurements) []any {
	var events []any

	// Charge power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_CHARGE_POWER,
		},
		Value:    m.PowerWatts,
		Decimals: 0,
	})
	// Phase currents
	for id, value := range map[string]float64{
		SENSOR_ID_CURRENT_L1: m.CurrentL1Amps,
		SENSOR_ID_CURRENT_L2: m.CurrentL2Amps,
		SENSOR_ID_CURRENT_L3: m.CurrentL3Amps,
	} {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: id,
			},
			Value:    value,
			Decimals: 1,
		})
	}

	return events
}

func ChargeSessionToUpdateEvents(info evse.ChargeSessionInfo) []any {
	var events []any

	// Session energy
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SESSION_ENERGY,
		},
		Value:    info.EnergyWh,
		Decimals: 0,
	})
	// Session duration
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_SESSION_DURATION,
		},
		Value:    info.Duration.Seconds(),
		Decimals: 0,
	})

	return events
}

func PowerLimitToUpdateEvent(watts float64) any {
	return InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_CHARGE_POWER_LIMIT,
		},
		Value:    watts,
		Decimals: 0,
	}
}

func BridgeStateToUpdateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}
