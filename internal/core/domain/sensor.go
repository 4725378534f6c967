package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE             = "bridge"
	SENSOR_ID_STATION_STATE            = "station_state"
	SENSOR_ID_STATION_STATUS_CODE      = "station_status_code"
	SENSOR_ID_CHARGE_POWER             = "charge_power"
	SENSOR_ID_CURRENT_L1               = "current_l1"
	SENSOR_ID_CURRENT_L2               = "current_l2"
	SENSOR_ID_CURRENT_L3               = "current_l3"
	SENSOR_ID_VEHICLE_CONNECTED        = "vehicle_connected"
	SENSOR_ID_SESSION_ENERGY           = "session_energy"
	SENSOR_ID_SESSION_DURATION         = "session_duration"
	SWITCH_ID_CHARGING_RELEASE         = "charging_release"
	SWITCH_ID_LOCK_MODE                = "lock_mode"
	INPUT_NUMBER_ID_CHARGE_POWER_LIMIT = "charge_power_limit"
	STATE_CLASS_DURATION               = "duration"
	STATE_CLASS_MEASUREMENT            = "measurement"
	STATE_CLASS_TOTAL_INCREASING       = "total_increasing"
	DEVICE_CLASS_CURRENT               = "current"
	DEVICE_CLASS_DURATION              = "duration"
	DEVICE_CLASS_ENERGY                = "energy"
	DEVICE_CLASS_POWER                 = "power"
	DEVICE_CLASS_CONNECTIVITY          = "connectivity"
	DEVICE_CLASS_PLUG                  = "plug"
	ENTITY_CLASS_DIAGNOSTIC            = "diagnostic"
	ENTITY_CLASS_CONFIG                = "config"
	SENSOR_TYPE_SENSOR                 = "sensor"
	SENSOR_TYPE_BINARY                 = "binary_sensor"
	INPUT_NUMBER_MODE_BOX              = "box"
	INPUT_NUMBER_MODE_SLIDER           = "slider"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("wallbus_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "wallbus",
		Model:        "Wallbus",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Wallbus %s", md5HashShort(baseTopic)),
	}
}

// StationDevice derives a stable device identity from the serial link and
// bus address; the wallbox itself exposes no serial number register.
func StationDevice(link string, address uint, layoutVersion uint16) Device {
	key := fmt.Sprintf("%s#%d", link, address)
	return Device{
		Id:      fmt.Sprintf("wb_station_%s", md5HashShort(key)),
		Model:   "Wallbox",
		Version: fmt.Sprintf("layout %d", layoutVersion),
		Name:    fmt.Sprintf("Wallbox %s", md5HashShort(key)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func StationBaseSensors(stationDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Station state
	sensors = append(sensors, GenericSensor{
		Device:     stationDevice,
		Id:         SENSOR_ID_STATION_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Station state",
		Icon:       "mdi:ev-station",
		UniqueId:   uniqueId(stationDevice.Id, SENSOR_ID_STATION_STATE),
	})

	// Raw status code
	sensors = append(sensors, GenericSensor{
		Device:           stationDevice,
		Id:               SENSOR_ID_STATION_STATUS_CODE,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Station status code",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(stationDevice.Id, SENSOR_ID_STATION_STATUS_CODE),
	})

	// Charge power
	sensors = append(sensors, GenericSensor{
		Device:            stationDevice,
		Id:                SENSOR_ID_CHARGE_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charge power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(stationDevice.Id, SENSOR_ID_CHARGE_POWER),
	})

	// Phase currents
	for _, id := range []string{SENSOR_ID_CURRENT_L1, SENSOR_ID_CURRENT_L2, SENSOR_ID_CURRENT_L3} {
		sensors = append(sensors, GenericSensor{
			Device:            stationDevice,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Current %s", id[len(id)-2:]),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			EnabledByDefault:  optionalBool(false),
			UniqueId:          uniqueId(stationDevice.Id, id),
		})
	}

	// Vehicle connected
	sensors = append(sensors, GenericSensor{
		Device:      stationDevice,
		Id:          SENSOR_ID_VEHICLE_CONNECTED,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Vehicle connected",
		DeviceClass: DEVICE_CLASS_PLUG,
		UniqueId:    uniqueId(stationDevice.Id, SENSOR_ID_VEHICLE_CONNECTED),
	})

	// Session energy
	sensors = append(sensors, GenericSensor{
		Device:            stationDevice,
		Id:                SENSOR_ID_SESSION_ENERGY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Session energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(stationDevice.Id, SENSOR_ID_SESSION_ENERGY),
	})

	// Session duration
	sensors = append(sensors, GenericSensor{
		Device:            stationDevice,
		Id:                SENSOR_ID_SESSION_DURATION,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Session duration",
		StateClass:        STATE_CLASS_DURATION,
		DeviceClass:       DEVICE_CLASS_DURATION,
		UnitOfMeasurement: "s",
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(stationDevice.Id, SENSOR_ID_SESSION_DURATION),
	})

	return sensors
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func ChargeControlSwitches(stationDevice Device) []GenericSwitch {

	var switches []GenericSwitch

	// Charging release
	switches = append(switches, GenericSwitch{
		Device:   stationDevice,
		Id:       SWITCH_ID_CHARGING_RELEASE,
		Name:     "Charging release",
		UniqueId: uniqueId(stationDevice.Id, SWITCH_ID_CHARGING_RELEASE),
		Icon:     "mdi:ev-plug-type2",
	})
	// Lock mode
	switches = append(switches, GenericSwitch{
		Device:   stationDevice,
		Id:       SWITCH_ID_LOCK_MODE,
		Name:     "Lock",
		UniqueId: uniqueId(stationDevice.Id, SWITCH_ID_LOCK_MODE),
		Icon:     "mdi:lock",
	})

	return switches
}

func ChargeControlInputNumbers(stationDevice Device, minWatts, maxWatts float64) []GenericInputNumber {

	var inputNumbers []GenericInputNumber

	// Charge power limit
	inputNumbers = append(inputNumbers, GenericInputNumber{
		Device:       stationDevice,
		Id:           INPUT_NUMBER_ID_CHARGE_POWER_LIMIT,
		Name:         "Charge power limit",
		UniqueId:     uniqueId(stationDevice.Id, INPUT_NUMBER_ID_CHARGE_POWER_LIMIT),
		Icon:         "mdi:lightning-bolt",
		Max:          maxWatts,
		Min:          minWatts,
		Step:         100,
		Mode:         INPUT_NUMBER_MODE_BOX,
		InitialValue: maxWatts,
	})

	return inputNumbers
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
