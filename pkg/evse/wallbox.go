package evse

// Register names used by the session. The addresses follow the wallbox
// vendor's register layout documentation.
const (
	RegLayoutVersion   = "layout_version"
	RegChargingState   = "charging_state"
	RegReleaseState    = "charging_release_state"
	RegPhaseRotation   = "phase_rotation"
	RegPowerLimit      = "power_limit"
	RegCurrentL1       = "current_l1"
	RegCurrentL2       = "current_l2"
	RegCurrentL3       = "current_l3"
	RegPowerOverall    = "power_overall"
	RegSessionEnergy   = "session_energy"
	RegSessionDuration = "session_duration"
	RegHeartbeat       = "master_heartbeat"
	RegSolarChargeMode = "solar_charge_mode"
	RegChargingRelease = "charging_release"
	RegLockMode        = "lockmode"
	RegLastError       = "last_error"
)

// HeartbeatPattern is the value the master must periodically write to the
// heartbeat register; the station downgrades the charge current when the
// pattern stops arriving.
const HeartbeatPattern uint16 = 0x55AA

// StatusCode is the station's charging-state register enumeration.
// Firmware may report codes outside this set; those map to StatusUnknown.
type StatusCode uint16

const (
	StatusNoVehicle        StatusCode = 0
	StatusVehicleConnected StatusCode = 1
	StatusCharging         StatusCode = 2
	StatusSuspended        StatusCode = 3
	StatusFault            StatusCode = 4

	// StatusUnknown is the sentinel for unrecognized raw codes.
	StatusUnknown StatusCode = 0xFFFF
)

// DecodeStatus maps a raw charging-state register value to a StatusCode.
// Unrecognized codes never fail; the session surfaces them as an anomaly.
func DecodeStatus(raw uint16) StatusCode {
	switch code := StatusCode(raw); code {
	case StatusNoVehicle, StatusVehicleConnected, StatusCharging, StatusSuspended, StatusFault:
		return code
	default:
		return StatusUnknown
	}
}

func (c StatusCode) String() string {
	switch c {
	case StatusNoVehicle:
		return "no_vehicle"
	case StatusVehicleConnected:
		return "vehicle_connected"
	case StatusCharging:
		return "charging"
	case StatusSuspended:
		return "suspended"
	case StatusFault:
		return "fault"
	default:
		return "unknown"
	}
}

// WallboxRegisters is the default register table for the supported wallbox
// model. The config layer may replace it for stations with a different
// layout; the session fails fast when a required register is missing.
func WallboxRegisters() []Register {
	return []Register{
		{Name: RegLayoutVersion, Addr: 0x0000, Width: 1, Kind: KindUint, Acc: ReadOnly},
		{Name: RegChargingState, Addr: 0x0100, Width: 1, Kind: KindEnum, Acc: ReadOnly},
		{Name: RegReleaseState, Addr: 0x0101, Width: 1, Kind: KindUint, Acc: ReadOnly},
		{Name: RegPhaseRotation, Addr: 0x0103, Width: 1, Kind: KindUint, Acc: ReadOnly},
		{Name: RegPowerLimit, Addr: 0x0302, Width: 1, Kind: KindScaled, Scale: 10, Acc: ReadWrite},
		{Name: RegCurrentL1, Addr: 0x0500, Width: 2, Kind: KindScaled, Scale: 0.1, Acc: ReadOnly},
		{Name: RegCurrentL2, Addr: 0x0502, Width: 2, Kind: KindScaled, Scale: 0.1, Acc: ReadOnly},
		{Name: RegCurrentL3, Addr: 0x0504, Width: 2, Kind: KindScaled, Scale: 0.1, Acc: ReadOnly},
		{Name: RegPowerOverall, Addr: 0x0512, Width: 2, Kind: KindScaled, Scale: 1, Acc: ReadOnly},
		{Name: RegSessionEnergy, Addr: 0x0B02, Width: 2, Kind: KindScaled, Scale: 1, Acc: ReadOnly},
		{Name: RegSessionDuration, Addr: 0x0B04, Width: 2, Kind: KindUint, Acc: ReadOnly},
		{Name: RegHeartbeat, Addr: 0x0D00, Width: 1, Kind: KindUint, Acc: WriteOnly},
		{Name: RegSolarChargeMode, Addr: 0x0D03, Width: 1, Kind: KindUint, Acc: ReadWrite},
		{Name: RegChargingRelease, Addr: 0x0D05, Width: 1, Kind: KindUint, Acc: ReadWrite},
		{Name: RegLockMode, Addr: 0x0D06, Width: 1, Kind: KindUint, Acc: ReadWrite},
		{Name: RegLastError, Addr: 0x0E00, Width: 2, Kind: KindUint, Acc: ReadOnly},
	}
}
