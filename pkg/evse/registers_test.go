package evse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaledRegisterRoundTrip(t *testing.T) {
	require := require.New(t)
	limit := Register{Name: "power_limit", Addr: 0x0302, Width: 1, Kind: KindScaled, Scale: 10, Acc: ReadWrite}

	words, err := limit.EncodeValue(7200)
	require.NoError(err)
	require.Equal([]uint16{720}, words)

	v, err := limit.DecodeValue(words)
	require.NoError(err)
	require.InDelta(7200, v, 1e-9)
}

func TestWideRegisterDecode(t *testing.T) {
	require := require.New(t)
	energy := Register{Name: "session_energy", Addr: 0x0B02, Width: 2, Kind: KindUint, Acc: ReadOnly}

	v, err := energy.DecodeValue([]uint16{0x0001, 0x0002})
	require.NoError(err)
	require.Equal(float64(0x00010002), v)

	_, err = energy.DecodeValue([]uint16{0x0001})
	require.Error(err)
}

func TestSignedRegisterDecode(t *testing.T) {
	reg := Register{Name: "offset", Addr: 0x0001, Width: 1, Kind: KindInt, Acc: ReadOnly}

	v, err := reg.DecodeValue([]uint16{0xFFFE})
	require.NoError(t, err)
	assert.Equal(t, float64(-2), v)
}

func TestEncodeRejectsValuesOutsideWidth(t *testing.T) {
	reg := Register{Name: "heartbeat", Addr: 0x0D00, Width: 1, Kind: KindUint, Acc: WriteOnly}

	_, err := reg.EncodeValue(70000)
	assert.Error(t, err)
	_, err = reg.EncodeValue(-1)
	assert.Error(t, err)
}

func TestMapRejectsDuplicatesAndBadWidths(t *testing.T) {
	_, err := NewMap([]Register{
		{Name: "a", Addr: 0, Width: 1},
		{Name: "a", Addr: 1, Width: 1},
	})
	assert.Error(t, err)

	_, err = NewMap([]Register{{Name: "b", Addr: 0, Width: 3}})
	assert.Error(t, err)
}

func TestMapResolveAndRequireAll(t *testing.T) {
	require := require.New(t)
	m, err := NewMap(WallboxRegisters())
	require.NoError(err)

	reg, err := m.Resolve(RegChargingState)
	require.NoError(err)
	require.Equal(uint16(0x0100), reg.Addr)

	var unknown *UnknownRegisterError
	_, err = m.Resolve("no_such_register")
	require.ErrorAs(err, &unknown)

	require.NoError(m.RequireAll(RegChargingState, RegHeartbeat, RegPowerLimit))
	require.Error(m.RequireAll(RegChargingState, "missing"))
}

func TestDecodeStatus(t *testing.T) {
	assert.Equal(t, StatusNoVehicle, DecodeStatus(0))
	assert.Equal(t, StatusCharging, DecodeStatus(2))
	assert.Equal(t, StatusFault, DecodeStatus(4))
	assert.Equal(t, StatusUnknown, DecodeStatus(5))
	assert.Equal(t, StatusUnknown, DecodeStatus(0xB0))
	assert.Equal(t, "charging", StatusCharging.String())
	assert.Equal(t, "unknown", DecodeStatus(99).String())
}
