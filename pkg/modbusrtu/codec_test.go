package modbusrtu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownVector(t *testing.T) {
	// read one holding register at 0x0000 from station 1,
	// CRC per the Modbus spec reference implementation
	adu := Encode(0x01, 0x03, []byte{0x00, 0x00, 0x00, 0x01})
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}, adu)
}

func TestDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	payloads := [][]byte{
		nil,
		{},
		{0x00},
		{0x00, 0x64, 0x00, 0x02},
		{0x02, 0x12, 0x34},
		make([]byte, 250),
	}
	for _, payload := range payloads {
		adu := Encode(0x32, 0x03, payload)
		frame, err := Decode(adu)
		require.NoError(err)
		require.Equal(byte(0x32), frame.Address)
		require.Equal(byte(0x03), frame.Function)
		require.Equal(len(payload), len(frame.Payload))
		for i := range payload {
			require.Equal(payload[i], frame.Payload[i])
		}
	}
}

func TestDecodeDetectsSingleBitCorruption(t *testing.T) {
	adu := Encode(0x32, 0x06, []byte{0x0D, 0x05, 0x00, 0x01})
	for byteIdx := range adu {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(adu))
			copy(corrupted, adu)
			corrupted[byteIdx] ^= 1 << bit

			_, err := Decode(corrupted)
			assert.ErrorIs(t, err, ErrChecksumMismatch,
				"byte %d bit %d must not decode", byteIdx, bit)
		}
	}
}

func TestDecodeIncomplete(t *testing.T) {
	_, err := Decode([]byte{0x32, 0x03, 0x02})
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeStationException(t *testing.T) {
	require := require.New(t)

	adu := Encode(0x32, 0x06|0x80, []byte{0x02})
	_, err := Decode(adu)

	var exc *StationException
	require.ErrorAs(err, &exc)
	require.Equal(byte(0x02), exc.Code)
}

func TestExpectedResponseLength(t *testing.T) {
	// read 5 registers: addr + fn + count byte + 10 data + crc
	assert.Equal(t, 17, expectedResponseLength(FnReadHoldingRegisters, []byte{0x05, 0x00, 0x00, 0x05}))
	// write echoes are fixed size
	assert.Equal(t, 8, expectedResponseLength(FnWriteSingleRegister, []byte{0x0D, 0x00, 0x55, 0xAA}))
	assert.Equal(t, 8, expectedResponseLength(FnWriteMultipleRegisters, make([]byte, 9)))
}
