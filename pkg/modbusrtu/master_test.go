package modbusrtu

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport scripts transport behavior and fails the test if two
// transactions ever overlap on it.
type fakeTransport struct {
	t       *testing.T
	handler func(call int, adu []byte, expected int) ([]byte, error)

	busy    atomic.Bool
	calls   atomic.Int32
	overlap atomic.Bool
}

func (f *fakeTransport) SendAndReceive(adu []byte, expected int) ([]byte, error) {
	if !f.busy.CompareAndSwap(false, true) {
		f.overlap.Store(true)
		f.t.Error("transport re-entered while busy")
	}
	defer f.busy.Store(false)
	call := int(f.calls.Add(1))
	time.Sleep(time.Millisecond)
	return f.handler(call, adu, expected)
}

func (f *fakeTransport) Close() error { return nil }

func newTestMaster(t *testing.T, ft *fakeTransport, maxRetries int) *Master {
	return NewMaster(ft, MasterConfig{
		StationAddress: 0x32,
		MaxRetries:     maxRetries,
		RetryDelay:     time.Millisecond,
	}, zap.NewNop())
}

func TestExecuteRetryBound(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return nil, ErrTimeout
	}}
	master := newTestMaster(t, ft, 3)

	_, err := master.Execute(context.Background(), FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})

	var exhausted *ExhaustedError
	require.ErrorAs(err, &exhausted)
	require.Equal(4, exhausted.Attempts)
	require.EqualValues(4, ft.calls.Load(), "exactly maxRetries+1 attempts")
}

func TestExecuteZeroRetriesSingleAttempt(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return nil, ErrTimeout
	}}
	master := newTestMaster(t, ft, 0)

	_, err := master.Execute(context.Background(), FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})

	var exhausted *ExhaustedError
	require.ErrorAs(err, &exhausted)
	require.Equal(1, exhausted.Attempts)
	require.EqualValues(1, ft.calls.Load(), "zero retries means exactly one attempt")
}

func TestExecuteRecoversFromCorruption(t *testing.T) {
	require := require.New(t)

	good := Encode(0x32, FnWriteSingleRegister, []byte{0x0D, 0x05, 0x00, 0x01})
	ft := &fakeTransport{t: t, handler: func(call int, adu []byte, expected int) ([]byte, error) {
		if call == 1 {
			corrupted := make([]byte, len(good))
			copy(corrupted, good)
			corrupted[3] ^= 0x40
			return corrupted, nil
		}
		return good, nil
	}}
	master := newTestMaster(t, ft, 3)

	frame, err := master.Execute(context.Background(), FnWriteSingleRegister, []byte{0x0D, 0x05, 0x00, 0x01})
	require.NoError(err)
	require.Equal(byte(FnWriteSingleRegister), frame.Function)
	require.EqualValues(2, ft.calls.Load())
}

func TestExecuteNoRetryOnStationException(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return Encode(0x32, FnWriteSingleRegister|0x80, []byte{0x02}), nil
	}}
	master := newTestMaster(t, ft, 3)

	_, err := master.Execute(context.Background(), FnWriteSingleRegister, []byte{0x03, 0x02, 0x00, 0x01})

	var rejected *RejectedError
	require.ErrorAs(err, &rejected)
	require.Equal(byte(0x02), rejected.Code)
	require.EqualValues(1, ft.calls.Load(), "station rejections are never retried")
}

func TestExecuteIgnoresForeignException(t *testing.T) {
	require := require.New(t)

	good := Encode(0x32, FnWriteSingleRegister, []byte{0x0D, 0x05, 0x00, 0x01})
	ft := &fakeTransport{t: t, handler: func(call int, adu []byte, expected int) ([]byte, error) {
		if call == 1 {
			// exception frame from a different bus address
			return Encode(0x11, FnWriteSingleRegister|0x80, []byte{0x02}), nil
		}
		return good, nil
	}}
	master := newTestMaster(t, ft, 3)

	frame, err := master.Execute(context.Background(), FnWriteSingleRegister, []byte{0x0D, 0x05, 0x00, 0x01})
	require.NoError(err, "a misaddressed exception is noise, not a rejection")
	require.Equal(byte(0x32), frame.Address)
	require.EqualValues(2, ft.calls.Load())
}

func TestExecuteNoRetryOnIOFailure(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return nil, &IOFailureError{Err: assert.AnError}
	}}
	master := newTestMaster(t, ft, 3)

	_, err := master.Execute(context.Background(), FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})

	var fatal *TransportFatalError
	require.ErrorAs(err, &fatal)
	require.EqualValues(1, ft.calls.Load(), "io failures are never retried")
}

func TestExecuteSerializesConcurrentCallers(t *testing.T) {
	require := require.New(t)

	response := Encode(0x32, FnWriteSingleRegister, []byte{0x0D, 0x00, 0x55, 0xAA})
	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return response, nil
	}}
	master := newTestMaster(t, ft, 1)

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := master.Execute(context.Background(), FnWriteSingleRegister, []byte{0x0D, 0x00, 0x55, 0xAA})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.False(ft.overlap.Load(), "no two transactions may overlap on the transport")
	require.EqualValues(callers, ft.calls.Load())
}

func TestExecuteSlotWaitCancellable(t *testing.T) {
	require := require.New(t)

	release := make(chan struct{})
	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		<-release
		return nil, ErrTimeout
	}}
	master := newTestMaster(t, ft, 1)

	go master.Execute(context.Background(), FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})
	// let the first transaction occupy the slot
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := master.Execute(ctx, FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})
	require.ErrorIs(err, context.DeadlineExceeded)

	close(release)
}

func TestReadHoldingRegisters(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(_ int, adu []byte, expected int) ([]byte, error) {
		require.Equal(17, expected)
		quantity := binary.BigEndian.Uint16(adu[4:6])
		payload := []byte{byte(2 * quantity)}
		for i := uint16(0); i < quantity; i++ {
			payload = append(payload, 0x00, byte(i+1))
		}
		return Encode(0x32, FnReadHoldingRegisters, payload), nil
	}}
	master := newTestMaster(t, ft, 1)

	words, err := master.ReadHoldingRegisters(context.Background(), 0x0500, 5)
	require.NoError(err)
	require.Equal([]uint16{1, 2, 3, 4, 5}, words)
}

func TestWriteSingleRegisterEchoMismatch(t *testing.T) {
	ft := &fakeTransport{t: t, handler: func(int, []byte, int) ([]byte, error) {
		return Encode(0x32, FnWriteSingleRegister, []byte{0x0D, 0x05, 0x00, 0x00}), nil
	}}
	master := newTestMaster(t, ft, 1)

	err := master.WriteSingleRegister(context.Background(), 0x0D05, 1)
	assert.Error(t, err)
}

func TestWriteMultipleRegisters(t *testing.T) {
	require := require.New(t)

	ft := &fakeTransport{t: t, handler: func(_ int, adu []byte, _ int) ([]byte, error) {
		require.Equal(byte(FnWriteMultipleRegisters), adu[1])
		return Encode(0x32, FnWriteMultipleRegisters, []byte{0x03, 0x02, 0x00, 0x02}), nil
	}}
	master := newTestMaster(t, ft, 1)

	err := master.WriteMultipleRegisters(context.Background(), 0x0302, []uint16{0x0001, 0x0002})
	require.NoError(err)
}
