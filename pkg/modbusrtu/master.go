package modbusrtu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 20 * time.Millisecond
)

// MasterConfig tunes the bus master.
type MasterConfig struct {
	// StationAddress is the bus address of the charging station.
	StationAddress byte
	// MaxRetries bounds retransmissions of a single transaction on
	// transient errors. Total attempts = MaxRetries + 1. Zero disables
	// retries; negative means DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the pause between attempts, on top of the
	// transport's own inter-frame silence.
	RetryDelay time.Duration
}

// Master is the only component allowed to talk to the transport. All
// transactions are serialized through a single execution slot in FIFO
// order; a started transaction always runs to completion even if the
// caller stopped waiting.
type Master struct {
	transport  Transport
	address    byte
	maxRetries int
	retryDelay time.Duration
	slot       chan struct{}
	logger     *zap.Logger
}

func NewMaster(transport Transport, cfg MasterConfig, logger *zap.Logger) *Master {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Master{
		transport:  transport,
		address:    cfg.StationAddress,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		slot:       make(chan struct{}, 1),
		logger:     logger.With(zap.String("component", "busmaster")),
	}
}

// Execute encodes a request, runs it over the transport and decodes the
// reply. Transient errors (timeout, checksum mismatch, short frame) are
// retried up to the configured bound; station exceptions and device I/O
// failures are surfaced immediately.
//
// ctx only guards the wait for the execution slot. Cancelling it after the
// transaction started has no effect: interrupting a half-sent RTU frame
// would corrupt the bus for every later transaction.
func (m *Master) Execute(ctx context.Context, function byte, payload []byte) (Frame, error) {
	// blocked channel senders are queued FIFO, which is exactly the
	// ordering the bus needs
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	defer func() { <-m.slot }()

	adu := Encode(m.address, function, payload)
	expected := expectedResponseLength(function, payload)

	attempts := m.maxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(m.retryDelay)
		}
		raw, err := m.transport.SendAndReceive(adu, expected)
		if err != nil {
			var ioErr *IOFailureError
			if errors.As(err, &ioErr) {
				m.logger.Error("transport failure", zap.Error(err))
				return Frame{}, &TransportFatalError{Err: err}
			}
			if IsTransient(err) {
				m.logger.Debug("transient transport error",
					zap.Int("attempt", attempt+1), zap.Error(err))
				lastErr = err
				continue
			}
			return Frame{}, err
		}
		frame, err := Decode(raw)
		if err != nil {
			var exc *StationException
			if errors.As(err, &exc) {
				if len(raw) > 0 && raw[0] != m.address {
					// exception frame from another bus address:
					// line noise, not our station's answer
					lastErr = fmt.Errorf("modbusrtu: exception from address 0x%02x, want 0x%02x",
						raw[0], m.address)
					continue
				}
				// the station explicitly rejected the request;
				// a retry would be rejected again
				return Frame{}, &RejectedError{Code: exc.Code}
			}
			if IsTransient(err) {
				m.logger.Debug("malformed reply",
					zap.Int("attempt", attempt+1), zap.Error(err))
				lastErr = err
				continue
			}
			return Frame{}, err
		}
		if frame.Address != m.address {
			// reply from another bus address: line noise or a
			// misaddressed station, treat as corruption
			lastErr = fmt.Errorf("modbusrtu: reply from address 0x%02x, want 0x%02x",
				frame.Address, m.address)
			continue
		}
		return frame, nil
	}
	return Frame{}, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// ReadHoldingRegisters reads quantity registers starting at addr (function
// 0x03) and returns them as 16-bit words.
func (m *Master) ReadHoldingRegisters(ctx context.Context, addr, quantity uint16) ([]uint16, error) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], quantity)

	frame, err := m.Execute(ctx, FnReadHoldingRegisters, payload)
	if err != nil {
		return nil, err
	}
	if len(frame.Payload) < 1 || int(frame.Payload[0]) != 2*int(quantity) ||
		len(frame.Payload) < 1+2*int(quantity) {
		return nil, fmt.Errorf("modbusrtu: malformed read response (%d payload bytes)", len(frame.Payload))
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(frame.Payload[1+2*i:])
	}
	return words, nil
}

// WriteSingleRegister writes one register (function 0x06) and verifies the
// station's echo.
func (m *Master) WriteSingleRegister(ctx context.Context, addr, value uint16) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], value)

	frame, err := m.Execute(ctx, FnWriteSingleRegister, payload)
	if err != nil {
		return err
	}
	if len(frame.Payload) != 4 ||
		binary.BigEndian.Uint16(frame.Payload[0:2]) != addr ||
		binary.BigEndian.Uint16(frame.Payload[2:4]) != value {
		return fmt.Errorf("modbusrtu: write echo mismatch at 0x%04x", addr)
	}
	return nil
}

// WriteMultipleRegisters writes a contiguous run of registers (function
// 0x10).
func (m *Master) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	payload := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(values)))
	payload[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[5+2*i:], v)
	}

	frame, err := m.Execute(ctx, FnWriteMultipleRegisters, payload)
	if err != nil {
		return err
	}
	if len(frame.Payload) != 4 ||
		binary.BigEndian.Uint16(frame.Payload[0:2]) != addr ||
		binary.BigEndian.Uint16(frame.Payload[2:4]) != uint16(len(values)) {
		return fmt.Errorf("modbusrtu: write echo mismatch at 0x%04x", addr)
	}
	return nil
}

// Close releases the underlying transport.
func (m *Master) Close() error {
	return m.transport.Close()
}
