package evse

import (
	"encoding/binary"
	"fmt"
	"sync"

	"wallbus/pkg/modbusrtu"
)

// TestStation is an in-memory wallbox that speaks the RTU request/response
// cycle, for tests that need the whole path from session to codec without a
// serial line. It implements modbusrtu.Transport.
type TestStation struct {
	mu           sync.Mutex
	regs         map[uint16]uint16
	rejectWrites map[uint16]byte
	failures     []error
	corruptNext  int
	requests     [][]byte
	closed       bool
}

func NewTestStation() *TestStation {
	return &TestStation{
		regs:         make(map[uint16]uint16),
		rejectWrites: make(map[uint16]byte),
	}
}

// SetStatus loads the charging-state register.
func (s *TestStation) SetStatus(raw uint16) {
	s.SetRegister(0x0100, raw)
}

func (s *TestStation) SetRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = value
}

func (s *TestStation) Register(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// RejectWrites makes every write touching addr answer with the given
// exception code.
func (s *TestStation) RejectWrites(addr uint16, code byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWrites[addr] = code
}

func (s *TestStation) AcceptWrites(addr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rejectWrites, addr)
}

// FailNext queues transport errors returned before the next requests are
// processed, in order.
func (s *TestStation) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// CorruptNext flips a bit in the next n responses after the CRC was
// computed.
func (s *TestStation) CorruptNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptNext = n
}

func (s *TestStation) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *TestStation) SendAndReceive(adu []byte, expected int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := make([]byte, len(adu))
	copy(req, adu)
	s.requests = append(s.requests, req)

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	frame, err := modbusrtu.Decode(adu)
	if err != nil {
		return nil, fmt.Errorf("teststation: bad request: %w", err)
	}
	resp := s.handle(frame)
	if s.corruptNext > 0 {
		s.corruptNext--
		resp[len(resp)-1] ^= 0x01
	}
	return resp, nil
}

func (s *TestStation) handle(frame modbusrtu.Frame) []byte {
	exception := func(code byte) []byte {
		return modbusrtu.Encode(frame.Address, frame.Function|0x80, []byte{code})
	}
	switch frame.Function {
	case modbusrtu.FnReadHoldingRegisters:
		addr := binary.BigEndian.Uint16(frame.Payload[0:2])
		quantity := binary.BigEndian.Uint16(frame.Payload[2:4])
		payload := make([]byte, 1+2*int(quantity))
		payload[0] = byte(2 * quantity)
		for i := uint16(0); i < quantity; i++ {
			binary.BigEndian.PutUint16(payload[1+2*i:], s.regs[addr+i])
		}
		return modbusrtu.Encode(frame.Address, frame.Function, payload)

	case modbusrtu.FnWriteSingleRegister:
		addr := binary.BigEndian.Uint16(frame.Payload[0:2])
		if code, reject := s.rejectWrites[addr]; reject {
			return exception(code)
		}
		s.regs[addr] = binary.BigEndian.Uint16(frame.Payload[2:4])
		return modbusrtu.Encode(frame.Address, frame.Function, frame.Payload)

	case modbusrtu.FnWriteMultipleRegisters:
		addr := binary.BigEndian.Uint16(frame.Payload[0:2])
		quantity := binary.BigEndian.Uint16(frame.Payload[2:4])
		for i := uint16(0); i < quantity; i++ {
			if code, reject := s.rejectWrites[addr+i]; reject {
				return exception(code)
			}
		}
		for i := uint16(0); i < quantity; i++ {
			s.regs[addr+i] = binary.BigEndian.Uint16(frame.Payload[5+2*i:])
		}
		return modbusrtu.Encode(frame.Address, frame.Function, frame.Payload[0:4])

	default:
		return exception(0x01)
	}
}

func (s *TestStation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
