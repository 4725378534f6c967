package modbusrtu

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// Transport owns a station byte stream and runs one framed request/response
// exchange at a time. Implementations must not be shared between bus masters.
type Transport interface {
	// SendAndReceive writes an encoded frame, then accumulates response
	// bytes until expected bytes arrived, an inter-byte silence follows at
	// least one byte (heuristic end of frame), or the transaction timeout
	// elapses with nothing received.
	SendAndReceive(adu []byte, expected int) ([]byte, error)
	Close() error
}

// Link is the raw byte stream under a StreamTransport. A read that sees no
// data for the link's silence interval must return a timeout error
// (serial.ErrTimeout or a net.Error with Timeout() == true).
type Link io.ReadWriteCloser

// SerialConfig describes the RS-485 adapter settings.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	// Silence is the inter-byte gap treated as end of frame.
	Silence time.Duration
}

// OpenSerialLink opens the serial device. The port's read timeout doubles
// as the inter-byte silence detector.
func OpenSerialLink(cfg SerialConfig) (Link, error) {
	return serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Silence,
	})
}

// DialTCPLink connects to a remote serial bridge carrying raw RTU frames
// over TCP. Useful for bench setups without local hardware.
func DialTCPLink(addr string, silence time.Duration) (Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpLink{conn: conn, silence: silence}, nil
}

type tcpLink struct {
	conn    net.Conn
	silence time.Duration
}

func (l *tcpLink) Read(p []byte) (int, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(l.silence)); err != nil {
		return 0, err
	}
	return l.conn.Read(p)
}

func (l *tcpLink) Write(p []byte) (int, error) { return l.conn.Write(p) }
func (l *tcpLink) Close() error                { return l.conn.Close() }

// StreamTransport implements Transport over a Link, enforcing RTU timing:
// t3.5 of bus silence before each transmission and a bounded per-transaction
// response timeout.
type StreamTransport struct {
	link         Link
	timeout      time.Duration
	t35          time.Duration
	lastActivity time.Time
	logger       *zap.Logger
}

// NewStreamTransport wraps a link. timeout bounds a single transaction;
// baudRate drives the inter-frame delay (fixed 1750us at >= 19200 baud, 3.5
// character times below, per the Modbus serial line guide).
func NewStreamTransport(link Link, baudRate int, timeout time.Duration, logger *zap.Logger) *StreamTransport {
	t35 := 1750 * time.Microsecond
	if baudRate > 0 && baudRate < 19200 {
		t35 = charTime(baudRate) * 35 / 10
	}
	return &StreamTransport{
		link:    link,
		timeout: timeout,
		t35:     t35,
		logger:  logger.With(zap.String("component", "transport")),
	}
}

func (t *StreamTransport) Close() error {
	return t.link.Close()
}

func (t *StreamTransport) SendAndReceive(adu []byte, expected int) ([]byte, error) {
	// let t3.5 expire before transmitting if the line was recently active
	if wait := time.Until(t.lastActivity.Add(t.t35)); wait > 0 {
		time.Sleep(wait)
	}

	t.logger.Debug("send", zap.Int("bytes", len(adu)))
	if _, err := t.link.Write(adu); err != nil {
		return nil, &IOFailureError{Err: err}
	}
	t.lastActivity = time.Now()

	if expected > maxFrameLength {
		expected = maxFrameLength
	}
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, maxFrameLength)
	n := 0
	for n < expected {
		k, err := t.link.Read(buf[n:expected])
		n += k
		if n >= 2 && buf[1]&excFlag != 0 {
			// exception responses are always 5 bytes
			expected = exceptionFrameLength
		}
		if err != nil {
			if !isTimeoutErr(err) {
				return nil, &IOFailureError{Err: err}
			}
			if n > 0 {
				// inter-byte silence after at least one byte:
				// heuristic end of frame
				break
			}
			if time.Now().After(deadline) {
				return nil, ErrTimeout
			}
			continue
		}
		if time.Now().After(deadline) && n < expected {
			if n == 0 {
				return nil, ErrTimeout
			}
			return nil, &PartialReadError{Got: n, Want: expected}
		}
	}
	t.lastActivity = time.Now()
	t.logger.Debug("recv", zap.Int("bytes", n))
	return buf[:n], nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, serial.ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// charTime is the wire time of one serial character (start bit, 8 data
// bits, parity or stop bit, stop bit).
func charTime(baudRate int) time.Duration {
	return 11 * time.Second / time.Duration(baudRate)
}
