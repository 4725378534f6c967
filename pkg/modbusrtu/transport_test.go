package modbusrtu

import (
	"testing"
	"time"

	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type readStep struct {
	data []byte
	err  error
}

// fakeLink scripts the byte stream under a StreamTransport.
type fakeLink struct {
	writes [][]byte
	reads  []readStep
	werr   error
}

func (l *fakeLink) Write(p []byte) (int, error) {
	if l.werr != nil {
		return 0, l.werr
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	l.writes = append(l.writes, buf)
	return len(p), nil
}

func (l *fakeLink) Read(p []byte) (int, error) {
	if len(l.reads) == 0 {
		time.Sleep(time.Millisecond)
		return 0, serial.ErrTimeout
	}
	step := l.reads[0]
	l.reads = l.reads[1:]
	if step.err != nil {
		time.Sleep(time.Millisecond)
		return 0, step.err
	}
	n := copy(p, step.data)
	return n, nil
}

func (l *fakeLink) Close() error { return nil }

func newTestTransport(link Link) *StreamTransport {
	return NewStreamTransport(link, 57600, 25*time.Millisecond, zap.NewNop())
}

func TestSendAndReceiveChunkedResponse(t *testing.T) {
	require := require.New(t)

	response := Encode(0x32, FnReadHoldingRegisters, []byte{0x02, 0x00, 0x01})
	link := &fakeLink{reads: []readStep{
		{data: response[:3]},
		{data: response[3:]},
	}}
	tr := newTestTransport(link)

	request := Encode(0x32, FnReadHoldingRegisters, []byte{0x01, 0x00, 0x00, 0x01})
	raw, err := tr.SendAndReceive(request, len(response))
	require.NoError(err)
	require.Equal(response, raw)
	require.Len(link.writes, 1)
	require.Equal(request, link.writes[0])
}

func TestSendAndReceiveTimeoutWithoutBytes(t *testing.T) {
	tr := newTestTransport(&fakeLink{})

	_, err := tr.SendAndReceive(Encode(0x32, 0x03, []byte{0x01, 0x00, 0x00, 0x01}), 7)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSendAndReceiveSilenceEndsFrame(t *testing.T) {
	require := require.New(t)

	// station answered with a frame shorter than expected; the inter-byte
	// silence marks end of frame and the bytes go up to the codec as-is
	link := &fakeLink{reads: []readStep{
		{data: []byte{0x32, 0x03, 0x02}},
		{err: serial.ErrTimeout},
	}}
	tr := newTestTransport(link)

	raw, err := tr.SendAndReceive(Encode(0x32, 0x03, []byte{0x01, 0x00, 0x00, 0x01}), 7)
	require.NoError(err)
	require.Equal([]byte{0x32, 0x03, 0x02}, raw)
}

func TestSendAndReceiveShrinksToExceptionFrame(t *testing.T) {
	require := require.New(t)

	exception := Encode(0x32, 0x03|0x80, []byte{0x02})
	link := &fakeLink{reads: []readStep{{data: exception}}}
	tr := newTestTransport(link)

	// a 5-register read expects 15 bytes, but the exception reply is 5
	raw, err := tr.SendAndReceive(Encode(0x32, 0x03, []byte{0x05, 0x00, 0x00, 0x05}), 15)
	require.NoError(err)
	require.Equal(exception, raw)

	_, err = Decode(raw)
	var exc *StationException
	require.ErrorAs(err, &exc)
}

func TestSendAndReceiveWriteFailureIsFatal(t *testing.T) {
	link := &fakeLink{werr: assert.AnError}
	tr := newTestTransport(link)

	_, err := tr.SendAndReceive(Encode(0x32, 0x06, []byte{0x0D, 0x00, 0x55, 0xAA}), 8)
	var ioErr *IOFailureError
	assert.ErrorAs(t, err, &ioErr)
}

func TestSendAndReceiveReadFailureIsFatal(t *testing.T) {
	link := &fakeLink{reads: []readStep{{err: assert.AnError}}}
	tr := newTestTransport(link)

	_, err := tr.SendAndReceive(Encode(0x32, 0x06, []byte{0x0D, 0x00, 0x55, 0xAA}), 8)
	var ioErr *IOFailureError
	assert.ErrorAs(t, err, &ioErr)
}
