package serialbridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/metrics"
	"github.com/jwulff/farmlink-go/internal/storage/sqlite"
	"github.com/jwulff/farmlink-go/internal/telemetry"
)

type fakePort struct {
	in     *bytes.Reader
	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
}

func newFakePort(frames ...[]byte) *fakePort {
	return &fakePort{in: bytes.NewReader(bytes.Join(frames, nil))}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.in.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeIngester struct {
	err      error
	got      []domain.ReadingInput
	rejected []string
}

func (f *fakeIngester) Ingest(_ context.Context, transport string, in domain.ReadingInput) (domain.Reading, error) {
	if f.err != nil {
		return domain.Reading{}, f.err
	}
	f.got = append(f.got, in)
	r := in.ToReading()
	r.ID = int64(len(f.got))
	return r, nil
}

func (f *fakeIngester) RecordRejected(reason string) {
	f.rejected = append(f.rejected, reason)
}

// Frame tests

func TestChecksumModbus(t *testing.T) {
	// Standard CRC16/MODBUS check value.
	assert.Equal(t, uint16(0x4B37), Checksum([]byte("123456789")))
}

func TestEncodeFrameLayout(t *testing.T) {
	payload := []byte(`{"u1":1}`)
	frame := EncodeFrame(payload)

	require.Len(t, frame, 4+len(payload)+2)
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(frame))
	assert.Equal(t, payload, frame[4:4+len(payload)])
	assert.Equal(t, Checksum(payload), binary.BigEndian.Uint16(frame[4+len(payload):]))
}

func TestDecoderReadsFrames(t *testing.T) {
	stream := bytes.Join([][]byte{
		EncodeFrame([]byte(`{"numero_pacote":1,"temperatura":20.5}`)),
		EncodeFrame([]byte(`{"numero_pacote":2}`)),
	}, nil)
	d := NewDecoder(bytes.NewReader(stream), 0)

	first, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), *first.PackageNumber)
	assert.Equal(t, 20.5, *first.Temperature)

	second, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), *second.PackageNumber)
	assert.Nil(t, second.Temperature)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderBadCRC(t *testing.T) {
	frame := EncodeFrame([]byte(`{"u1":1}`))
	frame[len(frame)-1] ^= 0xFF

	_, err := NewDecoder(bytes.NewReader(frame), 0).Next()

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "crc mismatch")
}

func TestDecoderBadLength(t *testing.T) {
	frame := EncodeFrame(bytes.Repeat([]byte("x"), 64))

	_, err := NewDecoder(bytes.NewReader(frame), 16).Next()

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "length 64")

	_, err = NewDecoder(bytes.NewReader([]byte{0, 0, 0, 0}), 16).Next()
	assert.ErrorAs(t, err, &fe)
}

func TestDecoderBadPayload(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(EncodeFrame([]byte(`{"temperatura":"x"}`))), 0).Next()

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "temperatura")
}

func TestDecoderTruncated(t *testing.T) {
	frame := EncodeFrame([]byte(`{"u1":1}`))

	_, err := NewDecoder(bytes.NewReader(frame[:6]), 0).Next()

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// Bridge tests

func TestBridgeRepliesPerFrame(t *testing.T) {
	bad := EncodeFrame([]byte(`{"u1":1}`))
	bad[len(bad)-1] ^= 0xFF

	port := newFakePort(
		EncodeFrame([]byte(`{"numero_pacote":1}`)),
		bad,
		EncodeFrame([]byte(`{"numero_pacote":2}`)),
	)
	ing := &fakeIngester{}
	b := New(port, 0, ing, zaptest.NewLogger(t))

	err := b.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "OKRETRYOK", port.out.String())
	assert.Len(t, ing.got, 2)
	assert.Equal(t, []string{metrics.ReasonFrame}, ing.rejected)
	assert.True(t, port.closed)
}

func TestBridgeRetryOnStorageFailure(t *testing.T) {
	port := newFakePort(EncodeFrame([]byte(`{}`)))
	ing := &fakeIngester{err: errors.New("database is locked")}

	require.NoError(t, New(port, 0, ing, zaptest.NewLogger(t)).Run(context.Background()))

	assert.Equal(t, ReplyRetry, port.out.String())
}

func TestBridgeIngestsIntoStore(t *testing.T) {
	store, err := sqlite.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	logger := zaptest.NewLogger(t)
	svc := telemetry.NewService(store, nil, metrics.New(), logger)
	port := newFakePort(
		EncodeFrame([]byte(`{"numero_pacote":7,"dispositivo_id":"esp32-usb"}`)),
	)

	require.NoError(t, New(port, 0, svc, logger).Run(context.Background()))

	readings, err := store.ListReadings(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "esp32-usb", *readings[0].DeviceID)
}

type errPort struct{ fakePort }

func (p *errPort) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestBridgeReturnsPortError(t *testing.T) {
	port := &errPort{}

	err := New(port, 0, &fakeIngester{}, zaptest.NewLogger(t)).Run(context.Background())

	assert.ErrorContains(t, err, "device unplugged")
}
