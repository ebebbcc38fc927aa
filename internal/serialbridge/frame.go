// Package serialbridge ingests readings from a device attached over a
// serial line.
//
// Each frame is a big-endian uint32 payload length, the JSON reading, and a
// big-endian CRC16/MODBUS of the payload. The bridge answers every frame with
// "OK" or "RETRY".
package serialbridge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sigurn/crc16"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/telemetry"
)

// DefaultMaxFrame is the largest payload accepted when none is configured.
const DefaultMaxFrame = 4096

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the CRC16/MODBUS of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// EncodeFrame wraps payload in the length prefix and CRC trailer.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+2)
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	binary.BigEndian.PutUint16(out[4+len(payload):], Checksum(payload))
	return out
}

// FrameError is a malformed frame. The stream itself is still readable.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "bad frame: " + e.Reason
}

// Decoder reads frames from a byte stream.
type Decoder struct {
	r        *bufio.Reader
	maxFrame int
}

// NewDecoder creates a decoder. A maxFrame <= 0 uses DefaultMaxFrame.
func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Decoder{r: bufio.NewReader(r), maxFrame: maxFrame}
}

// Next reads one frame and decodes its reading. It returns a *FrameError for
// a bad length, checksum or payload, and the underlying error when the
// stream fails.
func (d *Decoder) Next() (domain.ReadingInput, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return domain.ReadingInput{}, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > uint32(d.maxFrame) {
		return domain.ReadingInput{}, &FrameError{Reason: fmt.Sprintf("length %d outside 1..%d", length, d.maxFrame)}
	}

	buf := make([]byte, int(length)+2)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return domain.ReadingInput{}, err
	}
	payload, trailer := buf[:length], buf[length:]

	if got, want := binary.BigEndian.Uint16(trailer), Checksum(payload); got != want {
		return domain.ReadingInput{}, &FrameError{Reason: fmt.Sprintf("crc mismatch: got %04x, want %04x", got, want)}
	}

	in, err := telemetry.UnmarshalReading(payload)
	if err != nil {
		return domain.ReadingInput{}, &FrameError{Reason: err.Error()}
	}
	return in, nil
}
