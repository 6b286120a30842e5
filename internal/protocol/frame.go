// Package protocol implements the framed binary protocol spoken with the
// effects slave: packet encoding, integrity checks, and the link that
// carries them.
//
// A raw packet is [type][len][payload...][crc8], where the CRC covers type,
// len and payload. The raw packet is COBS-encoded and terminated with a
// single 0x00 delimiter. Multi-byte integers are little-endian.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// Delimiter terminates every encoded frame.
	Delimiter = 0x00

	// MaxPayload is the largest payload a packet may carry.
	MaxPayload = 64

	maxRaw     = 2 + MaxPayload + 1
	maxEncoded = maxRaw + maxRaw/254 + 2
)

var (
	// ErrPayloadTooLarge is returned when encoding a payload over MaxPayload.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")

	// ErrFrame is returned for a frame that is not valid COBS or has a bad length.
	ErrFrame = errors.New("protocol: malformed frame")

	// ErrChecksum is returned for a frame whose CRC does not match.
	ErrChecksum = errors.New("protocol: checksum mismatch")
)

// Frame is a decoded, integrity-checked packet.
type Frame struct {
	Type    byte
	Payload []byte
}

// EncodeFrame builds the wire form of a packet, delimiter included.
func EncodeFrame(typ byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	raw := make([]byte, 0, len(payload)+3)
	raw = append(raw, typ, byte(len(payload)))
	raw = append(raw, payload...)
	raw = append(raw, CRC8(raw))

	enc := cobsEncode(raw)
	return append(enc, Delimiter), nil
}

// DecodeFrame decodes one encoded frame without its delimiter.
func DecodeFrame(enc []byte) (Frame, error) {
	raw, err := cobsDecode(enc)
	if err != nil {
		return Frame{}, err
	}
	if len(raw) < 3 {
		return Frame{}, fmt.Errorf("%w: %d bytes decoded", ErrFrame, len(raw))
	}
	n := int(raw[1])
	if n > MaxPayload || len(raw) != n+3 {
		return Frame{}, fmt.Errorf("%w: length %d in %d byte packet", ErrFrame, n, len(raw))
	}
	if CRC8(raw[:n+2]) != raw[n+2] {
		return Frame{}, ErrChecksum
	}
	payload := make([]byte, n)
	copy(payload, raw[2:n+2])
	return Frame{Type: raw[0], Payload: payload}, nil
}

// Decoder reassembles frames from a byte stream. Bad frames are dropped and
// counted. Not safe for concurrent use.
type Decoder struct {
	buf      []byte
	overflow bool

	// ChecksumErrors counts frames dropped for a CRC mismatch.
	ChecksumErrors uint64
	// FramingErrors counts frames dropped as malformed or oversized.
	FramingErrors uint64
}

// NewDecoder creates an empty stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, maxEncoded)}
}

// Feed consumes data and returns every complete, valid frame it finished.
func (d *Decoder) Feed(data []byte) []Frame {
	var frames []Frame
	for _, b := range data {
		if b != Delimiter {
			if len(d.buf) >= maxEncoded {
				d.overflow = true
				continue
			}
			d.buf = append(d.buf, b)
			continue
		}

		switch {
		case d.overflow:
			d.FramingErrors++
		case len(d.buf) == 0:
			// Idle delimiters between frames.
		default:
			f, err := DecodeFrame(d.buf)
			switch {
			case err == nil:
				frames = append(frames, f)
			case errors.Is(err, ErrChecksum):
				d.ChecksumErrors++
			default:
				d.FramingErrors++
			}
		}
		d.buf = d.buf[:0]
		d.overflow = false
	}
	return frames
}
