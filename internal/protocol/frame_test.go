package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCRC8(t *testing.T) {
	tests := []struct {
		data []byte
		want byte
	}{
		{nil, 0x00},
		{[]byte{0x00}, 0x00},
		{[]byte{0x01}, 0x07},
		{[]byte("123456789"), 0xF4}, // CRC-8/SMBUS check value
	}
	for _, tt := range tests {
		if got := CRC8(tt.data); got != tt.want {
			t.Errorf("CRC8(%x): got 0x%02X, want 0x%02X", tt.data, got, tt.want)
		}
	}
}

func TestCOBSKnownVectors(t *testing.T) {
	tests := []struct {
		raw, enc []byte
	}{
		{[]byte{0x00}, []byte{0x01, 0x01}},
		{[]byte{0x00, 0x00}, []byte{0x01, 0x01, 0x01}},
		{[]byte{0x11, 0x22, 0x00, 0x33}, []byte{0x03, 0x11, 0x22, 0x02, 0x33}},
		{[]byte{0x11, 0x22, 0x33, 0x44}, []byte{0x05, 0x11, 0x22, 0x33, 0x44}},
		{[]byte{0x11, 0x00, 0x00, 0x00}, []byte{0x02, 0x11, 0x01, 0x01, 0x01}},
	}
	for _, tt := range tests {
		enc := cobsEncode(tt.raw)
		if !bytes.Equal(enc, tt.enc) {
			t.Errorf("encode %x: got %x, want %x", tt.raw, enc, tt.enc)
		}
		dec, err := cobsDecode(tt.enc)
		if err != nil {
			t.Errorf("decode %x: unexpected error: %v", tt.enc, err)
			continue
		}
		if !bytes.Equal(dec, tt.raw) {
			t.Errorf("decode %x: got %x, want %x", tt.enc, dec, tt.raw)
		}
	}
}

func TestCOBSLongRun(t *testing.T) {
	raw := make([]byte, 600)
	for i := range raw {
		raw[i] = byte(i%255) + 1
	}
	raw[300] = 0
	enc := cobsEncode(raw)
	if bytes.IndexByte(enc, 0) >= 0 {
		t.Fatal("encoded data contains a zero byte")
	}
	dec, err := cobsDecode(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Error("long run did not survive encode/decode")
	}
}

func TestCOBSDecodeErrors(t *testing.T) {
	for _, enc := range [][]byte{
		nil,
		{0x00},
		{0x05, 0x11, 0x22},
		{0x03, 0x11, 0x00},
	} {
		if _, err := cobsDecode(enc); !errors.Is(err, ErrFrame) {
			t.Errorf("decode %x: expected ErrFrame, got %v", enc, err)
		}
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	frame, err := EncodeFrame(TypeTriggerOn, []byte{0x26, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame[len(frame)-1] != Delimiter {
		t.Fatal("frame must end with the delimiter")
	}
	if bytes.IndexByte(frame[:len(frame)-1], Delimiter) >= 0 {
		t.Fatal("delimiter inside encoded frame")
	}

	raw, err := cobsDecode(frame[:len(frame)-1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{TypeTriggerOn, 2, 0x26, 0x02, CRC8([]byte{TypeTriggerOn, 2, 0x26, 0x02})}
	if !bytes.Equal(raw, want) {
		t.Errorf("raw packet: got %x, want %x", raw, want)
	}
}

func TestEncodeFramePayloadLimit(t *testing.T) {
	if _, err := EncodeFrame(TypeNack, make([]byte, MaxPayload)); err != nil {
		t.Errorf("max payload: unexpected error: %v", err)
	}
	if _, err := EncodeFrame(TypeNack, make([]byte, MaxPayload+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeFrameChecksum(t *testing.T) {
	raw := []byte{TypeSmokeHeat, 1, 1, 0}
	raw[3] = CRC8(raw[:3]) ^ 0xFF
	if _, err := DecodeFrame(cobsEncode(raw)); !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestDecodeFrameBadLength(t *testing.T) {
	raw := []byte{TypeSmokeHeat, 5, 1}
	raw = append(raw, CRC8(raw))
	if _, err := DecodeFrame(cobsEncode(raw)); !errors.Is(err, ErrFrame) {
		t.Errorf("expected ErrFrame, got %v", err)
	}
	if _, err := DecodeFrame(cobsEncode([]byte{0x01})); !errors.Is(err, ErrFrame) {
		t.Errorf("short packet: expected ErrFrame, got %v", err)
	}
}

func TestDecoderStream(t *testing.T) {
	a, _ := EncodeFrame(TypeKeepalive, nil)
	b, _ := EncodeFrame(TypeServoSet, []byte{1, 0xDC, 0x05})

	var stream []byte
	stream = append(stream, 0x00, 0x00) // idle delimiters
	stream = append(stream, a...)
	stream = append(stream, b...)

	d := NewDecoder()
	// Split mid-frame to exercise reassembly.
	frames := d.Feed(stream[:5])
	frames = append(frames, d.Feed(stream[5:])...)

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Type != TypeKeepalive || len(frames[0].Payload) != 0 {
		t.Errorf("frame 0: got %+v", frames[0])
	}
	if frames[1].Type != TypeServoSet || !bytes.Equal(frames[1].Payload, []byte{1, 0xDC, 0x05}) {
		t.Errorf("frame 1: got %+v", frames[1])
	}
}

func TestDecoderDropsBadFramesAndResyncs(t *testing.T) {
	good, _ := EncodeFrame(TypeAck, nil)

	// [code][type][len][payload][crc][delim]: flip the payload byte.
	corrupt, _ := EncodeFrame(TypeSmokeHeat, []byte{1})
	corrupt[3] ^= 0x40

	garbage := bytes.Repeat([]byte{0x7E}, maxEncoded+10)

	var stream []byte
	stream = append(stream, corrupt...)
	stream = append(stream, garbage...)
	stream = append(stream, Delimiter)
	stream = append(stream, good...)

	d := NewDecoder()
	frames := d.Feed(stream)
	if len(frames) != 1 || frames[0].Type != TypeAck {
		t.Fatalf("expected only the ACK frame, got %+v", frames)
	}
	if d.ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors: got %d, want 1", d.ChecksumErrors)
	}
	if d.FramingErrors != 1 {
		t.Errorf("FramingErrors: got %d, want 1 (oversized frame)", d.FramingErrors)
	}
}
