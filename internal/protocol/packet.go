package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet type codes. 0xF0 and up are common to every slave; the rest are
// gun slave commands.
const (
	TypeInit      byte = 0xF0
	TypeShutdown  byte = 0xF1
	TypeKeepalive byte = 0xF2
	TypeInitReady byte = 0xF3
	TypeStatus    byte = 0xF4
	TypeError     byte = 0xF5
	TypeAck       byte = 0xF6
	TypeNack      byte = 0xF7

	TypeTriggerOn       byte = 0x01
	TypeTriggerOff      byte = 0x02
	TypeServoSet        byte = 0x10
	TypeServoSettings   byte = 0x11
	TypeServoRecoilJerk byte = 0x12
	TypeSmokeHeat       byte = 0x20
)

// ErrUnknownType is returned when decoding a packet type outside the catalogue.
var ErrUnknownType = errors.New("protocol: unknown packet type")

// Packet is one member of the fixed packet catalogue.
type Packet interface {
	Type() byte
	Payload() []byte
}

// Init asks the slave to (re)initialise.
type Init struct{}

// Shutdown tells the slave the master is going away.
type Shutdown struct{}

// Keepalive resets the slave's watchdog.
type Keepalive struct{}

// TriggerOn starts firing at RPM rounds per minute.
type TriggerOn struct {
	RPM uint16
}

// TriggerOff stops firing. The smoke fan keeps running for FanDelayMs
// after the last round. The delay is always sent, zero included.
type TriggerOff struct {
	FanDelayMs uint16
}

// ServoSet commands one servo output.
type ServoSet struct {
	ServoID uint8
	PulseUs uint16
}

// ServoSettings configures the slave's copy of a servo's limits.
type ServoSettings struct {
	ServoID  uint8
	OutMinUs uint16
	OutMaxUs uint16
	MaxSpeed uint16
	Accel    uint16
	Decel    uint16
}

// ServoRecoilJerk configures a servo's recoil kick.
type ServoRecoilJerk struct {
	ServoID    uint8
	JerkUs     uint16
	VarianceUs uint16
}

// SmokeHeat switches the smoke generator heater.
type SmokeHeat struct {
	On bool
}

// InitReady is the slave's answer to Init.
type InitReady struct {
	ModuleName string
}

// StatusFlags are the bits of Status.Flags.
type StatusFlags uint8

const (
	StatusFiring      StatusFlags = 0x01
	StatusFlashActive StatusFlags = 0x02
	StatusFlashFading StatusFlags = 0x04
	StatusHeaterOn    StatusFlags = 0x08
	StatusFanOn       StatusFlags = 0x10
	StatusFanSpindown StatusFlags = 0x20
)

// Has reports whether all bits in f are set.
func (s StatusFlags) Has(f StatusFlags) bool {
	return s&f == f
}

// Status is the slave's periodic state report.
type Status struct {
	Flags             StatusFlags
	FanOffRemainingMs uint16
	ServoUs           [3]uint16
	RateOfFireRPM     uint16
}

// Error reports a slave-side fault.
type Error struct {
	Code    uint8
	Message string
}

// Ack acknowledges a command.
type Ack struct{}

// Nack rejects a command with an optional reason.
type Nack struct {
	Reason string
}

func (Init) Type() byte            { return TypeInit }
func (Shutdown) Type() byte        { return TypeShutdown }
func (Keepalive) Type() byte       { return TypeKeepalive }
func (TriggerOn) Type() byte       { return TypeTriggerOn }
func (TriggerOff) Type() byte      { return TypeTriggerOff }
func (ServoSet) Type() byte        { return TypeServoSet }
func (ServoSettings) Type() byte   { return TypeServoSettings }
func (ServoRecoilJerk) Type() byte { return TypeServoRecoilJerk }
func (SmokeHeat) Type() byte       { return TypeSmokeHeat }
func (InitReady) Type() byte       { return TypeInitReady }
func (Status) Type() byte          { return TypeStatus }
func (Error) Type() byte           { return TypeError }
func (Ack) Type() byte             { return TypeAck }
func (Nack) Type() byte            { return TypeNack }

func (Init) Payload() []byte      { return nil }
func (Shutdown) Payload() []byte  { return nil }
func (Keepalive) Payload() []byte { return nil }
func (Ack) Payload() []byte       { return nil }

func (p TriggerOn) Payload() []byte {
	return binary.LittleEndian.AppendUint16(nil, p.RPM)
}

func (p TriggerOff) Payload() []byte {
	return binary.LittleEndian.AppendUint16(nil, p.FanDelayMs)
}

func (p ServoSet) Payload() []byte {
	return binary.LittleEndian.AppendUint16([]byte{p.ServoID}, p.PulseUs)
}

func (p ServoSettings) Payload() []byte {
	b := []byte{p.ServoID}
	for _, v := range []uint16{p.OutMinUs, p.OutMaxUs, p.MaxSpeed, p.Accel, p.Decel} {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func (p ServoRecoilJerk) Payload() []byte {
	b := binary.LittleEndian.AppendUint16([]byte{p.ServoID}, p.JerkUs)
	return binary.LittleEndian.AppendUint16(b, p.VarianceUs)
}

func (p SmokeHeat) Payload() []byte {
	if p.On {
		return []byte{1}
	}
	return []byte{0}
}

func (p InitReady) Payload() []byte {
	return truncate(p.ModuleName, MaxPayload)
}

func (p Status) Payload() []byte {
	b := binary.LittleEndian.AppendUint16([]byte{byte(p.Flags)}, p.FanOffRemainingMs)
	for _, us := range p.ServoUs {
		b = binary.LittleEndian.AppendUint16(b, us)
	}
	return binary.LittleEndian.AppendUint16(b, p.RateOfFireRPM)
}

func (p Error) Payload() []byte {
	return append([]byte{p.Code}, truncate(p.Message, MaxPayload-1)...)
}

func (p Nack) Payload() []byte {
	return truncate(p.Reason, MaxPayload)
}

func truncate(s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	return []byte(s)
}

// Encode returns the wire form of p, delimiter included.
func Encode(p Packet) ([]byte, error) {
	return EncodeFrame(p.Type(), p.Payload())
}

// Decode converts a frame into its catalogue packet. Payloads longer than
// a packet needs are accepted and the extra bytes ignored.
func Decode(f Frame) (Packet, error) {
	b := f.Payload
	short := func(need int) error {
		return fmt.Errorf("%w: type 0x%02X needs %d bytes, got %d", ErrFrame, f.Type, need, len(b))
	}
	u16 := func(off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }

	switch f.Type {
	case TypeInit:
		return Init{}, nil
	case TypeShutdown:
		return Shutdown{}, nil
	case TypeKeepalive:
		return Keepalive{}, nil
	case TypeAck:
		return Ack{}, nil
	case TypeNack:
		return Nack{Reason: string(b)}, nil
	case TypeInitReady:
		return InitReady{ModuleName: string(b)}, nil
	case TypeError:
		if len(b) < 1 {
			return nil, short(1)
		}
		return Error{Code: b[0], Message: string(b[1:])}, nil
	case TypeStatus:
		if len(b) < 11 {
			return nil, short(11)
		}
		return Status{
			Flags:             StatusFlags(b[0]),
			FanOffRemainingMs: u16(1),
			ServoUs:           [3]uint16{u16(3), u16(5), u16(7)},
			RateOfFireRPM:     u16(9),
		}, nil
	case TypeTriggerOn:
		if len(b) < 2 {
			return nil, short(2)
		}
		return TriggerOn{RPM: u16(0)}, nil
	case TypeTriggerOff:
		if len(b) >= 2 {
			return TriggerOff{FanDelayMs: u16(0)}, nil
		}
		return TriggerOff{}, nil
	case TypeServoSet:
		if len(b) < 3 {
			return nil, short(3)
		}
		return ServoSet{ServoID: b[0], PulseUs: u16(1)}, nil
	case TypeServoSettings:
		if len(b) < 11 {
			return nil, short(11)
		}
		return ServoSettings{
			ServoID:  b[0],
			OutMinUs: u16(1),
			OutMaxUs: u16(3),
			MaxSpeed: u16(5),
			Accel:    u16(7),
			Decel:    u16(9),
		}, nil
	case TypeServoRecoilJerk:
		if len(b) < 5 {
			return nil, short(5)
		}
		return ServoRecoilJerk{ServoID: b[0], JerkUs: u16(1), VarianceUs: u16(3)}, nil
	case TypeSmokeHeat:
		if len(b) < 1 {
			return nil, short(1)
		}
		return SmokeHeat{On: b[0] != 0}, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, f.Type)
}
