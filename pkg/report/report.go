// Package report encodes the logical input state into the fixed wire
// layouts understood by the receiving hosts. Encoding is deterministic and
// side-effect free; callers pre-clamp the state.
package report

import (
	"fmt"

	"github.com/fayaz-modz/AGamePad/pkg/input"
)

// ReportID is the single input report ID used by every descriptor variant.
const ReportID uint8 = 1

// Variant selects one of the fixed report layouts.
type Variant uint8

const (
	// VariantLink is the 7-byte payload carried inside a BLE notification.
	// The report ID travels in the characteristic's report reference
	// descriptor, not in the bytes.
	VariantLink Variant = iota
	// VariantClassic is the 8-byte layout with a leading report ID, used on
	// the classic HID interrupt channel and accepted verbatim by the UDP
	// server.
	VariantClassic
	// VariantNet is the 10-byte network layout adding the two analog
	// trigger axes.
	VariantNet
)

// Sizes of the fixed layouts.
const (
	LinkSize    = 7
	ClassicSize = 8
	NetSize     = 10
)

func (v Variant) String() string {
	switch v {
	case VariantLink:
		return "link"
	case VariantClassic:
		return "classic"
	case VariantNet:
		return "net"
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// Size returns the encoded length for the variant.
func (v Variant) Size() int {
	switch v {
	case VariantLink:
		return LinkSize
	case VariantClassic:
		return ClassicSize
	default:
		return NetSize
	}
}

// TriggerPolicy resolves the conflict between the analog trigger axes and
// the legacy digital shoulder button bits when encoding VariantNet. The
// upstream behavior never specified a precedence, so it is an explicit
// option here instead of a guess.
type TriggerPolicy uint8

const (
	// TriggerAnalogWins keeps the analog axis value and only forces it to
	// 255 when the axis is at rest while the legacy bit is held.
	TriggerAnalogWins TriggerPolicy = iota
	// TriggerDigitalWins forces the axis to 255 whenever the legacy bit is
	// held, regardless of the analog value.
	TriggerDigitalWins
)

// Encode builds the wire bytes for the given variant using the default
// TriggerAnalogWins policy.
func Encode(s input.State, v Variant) []byte {
	return EncodeWithPolicy(s, v, TriggerAnalogWins)
}

// EncodeWithPolicy builds the wire bytes for the given variant. Identical
// states encode to byte-identical reports.
func EncodeWithPolicy(s input.State, v Variant, p TriggerPolicy) []byte {
	switch v {
	case VariantLink:
		b := make([]byte, LinkSize)
		encodeCore(b, s)
		return b
	case VariantClassic:
		b := make([]byte, ClassicSize)
		b[0] = ReportID
		encodeCore(b[1:], s)
		return b
	default:
		b := make([]byte, NetSize)
		b[0] = ReportID
		b[1] = s.LX
		b[2] = s.LY
		b[3] = s.RX
		b[4] = triggerValue(s.L2, s.Buttons&input.ButtonL2 != 0, p)
		b[5] = triggerValue(s.R2, s.Buttons&input.ButtonR2 != 0, p)
		b[6] = s.RY
		b[7] = uint8(s.Buttons)
		b[8] = uint8(s.Buttons >> 8)
		b[9] = s.Hat
		return b
	}
}

// encodeCore writes the shared lx ly rx ry btnLo btnHi hat sequence.
func encodeCore(b []byte, s input.State) {
	b[0] = s.LX
	b[1] = s.LY
	b[2] = s.RX
	b[3] = s.RY
	b[4] = uint8(s.Buttons)
	b[5] = uint8(s.Buttons >> 8)
	b[6] = s.Hat
}

func triggerValue(analog uint8, digital bool, p TriggerPolicy) uint8 {
	switch p {
	case TriggerDigitalWins:
		if digital {
			return input.AxisMax
		}
		return analog
	default:
		if analog == 0 && digital {
			return input.AxisMax
		}
		return analog
	}
}

// Decode recovers the logical state from a just-encoded report. The
// variant is inferred from the length; this is what the server side uses
// to sanity-check relayed datagrams.
func Decode(b []byte) (input.State, Variant, error) {
	switch len(b) {
	case LinkSize:
		return decodeCore(b), VariantLink, nil
	case ClassicSize:
		if b[0] != ReportID {
			return input.State{}, 0, fmt.Errorf("report: unexpected report ID %d", b[0])
		}
		return decodeCore(b[1:]), VariantClassic, nil
	case NetSize:
		if b[0] != ReportID {
			return input.State{}, 0, fmt.Errorf("report: unexpected report ID %d", b[0])
		}
		s := input.State{
			LX:      b[1],
			LY:      b[2],
			RX:      b[3],
			L2:      b[4],
			R2:      b[5],
			RY:      b[6],
			Buttons: uint16(b[7]) | uint16(b[8])<<8,
			Hat:     b[9],
		}
		return s, VariantNet, nil
	default:
		return input.State{}, 0, fmt.Errorf("report: invalid length %d", len(b))
	}
}

func decodeCore(b []byte) input.State {
	return input.State{
		LX:      b[0],
		LY:      b[1],
		RX:      b[2],
		RY:      b[3],
		Buttons: uint16(b[4]) | uint16(b[5])<<8,
		Hat:     b[6],
	}
}
