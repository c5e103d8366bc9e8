// Package input defines the logical control state sampled from the input
// surface and consumed read-only by every transport.
package input

// Stick axis values are 0-255 with 127 at center. The hat switch uses the
// HID 8-direction encoding with 8 as the released (null) position.
const (
	AxisCenter uint8 = 127
	AxisMin    uint8 = 0
	AxisMax    uint8 = 255

	HatUp        uint8 = 0
	HatUpRight   uint8 = 1
	HatRight     uint8 = 2
	HatDownRight uint8 = 3
	HatDown      uint8 = 4
	HatDownLeft  uint8 = 5
	HatLeft      uint8 = 6
	HatUpLeft    uint8 = 7
	HatCenter    uint8 = 8
)

// Button bits of the 16-bit mask.
const (
	ButtonA uint16 = 1 << iota
	ButtonB
	ButtonX
	ButtonY
	ButtonL1
	ButtonR1
	ButtonL2 // legacy digital shoulder, see report.TriggerPolicy
	ButtonR2 // legacy digital shoulder, see report.TriggerPolicy
	ButtonSelect
	ButtonStart
	ButtonThumbL
	ButtonThumbR
	ButtonHome
	ButtonCapture
	Button15
	Button16
)

// State is the logical gamepad state. It is a plain value: the input
// surface owns mutation and hands transports immutable snapshots.
type State struct {
	Buttons uint16

	LX, LY uint8
	RX, RY uint8

	// Analog triggers, only carried by the network report variant.
	L2, R2 uint8

	Hat uint8
}

// Neutral returns the released state: centered sticks, no buttons,
// released triggers, hat at the null position.
func Neutral() State {
	return State{
		LX:  AxisCenter,
		LY:  AxisCenter,
		RX:  AxisCenter,
		RY:  AxisCenter,
		Hat: HatCenter,
	}
}

// Clamp normalizes out-of-range hat values to the null position. Axis and
// button fields cannot be out of range by construction.
func (s State) Clamp() State {
	if s.Hat > HatCenter {
		s.Hat = HatCenter
	}
	return s
}
