package report_test

import (
	"testing"

	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFixedLengthAndReportID(t *testing.T) {
	states := []input.State{
		input.Neutral(),
		{},
		{Buttons: 0xFFFF, LX: 255, LY: 255, RX: 255, RY: 255, L2: 255, R2: 255, Hat: 7},
		{Buttons: input.ButtonA | input.ButtonStart, LX: 3, RY: 250, Hat: input.HatLeft},
	}

	for _, s := range states {
		assert.Len(t, report.Encode(s, report.VariantLink), report.LinkSize)

		classic := report.Encode(s, report.VariantClassic)
		require.Len(t, classic, report.ClassicSize)
		assert.Equal(t, report.ReportID, classic[0])

		net := report.Encode(s, report.VariantNet)
		require.Len(t, net, report.NetSize)
		assert.Equal(t, report.ReportID, net[0])
	}
}

func TestEncodeLayouts(t *testing.T) {
	s := input.State{
		Buttons: 0x0201, // A + Start
		LX:      10, LY: 20,
		RX: 30, RY: 40,
		L2: 0x55, R2: 0xAA,
		Hat: input.HatDown,
	}

	assert.Equal(t,
		[]byte{10, 20, 30, 40, 0x01, 0x02, 4},
		report.Encode(s, report.VariantLink))

	assert.Equal(t,
		[]byte{1, 10, 20, 30, 40, 0x01, 0x02, 4},
		report.Encode(s, report.VariantClassic))

	assert.Equal(t,
		[]byte{1, 10, 20, 30, 0x55, 0xAA, 40, 0x01, 0x02, 4},
		report.Encode(s, report.VariantNet))
}

func TestEncodeNeutral(t *testing.T) {
	// The canonical centered datagram relayed by the liveness poll.
	assert.Equal(t,
		[]byte{1, 127, 127, 127, 127, 0, 0, 8},
		report.Encode(input.Neutral(), report.VariantClassic))
}

func TestEncodeIdempotent(t *testing.T) {
	s := input.State{Buttons: 0xBEEF, LX: 1, LY: 2, RX: 3, RY: 4, L2: 5, R2: 6, Hat: 7}
	for _, v := range []report.Variant{report.VariantLink, report.VariantClassic, report.VariantNet} {
		assert.Equal(t, report.Encode(s, v), report.Encode(s, v), v.String())
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		s    input.State
		v    report.Variant
	}{
		{"neutral classic", input.Neutral(), report.VariantClassic},
		{"neutral link", input.Neutral(), report.VariantLink},
		{"buttons net", input.State{Buttons: 0x8421, LX: 9, LY: 8, RX: 7, RY: 6, L2: 5, R2: 4, Hat: 3}, report.VariantNet},
		{"max classic", input.State{Buttons: 0xFFFF & ^(input.ButtonL2 | input.ButtonR2), LX: 255, LY: 0, RX: 128, RY: 127, Hat: 0}, report.VariantClassic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := report.Encode(tc.s, tc.v)
			got, v, err := report.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, tc.v, v)

			assert.Equal(t, tc.s.Buttons, got.Buttons)
			assert.Equal(t, tc.s.LX, got.LX)
			assert.Equal(t, tc.s.LY, got.LY)
			assert.Equal(t, tc.s.RX, got.RX)
			assert.Equal(t, tc.s.RY, got.RY)
			assert.Equal(t, tc.s.Hat, got.Hat)
			if tc.v == report.VariantNet {
				assert.Equal(t, tc.s.L2, got.L2)
				assert.Equal(t, tc.s.R2, got.R2)
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, _, err := report.Decode([]byte{1, 2, 3})
	assert.Error(t, err)

	_, _, err = report.Decode(make([]byte, 9))
	assert.Error(t, err)

	// Wrong report ID on a well-sized datagram.
	bad := report.Encode(input.Neutral(), report.VariantClassic)
	bad[0] = 2
	_, _, err = report.Decode(bad)
	assert.Error(t, err)
}

func TestTriggerPolicy(t *testing.T) {
	held := input.State{Buttons: input.ButtonL2 | input.ButtonR2, L2: 0, R2: 100}

	analog := report.EncodeWithPolicy(held, report.VariantNet, report.TriggerAnalogWins)
	assert.Equal(t, uint8(255), analog[4], "resting axis with held bit is forced")
	assert.Equal(t, uint8(100), analog[5], "non-resting axis wins over the bit")

	digital := report.EncodeWithPolicy(held, report.VariantNet, report.TriggerDigitalWins)
	assert.Equal(t, uint8(255), digital[4])
	assert.Equal(t, uint8(255), digital[5], "held bit overrides the analog value")

	// The legacy bits never leak into the 7/8-byte layouts' axes.
	classic := report.EncodeWithPolicy(held, report.VariantClassic, report.TriggerDigitalWins)
	assert.Equal(t, uint8(input.ButtonL2|input.ButtonR2), classic[5]&0xC0)
}
