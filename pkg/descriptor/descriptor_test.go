package descriptor_test

import (
	"testing"

	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Frozen descriptor bytes. These are wire contracts: a host that parsed an
// earlier build must be able to parse reports from this one.
var linkGolden = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x05, // Usage (Game Pad)
	0xA1, 0x01, // Collection (Application)
	0x85, 0x01, //   Report ID (1)
	0x05, 0x01, //   Usage Page (Generic Desktop)
	0x09, 0x30, //   Usage (X)
	0x09, 0x31, //   Usage (Y)
	0x09, 0x32, //   Usage (Z)
	0x09, 0x35, //   Usage (Rz)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x04, //   Report Count (4)
	0x81, 0x02, //   Input (Data,Var,Abs)
	0x05, 0x09, //   Usage Page (Button)
	0x19, 0x01, //   Usage Minimum (1)
	0x29, 0x10, //   Usage Maximum (16)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x10, //   Report Count (16)
	0x81, 0x02, //   Input (Data,Var,Abs)
	0x05, 0x01, //   Usage Page (Generic Desktop)
	0x09, 0x39, //   Usage (Hat Switch)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x07, //   Logical Maximum (7)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x01, //   Report Count (1)
	0x81, 0x42, //   Input (Data,Var,Abs,Null)
	0xC0, // End Collection
}

func TestLinkDescriptorBytes(t *testing.T) {
	b, err := descriptor.Link.Bytes()
	require.NoError(t, err)
	assert.Equal(t, linkGolden, []byte(b))
	assert.Equal(t, linkGolden, descriptor.LinkBytes())
}

func TestNetDescriptorBytes(t *testing.T) {
	b := descriptor.NetBytes()

	// The network variant only widens the axis block: two extra usages
	// (Rx, Ry) and a report count of 6 instead of 4.
	require.Len(t, b, len(linkGolden)+4)

	want := make([]byte, 0, len(linkGolden)+4)
	want = append(want, linkGolden[:16]...)     // up to and including Usage (Z)
	want = append(want, 0x09, 0x33, 0x09, 0x34) // Usage (Rx), Usage (Ry)
	want = append(want, linkGolden[16:]...)     // Usage (Rz) onward
	want[30] = 0x06                             // axis Report Count data byte
	assert.Equal(t, want, b)
}

func TestDescriptorsAreStable(t *testing.T) {
	assert.Equal(t, descriptor.LinkBytes(), descriptor.LinkBytes())
	assert.Equal(t, descriptor.NetBytes(), descriptor.NetBytes())
}
