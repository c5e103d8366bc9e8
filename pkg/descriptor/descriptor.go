// Package descriptor holds the static HID report descriptors advertised to
// receiving hosts, plus the identity the server embeds into the virtual
// kernel device. Two variants exist: the 4-axis descriptor served over the
// wireless link transports and the 6-axis network descriptor that adds the
// analog trigger axes.
package descriptor

import "github.com/fayaz-modz/AGamePad/pkg/hid"

// Identity for the virtual device created by the server.
const (
	DeviceName = "AGamePad Virtual Controller"
	DevicePhys = "uhid-agamepad"
	DeviceUniq = "agamepad-001"

	BusUSB uint16 = 0x03

	// Vendor matches the PnP ID exposed by the wireless-link service so the
	// host sees the same identity on every transport.
	VendorID  uint32 = 0x046D
	ProductID uint32 = 0x0000
	Version   uint32 = 0x0100
)

// gamepad builds the shared collection layout: report ID 1, n 8-bit axes,
// 16 buttons, one hat switch with a null state.
func gamepad(axes []uint16) hid.Report {
	items := []hid.Item{
		hid.ReportID{ID: 1},
		hid.UsagePage{Page: hid.UsagePageGenericDesktop},
	}
	for _, u := range axes {
		items = append(items, hid.Usage{Usage: u})
	}
	items = append(items,
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 255},
		hid.ReportSize{Bits: 8},
		hid.ReportCount{Count: uint16(len(axes))},
		hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},

		hid.UsagePage{Page: hid.UsagePageButton},
		hid.UsageMinimum{Min: 0x01},
		hid.UsageMaximum{Max: 0x10},
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 1},
		hid.ReportSize{Bits: 1},
		hid.ReportCount{Count: 16},
		hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs},

		hid.UsagePage{Page: hid.UsagePageGenericDesktop},
		hid.Usage{Usage: hid.UsageHatSwitch},
		hid.LogicalMinimum{Min: 0},
		hid.LogicalMaximum{Max: 7},
		hid.ReportSize{Bits: 8},
		hid.ReportCount{Count: 1},
		hid.Input{Flags: hid.MainData | hid.MainVar | hid.MainAbs | hid.MainNullState},
	)

	return hid.Report{Items: []hid.Item{
		hid.UsagePage{Page: hid.UsagePageGenericDesktop},
		hid.Usage{Usage: hid.UsageGamePad},
		hid.Collection{Kind: hid.CollectionApplication, Items: items},
	}}
}

// Link is the 4-axis report map served by the paired-profile and
// encrypted-link transports. Axis order matches the wire layout:
// X=LX, Y=LY, Z=RX, Rz=RY.
var Link = gamepad([]uint16{hid.UsageX, hid.UsageY, hid.UsageZ, hid.UsageRz})

// Net is the 6-axis report map handed to the UDP server. Rx/Ry carry the
// analog triggers: X=LX, Y=LY, Z=RX, Rx=L2, Ry=R2, Rz=RY.
var Net = gamepad([]uint16{hid.UsageX, hid.UsageY, hid.UsageZ, hid.UsageRx, hid.UsageRy, hid.UsageRz})

// LinkBytes returns the encoded 4-axis descriptor.
func LinkBytes() []byte { return []byte(Link.MustBytes()) }

// NetBytes returns the encoded 6-axis descriptor.
func NetBytes() []byte { return []byte(Net.MustBytes()) }
