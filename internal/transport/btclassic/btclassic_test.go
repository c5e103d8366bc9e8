package btclassic

import (
	"context"
	"strings"
	"testing"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const devicePath = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

type fdWrite struct {
	fd   int
	data []byte
}

func newTestTransport(t *testing.T) (*Transport, *[]fdWrite) {
	t.Helper()
	logger, _, err := log.SetupLogger("error", "")
	require.NoError(t, err)

	tr := New(Config{}, logger, log.NewRaw(nil))
	var writes []fdWrite
	tr.writeFD = func(fd int, data []byte) error {
		writes = append(writes, fdWrite{fd: fd, data: append([]byte(nil), data...)})
		return nil
	}
	return tr, &writes
}

func TestSendReportWithoutPeersIsNoop(t *testing.T) {
	tr, writes := newTestTransport(t)
	tr.SendReport(input.Neutral())
	assert.Empty(t, *writes)
}

func TestSendReportFramesHIDPInput(t *testing.T) {
	tr, writes := newTestTransport(t)
	tr.handleEvent(connectEvent{device: devicePath, fd: 41})

	s := input.Neutral()
	s.Buttons = input.ButtonA | input.ButtonStart
	tr.SendReport(s)

	require.Len(t, *writes, 1)
	got := (*writes)[0]
	assert.Equal(t, 41, got.fd)
	require.Len(t, got.data, 9)
	assert.Equal(t, byte(0xA1), got.data[0], "DATA/input transaction header")
	assert.Equal(t, byte(1), got.data[1], "report ID")
	assert.Equal(t, []byte{127, 127, 127, 127}, got.data[2:6])
}

func TestSendReportFansOutToAllPeers(t *testing.T) {
	tr, writes := newTestTransport(t)
	tr.handleEvent(connectEvent{device: devicePath, fd: 41})
	tr.handleEvent(connectEvent{device: dbus.ObjectPath("/org/bluez/hci0/dev_11_22_33_44_55_66"), fd: 42})

	tr.SendReport(input.Neutral())
	require.Len(t, *writes, 2)
	assert.NotEqual(t, (*writes)[0].fd, (*writes)[1].fd)
	assert.Equal(t, (*writes)[0].data, (*writes)[1].data)
}

func TestFullSocketDropsFrameButKeepsPeer(t *testing.T) {
	tr, _ := newTestTransport(t)
	tr.writeFD = func(fd int, data []byte) error { return unix.EAGAIN }
	tr.handleEvent(connectEvent{device: devicePath, fd: 41})

	tr.SendReport(input.Neutral())
	assert.Equal(t, transport.StateConnected, tr.ConnectionState())
}

func TestWriteErrorDropsPeer(t *testing.T) {
	tr, _ := newTestTransport(t)
	tr.writeFD = func(fd int, data []byte) error { return unix.EPIPE }
	tr.handleEvent(connectEvent{device: devicePath, fd: 41})
	require.Equal(t, transport.StateConnected, tr.ConnectionState())

	tr.SendReport(input.Neutral())
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
}

func TestDisconnectEventRemovesPeer(t *testing.T) {
	tr, writes := newTestTransport(t)
	tr.handleEvent(connectEvent{device: devicePath, fd: 41})
	tr.handleEvent(disconnectEvent{device: devicePath})

	tr.SendReport(input.Neutral())
	assert.Empty(t, *writes)
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
}

func TestReleaseRevokesRegistration(t *testing.T) {
	tr, _ := newTestTransport(t)
	tr.registered = true
	tr.setState(transport.StateDiscovering)

	tr.handleEvent(releaseEvent{})
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
	assert.False(t, tr.registered)
}

func TestConnectWithoutRegistrationIsSilent(t *testing.T) {
	tr, _ := newTestTransport(t)
	assert.NoError(t, tr.Connect(context.Background(), "AA:BB:CC:DD:EE:FF"))
	assert.NoError(t, tr.Disconnect("AA:BB:CC:DD:EE:FF"))
}

func TestCapabilities(t *testing.T) {
	tr, _ := newTestTransport(t)
	assert.True(t, tr.SupportsPairedDeviceList())
	assert.Equal(t, "classic", tr.Layout().String())
}

func TestSDPRecord(t *testing.T) {
	record := sdpRecord()

	assert.Contains(t, record, `<uuid value="0x1124" />`)
	assert.Contains(t, record, descriptor.DeviceName)
	// Interrupt and control PSMs.
	assert.Contains(t, record, `<uint16 value="0x0011" />`)
	assert.Contains(t, record, `<uint16 value="0x0013" />`)

	// The embedded report map matches the descriptor the device serves.
	assert.Contains(t, record, strings.ToUpper("05010905a101"), "report map hex must start with the gamepad usage preamble")
}
