package btclassic

import (
	"fmt"
	"log/slog"

	"github.com/fayaz-modz/AGamePad/internal/bluez"
	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const profilePath = dbus.ObjectPath("/io/agamepad/hid")

// profileHandler exports org.bluez.Profile1. BlueZ calls NewConnection
// with the peer's L2CAP interrupt fd once a bonded host connects the HID
// profile, and Release when the registration is revoked (daemon restart,
// another HID profile claiming the UUID).
type profileHandler struct {
	logger *slog.Logger

	onConnect    func(device dbus.ObjectPath, fd int)
	onDisconnect func(device dbus.ObjectPath)
	onRelease    func()
}

func (p *profileHandler) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, properties map[string]dbus.Variant) *dbus.Error {
	p.logger.Info("hid profile connection", "device", device)
	// The fd arrives owned by us; the transport takes it from here.
	p.onConnect(device, int(fd))
	return nil
}

func (p *profileHandler) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.logger.Info("hid profile disconnection requested", "device", device)
	p.onDisconnect(device)
	return nil
}

func (p *profileHandler) Release() *dbus.Error {
	p.logger.Warn("hid profile registration revoked")
	p.onRelease()
	return nil
}

// register exports the handler and registers the HID profile with its SDP
// record.
func registerProfile(conn *bluez.Conn, logger *slog.Logger, h *profileHandler) error {
	if err := conn.Bus.Export(h, profilePath, bluez.ProfileInterface); err != nil {
		return fmt.Errorf("export hid profile: %w", err)
	}

	options := map[string]dbus.Variant{
		"ServiceRecord":         dbus.MakeVariant(sdpRecord()),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(true),
		"RequireAuthorization":  dbus.MakeVariant(false),
		"PSM":                   dbus.MakeVariant(uint16(psmInterrupt)),
	}
	call := conn.Object(bluez.RootPath).Call(bluez.ProfileManagerInterface+".RegisterProfile", 0,
		profilePath, hidProfileUUID, options)
	if call.Err != nil {
		return fmt.Errorf("register hid profile: %w", call.Err)
	}
	logger.Info("hid profile registered", "uuid", hidProfileUUID)
	return nil
}

func unregisterProfile(conn *bluez.Conn, logger *slog.Logger) {
	call := conn.Object(bluez.RootPath).Call(bluez.ProfileManagerInterface+".UnregisterProfile", 0, profilePath)
	if call.Err != nil {
		logger.Debug("failed to unregister hid profile", "error", call.Err)
	}
}

// closeFD releases a peer fd; used on teardown and rejected connections.
func closeFD(fd int) {
	_ = unix.Close(fd)
}
