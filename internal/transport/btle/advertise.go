package btle

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fayaz-modz/AGamePad/internal/bluez"
	"github.com/godbus/dbus/v5"
)

const advPath = dbus.ObjectPath("/io/agamepad/advertisement")

// appearanceGamepad is the GAP appearance value for a HID gamepad.
const appearanceGamepad uint16 = 0x03C4

// advertisement exports org.bluez.LEAdvertisement1. The payload carries
// only the HID service UUID and the appearance: adding the local name on
// top overflows the 31-byte legacy advertising PDU on common adapters.
type advertisement struct {
	conn   *bluez.Conn
	logger *slog.Logger
}

func (a *advertisement) Release() *dbus.Error {
	a.logger.Debug("advertisement released by bluez")
	return nil
}

func (a *advertisement) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant([]string{bluez.UUID16(hidServiceID)}),
		"Appearance":   dbus.MakeVariant(appearanceGamepad),
		"Discoverable": dbus.MakeVariant(true),
	}
}

// register exports the advertisement and asks the adapter to broadcast it.
// The returned error is nil for the failure modes that only degrade
// visibility; callers map those onto the error state instead of aborting.
func (a *advertisement) register() (fatal error, degraded error) {
	bus := a.conn.Bus
	if err := bus.Export(a, advPath, bluez.AdvertisementInterface); err != nil {
		return fmt.Errorf("export advertisement: %w", err), nil
	}
	if err := bus.Export(&propsHandler{iface: bluez.AdvertisementInterface, get: a.properties}, advPath, bluez.PropertiesInterface); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err), nil
	}

	call := a.conn.AdapterObject().Call(bluez.AdvertisingManagerInterface+".RegisterAdvertisement", 0,
		advPath, map[string]dbus.Variant{})
	if call.Err != nil {
		if isNonFatalAdvertisingError(call.Err) {
			return nil, call.Err
		}
		return fmt.Errorf("register advertisement: %w", call.Err), nil
	}
	a.logger.Info("advertising", "appearance", fmt.Sprintf("0x%04X", appearanceGamepad))
	return nil, nil
}

func (a *advertisement) unregister() {
	call := a.conn.AdapterObject().Call(bluez.AdvertisingManagerInterface+".UnregisterAdvertisement", 0, advPath)
	if call.Err != nil {
		a.logger.Debug("failed to unregister advertisement", "error", call.Err)
	}
}

// isNonFatalAdvertisingError matches the BlueZ replies that mean the
// advertisement did not go out but the GATT server still works (another
// advertiser active, controller limit, legacy adapter).
func isNonFatalAdvertisingError(err error) bool {
	dbusErr, ok := err.(dbus.Error)
	if !ok {
		return false
	}
	switch dbusErr.Name {
	case "org.bluez.Error.AlreadyExists",
		"org.bluez.Error.NotPermitted",
		"org.bluez.Error.NotSupported",
		"org.bluez.Error.Failed":
		return true
	}
	return strings.HasPrefix(dbusErr.Name, "org.bluez.Error.InvalidLength")
}
