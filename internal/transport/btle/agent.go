package btle

import (
	"fmt"
	"log/slog"

	"github.com/fayaz-modz/AGamePad/internal/bluez"
	"github.com/godbus/dbus/v5"
)

const agentPath = dbus.ObjectPath("/io/agamepad/agent")

// agent implements org.bluez.Agent1 with NoInputNoOutput capability: the
// device has no surface for PIN entry, so bonding falls back to Just Works
// and every authorization request is accepted.
type agent struct {
	conn   *bluez.Conn
	logger *slog.Logger
	onBond func(device dbus.ObjectPath)
}

func (a *agent) Release() *dbus.Error {
	a.logger.Debug("pairing agent released")
	return nil
}

func (a *agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return "0000", nil
}

func (a *agent) DisplayPinCode(device dbus.ObjectPath, pincode string) *dbus.Error {
	a.logger.Info("pairing pin requested", "device", device, "pin", pincode)
	return nil
}

func (a *agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	return 0, nil
}

func (a *agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	a.logger.Info("pairing passkey requested", "device", device, "passkey", passkey)
	return nil
}

func (a *agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	a.logger.Info("confirming pairing", "device", device, "passkey", passkey)
	if a.onBond != nil {
		a.onBond(device)
	}
	return nil
}

func (a *agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	a.logger.Info("authorizing pairing", "device", device)
	if a.onBond != nil {
		a.onBond(device)
	}
	return nil
}

func (a *agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	a.logger.Debug("authorizing service", "device", device, "uuid", uuid)
	return nil
}

func (a *agent) Cancel() *dbus.Error {
	a.logger.Debug("pairing cancelled")
	return nil
}

// register exports the agent and makes it the default so incoming bonding
// requests land here instead of a desktop prompt.
func (a *agent) register() error {
	if err := a.conn.Bus.Export(a, agentPath, bluez.AgentInterface); err != nil {
		return fmt.Errorf("export agent: %w", err)
	}

	mgr := a.conn.Object(bluez.RootPath)
	call := mgr.Call(bluez.AgentManagerInterface+".RegisterAgent", 0, agentPath, "NoInputNoOutput")
	if call.Err != nil {
		return fmt.Errorf("register agent: %w", call.Err)
	}
	if call := mgr.Call(bluez.AgentManagerInterface+".RequestDefaultAgent", 0, agentPath); call.Err != nil {
		a.logger.Warn("could not become default pairing agent", "error", call.Err)
	}
	return nil
}

func (a *agent) unregister() {
	call := a.conn.Object(bluez.RootPath).Call(bluez.AgentManagerInterface+".UnregisterAgent", 0, agentPath)
	if call.Err != nil {
		a.logger.Debug("failed to unregister agent", "error", call.Err)
	}
}
