// Package bluez carries the D-Bus names and small helpers shared by the
// two Bluetooth transports. Both talk to the BlueZ daemon on the system
// bus; neither touches HCI directly.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	BusName  = "org.bluez"
	RootPath = dbus.ObjectPath("/org/bluez")

	AdapterInterface            = "org.bluez.Adapter1"
	DeviceInterface             = "org.bluez.Device1"
	ProfileManagerInterface     = "org.bluez.ProfileManager1"
	ProfileInterface            = "org.bluez.Profile1"
	AgentManagerInterface       = "org.bluez.AgentManager1"
	AgentInterface              = "org.bluez.Agent1"
	GattManagerInterface        = "org.bluez.GattManager1"
	GattServiceInterface        = "org.bluez.GattService1"
	GattCharacteristicInterface = "org.bluez.GattCharacteristic1"
	GattDescriptorInterface     = "org.bluez.GattDescriptor1"
	AdvertisingManagerInterface = "org.bluez.LEAdvertisingManager1"
	AdvertisementInterface      = "org.bluez.LEAdvertisement1"

	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	PropertiesInterface    = "org.freedesktop.DBus.Properties"
)

// UUID16 expands a 16-bit assigned number into the Bluetooth base UUID.
func UUID16(n uint16) string {
	return fmt.Sprintf("0000%04x-0000-1000-8000-00805f9b34fb", n)
}

// Conn wraps the system bus connection with the adapter this process uses.
type Conn struct {
	Bus     *dbus.Conn
	Adapter dbus.ObjectPath
}

// Connect opens the system bus and locates the first powered adapter
// (usually hci0). adapter may name a specific one ("hci1"); empty picks
// the first found.
func Connect(adapter string) (*Conn, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	path, err := findAdapter(bus, adapter)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &Conn{Bus: bus, Adapter: path}, nil
}

func findAdapter(bus *dbus.Conn, adapter string) (dbus.ObjectPath, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := bus.Object(BusName, "/").
		Call(ObjectManagerInterface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return "", fmt.Errorf("enumerate bluez objects: %w", err)
	}

	for path, ifaces := range objects {
		if _, ok := ifaces[AdapterInterface]; !ok {
			continue
		}
		if adapter == "" || strings.HasSuffix(string(path), "/"+adapter) {
			return path, nil
		}
	}
	if adapter != "" {
		return "", fmt.Errorf("bluetooth adapter %q not found", adapter)
	}
	return "", fmt.Errorf("no bluetooth adapter found")
}

// Object returns a handle on a BlueZ-owned object.
func (c *Conn) Object(path dbus.ObjectPath) dbus.BusObject {
	return c.Bus.Object(BusName, path)
}

// AdapterObject returns the adapter handle.
func (c *Conn) AdapterObject() dbus.BusObject {
	return c.Object(c.Adapter)
}

// SetAdapterProperty sets a property on the adapter (Powered, Alias,
// Discoverable, Pairable, ...).
func (c *Conn) SetAdapterProperty(name string, value interface{}) error {
	call := c.AdapterObject().Call(PropertiesInterface+".Set", 0,
		AdapterInterface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return fmt.Errorf("set adapter %s: %w", name, call.Err)
	}
	return nil
}

// DeviceProperty reads one Device1 property from the peer at path.
func (c *Conn) DeviceProperty(path dbus.ObjectPath, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := c.Object(path).Call(PropertiesInterface+".Get", 0, DeviceInterface, name).Store(&v)
	if err != nil {
		return v, fmt.Errorf("get device %s: %w", name, err)
	}
	return v, nil
}

// DevicePathForAddress maps a peer MAC ("AA:BB:CC:DD:EE:FF") onto its
// Device1 object path under the adapter.
func (c *Conn) DevicePathForAddress(address string) dbus.ObjectPath {
	mangled := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(string(c.Adapter) + "/dev_" + mangled)
}

// AddressForDevicePath is the inverse of DevicePathForAddress; it returns
// "" when the path is not a device path.
func AddressForDevicePath(path dbus.ObjectPath) string {
	idx := strings.LastIndex(string(path), "/dev_")
	if idx < 0 {
		return ""
	}
	mac := string(path)[idx+len("/dev_"):]
	if strings.Count(mac, "_") != 5 {
		return ""
	}
	return strings.ReplaceAll(mac, "_", ":")
}

// PairedDevice is one entry of the platform bond list.
type PairedDevice struct {
	Address   string
	Name      string
	Connected bool
}

// PairedDevices lists the peers BlueZ has bonding keys for.
func (c *Conn) PairedDevices(ctx context.Context) ([]PairedDevice, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := c.Bus.Object(BusName, "/").
		CallWithContext(ctx, ObjectManagerInterface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("list bonded peers: %w", err)
	}

	var devices []PairedDevice
	for path, ifaces := range objects {
		props, ok := ifaces[DeviceInterface]
		if !ok {
			continue
		}
		paired, _ := props["Paired"].Value().(bool)
		if !paired {
			continue
		}
		addr := AddressForDevicePath(path)
		if addr == "" {
			continue
		}
		name, _ := props["Alias"].Value().(string)
		connected, _ := props["Connected"].Value().(bool)
		devices = append(devices, PairedDevice{Address: addr, Name: name, Connected: connected})
	}
	return devices, nil
}

// Subscribe adds signal matches for ObjectManager and Properties changes
// under /org/bluez and routes them to ch.
func (c *Conn) Subscribe(ch chan<- *dbus.Signal) error {
	if err := c.Bus.AddMatchSignal(
		dbus.WithMatchSender(BusName),
		dbus.WithMatchInterface(ObjectManagerInterface),
	); err != nil {
		return fmt.Errorf("subscribe to object changes: %w", err)
	}
	if err := c.Bus.AddMatchSignal(
		dbus.WithMatchSender(BusName),
		dbus.WithMatchInterface(PropertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(RootPath),
	); err != nil {
		return fmt.Errorf("subscribe to property changes: %w", err)
	}
	c.Bus.Signal(ch)
	return nil
}

// Close drops the bus connection.
func (c *Conn) Close() error {
	return c.Bus.Close()
}
