package btle

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fayaz-modz/AGamePad/internal/bluez"
	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/fayaz-modz/AGamePad/pkg/report"
	"github.com/godbus/dbus/v5"
)

// GATT assigned numbers for the exported services.
const (
	hidServiceID        uint16 = 0x1812
	batteryServiceID    uint16 = 0x180F
	deviceInfoServiceID uint16 = 0x180A

	hidInfoCharID      uint16 = 0x2A4A
	reportMapCharID    uint16 = 0x2A4B
	controlPointCharID uint16 = 0x2A4C
	inputReportCharID  uint16 = 0x2A4D
	protocolModeCharID uint16 = 0x2A4E
	batteryLevelCharID uint16 = 0x2A19
	pnpIDCharID        uint16 = 0x2A50

	reportReferenceDescID uint16 = 0x2908
)

const appPath = dbus.ObjectPath("/io/agamepad/gatt")

// gattDescriptor is a static GATT descriptor exported under a
// characteristic.
type gattDescriptor struct {
	path           dbus.ObjectPath
	characteristic dbus.ObjectPath
	uuid           string
	flags          []string
	value          []byte
}

func (d *gattDescriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return d.value, nil
}

func (d *gattDescriptor) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":           dbus.MakeVariant(d.uuid),
		"Characteristic": dbus.MakeVariant(d.characteristic),
		"Flags":          dbus.MakeVariant(d.flags),
	}
}

// gattCharacteristic is one exported characteristic. Reads serve a value
// callback; writes and notify toggles are forwarded to the transport's
// event queue.
type gattCharacteristic struct {
	path    dbus.ObjectPath
	service dbus.ObjectPath
	uuid    string
	flags   []string

	mu    sync.Mutex
	value func() []byte

	onWrite  func(data []byte, options map[string]dbus.Variant)
	onNotify func(on bool)

	descriptors []*gattDescriptor
}

func (c *gattCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil, dbus.MakeFailedError(fmt.Errorf("characteristic %s is not readable", c.uuid))
	}
	return c.value(), nil
}

func (c *gattCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if c.onWrite == nil {
		return dbus.MakeFailedError(fmt.Errorf("characteristic %s is not writable", c.uuid))
	}
	c.onWrite(value, options)
	return nil
}

func (c *gattCharacteristic) StartNotify() *dbus.Error {
	if c.onNotify == nil {
		return dbus.MakeFailedError(fmt.Errorf("characteristic %s does not notify", c.uuid))
	}
	c.onNotify(true)
	return nil
}

func (c *gattCharacteristic) StopNotify() *dbus.Error {
	if c.onNotify == nil {
		return dbus.MakeFailedError(fmt.Errorf("characteristic %s does not notify", c.uuid))
	}
	c.onNotify(false)
	return nil
}

func (c *gattCharacteristic) properties() map[string]dbus.Variant {
	descPaths := make([]dbus.ObjectPath, len(c.descriptors))
	for i, d := range c.descriptors {
		descPaths[i] = d.path
	}
	return map[string]dbus.Variant{
		"UUID":        dbus.MakeVariant(c.uuid),
		"Service":     dbus.MakeVariant(c.service),
		"Flags":       dbus.MakeVariant(c.flags),
		"Descriptors": dbus.MakeVariant(descPaths),
	}
}

type gattService struct {
	path            dbus.ObjectPath
	uuid            string
	characteristics []*gattCharacteristic
}

func (s *gattService) properties() map[string]dbus.Variant {
	charPaths := make([]dbus.ObjectPath, len(s.characteristics))
	for i, c := range s.characteristics {
		charPaths[i] = c.path
	}
	return map[string]dbus.Variant{
		"UUID":            dbus.MakeVariant(s.uuid),
		"Primary":         dbus.MakeVariant(true),
		"Characteristics": dbus.MakeVariant(charPaths),
	}
}

// gattApp is the ObjectManager-rooted application handed to BlueZ via
// RegisterApplication.
type gattApp struct {
	conn     *bluez.Conn
	logger   *slog.Logger
	services []*gattService

	inputReport *gattCharacteristic
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// application subtree.
func (a *gattApp) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	for _, svc := range a.services {
		objects[svc.path] = map[string]map[string]dbus.Variant{
			bluez.GattServiceInterface: svc.properties(),
		}
		for _, ch := range svc.characteristics {
			objects[ch.path] = map[string]map[string]dbus.Variant{
				bluez.GattCharacteristicInterface: ch.properties(),
			}
			for _, d := range ch.descriptors {
				objects[d.path] = map[string]map[string]dbus.Variant{
					bluez.GattDescriptorInterface: d.properties(),
				}
			}
		}
	}
	return objects, nil
}

// propsHandler serves org.freedesktop.DBus.Properties for one object.
type propsHandler struct {
	iface string
	get   func() map[string]dbus.Variant
}

func (p *propsHandler) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface %s", iface))
	}
	v, ok := p.get()[name]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property %s", name))
	}
	return v, nil
}

func (p *propsHandler) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface %s", iface))
	}
	return p.get(), nil
}

func (p *propsHandler) Set(iface, name string, value dbus.Variant) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("property %s is read-only", name))
}

// newGattApp assembles the HID-over-GATT application: the HID service with
// the fixed 7-byte input report, plus the battery and device information
// services hosts expect from a gamepad.
func newGattApp(conn *bluez.Conn, logger *slog.Logger, onWrite func(data []byte, options map[string]dbus.Variant), onNotify func(on bool)) *gattApp {
	app := &gattApp{conn: conn, logger: logger}

	hidPath := appPath + "/service0"
	hid := &gattService{path: hidPath, uuid: bluez.UUID16(hidServiceID)}

	protocolMode := &gattCharacteristic{
		path:    hidPath + "/char0",
		service: hidPath,
		uuid:    bluez.UUID16(protocolModeCharID),
		flags:   []string{"read", "write-without-response"},
		// Report protocol mode; boot mode is not offered.
		value:   func() []byte { return []byte{0x01} },
		onWrite: func([]byte, map[string]dbus.Variant) {},
	}

	hidInfo := &gattCharacteristic{
		path:    hidPath + "/char1",
		service: hidPath,
		uuid:    bluez.UUID16(hidInfoCharID),
		flags:   []string{"read"},
		// bcdHID 1.11, no country code, remote-wake + normally-connectable.
		value: func() []byte { return []byte{0x11, 0x01, 0x00, 0x03} },
	}

	reportMap := &gattCharacteristic{
		path:    hidPath + "/char2",
		service: hidPath,
		uuid:    bluez.UUID16(reportMapCharID),
		flags:   []string{"encrypt-read"},
		value:   descriptor.LinkBytes,
	}

	controlPoint := &gattCharacteristic{
		path:    hidPath + "/char3",
		service: hidPath,
		uuid:    bluez.UUID16(controlPointCharID),
		flags:   []string{"write-without-response"},
		onWrite: onWrite,
	}

	inputReport := &gattCharacteristic{
		path:     hidPath + "/char4",
		service:  hidPath,
		uuid:     bluez.UUID16(inputReportCharID),
		flags:    []string{"encrypt-read", "encrypt-notify"},
		value:    func() []byte { return make([]byte, report.LinkSize) },
		onNotify: onNotify,
	}
	inputReport.descriptors = []*gattDescriptor{{
		path:           inputReport.path + "/desc0",
		characteristic: inputReport.path,
		uuid:           bluez.UUID16(reportReferenceDescID),
		flags:          []string{"read"},
		// Report ID and type (input).
		value: []byte{report.ReportID, 0x01},
	}}
	app.inputReport = inputReport

	hid.characteristics = []*gattCharacteristic{protocolMode, hidInfo, reportMap, controlPoint, inputReport}

	batteryPath := appPath + "/service1"
	battery := &gattService{path: batteryPath, uuid: bluez.UUID16(batteryServiceID)}
	battery.characteristics = []*gattCharacteristic{{
		path:    batteryPath + "/char0",
		service: batteryPath,
		uuid:    bluez.UUID16(batteryLevelCharID),
		flags:   []string{"read"},
		// No battery telemetry from the input surface yet; report full.
		value: func() []byte { return []byte{100} },
	}}

	infoPath := appPath + "/service2"
	info := &gattService{path: infoPath, uuid: bluez.UUID16(deviceInfoServiceID)}
	info.characteristics = []*gattCharacteristic{{
		path:    infoPath + "/char0",
		service: infoPath,
		uuid:    bluez.UUID16(pnpIDCharID),
		flags:   []string{"read"},
		value:   pnpID,
	}}

	app.services = []*gattService{hid, battery, info}
	return app
}

// pnpID encodes the PnP ID characteristic: USB vendor ID source, then
// vendor, product, and version little-endian.
func pnpID() []byte {
	return []byte{
		0x02,
		byte(descriptor.VendorID & 0xFF), byte(descriptor.VendorID >> 8),
		byte(descriptor.ProductID & 0xFF), byte(descriptor.ProductID >> 8),
		byte(descriptor.Version & 0xFF), byte(descriptor.Version >> 8),
	}
}

// export publishes the application objects on the bus and registers the
// subtree with the adapter's GattManager1.
func (a *gattApp) export() error {
	bus := a.conn.Bus
	if err := bus.Export(a, appPath, bluez.ObjectManagerInterface); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}

	for _, svc := range a.services {
		if err := bus.Export(struct{}{}, svc.path, bluez.GattServiceInterface); err != nil {
			return fmt.Errorf("export service %s: %w", svc.uuid, err)
		}
		if err := bus.Export(&propsHandler{iface: bluez.GattServiceInterface, get: svc.properties}, svc.path, bluez.PropertiesInterface); err != nil {
			return fmt.Errorf("export service properties %s: %w", svc.uuid, err)
		}
		for _, ch := range svc.characteristics {
			if err := bus.Export(ch, ch.path, bluez.GattCharacteristicInterface); err != nil {
				return fmt.Errorf("export characteristic %s: %w", ch.uuid, err)
			}
			if err := bus.Export(&propsHandler{iface: bluez.GattCharacteristicInterface, get: ch.properties}, ch.path, bluez.PropertiesInterface); err != nil {
				return fmt.Errorf("export characteristic properties %s: %w", ch.uuid, err)
			}
			for _, d := range ch.descriptors {
				if err := bus.Export(d, d.path, bluez.GattDescriptorInterface); err != nil {
					return fmt.Errorf("export descriptor %s: %w", d.uuid, err)
				}
				if err := bus.Export(&propsHandler{iface: bluez.GattDescriptorInterface, get: d.properties}, d.path, bluez.PropertiesInterface); err != nil {
					return fmt.Errorf("export descriptor properties %s: %w", d.uuid, err)
				}
			}
		}
	}

	call := a.conn.AdapterObject().Call(bluez.GattManagerInterface+".RegisterApplication", 0,
		appPath, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("register gatt application: %w", call.Err)
	}
	a.logger.Info("gatt application registered", "services", len(a.services))
	return nil
}

// unexport removes the application from the adapter.
func (a *gattApp) unexport() {
	call := a.conn.AdapterObject().Call(bluez.GattManagerInterface+".UnregisterApplication", 0, appPath)
	if call.Err != nil {
		a.logger.Debug("failed to unregister gatt application", "error", call.Err)
	}
}

// notifyInput pushes one report to subscribed centrals by emitting a Value
// change on the input report characteristic.
func (a *gattApp) notifyInput(data []byte) error {
	return a.conn.Bus.Emit(a.inputReport.path,
		bluez.PropertiesInterface+".PropertiesChanged",
		bluez.GattCharacteristicInterface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(data)},
		[]string{})
}
