package uhid

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"golang.org/x/sys/unix"
)

const (
	// DevicePath is the kernel's user-space HID node.
	DevicePath = "/dev/uhid"

	moduleName = "uhid"

	// Character device numbers for /dev/uhid (misc major 10, uhid minor).
	devMajor = 10
	devMinor = 239
)

// Injector is the seam between the relay server and the kernel device, so
// the server can run against a mock in tests and in degraded mode when the
// node is unavailable.
type Injector interface {
	// Create issues the device-creation command. Only the first call has
	// an effect; repeats are no-ops.
	Create(desc []byte) error
	// Inject forwards one raw report, report-id included.
	Inject(data []byte) error
	// Created reports whether the virtual device exists.
	Created() bool
	// Close destroys the virtual device (if created) and releases the
	// handle.
	Close() error
}

// Device wraps the open uhid node.
type Device struct {
	f      io.ReadWriteCloser
	logger *slog.Logger

	mu      sync.Mutex
	created bool
	closed  bool
}

var _ Injector = (*Device)(nil)

// Open opens /dev/uhid, provisioning the module and node when necessary.
func Open(logger *slog.Logger) (*Device, error) {
	f, err := os.OpenFile(DevicePath, os.O_RDWR, 0)
	if err == nil {
		logger.Info("uhid device opened", "path", DevicePath)
		return &Device{f: f, logger: logger}, nil
	}

	logger.Warn("could not open uhid device directly, attempting setup", "error", err)

	if !moduleLoaded() {
		// modprobe may fail on kernels with uhid built in or without the
		// permission to load modules; the open retry below decides.
		if err := exec.Command("modprobe", moduleName).Run(); err != nil {
			logger.Warn("modprobe uhid failed, proceeding in case it is built-in", "error", err)
		}
	}

	if _, err := os.Stat(DevicePath); os.IsNotExist(err) {
		if err := createNode(); err != nil {
			return nil, fmt.Errorf("create uhid node: %w", err)
		}
		logger.Info("uhid device node created", "path", DevicePath)
	}

	f, err = os.OpenFile(DevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open uhid device: %w", err)
	}
	logger.Info("uhid device opened", "path", DevicePath)
	return &Device{f: f, logger: logger}, nil
}

func moduleLoaded() bool {
	data, err := os.ReadFile("/proc/modules")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), moduleName)
}

func createNode() error {
	dev := unix.Mkdev(devMajor, devMinor)
	if err := unix.Mknod(DevicePath, unix.S_IFCHR|0o666, int(dev)); err != nil {
		// Some environments only allow this through the setuid helper.
		if err := exec.Command("mknod", DevicePath, "c", "10", "239").Run(); err != nil {
			return fmt.Errorf("mknod: %w", err)
		}
	}
	if err := unix.Chmod(DevicePath, 0o666); err != nil {
		_ = exec.Command("chmod", "666", DevicePath).Run()
	}
	return nil
}

// Create issues CREATE2 with the given report descriptor and the device
// identity. The kernel device is created at most once per handle.
func (d *Device) Create(desc []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created {
		return nil
	}

	ev, err := (Create2{
		Name:       descriptor.DeviceName,
		Phys:       descriptor.DevicePhys,
		Uniq:       descriptor.DeviceUniq,
		Bus:        descriptor.BusUSB,
		Vendor:     descriptor.VendorID,
		Product:    descriptor.ProductID,
		Version:    descriptor.Version,
		Descriptor: desc,
	}).Marshal()
	if err != nil {
		return err
	}
	if _, err := d.f.Write(ev); err != nil {
		return fmt.Errorf("write UHID_CREATE2: %w", err)
	}
	d.created = true
	d.logger.Info("virtual device created",
		"name", descriptor.DeviceName,
		"vendor", fmt.Sprintf("0x%04X", descriptor.VendorID),
		"product", fmt.Sprintf("0x%04X", descriptor.ProductID),
		"descriptor_bytes", len(desc))
	return nil
}

// Inject forwards one raw report into the kernel device.
func (d *Device) Inject(data []byte) error {
	d.mu.Lock()
	created := d.created
	d.mu.Unlock()
	if !created {
		return fmt.Errorf("uhid: device not created")
	}

	ev, err := MarshalInput2(data)
	if err != nil {
		return err
	}
	if _, err := d.f.Write(ev); err != nil {
		return fmt.Errorf("write UHID_INPUT2: %w", err)
	}
	return nil
}

// Created reports whether CREATE2 has been issued on this handle.
func (d *Device) Created() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// Close destroys the virtual device before releasing the node.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.created {
		if _, err := d.f.Write(MarshalDestroy()); err != nil {
			d.logger.Error("failed to send UHID_DESTROY", "error", err)
		}
		d.created = false
	}
	return d.f.Close()
}

// DrainEvents reads kernel-originated lifecycle events until the handle is
// closed. The events are logged for diagnostics only; GET_REPORT and
// SET_REPORT are deliberately never answered.
func (d *Device) DrainEvents() {
	buf := make([]byte, ReadEventSize)
	d.logger.Debug("reading uhid events from kernel")

	for {
		n, err := d.f.Read(buf)
		if err != nil {
			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if !closed {
				d.logger.Warn("error reading uhid event", "error", err)
				continue
			}
			d.logger.Debug("stopped reading uhid events")
			return
		}

		t, ok := EventType(buf[:n])
		if !ok {
			continue
		}
		switch t {
		case EventStart, EventOpen:
			d.logger.Info("kernel event", "event", EventTypeName(t))
		case EventStop, EventClose:
			d.logger.Warn("kernel event", "event", EventTypeName(t))
		case EventOutput, EventGetReport, EventSetReport:
			d.logger.Debug("kernel event", "event", EventTypeName(t), "bytes", n)
		}
	}
}
