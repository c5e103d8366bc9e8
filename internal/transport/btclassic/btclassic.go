// Package btclassic implements the paired-profile transport: a classic
// Bluetooth HID device registered with BlueZ as a profile. Bonded hosts
// connect the HID interrupt channel; reports go out as HIDP input frames.
package btclassic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/bluez"
	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/report"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

// hidpInputHeader prefixes every interrupt-channel frame: DATA transaction
// carrying an input report.
const hidpInputHeader = 0xA1

// Config carries the paired-profile transport settings.
type Config struct {
	Adapter        string        `help:"Bluetooth adapter to use (empty picks the first)" default:""`
	ResumeInterval time.Duration `help:"How often a revoked profile registration is retried" default:"5s"`
}

type event interface{}

type connectEvent struct {
	device dbus.ObjectPath
	fd     int
}

type disconnectEvent struct{ device dbus.ObjectPath }

type releaseEvent struct{}

// Transport is the classic HID device. Profile callbacks funnel through
// the events channel; SendReport writes straight to the peer fds.
type Transport struct {
	config    Config
	logger    *slog.Logger
	rawLogger log.RawLogger

	conn *bluez.Conn

	events chan event
	done   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      transport.State
	peers      map[string]int // address -> interrupt channel fd
	registered bool
	closed     bool

	states chan transport.State

	// writeFD performs one nonblocking frame write; a seam so the state
	// machine is testable without live L2CAP sockets.
	writeFD func(fd int, data []byte) error
}

var _ transport.Transport = (*Transport)(nil)

func New(config Config, logger *slog.Logger, rawLogger log.RawLogger) *Transport {
	return &Transport{
		config:    config,
		logger:    logger,
		rawLogger: rawLogger,
		events:    make(chan event, 32),
		done:      make(chan struct{}),
		peers:     make(map[string]int),
		state:     transport.StateDisconnected,
		states:    make(chan transport.State, 16),
		writeFD:   writeNonblocking,
	}
}

// Initialize connects to BlueZ and registers the HID profile. The adapter
// device-class hint is best effort: most kernels expose Class read-only
// and the profile record carries the gamepad class anyway.
func (t *Transport) Initialize(ctx context.Context) error {
	conn, err := bluez.Connect(t.config.Adapter)
	if err != nil {
		return err
	}
	t.conn = conn

	for name, value := range map[string]interface{}{
		"Powered":  true,
		"Pairable": true,
		"Alias":    descriptor.DeviceName,
	} {
		if err := conn.SetAdapterProperty(name, value); err != nil {
			conn.Close()
			return err
		}
	}
	if err := conn.SetAdapterProperty("Class", uint32(classOfDevice)); err != nil {
		t.logger.Debug("device class hint not applied", "error", err)
	}

	handler := &profileHandler{
		logger:       t.logger,
		onConnect:    func(device dbus.ObjectPath, fd int) { t.post(connectEvent{device: device, fd: fd}) },
		onDisconnect: func(device dbus.ObjectPath) { t.post(disconnectEvent{device: device}) },
		onRelease:    func() { t.post(releaseEvent{}) },
	}
	if err := registerProfile(conn, t.logger, handler); err != nil {
		conn.Close()
		return err
	}
	t.mu.Lock()
	t.registered = true
	t.mu.Unlock()
	t.setState(transport.StateDiscovering)

	t.wg.Add(1)
	go t.run()
	return nil
}

func (t *Transport) post(ev event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// run owns the peer table and retries a revoked registration.
func (t *Transport) run() {
	defer t.wg.Done()
	resume := time.NewTicker(t.config.ResumeInterval)
	defer resume.Stop()

	for {
		select {
		case <-t.done:
			return
		case ev := <-t.events:
			t.handleEvent(ev)
		case <-resume.C:
			t.resumeRegistration()
		}
	}
}

func (t *Transport) handleEvent(ev event) {
	t.mu.Lock()
	switch e := ev.(type) {
	case connectEvent:
		addr := bluez.AddressForDevicePath(e.device)
		if addr == "" {
			t.logger.Warn("connection from unparseable device path", "device", e.device)
			closeFD(e.fd)
			break
		}
		if old, ok := t.peers[addr]; ok {
			closeFD(old)
		}
		if err := unix.SetNonblock(e.fd, true); err != nil {
			t.logger.Debug("could not set peer fd nonblocking", "error", err)
		}
		t.peers[addr] = e.fd
		t.logger.Info("host connected", "peer", addr)
	case disconnectEvent:
		addr := bluez.AddressForDevicePath(e.device)
		if fd, ok := t.peers[addr]; ok {
			closeFD(fd)
			delete(t.peers, addr)
			t.logger.Info("host disconnected", "peer", addr)
		}
	case releaseEvent:
		t.registered = false
	}
	next := t.recomputeLocked()
	t.mu.Unlock()

	t.setState(next)
}

func (t *Transport) recomputeLocked() transport.State {
	switch {
	case len(t.peers) > 0:
		return transport.StateConnected
	case t.registered:
		return transport.StateDiscovering
	default:
		return transport.StateDisconnected
	}
}

// resumeRegistration re-registers the profile after BlueZ revoked it
// (daemon restart, another HID device claiming the UUID and exiting).
func (t *Transport) resumeRegistration() {
	t.mu.Lock()
	needed := !t.registered && t.conn != nil
	t.mu.Unlock()
	if !needed {
		return
	}

	handler := &profileHandler{
		logger:       t.logger,
		onConnect:    func(device dbus.ObjectPath, fd int) { t.post(connectEvent{device: device, fd: fd}) },
		onDisconnect: func(device dbus.ObjectPath) { t.post(disconnectEvent{device: device}) },
		onRelease:    func() { t.post(releaseEvent{}) },
	}
	if err := registerProfile(t.conn, t.logger, handler); err != nil {
		t.logger.Warn("profile re-registration failed", "error", err)
		return
	}
	t.mu.Lock()
	t.registered = true
	next := t.recomputeLocked()
	t.mu.Unlock()
	t.setState(next)
	t.logger.Info("hid profile registration resumed")
}

// SendReport frames the state as a HIDP input report and writes it to
// every connected host without blocking. With zero hosts it is a no-op;
// a full socket buffer drops the frame rather than stalling the sampler.
func (t *Transport) SendReport(s input.State) {
	t.mu.Lock()
	if len(t.peers) == 0 {
		t.mu.Unlock()
		return
	}
	fds := make(map[string]int, len(t.peers))
	for addr, fd := range t.peers {
		fds[addr] = fd
	}
	t.mu.Unlock()

	data := make([]byte, 0, report.ClassicSize+1)
	data = append(data, hidpInputHeader)
	data = append(data, report.Encode(s, report.VariantClassic)...)
	if t.rawLogger != nil {
		t.rawLogger.Log(true, data)
	}

	for addr, fd := range fds {
		if err := t.writeFD(fd, data); err != nil {
			if err == unix.EAGAIN {
				continue
			}
			t.logger.Warn("dropping host after write failure", "peer", addr, "error", err)
			t.mu.Lock()
			if cur, ok := t.peers[addr]; ok && cur == fd {
				closeFD(fd)
				delete(t.peers, addr)
			}
			next := t.recomputeLocked()
			t.mu.Unlock()
			t.setState(next)
		}
	}
}

func writeNonblocking(fd int, data []byte) error {
	_, err := unix.Write(fd, data)
	return err
}

// Discover returns the platform bond list; classic HID peers must have
// paired through the platform first.
func (t *Transport) Discover(ctx context.Context) ([]transport.DeviceDescriptor, error) {
	if t.conn == nil {
		return nil, nil
	}
	paired, err := t.conn.PairedDevices(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	devices := make([]transport.DeviceDescriptor, 0, len(paired))
	for _, p := range paired {
		devices = append(devices, transport.DeviceDescriptor{
			Address:   p.Address,
			Name:      p.Name,
			Timestamp: now,
		})
	}
	return devices, nil
}

// Connect asks BlueZ to connect the HID profile on a bonded host. Without
// a live registration there is nothing to connect to, so the call logs
// and returns.
func (t *Transport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	registered := t.registered
	t.mu.Unlock()
	if !registered || t.conn == nil {
		t.logger.Info("hid profile not registered, skipping connect", "peer", address)
		return nil
	}

	path := t.conn.DevicePathForAddress(address)
	call := t.conn.Object(path).CallWithContext(ctx, bluez.DeviceInterface+".ConnectProfile", 0, hidProfileUUID)
	if call.Err != nil {
		return fmt.Errorf("connect profile %s: %w", address, call.Err)
	}
	return nil
}

// Disconnect drops the HID profile link to the given host.
func (t *Transport) Disconnect(address string) error {
	t.mu.Lock()
	registered := t.registered
	t.mu.Unlock()
	if !registered || t.conn == nil {
		t.logger.Info("hid profile not registered, skipping disconnect", "peer", address)
		return nil
	}

	path := t.conn.DevicePathForAddress(address)
	call := t.conn.Object(path).Call(bluez.DeviceInterface+".DisconnectProfile", 0, hidProfileUUID)
	if call.Err != nil {
		return fmt.Errorf("disconnect profile %s: %w", address, call.Err)
	}
	return nil
}

func (t *Transport) ConnectionState() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) States() <-chan transport.State { return t.states }

func (t *Transport) Layout() report.Variant { return report.VariantClassic }

// SupportsPairedDeviceList is true: peers come from the platform bond
// list.
func (t *Transport) SupportsPairedDeviceList() bool { return true }

// Close unregisters the profile and closes every peer channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for addr, fd := range t.peers {
		closeFD(fd)
		delete(t.peers, addr)
	}
	t.state = transport.StateDisconnected
	started := t.conn != nil
	t.mu.Unlock()

	close(t.done)
	if started {
		t.wg.Wait()
		unregisterProfile(t.conn, t.logger)
		t.conn.Close()
	}
	close(t.states)
	return nil
}

func (t *Transport) setState(st transport.State) {
	t.mu.Lock()
	if t.closed || t.state == st {
		t.mu.Unlock()
		return
	}
	t.state = st
	t.mu.Unlock()

	select {
	case t.states <- st:
	default:
	}
}
