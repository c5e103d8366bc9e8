// Package btle implements the encrypted-link transport: a HID-over-GATT
// peripheral served through BlueZ on the system bus. The host bonds with
// the device and subscribes to the input report characteristic; reports
// travel as encrypted notifications.
package btle

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
)

// BondState tracks a peer's position in the bonding handshake.
type BondState uint8

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	}
	return "none"
}

// Config carries the encrypted-link transport settings.
type Config struct {
	Adapter string `help:"Bluetooth adapter to use (empty picks the first)" default:""`
}

type peer struct {
	bond      BondState
	connected bool
}

// Events posted onto the single state-machine goroutine. Platform
// callbacks never mutate transport state directly.
type event interface{}

type notifyEvent struct{ on bool }

type deviceEvent struct {
	address   string
	paired    *bool
	connected *bool
	bonding   bool
}

type removeEvent struct{ address string }

type advertisingEvent struct{ err error }

// Transport is the GATT peripheral. All BlueZ callbacks funnel through the
// events channel; SendReport is the only hot path and takes a short lock.
type Transport struct {
	config    Config
	logger    *slog.Logger
	rawLogger log.RawLogger

	conn  *bluez.Conn
	app   *gattApp
	adv   *advertisement
	agent *agent

	events  chan event
	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	state       transport.State
	peers       map[string]*peer
	notifying   bool
	advertising bool
	closed      bool

	states chan transport.State

	// notify pushes one encoded report to subscribed hosts. Separated from
	// the GATT layer so the state machine is testable without a bus.
	notify func(data []byte) error
}

var _ transport.Transport = (*Transport)(nil)

func New(config Config, logger *slog.Logger, rawLogger log.RawLogger) *Transport {
	return &Transport{
		config:    config,
		logger:    logger,
		rawLogger: rawLogger,
		events:    make(chan event, 32),
		signals:   make(chan *dbus.Signal, 32),
		done:      make(chan struct{}),
		peers:     make(map[string]*peer),
		state:     transport.StateDisconnected,
		states:    make(chan transport.State, 16),
	}
}

// Initialize connects to BlueZ, exports the GATT application, registers
// the pairing agent and starts advertising. Advertising failures that only
// cost visibility surface as the error state instead of aborting.
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

	t.agent = &agent{conn: conn, logger: t.logger, onBond: func(device dbus.ObjectPath) {
		if addr := bluez.AddressForDevicePath(device); addr != "" {
			t.post(deviceEvent{address: addr, bonding: true})
		}
	}}
	if err := t.agent.register(); err != nil {
		conn.Close()
		return err
	}

	t.app = newGattApp(conn, t.logger,
		func(data []byte, options map[string]dbus.Variant) {
			t.logger.Debug("host control point write", "bytes", len(data))
		},
		func(on bool) { t.post(notifyEvent{on: on}) },
	)
	if err := t.app.export(); err != nil {
		t.agent.unregister()
		conn.Close()
		return err
	}
	t.notify = t.app.notifyInput

	t.adv = &advertisement{conn: conn, logger: t.logger}
	fatal, degraded := t.adv.register()
	if fatal != nil {
		t.app.unexport()
		t.agent.unregister()
		conn.Close()
		return fatal
	}
	t.post(advertisingEvent{err: degraded})

	if err := conn.Subscribe(t.signals); err != nil {
		t.Close()
		return err
	}

	t.wg.Add(1)
	go t.run()
	return nil
}

// post hands an event to the state-machine goroutine without ever blocking
// a platform callback.
func (t *Transport) post(ev event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// run is the single goroutine that owns the transport state.
func (t *Transport) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case sig := <-t.signals:
			if ev, ok := translateSignal(sig); ok {
				t.handleEvent(ev)
			}
		case ev := <-t.events:
			t.handleEvent(ev)
		}
	}
}

// translateSignal maps raw BlueZ bus traffic onto transport events.
func translateSignal(sig *dbus.Signal) (event, bool) {
	if sig == nil {
		return nil, false
	}
	switch sig.Name {
	case bluez.PropertiesInterface + ".PropertiesChanged":
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != bluez.DeviceInterface {
			return nil, false
		}
		addr := bluez.AddressForDevicePath(sig.Path)
		if addr == "" {
			return nil, false
		}
		ev := deviceEvent{address: addr}
		if v, ok := changed["Paired"]; ok {
			if b, ok := v.Value().(bool); ok {
				ev.paired = &b
			}
		}
		if v, ok := changed["Connected"]; ok {
			if b, ok := v.Value().(bool); ok {
				ev.connected = &b
			}
		}
		if ev.paired == nil && ev.connected == nil {
			return nil, false
		}
		return ev, true
	case bluez.ObjectManagerInterface + ".InterfacesRemoved":
		var path dbus.ObjectPath
		var ifaces []string
		if err := dbus.Store(sig.Body, &path, &ifaces); err != nil {
			return nil, false
		}
		for _, iface := range ifaces {
			if iface == bluez.DeviceInterface {
				if addr := bluez.AddressForDevicePath(path); addr != "" {
					return removeEvent{address: addr}, true
				}
			}
		}
	}
	return nil, false
}

func (t *Transport) handleEvent(ev event) {
	t.mu.Lock()
	switch e := ev.(type) {
	case notifyEvent:
		t.notifying = e.on
		if e.on {
			t.logger.Info("host subscribed to input reports")
		} else {
			t.logger.Info("host unsubscribed from input reports")
		}
	case deviceEvent:
		p := t.peers[e.address]
		if p == nil {
			p = &peer{}
			t.peers[e.address] = p
		}
		if e.bonding && p.bond == BondNone {
			p.bond = BondBonding
			t.logger.Info("bonding started", "peer", e.address)
		}
		if e.paired != nil {
			if *e.paired {
				p.bond = BondBonded
				t.logger.Info("peer bonded", "peer", e.address)
			} else {
				p.bond = BondNone
			}
		}
		if e.connected != nil {
			p.connected = *e.connected
			if !p.connected {
				// Encryption and subscriptions die with the link.
				t.notifying = false
				t.logger.Info("peer disconnected", "peer", e.address, "bond", p.bond.String())
			} else {
				t.logger.Info("peer connected", "peer", e.address)
			}
		}
	case removeEvent:
		delete(t.peers, e.address)
		t.logger.Info("peer removed", "peer", e.address)
	case advertisingEvent:
		t.advertising = e.err == nil
		if e.err != nil {
			t.logger.Error("advertising unavailable", "error", e.err)
		}
	}
	next := t.recomputeLocked(ev)
	t.mu.Unlock()

	t.setState(next)
}

// recomputeLocked derives the aggregate state from the peer table. The
// caller holds t.mu.
func (t *Transport) recomputeLocked(ev event) transport.State {
	if a, ok := ev.(advertisingEvent); ok && a.err != nil {
		return transport.StateError
	}
	readyPeer := false
	pendingPeer := false
	for _, p := range t.peers {
		if p.connected && p.bond == BondBonded {
			readyPeer = true
		} else if p.connected {
			pendingPeer = true
		}
	}
	switch {
	case readyPeer && t.notifying:
		return transport.StateConnected
	case readyPeer || pendingPeer:
		return transport.StateConnecting
	case t.advertising:
		return transport.StateDiscovering
	default:
		return transport.StateDisconnected
	}
}

// SendReport pushes one 7-byte report as an encrypted notification. It is
// a silent no-op unless a bonded peer is connected AND subscribed; both
// conditions are re-checked on every send because either can drop at any
// moment.
func (t *Transport) SendReport(s input.State) {
	t.mu.Lock()
	ready := t.notifying && t.bondedPeerConnectedLocked()
	notify := t.notify
	t.mu.Unlock()
	if !ready || notify == nil {
		return
	}

	data := report.Encode(s, report.VariantLink)
	if t.rawLogger != nil {
		t.rawLogger.Log(true, data)
	}
	if err := notify(data); err != nil {
		t.logger.Error("failed to notify input report", "error", err)
	}
}

func (t *Transport) bondedPeerConnectedLocked() bool {
	for _, p := range t.peers {
		if p.connected && p.bond == BondBonded {
			return true
		}
	}
	return false
}

// Discover lists the bonded peers BlueZ knows about. The peripheral never
// scans; hosts find the device through advertising instead.
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

// Connect asks BlueZ to bring up the link to a bonded peer. Most of the
// time the host connects inward and this is never called.
func (t *Transport) Connect(ctx context.Context, address string) error {
	if t.conn == nil {
		return fmt.Errorf("transport not initialized")
	}
	path := t.conn.DevicePathForAddress(address)
	call := t.conn.Object(path).CallWithContext(ctx, bluez.DeviceInterface+".Connect", 0)
	if call.Err != nil {
		return fmt.Errorf("connect %s: %w", address, call.Err)
	}
	return nil
}

// Disconnect drops the link to the given peer.
func (t *Transport) Disconnect(address string) error {
	if t.conn == nil {
		return nil
	}
	path := t.conn.DevicePathForAddress(address)
	call := t.conn.Object(path).Call(bluez.DeviceInterface+".Disconnect", 0)
	if call.Err != nil {
		return fmt.Errorf("disconnect %s: %w", address, call.Err)
	}
	return nil
}

func (t *Transport) ConnectionState() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) States() <-chan transport.State { return t.states }

func (t *Transport) Layout() report.Variant { return report.VariantLink }

// SupportsPairedDeviceList is true: Discover/Connect/Disconnect address
// the platform bond list.
func (t *Transport) SupportsPairedDeviceList() bool { return true }

// Close tears the peripheral down: advertising, application, agent, bus.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = transport.StateDisconnected
	t.mu.Unlock()

	close(t.done)
	t.wg.Wait()

	if t.conn != nil {
		if t.adv != nil {
			t.adv.unregister()
		}
		if t.app != nil {
			t.app.unexport()
		}
		if t.agent != nil {
			t.agent.unregister()
		}
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
