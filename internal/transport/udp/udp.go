// Package udp implements the network transport client: bounded broadcast
// discovery, a descriptor handshake against the relay server, and raw
// report datagrams with a liveness resend loop.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/report"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
	"golang.org/x/sys/unix"
)

const (
	discoverMessage = "discover"
	descMagic       = "DESC"
	descAck         = "DESC_OK"

	readBufferSize = 2048
	stateBuffer    = 16
)

// Config carries the client-side UDP transport settings.
type Config struct {
	BroadcastPort    int           `help:"UDP port servers answer discovery on" default:"2242"`
	DataPort         int           `help:"UDP port for handshakes and reports" default:"2243"`
	DiscoveryWindow  time.Duration `help:"How long a discovery scan collects replies" default:"5s"`
	HandshakeTimeout time.Duration `help:"How long to wait for the descriptor acknowledgment" default:"5s"`
	LivenessInterval time.Duration `help:"Resend interval keeping the server's connection alive" default:"2s"`

	// BroadcastAddress is the discovery destination. A bare host is
	// combined with BroadcastPort; a host:port value is used verbatim.
	BroadcastAddress string `help:"Destination for discovery broadcasts" default:"255.255.255.255"`
}

// Transport is the UDP relay client. It speaks the 10-byte report layout
// and keeps the server attached by resending the last report when the
// input stream goes quiet.
type Transport struct {
	config    Config
	logger    *slog.Logger
	rawLogger log.RawLogger
	policy    report.TriggerPolicy

	mu         sync.Mutex
	state      transport.State
	conn       *net.UDPConn
	peer       string
	lastReport []byte
	lastSent   time.Time
	stopAlive  chan struct{}
	closed     bool

	states chan transport.State
}

var _ transport.Transport = (*Transport)(nil)

func New(config Config, logger *slog.Logger, rawLogger log.RawLogger) *Transport {
	return &Transport{
		config:    config,
		logger:    logger,
		rawLogger: rawLogger,
		state:     transport.StateDisconnected,
		states:    make(chan transport.State, stateBuffer),
	}
}

// Initialize has no platform registration to do for UDP; the transport is
// usable immediately.
func (t *Transport) Initialize(ctx context.Context) error {
	return nil
}

// Discover broadcasts a discovery request and collects replies until the
// window (or the context) expires. Replies are deduplicated by address,
// with a newer timestamp superseding an older one.
func (t *Transport) Discover(ctx context.Context) ([]transport.DeviceDescriptor, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("open discovery socket: %w", err)
	}
	defer conn.Close()
	enableBroadcast(conn)

	target := t.config.BroadcastAddress
	if !strings.Contains(target, ":") {
		target = fmt.Sprintf("%s:%d", target, t.config.BroadcastPort)
	}
	bAddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("resolve discovery target: %w", err)
	}

	prev := t.setState(transport.StateDiscovering)
	defer t.restoreState(prev, transport.StateDiscovering)

	if _, err := conn.WriteToUDP([]byte(discoverMessage), bAddr); err != nil {
		return nil, fmt.Errorf("send discovery request: %w", err)
	}

	deadline := time.Now().Add(t.config.DiscoveryWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	seen := make(map[string]transport.DeviceDescriptor)
	var order []string
	buf := make([]byte, readBufferSize)

	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return nil, fmt.Errorf("read discovery reply: %w", err)
		}

		var info transport.DeviceDescriptor
		if err := json.Unmarshal(buf[:n], &info); err != nil {
			t.logger.Debug("ignoring malformed discovery reply", "from", addr.String(), "error", err)
			continue
		}
		if info.Address == "" {
			info.Address = addr.IP.String()
		}

		if old, ok := seen[info.Address]; ok {
			if info.Timestamp > old.Timestamp {
				seen[info.Address] = info
			}
			continue
		}
		seen[info.Address] = info
		order = append(order, info.Address)
		t.logger.Info("discovered server", "address", info.Address, "name", info.Name)
	}

	devices := make([]transport.DeviceDescriptor, 0, len(order))
	for _, a := range order {
		devices = append(devices, seen[a])
	}
	return devices, nil
}

// Connect performs the descriptor handshake against the server's data
// port. The connection state only changes once the acknowledgment arrives;
// a timeout or unexpected reply leaves the transport where it was.
func (t *Transport) Connect(ctx context.Context, address string) error {
	if !strings.Contains(address, ":") {
		address = fmt.Sprintf("%s:%d", address, t.config.DataPort)
	}
	dAddr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, dAddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	prev := t.setState(transport.StateConnecting)

	desc := descriptor.NetBytes()
	payload := append([]byte(descMagic), desc...)
	if t.rawLogger != nil {
		t.rawLogger.Log(true, payload)
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		t.restoreState(prev, transport.StateConnecting)
		return fmt.Errorf("send descriptor: %w", err)
	}

	deadline := time.Now().Add(t.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		t.restoreState(prev, transport.StateConnecting)
		return err
	}

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		t.restoreState(prev, transport.StateConnecting)
		return fmt.Errorf("wait for descriptor acknowledgment: %w", err)
	}
	if t.rawLogger != nil {
		t.rawLogger.Log(false, buf[:n])
	}
	if string(buf[:n]) != descAck {
		conn.Close()
		t.restoreState(prev, transport.StateConnecting)
		return fmt.Errorf("unexpected handshake reply %q", string(buf[:n]))
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.mu.Lock()
	if t.conn != nil {
		t.teardownLocked()
	}
	t.conn = conn
	t.peer = dAddr.String()
	t.lastReport = nil
	t.lastSent = time.Now()
	t.stopAlive = make(chan struct{})
	go t.keepAlive(t.stopAlive)
	t.mu.Unlock()

	t.setState(transport.StateConnected)
	t.logger.Info("connected to server", "address", dAddr.String())
	return nil
}

// Disconnect drops the current link. Unknown addresses are a no-op.
func (t *Transport) Disconnect(address string) error {
	t.mu.Lock()
	if t.conn == nil || (address != "" && !strings.HasPrefix(t.peer, strings.Split(address, ":")[0])) {
		t.mu.Unlock()
		return nil
	}
	t.teardownLocked()
	t.mu.Unlock()

	t.setState(transport.StateDisconnected)
	return nil
}

// SendReport encodes the state into the 10-byte layout and fires it at the
// server. Without a connection it is a no-op; a send failure tears the
// link down and surfaces through the state observable.
func (t *Transport) SendReport(s input.State) {
	data := report.EncodeWithPolicy(s, report.VariantNet, t.policy)
	t.send(data)
}

func (t *Transport) send(data []byte) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return
	}
	t.lastReport = data
	t.lastSent = time.Now()
	t.mu.Unlock()

	if t.rawLogger != nil {
		t.rawLogger.Log(true, data)
	}
	if _, err := conn.Write(data); err != nil {
		t.logger.Error("failed to send report, dropping connection", "error", err)
		t.mu.Lock()
		t.teardownLocked()
		t.mu.Unlock()
		t.setState(transport.StateError)
	}
}

// keepAlive resends the previous report bytes unchanged while the input
// stream is quiet, so the server's silence timeout never fires on an idle
// but attached client.
func (t *Transport) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(t.config.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.conn == nil {
			t.mu.Unlock()
			return
		}
		idle := time.Since(t.lastSent) >= t.config.LivenessInterval
		data := t.lastReport
		t.mu.Unlock()
		if !idle {
			continue
		}
		if data == nil {
			data = report.EncodeWithPolicy(input.Neutral(), report.VariantNet, t.policy)
		}
		t.send(data)
	}
}

func (t *Transport) ConnectionState() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) States() <-chan transport.State { return t.states }

func (t *Transport) Layout() report.Variant { return report.VariantNet }

// SupportsPairedDeviceList is false: peers come from discovery, not a
// platform bond list.
func (t *Transport) SupportsPairedDeviceList() bool { return false }

// Close drops the connection and closes the state observable.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.teardownLocked()
	t.state = transport.StateDisconnected
	t.mu.Unlock()

	close(t.states)
	return nil
}

// teardownLocked closes the data socket and stops the liveness loop. The
// caller holds t.mu.
func (t *Transport) teardownLocked() {
	if t.stopAlive != nil {
		close(t.stopAlive)
		t.stopAlive = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.peer = ""
	t.lastReport = nil
}

// setState publishes the new state and returns the previous one.
func (t *Transport) setState(st transport.State) transport.State {
	t.mu.Lock()
	prev := t.state
	if t.closed || prev == st {
		t.mu.Unlock()
		return prev
	}
	t.state = st
	t.mu.Unlock()

	select {
	case t.states <- st:
	default:
		// Observer lagging; current state remains queryable.
	}
	return prev
}

// restoreState undoes a transient state, but only when no concurrent
// transition has happened since.
func (t *Transport) restoreState(prev, transient transport.State) {
	t.mu.Lock()
	cur := t.state
	t.mu.Unlock()
	if cur == transient {
		t.setState(prev)
	}
}

// enableBroadcast sets SO_BROADCAST so discovery can target the subnet
// broadcast address. Failure is non-fatal: unicast targets still work.
func enableBroadcast(conn *net.UDPConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
}
