// Package transport defines the contract shared by the three report
// transports (paired-profile HID, encrypted-link HID, UDP relay) and the
// vocabulary the connection manager exposes upward.
package transport

import (
	"context"

	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/report"
)

// State is the unified connection state vocabulary. Each transport maps
// its own pairing/connection machine onto these values.
type State uint8

const (
	StateDisconnected State = iota
	// StateDiscovering covers both client-side discovery scans and
	// peripheral-side advertising.
	StateDiscovering
	// StateConnecting covers profile-level connect attempts and pairing or
	// bonding handshakes in flight.
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// DeviceDescriptor identifies a discovered peer. Identity is the Address;
// a response with a newer Timestamp supersedes an older one for the same
// address.
type DeviceDescriptor struct {
	Address   string `json:"ip"`
	Name      string `json:"device_name"`
	Timestamp int64  `json:"timestamp"`
}

// Transport is the single contract implemented by all three transports.
//
// SendReport is fire-and-forget and must never block the input sampling
// loop; failures are logged by the transport and surfaced only through the
// state observable. Callers that need pre-flight checks use
// ConnectionState, not errors.
type Transport interface {
	// Initialize prepares the transport (profile registration, GATT
	// application export, socket binding). Registration outcomes that the
	// platform reports asynchronously arrive through States.
	Initialize(ctx context.Context) error

	// Connect requests a connection to a previously discovered or bonded
	// peer. For peripheral-role transports this is a no-op: the peer
	// initiates.
	Connect(ctx context.Context, address string) error

	// Disconnect drops the link to the given peer, if any.
	Disconnect(address string) error

	// SendReport encodes and dispatches the state to every connected peer.
	// With zero connected peers it is a no-op.
	SendReport(s input.State)

	// Discover collects peer descriptors over a bounded window. It never
	// blocks past the context deadline or the transport's default window.
	Discover(ctx context.Context) ([]DeviceDescriptor, error)

	// ConnectionState returns the current aggregate state.
	ConnectionState() State

	// States is the transport's state observable. The channel is owned by
	// the transport and closed on Close.
	States() <-chan State

	// Layout is the report layout this transport puts on the wire.
	Layout() report.Variant

	// SupportsPairedDeviceList reports whether Connect/Disconnect address
	// the platform's bonded-peer list (capability query instead of type
	// inspection).
	SupportsPairedDeviceList() bool

	// Close stops the transport and releases its resources.
	Close() error
}
