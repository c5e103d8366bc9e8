// Package manager owns the single active transport and the switching
// between the three modes. The rest of the process talks to the manager,
// never to a transport directly.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fayaz-modz/AGamePad/internal/configpaths"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
)

// Mode names one of the three transports.
type Mode string

const (
	ModeUDP     Mode = "udp"
	ModeClassic Mode = "classic"
	ModeBLE     Mode = "ble"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUDP, ModeClassic, ModeBLE:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown transport mode %q (udp, classic, ble)", s)
}

// Factory builds a transport for a mode. Injected so the manager carries
// no transport package dependencies and tests swap in fakes.
type Factory func(mode Mode) (transport.Transport, error)

const preferenceFile = "transport.json"

type preference struct {
	Mode Mode `json:"mode"`
}

// Manager holds exactly one active transport at a time.
type Manager struct {
	logger   *slog.Logger
	factory  Factory
	prefPath string

	mu     sync.Mutex
	mode   Mode
	active transport.Transport
	closed bool

	states chan transport.State
	fwdWG  sync.WaitGroup
}

// New creates a manager. prefDir is where the mode preference persists;
// empty disables persistence.
func New(logger *slog.Logger, factory Factory, prefDir string) *Manager {
	prefPath := ""
	if prefDir != "" {
		prefPath = filepath.Join(prefDir, preferenceFile)
	}
	return &Manager{
		logger:   logger,
		factory:  factory,
		prefPath: prefPath,
		states:   make(chan transport.State, 16),
	}
}

// PreferredMode loads the persisted mode preference, falling back to the
// given default when none is stored.
func PreferredMode(prefDir string, fallback Mode) Mode {
	if prefDir == "" {
		return fallback
	}
	data, err := os.ReadFile(filepath.Join(prefDir, preferenceFile))
	if err != nil {
		return fallback
	}
	var p preference
	if err := json.Unmarshal(data, &p); err != nil {
		return fallback
	}
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return fallback
	}
	return p.Mode
}

// SetMode switches the active transport. The old transport is stopped best
// effort before the new one initializes; a failed switch leaves the
// manager without an active transport rather than half-switched. The
// method is serialized: a switch in progress blocks the next one.
func (m *Manager) SetMode(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("manager is closed")
	}
	if m.active != nil && m.mode == mode {
		return nil
	}

	if m.active != nil {
		if err := m.active.Close(); err != nil {
			m.logger.Warn("failed to stop previous transport", "mode", m.mode, "error", err)
		}
		m.active = nil
	}

	next, err := m.factory(mode)
	if err != nil {
		return fmt.Errorf("build %s transport: %w", mode, err)
	}
	if err := next.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s transport: %w", mode, err)
	}

	m.active = next
	m.mode = mode
	m.logger.Info("transport activated", "mode", mode, "layout", next.Layout().String())

	m.fwdWG.Add(1)
	go m.forward(next.States())

	m.persistLocked(mode)
	return nil
}

// forward relays one transport's state stream onto the aggregated
// observable; it ends when the transport closes its channel.
func (m *Manager) forward(ch <-chan transport.State) {
	defer m.fwdWG.Done()
	for st := range ch {
		select {
		case m.states <- st:
		default:
		}
	}
}

func (m *Manager) persistLocked(mode Mode) {
	if m.prefPath == "" {
		return
	}
	data, err := json.MarshalIndent(preference{Mode: mode}, "", "  ")
	if err != nil {
		return
	}
	if err := configpaths.EnsureDir(m.prefPath); err != nil {
		m.logger.Debug("could not create preference directory", "error", err)
		return
	}
	if err := os.WriteFile(m.prefPath, data, 0o644); err != nil {
		m.logger.Debug("could not persist transport preference", "error", err)
	}
}

// Mode returns the active mode, or "" when no transport is active.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.mode
}

// Send hands a state snapshot to the active transport; without one it is
// a no-op.
func (m *Manager) Send(s input.State) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return
	}
	active.SendReport(s.Clamp())
}

// Discover delegates to the active transport.
func (m *Manager) Discover(ctx context.Context) ([]transport.DeviceDescriptor, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return nil, fmt.Errorf("no active transport")
	}
	return active.Discover(ctx)
}

// Connect delegates to the active transport.
func (m *Manager) Connect(ctx context.Context, address string) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no active transport")
	}
	return active.Connect(ctx, address)
}

// Disconnect delegates to the active transport.
func (m *Manager) Disconnect(address string) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return nil
	}
	return active.Disconnect(address)
}

// ConnectionState returns the active transport's state, or disconnected
// when none is active.
func (m *Manager) ConnectionState() transport.State {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active == nil {
		return transport.StateDisconnected
	}
	return active.ConnectionState()
}

// States is the aggregated observable across transport switches.
func (m *Manager) States() <-chan transport.State { return m.states }

// SupportsPairedDeviceList reports the active transport's capability.
func (m *Manager) SupportsPairedDeviceList() bool {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	return active != nil && active.SupportsPairedDeviceList()
}

// Close stops the active transport and the aggregated observable.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	active := m.active
	m.active = nil
	m.mu.Unlock()

	var err error
	if active != nil {
		err = active.Close()
	}
	m.fwdWG.Wait()
	close(m.states)
	return err
}
