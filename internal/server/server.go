// Package server implements the virtual-device side of the UDP transport:
// discovery responses and self-broadcasts on one port, descriptor
// handshakes and report relay into the kernel device on the other.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/internal/uhid"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
)

const (
	// descMagic prefixes a descriptor handshake packet.
	descMagic = "DESC"
	// descAck is the literal acknowledgment for an accepted handshake.
	descAck = "DESC_OK"

	readBufferSize = 2048
)

// Server answers discovery, accepts one descriptor handshake, and relays
// raw report datagrams into the kernel virtual device.
type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger

	// injector is nil in degraded mode: discovery and broadcasting keep
	// working, input is dropped.
	injector uhid.Injector

	broadcastConn *net.UDPConn
	dataConn      *net.UDPConn

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu         sync.Mutex
	connected  bool
	lastInput  time.Time
	descriptor []byte
}

// New creates a relay server. injector may be nil when the uhid node could
// not be opened; the server then runs in degraded mode.
func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger, injector uhid.Injector) *Server {
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		injector:  injector,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ListenAndServe binds both UDP ports and serves until Close. Failing to
// bind either port is the only fatal startup error.
func (s *Server) ListenAndServe() error {
	bAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", s.config.BroadcastPort))
	if err != nil {
		return fmt.Errorf("resolve broadcast address: %w", err)
	}
	s.broadcastConn, err = net.ListenUDP("udp", bAddr)
	if err != nil {
		return fmt.Errorf("listen on broadcast port: %w", err)
	}

	dAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", s.config.DataPort))
	if err != nil {
		s.broadcastConn.Close()
		return fmt.Errorf("resolve data address: %w", err)
	}
	s.dataConn, err = net.ListenUDP("udp", dAddr)
	if err != nil {
		s.broadcastConn.Close()
		return fmt.Errorf("listen on data port: %w", err)
	}

	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("relay server listening",
		"discovery", s.broadcastConn.LocalAddr().String(),
		"data", s.dataConn.LocalAddr().String(),
		"name", s.config.DeviceName)

	s.wg.Add(3)
	go s.serveDiscovery()
	go s.serveData()
	go s.broadcastLoop()

	s.wg.Wait()
	return nil
}

// Ready is closed once both sockets are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BroadcastAddr returns the bound discovery socket address.
func (s *Server) BroadcastAddr() *net.UDPAddr {
	return s.broadcastConn.LocalAddr().(*net.UDPAddr)
}

// DataAddr returns the bound data socket address.
func (s *Server) DataAddr() *net.UDPAddr {
	return s.dataConn.LocalAddr().(*net.UDPAddr)
}

// Connected reports whether a client is currently considered attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close stops the server, destroying the virtual device if one exists.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.broadcastConn != nil {
			s.broadcastConn.Close()
		}
		if s.dataConn != nil {
			s.dataConn.Close()
		}
		if s.injector != nil {
			if err := s.injector.Close(); err != nil {
				s.logger.Error("failed to close virtual device", "error", err)
			}
		}
	})
	return nil
}

func (s *Server) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// serveDiscovery answers "discover" requests and peer device_info
// advertisements with this server's own descriptor.
func (s *Server) serveDiscovery() {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		n, addr, err := s.broadcastConn.ReadFromUDP(buf)
		if err != nil {
			if s.closed() {
				return
			}
			s.logger.Error("error reading discovery message", "error", err)
			continue
		}

		message := strings.TrimSpace(string(buf[:n]))
		s.logger.Log(context.Background(), log.LevelTrace, "discovery message", "from", addr.String(), "message", message)

		if strings.EqualFold(message, "discover") || strings.Contains(message, "device_info") {
			s.respondToDiscovery(addr)
		}
	}
}

func (s *Server) respondToDiscovery(addr *net.UDPAddr) {
	response, err := json.Marshal(s.deviceInfo())
	if err != nil {
		s.logger.Error("failed to marshal device info", "error", err)
		return
	}
	if _, err := s.broadcastConn.WriteToUDP(response, addr); err != nil {
		s.logger.Error("failed to send device info", "to", addr.String(), "error", err)
		return
	}
	s.logger.Debug("sent device info", "to", addr.String())
}

func (s *Server) deviceInfo() transport.DeviceDescriptor {
	return transport.DeviceDescriptor{
		Address:   localIP(),
		Name:      s.config.DeviceName,
		Timestamp: time.Now().Unix(),
	}
}

// broadcastLoop self-advertises while no client is attached or the
// attached client has gone silent past the connection timeout.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.BroadcastInterval)
	defer ticker.Stop()

	target := s.config.BroadcastAddress
	if !strings.Contains(target, ":") {
		target = fmt.Sprintf("%s:%d", target, s.config.BroadcastPort)
	}
	bAddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		s.logger.Error("failed to resolve broadcast target", "target", target, "error", err)
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idle := !s.connected || time.Since(s.lastInput) > s.config.ConnectionTimeout
		if s.connected && idle {
			s.logger.Warn("connection timeout, resuming broadcast")
			s.connected = false
		}
		s.mu.Unlock()
		if !idle {
			continue
		}

		response, err := json.Marshal(s.deviceInfo())
		if err != nil {
			s.logger.Error("failed to marshal device info", "error", err)
			continue
		}
		if _, err := s.broadcastConn.WriteToUDP(response, bAddr); err != nil {
			if s.closed() {
				return
			}
			s.logger.Error("failed to broadcast device info", "error", err)
		} else {
			s.logger.Log(context.Background(), log.LevelTrace, "broadcasting", "payload", string(response))
		}
	}
}

// serveData handles descriptor handshakes and raw report datagrams.
func (s *Server) serveData() {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		n, addr, err := s.dataConn.ReadFromUDP(buf)
		if err != nil {
			if s.closed() {
				return
			}
			s.logger.Error("error reading data message", "error", err)
			continue
		}

		data := buf[:n]
		if s.rawLogger != nil {
			s.rawLogger.Log(true, data)
		}

		switch {
		case n > len(descMagic) && bytes.Equal(data[:len(descMagic)], []byte(descMagic)):
			s.handleDescriptor(data[len(descMagic):], addr)
		case n == 8 || n == 10:
			s.handleInput(data, addr)
		default:
			s.logger.Warn("dropping datagram with unexpected length",
				"bytes", n, "from", addr.String())
		}
	}
}

// handleDescriptor stores the client's report descriptor and creates the
// kernel device on the first handshake only. The handshake is always
// acknowledged, even when the device cannot be created, so the client can
// proceed while the server runs degraded.
func (s *Server) handleDescriptor(desc []byte, addr *net.UDPAddr) {
	s.logger.Info("received report descriptor", "from", addr.String(), "bytes", len(desc))

	s.mu.Lock()
	s.descriptor = append([]byte(nil), desc...)
	s.mu.Unlock()

	switch {
	case s.injector == nil:
		s.logger.Warn("uhid unavailable, skipping device creation")
	case s.injector.Created():
		s.logger.Debug("virtual device already created, skipping")
	default:
		if err := s.injector.Create(desc); err != nil {
			s.logger.Error("failed to create virtual device", "error", err)
		}
	}

	ack := []byte(descAck)
	if s.rawLogger != nil {
		s.rawLogger.Log(false, ack)
	}
	if _, err := s.dataConn.WriteToUDP(ack, addr); err != nil {
		s.logger.Error("failed to send descriptor acknowledgment", "error", err)
		return
	}
	s.logger.Debug("sent descriptor acknowledgment", "to", addr.String())
}

// handleInput marks the client alive and forwards the raw datagram,
// report-id included, into the kernel device.
func (s *Server) handleInput(data []byte, addr *net.UDPAddr) {
	s.mu.Lock()
	s.lastInput = time.Now()
	if !s.connected {
		s.connected = true
		s.logger.Info("client connected", "from", addr.String())
	}
	s.mu.Unlock()

	if s.injector == nil || !s.injector.Created() {
		s.logger.Debug("virtual device not ready, ignoring input")
		return
	}

	if err := s.injector.Inject(data); err != nil {
		s.logger.Error("failed to forward report", "error", err)
	}
}

// localIP returns the first non-loopback IPv4 address, falling back to
// loopback when no interface is up.
func localIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return "127.0.0.1"
}
