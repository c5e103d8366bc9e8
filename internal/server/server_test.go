package server_test

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/internal/server"
	"github.com/fayaz-modz/AGamePad/internal/uhid"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockInjector records kernel commands instead of touching /dev/uhid.
type mockInjector struct {
	mu      sync.Mutex
	created int
	desc    []byte
	reports [][]byte
	closed  bool
}

func (m *mockInjector) Create(desc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.created == 0 {
		m.desc = append([]byte(nil), desc...)
	}
	m.created++
	return nil
}

func (m *mockInjector) Inject(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, append([]byte(nil), data...))
	return nil
}

func (m *mockInjector) Created() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created > 0
}

func (m *mockInjector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockInjector) snapshot() (int, []byte, [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reports := make([][]byte, len(m.reports))
	copy(reports, m.reports)
	return m.created, append([]byte(nil), m.desc...), reports
}

func startServer(t *testing.T, cfg server.ServerConfig, inj uhid.Injector) *server.Server {
	t.Helper()
	logger, _, err := log.SetupLogger("error", "")
	require.NoError(t, err)

	s := server.New(cfg, logger, log.NewRaw(nil), inj)
	go func() { _ = s.ListenAndServe() }()
	t.Cleanup(func() { _ = s.Close() })

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}
	return s
}

func testConfig() server.ServerConfig {
	return server.ServerConfig{
		BroadcastPort:     0, // ephemeral, resolved via BroadcastAddr()
		DataPort:          0,
		DeviceName:        "AGamePad-UDP",
		BroadcastInterval: 40 * time.Millisecond,
		ConnectionTimeout: 150 * time.Millisecond,
		BroadcastAddress:  "127.0.0.1:1", // out of the way unless a test overrides it
	}
}

func dialUDP(t *testing.T, addr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port}
	conn, err := net.DialUDP("udp", nil, target)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDiscoveryResponse(t *testing.T) {
	s := startServer(t, testConfig(), &mockInjector{})
	conn := dialUDP(t, s.BroadcastAddr())

	_, err := conn.Write([]byte("discover"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var info transport.DeviceDescriptor
	require.NoError(t, json.Unmarshal(buf[:n], &info))
	assert.Equal(t, "AGamePad-UDP", info.Name)
	assert.NotEmpty(t, info.Address)
	assert.NotZero(t, info.Timestamp)
}

func TestDiscoveryAnswersDeviceInfoPayloads(t *testing.T) {
	s := startServer(t, testConfig(), &mockInjector{})
	conn := dialUDP(t, s.BroadcastAddr())

	_, err := conn.Write([]byte(`{"query":"device_info"}`))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	var info transport.DeviceDescriptor
	require.NoError(t, json.Unmarshal(buf[:n], &info))
	assert.Equal(t, "AGamePad-UDP", info.Name)
}

func TestDescriptorHandshakeCreatesDeviceOnce(t *testing.T) {
	inj := &mockInjector{}
	s := startServer(t, testConfig(), inj)
	conn := dialUDP(t, s.DataAddr())

	desc := make([]byte, 20)
	for i := range desc {
		desc[i] = byte(i)
	}

	buf := make([]byte, 64)
	for i := 0; i < 3; i++ {
		_, err := conn.Write(append([]byte("DESC"), desc...))
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "DESC_OK", string(buf[:n]))
	}

	created, gotDesc, _ := inj.snapshot()
	assert.Equal(t, 1, created, "CREATE2 must be issued exactly once")
	assert.Equal(t, desc, gotDesc)
}

func TestReportRelayedVerbatim(t *testing.T) {
	inj := &mockInjector{}
	s := startServer(t, testConfig(), inj)
	conn := dialUDP(t, s.DataAddr())

	// Handshake first so the virtual device exists.
	_, err := conn.Write([]byte("DESC\x05\x01\x09\x05\xA1\x01\xC0"))
	require.NoError(t, err)
	ackBuf := make([]byte, 16)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(ackBuf)
	require.NoError(t, err)

	rep := []byte{0, 127, 127, 127, 127, 0, 0, 8}
	_, err = conn.Write(rep)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, reports := inj.snapshot()
		return len(reports) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, _, reports := inj.snapshot()
	assert.Equal(t, rep, reports[0], "payload must be forwarded byte for byte")
	assert.True(t, s.Connected())
}

func TestTenByteReportAccepted(t *testing.T) {
	inj := &mockInjector{}
	s := startServer(t, testConfig(), inj)
	conn := dialUDP(t, s.DataAddr())

	_, err := conn.Write([]byte("DESC\x05\x01\xC0"))
	require.NoError(t, err)
	ackBuf := make([]byte, 16)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(ackBuf)
	require.NoError(t, err)

	rep := []byte{1, 10, 20, 30, 40, 50, 60, 0x0F, 0x00, 4}
	_, err = conn.Write(rep)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, reports := inj.snapshot()
		return len(reports) == 1 && assert.ObjectsAreEqual(rep, reports[0])
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedDatagramDropped(t *testing.T) {
	inj := &mockInjector{}
	s := startServer(t, testConfig(), inj)
	conn := dialUDP(t, s.DataAddr())

	_, err := conn.Write([]byte{1, 2, 3}) // neither handshake nor report
	require.NoError(t, err)

	// Give the read loop a moment, then confirm nothing reached the kernel.
	time.Sleep(100 * time.Millisecond)
	created, _, reports := inj.snapshot()
	assert.Zero(t, created)
	assert.Empty(t, reports)
	assert.False(t, s.Connected())
}

func TestSilenceResumesBroadcast(t *testing.T) {
	// Listener standing in for the subnet broadcast address.
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer sink.Close()

	cfg := testConfig()
	cfg.BroadcastAddress = sink.LocalAddr().String()

	inj := &mockInjector{}
	s := startServer(t, cfg, inj)
	conn := dialUDP(t, s.DataAddr())

	// Attach: handshake plus one report.
	_, err = conn.Write([]byte("DESC\x05\x01\xC0"))
	require.NoError(t, err)
	ackBuf := make([]byte, 16)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(ackBuf)
	require.NoError(t, err)

	_, err = conn.Write([]byte{1, 127, 127, 127, 127, 0, 0, 8})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Connected() }, 2*time.Second, 10*time.Millisecond)

	// Drain anything broadcast before the connection settled.
	drainDeadline := time.Now().Add(2 * cfg.BroadcastInterval)
	drainBuf := make([]byte, 1024)
	for time.Now().Before(drainDeadline) {
		_ = sink.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		if _, _, err := sink.ReadFromUDP(drainBuf); err != nil {
			break
		}
	}

	// Stay silent past the connection timeout; the server must revert to
	// broadcasting its device info.
	_ = sink.SetReadDeadline(time.Now().Add(4 * cfg.ConnectionTimeout))
	n, _, err := sink.ReadFromUDP(drainBuf)
	require.NoError(t, err, "expected a resumed self-broadcast")

	var info transport.DeviceDescriptor
	require.NoError(t, json.Unmarshal(drainBuf[:n], &info))
	assert.Equal(t, "AGamePad-UDP", info.Name)
	assert.False(t, s.Connected())
}

func TestCloseDestroysDevice(t *testing.T) {
	inj := &mockInjector{}
	s := startServer(t, testConfig(), inj)

	require.NoError(t, s.Close())
	inj.mu.Lock()
	defer inj.mu.Unlock()
	assert.True(t, inj.closed)
}

// Guard against the mock drifting from the real event layout: a report
// accepted by the server must also marshal into a valid INPUT2 event.
func TestRelayedReportMarshalsAsInput2(t *testing.T) {
	rep := []byte{1, 127, 127, 127, 127, 0, 0, 8}
	ev, err := uhid.MarshalInput2(rep)
	require.NoError(t, err)
	assert.Equal(t, uhid.EventInput2, binary.LittleEndian.Uint32(ev[0:4]))
	assert.Equal(t, rep, ev[6:6+len(rep)])
}
