package udp_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/log"
	udptransport "github.com/fayaz-modz/AGamePad/internal/transport/udp"
	"github.com/fayaz-modz/AGamePad/pkg/descriptor"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTransport(t *testing.T, cfg udptransport.Config) *udptransport.Transport {
	t.Helper()
	l, _, err := log.SetupLogger("error", "")
	require.NoError(t, err)
	tr := udptransport.New(cfg, l, log.NewRaw(nil))
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.Initialize(context.Background()))
	return tr
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDiscoverDedupesByAddress(t *testing.T) {
	responder := listen(t)

	cfg := udptransport.Config{
		BroadcastAddress: responder.LocalAddr().String(),
		DiscoveryWindow:  200 * time.Millisecond,
	}
	tr := newTransport(t, cfg)

	go func() {
		buf := make([]byte, 64)
		_, addr, err := responder.ReadFromUDP(buf)
		if err != nil {
			return
		}
		replies := []transport.DeviceDescriptor{
			{Address: "192.168.1.10", Name: "stale", Timestamp: 100},
			{Address: "192.168.1.20", Name: "other", Timestamp: 150},
			{Address: "192.168.1.10", Name: "fresh", Timestamp: 200},
		}
		for _, r := range replies {
			data, _ := json.Marshal(r)
			_, _ = responder.WriteToUDP(data, addr)
		}
	}()

	devices, err := tr.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "192.168.1.10", devices[0].Address)
	assert.Equal(t, "fresh", devices[0].Name, "newer timestamp must supersede")
	assert.Equal(t, "192.168.1.20", devices[1].Address)
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
}

func TestDiscoverHonorsContextDeadline(t *testing.T) {
	responder := listen(t)
	cfg := udptransport.Config{
		BroadcastAddress: responder.LocalAddr().String(),
		DiscoveryWindow:  10 * time.Second,
	}
	tr := newTransport(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Discover(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// fakeServer acks the descriptor handshake and records every datagram.
type fakeServer struct {
	conn *net.UDPConn
	got  chan []byte
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{conn: listen(t), got: make(chan []byte, 32)}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := f.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := append([]byte(nil), buf[:n]...)
			f.got <- data
			if n > 4 && string(data[:4]) == "DESC" {
				_, _ = f.conn.WriteToUDP([]byte("DESC_OK"), addr)
			}
		}
	}()
	return f
}

func (f *fakeServer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case d := <-f.got:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a datagram")
		return nil
	}
}

func TestConnectHandshake(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: time.Hour, // keep the resend loop out of the way
	})

	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))
	assert.Equal(t, transport.StateConnected, tr.ConnectionState())

	handshake := srv.next(t)
	want := append([]byte("DESC"), descriptor.NetBytes()...)
	assert.Equal(t, want, handshake)
}

func TestConnectTimeoutLeavesStateUnchanged(t *testing.T) {
	silent := listen(t) // never replies
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: 100 * time.Millisecond,
		LivenessInterval: time.Hour,
	})

	err := tr.Connect(context.Background(), silent.LocalAddr().String())
	require.Error(t, err)
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
}

func TestSendReportUsesNetLayout(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: time.Hour,
	})
	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))
	srv.next(t) // handshake

	s := input.Neutral()
	s.Buttons = input.ButtonA
	s.L2 = 200
	tr.SendReport(s)

	rep := srv.next(t)
	require.Len(t, rep, 10)
	assert.Equal(t, byte(1), rep[0])
	assert.Equal(t, byte(200), rep[4])
}

func TestKeepAliveResendsExactBytes(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: 50 * time.Millisecond,
	})
	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))
	srv.next(t) // handshake

	s := input.Neutral()
	s.Buttons = input.ButtonX | input.ButtonStart
	s.LX = 30
	tr.SendReport(s)

	first := srv.next(t)
	resent := srv.next(t)
	assert.Equal(t, first, resent, "liveness must repeat the previous report byte for byte")
}

func TestKeepAliveSendsNeutralWithoutPriorReport(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: 50 * time.Millisecond,
	})
	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))
	srv.next(t) // handshake

	rep := srv.next(t)
	assert.Equal(t, []byte{1, 127, 127, 127, 0, 0, 127, 0, 0, 8}, rep)
}

func TestSendReportWithoutConnectionIsNoop(t *testing.T) {
	tr := newTransport(t, udptransport.Config{LivenessInterval: time.Hour})
	tr.SendReport(input.Neutral()) // must not panic or change state
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())
}

func TestDisconnect(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: time.Hour,
	})
	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))

	require.NoError(t, tr.Disconnect(srv.conn.LocalAddr().String()))
	assert.Equal(t, transport.StateDisconnected, tr.ConnectionState())

	// Disconnecting an unknown peer is silent.
	require.NoError(t, tr.Disconnect("10.0.0.9"))
}

func TestStatesObservable(t *testing.T) {
	srv := startFakeServer(t)
	tr := newTransport(t, udptransport.Config{
		HandshakeTimeout: time.Second,
		LivenessInterval: time.Hour,
	})
	states := tr.States()

	require.NoError(t, tr.Connect(context.Background(), srv.conn.LocalAddr().String()))

	var seen []transport.State
	for len(seen) < 2 {
		select {
		case st := <-states:
			seen = append(seen, st)
		case <-time.After(2 * time.Second):
			t.Fatalf("state observable stalled after %v", seen)
		}
	}
	assert.Equal(t, []transport.State{transport.StateConnecting, transport.StateConnected}, seen)
}

func TestCapabilities(t *testing.T) {
	tr := newTransport(t, udptransport.Config{})
	assert.False(t, tr.SupportsPairedDeviceList())
	assert.Equal(t, "net", tr.Layout().String())
}
