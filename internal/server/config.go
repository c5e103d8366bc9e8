package server

import "time"

// ServerConfig carries the relay server settings. Field tags follow kong
// conventions; the struct is embedded into the server command.
type ServerConfig struct {
	BroadcastPort     int           `help:"UDP port for discovery broadcasts" default:"2242" env:"AGAMEPAD_BROADCAST_PORT"`
	DataPort          int           `help:"UDP port for descriptor handshakes and gamepad input" default:"2243" env:"AGAMEPAD_DATA_PORT"`
	DeviceName        string        `help:"Name advertised to clients" default:"AGamePad-UDP" env:"AGAMEPAD_DEVICE_NAME"`
	BroadcastInterval time.Duration `help:"Self-broadcast interval while unconnected" default:"2s"`
	ConnectionTimeout time.Duration `help:"Silence window after which a client counts as gone" default:"5s"`

	// BroadcastAddress is the self-broadcast destination. A bare host is
	// combined with BroadcastPort; a host:port value is used verbatim.
	BroadcastAddress string `help:"Destination for self-broadcasts" default:"255.255.255.255"`
}
