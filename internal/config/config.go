// Package config defines the CLI surface parsed by kong.
package config

import (
	"github.com/fayaz-modz/AGamePad/internal/cmd"
)

// CLI is the root command tree.
type CLI struct {
	Log struct {
		Level   string `help:"Log level (trace, debug, info, warn, error)" enum:"trace,debug,info,warn,error" default:"info" env:"AGAMEPAD_LOG_LEVEL"`
		File    string `help:"Write logs to this file instead of stdout/stderr" env:"AGAMEPAD_LOG_FILE"`
		RawFile string `help:"Write hex dumps of every wire packet to this file"`
	} `embed:"" prefix:"log."`

	Config string `help:"Path to a configuration file" type:"path"`

	Server   cmd.Server        `cmd:"" help:"Run the virtual controller host (discovery + uhid relay)"`
	Client   cmd.Client        `cmd:"" help:"Stream gamepad reports to a host over udp, classic or ble"`
	Discover cmd.Discover      `cmd:"" help:"Scan the local network for hosts"`
	Cfg      cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration file helpers"`
}
