package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/internal/transport/udp"
)

// Discover scans the local network for servers and prints what answered.
type Discover struct {
	Timeout time.Duration `help:"How long to collect replies" default:"5s"`

	UDP udp.Config `embed:"" prefix:"udp."`
}

// Run is called by Kong when the discover command is executed.
func (d *Discover) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	tr := udp.New(d.UDP, logger, rawLogger)
	defer tr.Close()

	devices, err := tr.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("no servers found")
		return nil
	}

	for _, dev := range devices {
		fmt.Printf("%-16s %s (seen %s)\n", dev.Address, dev.Name,
			time.Unix(dev.Timestamp, 0).Format(time.TimeOnly))
	}
	return nil
}
