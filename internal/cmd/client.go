package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fayaz-modz/AGamePad/internal/configpaths"
	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/internal/manager"
	"github.com/fayaz-modz/AGamePad/internal/transport/btclassic"
	"github.com/fayaz-modz/AGamePad/internal/transport/btle"
	"github.com/fayaz-modz/AGamePad/internal/transport/udp"
	"github.com/fayaz-modz/AGamePad/pkg/input"
	"github.com/fayaz-modz/AGamePad/pkg/transport"
)

// Client runs the device side: the connection manager with one selected
// transport, streaming reports to the connected host. The on-screen
// control surface lives in a separate process; this command keeps the
// link alive and serves as the integration surface for all three modes.
type Client struct {
	Mode    string        `help:"Transport mode (udp, classic, ble); empty resumes the last used mode" default:"" env:"AGAMEPAD_MODE"`
	Address string        `help:"Peer to connect to; udp mode discovers one when empty"`
	Rate    time.Duration `help:"Interval between streamed reports" default:"50ms"`

	UDP     udp.Config       `embed:"" prefix:"udp."`
	Classic btclassic.Config `embed:"" prefix:"classic."`
	BLE     btle.Config      `embed:"" prefix:"ble."`
}

// Run is called by Kong when the client command is executed.
func (c *Client) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.start(ctx, logger, rawLogger)
}

func (c *Client) start(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	prefDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		logger.Debug("no config directory, transport preference will not persist", "error", err)
		prefDir = ""
	}

	mode := manager.Mode(c.Mode)
	if c.Mode == "" {
		mode = manager.PreferredMode(prefDir, manager.ModeUDP)
	}

	mgr := manager.New(logger, c.buildTransport(logger, rawLogger), prefDir)
	defer mgr.Close()

	if err := mgr.SetMode(ctx, mode); err != nil {
		return err
	}

	go func() {
		for st := range mgr.States() {
			logger.Info("connection state", "state", st.String())
		}
	}()

	if err := c.attach(ctx, mgr, mode, logger); err != nil {
		return err
	}

	// Stream the neutral state on the configured cadence. The external
	// control surface replaces this loop when it drives the process.
	ticker := time.NewTicker(c.Rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			mgr.Send(input.Neutral())
		}
	}
}

// attach brings the link up: an explicit address connects directly, udp
// mode without one discovers and takes the first server that answers.
// Bluetooth modes without an address just wait for the host to connect.
func (c *Client) attach(ctx context.Context, mgr *manager.Manager, mode manager.Mode, logger *slog.Logger) error {
	if c.Address != "" {
		return mgr.Connect(ctx, c.Address)
	}
	if mode != manager.ModeUDP {
		logger.Info("waiting for a bonded host to connect")
		return nil
	}

	devices, err := mgr.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover servers: %w", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("no servers found; pass --address to connect directly")
	}
	logger.Info("connecting to discovered server", "address", devices[0].Address, "name", devices[0].Name)
	return mgr.Connect(ctx, devices[0].Address)
}

// buildTransport is the manager's factory over the three configured
// transports.
func (c *Client) buildTransport(logger *slog.Logger, rawLogger log.RawLogger) manager.Factory {
	return func(mode manager.Mode) (transport.Transport, error) {
		switch mode {
		case manager.ModeUDP:
			return udp.New(c.UDP, logger, rawLogger), nil
		case manager.ModeClassic:
			return btclassic.New(c.Classic, logger, rawLogger), nil
		case manager.ModeBLE:
			return btle.New(c.BLE, logger, rawLogger), nil
		}
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}
