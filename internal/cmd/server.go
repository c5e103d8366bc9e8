package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fayaz-modz/AGamePad/internal/log"
	"github.com/fayaz-modz/AGamePad/internal/server"
	"github.com/fayaz-modz/AGamePad/internal/uhid"
)

// Server runs the virtual controller host: UDP discovery plus report
// relay into a kernel uhid device.
type Server struct {
	server.ServerConfig `embed:""`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.start(ctx, logger, rawLogger)
}

func (s *Server) start(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	logger.Info("starting AGamePad server",
		"broadcast_port", s.BroadcastPort,
		"data_port", s.DataPort,
		"name", s.DeviceName)

	// A missing uhid node degrades to discovery-only instead of refusing
	// to start: the handheld can still find and handshake the server.
	var injector uhid.Injector
	if dev, err := uhid.Open(logger); err != nil {
		logger.Warn("uhid unavailable, input will not reach the kernel", "error", err)
	} else {
		injector = dev
		go dev.DrainEvents()
	}

	srv := server.New(s.ServerConfig, logger, rawLogger, injector)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-srv.Ready():
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		_ = srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
