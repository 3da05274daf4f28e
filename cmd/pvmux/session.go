package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pvmux/pvmux-go/internal/config"
	"github.com/pvmux/pvmux-go/pkg/backend"
	"github.com/pvmux/pvmux-go/pkg/ca/sim"
	"github.com/pvmux/pvmux-go/pkg/connection"
	"github.com/pvmux/pvmux-go/pkg/log"
)

// session is one supervised backend over the simulated IOC described by the
// configuration file.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	fileLog *log.FileLogger
	srv     *sim.Server
	backend *backend.Backend
	manager *connection.Manager

	stopSim context.CancelFunc
	simDone chan struct{}
}

func openSession(ctx context.Context, cfg *config.Config, logOut io.Writer) (*session, error) {
	s := &session{cfg: cfg, logger: cfg.Logging.NewLogger(logOut)}

	var events log.Logger = log.NoopLogger{}
	if path := cfg.EventLogPath(); path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		s.fileLog = fl
		events = fl
		if cfg.Logging.SlogLevel() <= slog.LevelDebug {
			events = log.NewMultiLogger(fl, log.NewSlogAdapter(s.logger))
		}
	}

	srv, err := cfg.Simulation.NewServer()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.srv = srv

	simCtx, cancel := context.WithCancel(context.Background())
	s.stopSim = cancel
	s.simDone = make(chan struct{})
	go func() {
		defer close(s.simDone)
		cfg.Simulation.Animate(simCtx, srv, s.logger)
	}()

	b, err := backend.New(srv, cfg.BackendConfig(s.logger, events))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.backend = b

	s.manager = connection.Supervise(b, cfg.ManagerConfig(s.logger, events))
	s.manager.OnReconnecting(func(attempt int, delay time.Duration) {
		s.logger.Info("backend recovery scheduled", "attempt", attempt, "delay", delay)
	})
	if err := s.manager.Connect(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	return s, nil
}

// Close stops recovery and releases the backend, the simulated IOC and the
// event log, in that order.
func (s *session) Close() {
	if s.manager != nil {
		s.manager.Close()
	}
	if s.backend != nil {
		s.backend.Close()
	}
	if s.stopSim != nil {
		s.stopSim()
		<-s.simDone
	}
	if s.srv != nil {
		_ = s.srv.Close()
	}
	if s.fileLog != nil {
		if err := s.fileLog.Close(); err != nil {
			s.logger.Warn("failed to close event log", "error", err)
		}
	}
}
