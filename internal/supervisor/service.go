// Copyright 2026 The Hostfleet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/hostfleet/hostfleet/internal/component"
	"github.com/hostfleet/hostfleet/internal/config"
	"github.com/hostfleet/hostfleet/internal/logging"
)

// Process exit codes of the watchdog itself.
const (
	// ExitOK means a clean shutdown.
	ExitOK = 0

	// ExitAlreadyRunning means startup was aborted because the daemons
	// were already running.
	ExitAlreadyRunning = 1

	// ExitStartupFailure means an unknown startup failure.
	ExitStartupFailure = 2
)

// Service wires a WatchDog to the process environment: directories, PID
// file, signals, and exit codes.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	watchdog *WatchDog
	logFile  *logging.RotatableFile
}

// NewService builds the watchdog service from configuration. logFile may
// be nil when logging goes to the console.
func NewService(cfg *config.Config, logger *slog.Logger, logFile *logging.RotatableFile) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	binDir := cfg.BinDir
	if binDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("supervisor: resolving bin dir: %w", err)
		}
		binDir = filepath.Dir(exe)
	}

	names := []string{component.Broker, component.Monitor}
	if !cfg.MonitorOnly {
		names = append(names, component.Manager)
	}

	var daemons []Supervised
	for _, name := range names {
		username := cfg.Username
		if name == component.Manager {
			// The manager applies system state and keeps root.
			username = "root"
		}
		conn := component.NewConnector(name, cfg.SocketsPath(), logger)
		d, err := NewDaemon(DaemonOptions{
			Name:       name,
			Program:    component.ProcessNamePrefix + "-" + name,
			Username:   username,
			BinDir:     binDir,
			ConfigPath: cfg.Path,
			Verbose:    !cfg.Quiet,
		}, conn, logging.WithComponent(logger, name))
		if err != nil {
			return nil, err
		}
		daemons = append(daemons, d)
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	return &Service{
		cfg:      cfg,
		logger:   logger,
		watchdog: NewWatchDog(daemons, logger, metrics),
		logFile:  logFile,
	}, nil
}

// WatchDog exposes the underlying supervisor.
func (s *Service) WatchDog() *WatchDog {
	return s.watchdog
}

// Run starts the daemons and blocks until shutdown. The return value is
// the process exit code.
func (s *Service) Run(ctx context.Context) int {
	if err := s.bootstrap(); err != nil {
		s.logger.Error("startup failed", "error", err)
		return ExitStartupFailure
	}

	if running := s.watchdog.CheckRunning(ctx); len(running) > 0 {
		programs := make([]string, len(running))
		for i, d := range running {
			programs[i] = d.Program()
		}
		s.logger.Error("the following daemons are already running",
			"programs", strings.Join(programs, ", "))
		return ExitAlreadyRunning
	}

	if err := s.writePIDFile(); err != nil {
		s.logger.Error("startup failed", "error", err)
		return ExitStartupFailure
	}
	defer s.removePIDFile()

	if err := s.watchdog.Start(ctx); err != nil {
		s.logger.Error("startup failed", "error", err)
		return ExitStartupFailure
	}
	s.logger.Info("watchdog watching for daemons")

	termSignals := []os.Signal{unix.SIGINT, unix.SIGTERM}
	if s.cfg.IgnoreSIGINT {
		signal.Ignore(unix.SIGINT)
		termSignals = []os.Signal{unix.SIGTERM}
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	termSub := Subscribe(func(os.Signal) {
		stopOnce.Do(func() { close(stopCh) })
	}, termSignals...)
	defer termSub.Stop()

	rotateSub := Subscribe(func(os.Signal) {
		s.watchdog.RotateLogs()
		if s.logFile != nil {
			if err := s.logFile.Reopen(); err != nil {
				s.logger.Error("reopening log file", "error", err)
			}
		}
	}, unix.SIGUSR1)
	defer rotateSub.Stop()

	select {
	case <-stopCh:
	case <-ctx.Done():
	case <-s.watchdog.Fatal():
	}

	// A second CTRL-C would kill us before the children die and leave
	// them hanging around.
	termSub.Stop()
	signal.Ignore(unix.SIGINT)

	s.logger.Info("stopping client")
	if err := s.watchdog.RequestExit(context.Background()); err != nil {
		s.logger.Error("shutdown incomplete", "error", err)
	}
	return ExitOK
}

func (s *Service) bootstrap() error {
	for _, dir := range []string{s.cfg.DataPath, s.cfg.SocketsPath(), s.cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("supervisor: creating %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Service) writePIDFile() error {
	if s.cfg.PIDFile == "" {
		return nil
	}
	pid := strconv.Itoa(os.Getpid()) + "\n"
	return renameio.WriteFile(s.cfg.PIDFile, []byte(pid), 0o644)
}

// removePIDFile unlinks the PID file only while it still names this
// process, so a replacement instance's file is never clobbered.
func (s *Service) removePIDFile() {
	if s.cfg.PIDFile == "" {
		return
	}
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return
	}
	if strings.TrimSpace(string(data)) == strconv.Itoa(os.Getpid()) {
		os.Remove(s.cfg.PIDFile)
	}
}
