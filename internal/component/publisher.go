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

package component

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/hostfleet/hostfleet/internal/rpc"
)

// ErrSocketLocked is returned by Publisher.Start when the socket's lock
// file belongs to a live hostfleet process, meaning another instance of
// the component is already running.
var ErrSocketLocked = errors.New("component: cannot listen, socket lock is held")

// Publisher binds one local component's registered methods to its Unix
// socket. The socket is guarded by a <socket>.lock file recording the
// owning PID; a lock whose PID is dead, or alive but not one of our
// processes, is stale and gets cleared before binding.
type Publisher struct {
	name    string
	reg     *rpc.Registry
	dir     string
	logger  *slog.Logger
	checker ProcessChecker
	pid     int

	server     *rpc.Server
	ln         net.Listener
	socketPath string
	started    bool
}

// PublisherOption tweaks publisher construction.
type PublisherOption func(*Publisher)

// WithProcessChecker overrides the OS process checker, for tests.
func WithProcessChecker(pc ProcessChecker) PublisherOption {
	return func(p *Publisher) { p.checker = pc }
}

// WithOwnerPID overrides the PID recorded in the lock file, for tests.
func WithOwnerPID(pid int) PublisherOption {
	return func(p *Publisher) { p.pid = pid }
}

// NewPublisher creates a publisher for the named component. The socket is
// created under socketsDir.
func NewPublisher(name string, reg *rpc.Registry, socketsDir string, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		name:    name,
		reg:     reg,
		dir:     socketsDir,
		logger:  logger,
		checker: DefaultProcessChecker(),
		pid:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start claims the lock, binds the socket and begins accepting
// connections. A live, legitimately-owned lock fails with ErrSocketLocked
// and is left untouched.
func (p *Publisher) Start() error {
	if p.started {
		return nil
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("component: creating sockets dir: %w", err)
	}

	p.socketPath = SocketPath(p.dir, p.name)
	lockPath := LockPath(p.socketPath)

	pid, err := readLock(lockPath)
	switch {
	case err == nil:
		if lockIsLive(p.checker, pid) {
			return fmt.Errorf("%w: %s owned by pid %d", ErrSocketLocked, lockPath, pid)
		}
		p.logger.Info("clearing stale socket lock",
			"component", p.name, "lock", lockPath, "pid", pid)
		p.clearSocket(lockPath)
	case os.IsNotExist(err):
		// No lock, but a leftover socket from a crash still blocks bind.
		if _, statErr := os.Stat(p.socketPath); statErr == nil {
			p.clearSocket(lockPath)
		}
	default:
		// Unreadable or garbled lock: nothing live can own it.
		p.logger.Warn("replacing unreadable socket lock",
			"component", p.name, "lock", lockPath, "error", err)
		p.clearSocket(lockPath)
	}

	if err := writeLock(lockPath, p.pid); err != nil {
		return fmt.Errorf("component: writing lock: %w", err)
	}

	ln, err := net.Listen("unix", p.socketPath)
	if err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("component: listening on %s: %w", p.socketPath, err)
	}
	p.ln = ln
	p.server = rpc.NewServer(p.reg, p.logger)
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, rpc.ErrServerClosed) {
			p.logger.Error("component rpc server failed",
				"component", p.name, "error", err)
		}
	}()

	p.started = true
	p.logger.Debug("component published", "component", p.name, "socket", p.socketPath)
	return nil
}

func (p *Publisher) clearSocket(lockPath string) {
	os.Remove(lockPath)
	os.Remove(p.socketPath)
}

// Stop stops accepting connections. Calls already in flight complete
// before their connections close. The socket and lock are removed.
func (p *Publisher) Stop() error {
	if !p.started {
		return nil
	}
	p.started = false
	err := p.server.Stop()
	p.clearSocket(LockPath(p.socketPath))
	return err
}
