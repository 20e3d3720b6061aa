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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hostfleet/hostfleet/internal/component"
)

const (
	// RestartBurstDelay is the window within which a restart counts as a
	// quick start.
	RestartBurstDelay = 30 * time.Second

	// MaximumConsecutiveRestarts is how many quick starts a daemon gets
	// before the supervisor gives up on it entirely.
	MaximumConsecutiveRestarts = 5

	// Retry budget for a single health-check connect.
	pingMaxRetries    = 3
	pingBackoffFactor = 1.1
)

var (
	// ErrExecutableNotFound is returned by Start when the daemon's
	// program is missing; this indicates a packaging defect, not a
	// transient fault.
	ErrExecutableNotFound = errors.New("supervisor: executable not found")

	// ErrRestartBurst is returned by Start once a daemon has crashed
	// faster than the burst window too many times in a row.
	ErrRestartBurst = errors.New("supervisor: daemon cannot be kept running")
)

// DaemonOptions describes one supervised executable.
type DaemonOptions struct {
	// Name is the component's canonical name (broker, monitor, manager).
	Name string

	// Program is the executable name, resolved against BinDir.
	Program string

	// Username is the account the program runs as when the supervisor
	// is root. An empty value means no privilege switch.
	Username string

	// BinDir is the directory the program lives in.
	BinDir string

	// ConfigPath, when set, is forwarded to the child via -c.
	ConfigPath string

	// Verbose leaves the child's console output enabled (no --quiet).
	Verbose bool

	// ExtraOptions are appended to the child's argument list.
	ExtraOptions []string
}

// Daemon is the supervisor's handle to one managed subprocess. It owns at
// most one live WatchedProcess at a time.
type Daemon struct {
	opts      DaemonOptions
	connector *component.Connector
	logger    *slog.Logger

	cred *syscall.Credential
	env  []string

	// requestStop asks the whole supervisor to shut down; set by the
	// WatchDog. Invoked on restart-burst exhaustion.
	requestStop func()

	// now and spawn are replaceable in tests.
	now   func() time.Time
	spawn func(exe string, args []string) (*WatchedProcess, error)

	mu             sync.Mutex
	process        *WatchedProcess
	lastStarted    time.Time
	quickStarts    int
	restartAllowed bool
}

// NewDaemon builds the handle for one supervised executable. When running
// as root the target uid/gid are derived once from the configured
// username; a missing account is an error since the child could never be
// started correctly.
func NewDaemon(opts DaemonOptions, conn *component.Connector, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		opts:           opts,
		connector:      conn,
		logger:         logger,
		env:            os.Environ(),
		now:            time.Now,
		restartAllowed: true,
	}
	d.spawn = d.spawnExec

	if os.Getuid() == 0 && opts.Username != "" {
		u, err := user.Lookup(opts.Username)
		if err != nil {
			return nil, fmt.Errorf("supervisor: looking up user %q for %s: %w",
				opts.Username, opts.Program, err)
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("supervisor: bad uid for %q: %w", opts.Username, err)
		}
		gid, err := strconv.ParseUint(u.Gid, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("supervisor: bad gid for %q: %w", opts.Username, err)
		}
		if int(uid) != os.Getuid() || int(gid) != os.Getgid() {
			d.cred = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
			d.env = append(environWithout("HOME", "USER", "LOGNAME"),
				"HOME="+u.HomeDir,
				"USER="+opts.Username,
				"LOGNAME="+opts.Username,
			)
		}
	}
	return d, nil
}

func environWithout(keys ...string) []string {
	env := os.Environ()
	out := env[:0]
outer:
	for _, kv := range env {
		for _, key := range keys {
			if len(kv) > len(key) && kv[:len(key)] == key && kv[len(key)] == '=' {
				continue outer
			}
		}
		out = append(out, kv)
	}
	return out
}

// Name returns the component name.
func (d *Daemon) Name() string {
	return d.opts.Name
}

// Program returns the executable name.
func (d *Daemon) Program() string {
	return d.opts.Program
}

// findExecutable resolves the program against BinDir, failing with
// ErrExecutableNotFound when it is missing.
func (d *Daemon) findExecutable() (string, error) {
	path := filepath.Join(d.opts.BinDir, d.opts.Program)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	return path, nil
}

// Start spawns a fresh process for this daemon, replacing any prior
// handle. Starting again within the burst window bumps the quick-start
// counter; once it reaches the maximum the daemon is declared hopeless
// and the whole supervisor is asked to stop.
//
// The burst check compares only the previous start's timestamp, not a
// sliding window over all recent starts.
func (d *Daemon) Start() error {
	d.mu.Lock()
	d.process = nil

	now := d.now()
	if d.lastStarted.Add(RestartBurstDelay).After(now) {
		d.quickStarts++
		if d.quickStarts == MaximumConsecutiveRestarts {
			stop := d.requestStop
			d.mu.Unlock()
			d.logger.Error("cannot keep daemon running, giving up",
				"program", d.opts.Program)
			if stop != nil {
				stop()
			}
			return fmt.Errorf("%w: %s", ErrRestartBurst, d.opts.Program)
		}
	} else {
		d.quickStarts = 0
	}
	d.lastStarted = now

	exe, err := d.findExecutable()
	if err != nil {
		d.mu.Unlock()
		return err
	}

	args := []string{"--ignore-sigint"}
	if !d.opts.Verbose {
		args = append(args, "--quiet")
	}
	if d.opts.ConfigPath != "" {
		args = append(args, "-c", d.opts.ConfigPath)
	}
	args = append(args, d.opts.ExtraOptions...)

	wp, err := d.spawn(exe, args)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("supervisor: starting %s: %w", d.opts.Program, err)
	}
	d.process = wp
	d.mu.Unlock()

	d.logger.Info("daemon started", "program", d.opts.Program, "pid", wp.Pid())
	return nil
}

func (d *Daemon) spawnExec(exe string, args []string) (*WatchedProcess, error) {
	cmd := &exec.Cmd{
		Path:   exe,
		Args:   append([]string{exe}, args...),
		Env:    d.env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if d.cred != nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: d.cred}
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	wp := newWatchedProcess(d, execTransport{cmd}, d.logger)
	go func() {
		_ = cmd.Wait()
		wp.processEnded()
	}()
	return wp, nil
}

// clearProcess drops the handle once its process has exited for good.
func (d *Daemon) clearProcess(wp *WatchedProcess) {
	d.mu.Lock()
	if d.process == wp {
		d.process = nil
	}
	d.mu.Unlock()
}

// liveProcess returns the current WatchedProcess, or nil.
func (d *Daemon) liveProcess() *WatchedProcess {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.process
}

// Stop kills the daemon's process. The channel resolves once it has
// exited; immediately when nothing is running.
func (d *Daemon) Stop() <-chan struct{} {
	wp := d.liveProcess()
	if wp == nil {
		return closedChan
	}
	return wp.Kill()
}

// Wait resolves once the daemon's process has exited by any means;
// immediately when nothing is running.
func (d *Daemon) Wait() <-chan struct{} {
	wp := d.liveProcess()
	if wp == nil {
		return closedChan
	}
	return wp.Wait()
}

// WaitOrDie lets the process exit gracefully, escalating to SIGTERM and
// then SIGKILL on the usual schedule.
func (d *Daemon) WaitOrDie() <-chan struct{} {
	wp := d.liveProcess()
	if wp == nil {
		return closedChan
	}
	return wp.WaitOrDie()
}

// IsRunning health-checks the daemon with a ping over its socket. Any
// failure to connect or to get a positive reply means "not running".
func (d *Daemon) IsRunning(ctx context.Context) bool {
	remote, err := d.connect(ctx)
	if err != nil {
		return false
	}
	defer d.connector.Disconnect()
	alive, err := remote.Ping(ctx)
	return err == nil && alive
}

// RequestExit asks the daemon to shut down over RPC. Every failure mode
// resolves to false so the caller can fall back to signals.
func (d *Daemon) RequestExit(ctx context.Context) bool {
	remote, err := d.connect(ctx)
	if err != nil {
		return false
	}
	defer d.connector.Disconnect()
	return remote.Exit(ctx) == nil
}

func (d *Daemon) connect(ctx context.Context) (*component.Remote, error) {
	return d.connector.Connect(ctx, component.ConnectOptions{
		MaxRetries: pingMaxRetries,
		Factor:     pingBackoffFactor,
		Quiet:      true,
	})
}

// PrepareForShutdown stops this daemon from being restarted when its
// process exits; called by the watchdog as shutdown begins.
func (d *Daemon) PrepareForShutdown() {
	d.mu.Lock()
	d.restartAllowed = false
	d.mu.Unlock()
}

// AllowsRestart reports whether an unexpected exit should respawn the
// process.
func (d *Daemon) AllowsRestart() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restartAllowed
}

// RotateLogs forwards the log-rotation signal to the live process.
func (d *Daemon) RotateLogs() {
	if wp := d.liveProcess(); wp != nil {
		wp.RotateLogs()
	}
}

// setRequestStop wires the supervisor-stop escalation used on restart
// burst exhaustion.
func (d *Daemon) setRequestStop(fn func()) {
	d.requestStop = fn
}
