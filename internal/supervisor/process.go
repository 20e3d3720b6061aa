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
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// GracefulWaitPeriod is how long WaitOrDie lets a process exit on its
	// own before sending SIGTERM.
	GracefulWaitPeriod = 10 * time.Second

	// SIGKILLDelay is how long a SIGTERM'd process gets before SIGKILL.
	SIGKILLDelay = 10 * time.Second
)

// Transport is the signal-delivery side of a live OS process. It is an
// interface so the escalation logic can be tested without real processes.
type Transport interface {
	Signal(sig os.Signal) error
	Pid() int
}

type execTransport struct {
	cmd *exec.Cmd
}

func (t execTransport) Signal(sig os.Signal) error {
	return t.cmd.Process.Signal(sig)
}

func (t execTransport) Pid() int {
	return t.cmd.Process.Pid
}

// processOwner is what a WatchedProcess needs from the Daemon that owns
// it: the restart decision once the process exits.
type processOwner interface {
	Program() string
	AllowsRestart() bool
	Start() error
	clearProcess(wp *WatchedProcess)
}

// closedChan resolves immediately; returned when there is nothing to wait
// for.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// WatchedProcess wraps one live process instance with its termination
// escalation state: Running, then Terminating once SIGTERM was sent, then
// Killing once SIGKILL was sent, then Exited. Escalation timers are
// cancelled the instant the process exits so a stray signal can never
// reach a reused PID.
type WatchedProcess struct {
	owner  processOwner
	logger *slog.Logger

	mu        sync.Mutex
	transport Transport
	exited    bool
	waiter    chan struct{}
	termTimer *time.Timer
	killTimer *time.Timer
}

func newWatchedProcess(owner processOwner, transport Transport, logger *slog.Logger) *WatchedProcess {
	return &WatchedProcess{
		owner:     owner,
		logger:    logger,
		transport: transport,
	}
}

// Pid returns the watched process's PID.
func (wp *WatchedProcess) Pid() int {
	return wp.transport.Pid()
}

// Kill sends SIGTERM now, schedules a SIGKILL after SIGKILLDelay in case
// the process lingers, and returns a channel closed once the process has
// actually exited.
func (wp *WatchedProcess) Kill() <-chan struct{} {
	ch := wp.Wait()
	wp.terminate(false)
	return ch
}

// Wait returns a channel closed when the process exits by any means.
func (wp *WatchedProcess) Wait() <-chan struct{} {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.exited {
		return closedChan
	}
	if wp.waiter == nil {
		wp.waiter = make(chan struct{})
	}
	return wp.waiter
}

// WaitOrDie gives the process GracefulWaitPeriod to exit on its own, then
// escalates through SIGTERM and SIGKILL. The returned channel is closed
// once the process has exited.
func (wp *WatchedProcess) WaitOrDie() <-chan struct{} {
	ch := wp.Wait()
	wp.mu.Lock()
	if !wp.exited && wp.termTimer == nil {
		wp.termTimer = time.AfterFunc(GracefulWaitPeriod, func() {
			wp.terminate(true)
		})
	}
	wp.mu.Unlock()
	return ch
}

// terminate sends SIGTERM and schedules the SIGKILL follow-up. Once a
// SIGKILL is scheduled, further calls never schedule a second one.
func (wp *WatchedProcess) terminate(warn bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.exited {
		return
	}
	if warn {
		wp.logger.Warn("daemon didn't exit, sending SIGTERM",
			"program", wp.owner.Program(), "pid", wp.transport.Pid())
	}
	if err := wp.transport.Signal(unix.SIGTERM); err != nil {
		// The process beat us to it.
		return
	}
	if wp.killTimer == nil {
		wp.killTimer = time.AfterFunc(SIGKILLDelay, wp.reallyKill)
	}
}

func (wp *WatchedProcess) reallyKill() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.exited {
		return
	}
	if err := wp.transport.Signal(unix.SIGKILL); err == nil {
		wp.logger.Warn("daemon didn't die, sending SIGKILL",
			"program", wp.owner.Program(), "pid", wp.transport.Pid())
	}
}

// RotateLogs forwards SIGUSR1 so the child reopens its log files.
func (wp *WatchedProcess) RotateLogs() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.exited {
		return
	}
	_ = wp.transport.Signal(unix.SIGUSR1)
}

// processEnded records the exit, cancels pending escalation timers,
// releases waiters, and restarts the owning daemon when nobody was
// waiting and restarts are still permitted.
func (wp *WatchedProcess) processEnded() {
	wp.mu.Lock()
	wp.exited = true
	if wp.termTimer != nil {
		wp.termTimer.Stop()
		wp.termTimer = nil
	}
	if wp.killTimer != nil {
		wp.killTimer.Stop()
		wp.killTimer = nil
	}
	waiter := wp.waiter
	wp.mu.Unlock()

	if waiter != nil {
		wp.owner.clearProcess(wp)
		close(waiter)
		return
	}
	if wp.owner.AllowsRestart() {
		if err := wp.owner.Start(); err != nil && !errors.Is(err, ErrRestartBurst) {
			wp.logger.Error("failed to restart daemon",
				"program", wp.owner.Program(), "error", err)
		}
		return
	}
	wp.owner.clearProcess(wp)
}
