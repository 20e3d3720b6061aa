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
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"vawter.tech/stopper"
)

const (
	// pingInterval is the cadence of the health-check tick.
	pingInterval = 5 * time.Second

	// monitorStartDelay gives freshly spawned daemons time to bind their
	// sockets before the first check, so the check doesn't restart them
	// on top of the initial spawn.
	monitorStartDelay = 5 * time.Second

	// maximumPingFailures is the consecutive-failure count at which a
	// daemon is restarted.
	maximumPingFailures = 5
)

// Supervised is what the WatchDog requires of a managed daemon. *Daemon
// satisfies it; tests substitute fakes.
type Supervised interface {
	Name() string
	Program() string
	Start() error
	Stop() <-chan struct{}
	WaitOrDie() <-chan struct{}
	IsRunning(ctx context.Context) bool
	RequestExit(ctx context.Context) bool
	PrepareForShutdown()
	RotateLogs()
}

// WatchDog starts the hostfleet daemons and keeps them running. The
// broker must be first in the list so shutdown can be requested of it
// before anything else happens to its peers.
type WatchDog struct {
	daemons []Supervised
	logger  *slog.Logger
	metrics *Metrics

	sctx *stopper.Context

	mu           sync.Mutex
	stopping     bool
	pingFailures map[string]int
	inFlight     map[string]bool
	pings        sync.WaitGroup

	fatal     chan struct{}
	fatalOnce sync.Once
}

// NewWatchDog creates a supervisor over the given daemons, broker first.
func NewWatchDog(daemons []Supervised, logger *slog.Logger, metrics *Metrics) *WatchDog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WatchDog{
		daemons:      daemons,
		logger:       logger,
		metrics:      metrics,
		pingFailures: make(map[string]int),
		inFlight:     make(map[string]bool),
		fatal:        make(chan struct{}),
	}
	for _, d := range daemons {
		if daemon, ok := d.(*Daemon); ok {
			daemon.setRequestStop(w.signalFatal)
		}
	}
	return w
}

// Fatal is closed when a daemon exhausts its restart burst budget and the
// supervisor as a whole must shut down.
func (w *WatchDog) Fatal() <-chan struct{} {
	return w.fatal
}

func (w *WatchDog) signalFatal() {
	w.fatalOnce.Do(func() { close(w.fatal) })
}

// Daemons returns the managed daemons in order.
func (w *WatchDog) Daemons() []Supervised {
	return w.daemons
}

// CheckRunning pings every daemon and returns those that answered. Used
// at startup to detect a previous instance still holding the sockets.
func (w *WatchDog) CheckRunning(ctx context.Context) []Supervised {
	running := make([]Supervised, len(w.daemons))
	var g errgroup.Group
	for i, d := range w.daemons {
		g.Go(func() error {
			if d.IsRunning(ctx) {
				running[i] = d
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []Supervised
	for _, d := range running {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Start spawns every daemon's process and begins periodic health checks.
func (w *WatchDog) Start(ctx context.Context) error {
	for _, d := range w.daemons {
		if err := d.Start(); err != nil {
			return err
		}
	}
	w.StartMonitoring(ctx)
	return nil
}

// StartMonitoring begins the recurring health-check tick after an initial
// grace delay.
func (w *WatchDog) StartMonitoring(ctx context.Context) {
	w.sctx = stopper.WithContext(ctx)
	w.sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-sctx.Stopping():
			return nil
		case <-time.After(monitorStartDelay):
		}

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			w.check(ctx)
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
			}
		}
	})
}

// check pings every daemon concurrently. A daemon whose previous ping is
// still outstanding is skipped, so no daemon ever has two in-flight
// pings and results for one daemon are processed in issue order.
func (w *WatchDog) check(ctx context.Context) {
	for _, d := range w.daemons {
		name := d.Name()
		w.mu.Lock()
		if w.inFlight[name] {
			w.mu.Unlock()
			continue
		}
		w.inFlight[name] = true
		w.pings.Add(1)
		w.mu.Unlock()

		go func(d Supervised) {
			defer w.pings.Done()
			w.recordPingResult(d, d.IsRunning(ctx))
			w.mu.Lock()
			w.inFlight[d.Name()] = false
			w.mu.Unlock()
		}(d)
	}
}

// recordPingResult updates the consecutive-failure counter and restarts
// the daemon once it reaches the threshold. Restarts are suppressed while
// the supervisor is stopping; failures are still recorded.
func (w *WatchDog) recordPingResult(d Supervised, alive bool) {
	name := d.Name()
	w.metrics.SetDaemonUp(name, alive)

	w.mu.Lock()
	if alive {
		w.pingFailures[name] = 0
		w.mu.Unlock()
		return
	}
	w.pingFailures[name]++
	failures := w.pingFailures[name]
	stopping := w.stopping
	w.mu.Unlock()

	w.metrics.RecordPingFailure(name)
	w.logger.Warn("daemon failed to respond to a ping",
		"daemon", name, "failures", failures)

	if failures != maximumPingFailures || stopping {
		return
	}

	w.logger.Warn("daemon died, restarting", "daemon", name)
	<-d.Stop()
	if err := d.Start(); err != nil {
		w.logger.Error("restart failed", "daemon", name, "error", err)
	}
	w.metrics.RecordRestart(name)
	w.mu.Lock()
	w.pingFailures[name] = 0
	w.mu.Unlock()
}

// RequestExit drives the orderly whole-system shutdown: stop the
// health-check tick, forbid restarts, ask the broker to exit (it cascades
// the request to the other components), then wait for every process to
// go away, escalating to forced termination when the broker was
// unreachable or processes linger.
func (w *WatchDog) RequestExit(ctx context.Context) error {
	if w.sctx != nil {
		w.sctx.Stop(time.Second)
		_ = w.sctx.Wait()
	}

	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()

	// A lingering ping disconnects its daemon's connection when it
	// finishes; join them all so the broker exit exchange below isn't
	// torn down mid-call.
	w.pings.Wait()

	if len(w.daemons) == 0 {
		return nil
	}

	for _, d := range w.daemons {
		d.PrepareForShutdown()
	}

	broker := w.daemons[0]
	var waits []<-chan struct{}
	if broker.RequestExit(ctx) {
		for _, d := range w.daemons {
			waits = append(waits, d.WaitOrDie())
		}
	} else {
		w.logger.Error("couldn't request that broker gracefully shut down; killing forcefully")
		for _, d := range w.daemons {
			waits = append(waits, d.Stop())
		}
	}

	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RotateLogs broadcasts the log-rotation notification to every daemon.
func (w *WatchDog) RotateLogs() {
	for _, d := range w.daemons {
		d.RotateLogs()
	}
}
