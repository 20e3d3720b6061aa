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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hostfleet/hostfleet/internal/rpc"
)

var (
	// ErrRetriesExhausted is returned by Connect when every attempt
	// failed.
	ErrRetriesExhausted = errors.New("component: connection retries exhausted")

	// ErrNotConnected is returned by remote calls issued before a
	// successful Connect or after Disconnect.
	ErrNotConnected = errors.New("component: not connected")
)

const (
	// initialRetryDelay is the wait after the first failed attempt.
	initialRetryDelay = 50 * time.Millisecond

	// defaultBackoffFactor multiplies the delay after each failure when
	// the caller does not pick one.
	defaultBackoffFactor = 2.0

	// maxRetryDelay caps the grown delay.
	maxRetryDelay = 30 * time.Second
)

// ConnectOptions controls the retry behavior of Connector.Connect.
type ConnectOptions struct {
	// MaxRetries bounds the number of attempts. Zero means keep trying
	// until the context is cancelled.
	MaxRetries int

	// Factor is the multiplicative growth of the delay between attempts.
	// Smaller values retry at a faster pace. Zero picks the default.
	Factor float64

	// Quiet suppresses per-attempt error logging.
	Quiet bool
}

// Connector maintains the client side of one component's RPC socket. After
// a connection that was established drops and is re-established, the
// OnReconnect callback fires, so callers can re-run idempotent
// registration without doing so on the very first connect.
type Connector struct {
	name   string
	dir    string
	logger *slog.Logger

	mu            sync.Mutex
	client        *rpc.Client
	everConnected bool
	onReconnect   func()
	watchCancel   context.CancelFunc
}

// NewConnector creates a connector for the named component, resolving its
// socket under socketsDir.
func NewConnector(name, socketsDir string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{name: name, dir: socketsDir, logger: logger}
}

// Name returns the component name this connector targets.
func (c *Connector) Name() string {
	return c.name
}

// OnReconnect installs the callback fired after a drop-then-reconnect.
func (c *Connector) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Connect dials the component's socket, retrying per opts, and returns the
// remote-call stub. Once connected, the connector keeps the connection
// alive: a dropped connection is redialed in the background and the stub
// keeps working across the gap.
func (c *Connector) Connect(ctx context.Context, opts ConnectOptions) (*Remote, error) {
	factor := opts.Factor
	if factor <= 1 {
		factor = defaultBackoffFactor
	}
	socketPath := SocketPath(c.dir, c.name)

	delay := initialRetryDelay
	attempts := 0
	for {
		client, err := rpc.Dial(ctx, socketPath)
		if err == nil {
			c.attach(client)
			return &Remote{c: c}, nil
		}

		if !opts.Quiet {
			c.logger.Error("error while connecting to component",
				"component", c.name, "error", err)
		}
		attempts++
		if opts.MaxRetries > 0 && attempts > opts.MaxRetries {
			return nil, fmt.Errorf("%w: %s after %d attempts: %v",
				ErrRetriesExhausted, c.name, attempts, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * factor)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// attach installs a fresh client, fires the reconnect event when this is
// not the first connection, and starts watching for drops.
func (c *Connector) attach(client *rpc.Client) {
	c.mu.Lock()
	reconnected := c.everConnected
	c.everConnected = true
	c.client = client
	notify := c.onReconnect

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	c.mu.Unlock()

	if reconnected && notify != nil {
		notify()
	}
	go c.watch(watchCtx, client)
}

// watch redials after the connection drops, for as long as the connector
// has not been explicitly disconnected.
func (c *Connector) watch(ctx context.Context, client *rpc.Client) {
	select {
	case <-ctx.Done():
		return
	case <-client.Done():
	}

	c.mu.Lock()
	if c.client == client {
		c.client = nil
	}
	c.mu.Unlock()

	socketPath := SocketPath(c.dir, c.name)
	delay := initialRetryDelay
	for {
		next, err := rpc.Dial(ctx, socketPath)
		if err == nil {
			c.attach(next)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * defaultBackoffFactor)
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// Disconnect closes the connection. It is idempotent: calling it before
// any Connect, or several times, is safe.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	client := c.client
	cancel := c.watchCancel
	c.client = nil
	c.watchCancel = nil
	c.everConnected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}
}

// current returns the live client, if any.
func (c *Connector) current() *rpc.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Remote is the typed remote-call stub produced by Connect. Calls route
// through the connector's current connection.
type Remote struct {
	c *Connector
}

// Call invokes an arbitrary exposed method.
func (r *Remote) Call(ctx context.Context, method string, params, out any) error {
	client := r.c.current()
	if client == nil {
		return ErrNotConnected
	}
	return client.Call(ctx, method, params, out)
}

// Ping performs the standard health check.
func (r *Remote) Ping(ctx context.Context) (bool, error) {
	var alive bool
	if err := r.Call(ctx, "ping", nil, &alive); err != nil {
		return false, err
	}
	return alive, nil
}

// Exit asks the component to shut down.
func (r *Remote) Exit(ctx context.Context) error {
	return r.Call(ctx, "exit", nil, nil)
}
