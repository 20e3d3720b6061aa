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

// Package component connects the hostfleet subsystem processes to each
// other. A Publisher exposes one local component's registered methods on a
// Unix socket guarded by a PID lock file; a Connector resolves a
// component's socket by name and produces a remote-call stub for it.
package component

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/hostfleet/hostfleet/internal/rpc"
)

// Canonical names of the hostfleet components.
const (
	Broker  = "broker"
	Monitor = "monitor"
	Manager = "manager"
)

// SocketPath returns the socket path of the named component.
func SocketPath(socketsDir, name string) string {
	return filepath.Join(socketsDir, name+".sock")
}

// LockPath returns the lock file guarding a socket path.
func LockPath(socketPath string) string {
	return socketPath + ".lock"
}

// Component is the standard surface every published component exposes so
// the watchdog can health-check and shut it down.
type Component interface {
	// Ping reports liveness; the watchdog treats anything but a true
	// reply as a failed health check.
	Ping() bool

	// Exit asks the component to terminate. The broker additionally
	// cascades the request to its peers.
	Exit()
}

// RegisterStandardMethods exposes ping and exit for the given component on
// a registry. The exit reply is sent before the component acts on it, so
// the caller's RPC completes even though the process is about to go away.
func RegisterStandardMethods(reg *rpc.Registry, c Component) {
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return c.Ping(), nil
	})
	reg.Register("exit", func(ctx context.Context, params json.RawMessage) (any, error) {
		go c.Exit()
		return nil, nil
	})
}
