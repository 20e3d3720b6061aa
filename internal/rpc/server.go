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

package rpc

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// ErrServerClosed is returned by Serve after Stop has been called.
var ErrServerClosed = errors.New("rpc: server closed")

// maxMessageSize bounds a single wire message.
const maxMessageSize = 1 << 20

// Server accepts connections on a listener and dispatches method calls
// through a Registry. Each connection is served by its own goroutine;
// requests on one connection are processed in order, which is what keeps
// one caller's calls sequenced.
type Server struct {
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool

	// calls tracks in-flight dispatches so Stop can let them finish.
	calls      sync.WaitGroup
	shutdownCh chan struct{}
}

// NewServer creates a server dispatching to the given registry.
func NewServer(registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:   registry,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Serve accepts connections on ln until Stop is called. It always returns
// a non-nil error; after Stop the error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return ErrServerClosed
			default:
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)
	var writeMu sync.Mutex

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := ParseMessage(line)
		if err != nil {
			s.logger.Warn("dropping malformed rpc message", "error", err)
			continue
		}
		if msg.Type != MessageTypeRequest {
			s.logger.Warn("dropping unexpected rpc message", "type", msg.Type)
			continue
		}

		s.calls.Add(1)
		resp := s.registry.Dispatch(context.Background(), msg)
		s.calls.Done()

		data, err := resp.Marshal()
		if err != nil {
			s.logger.Error("marshaling rpc response", "error", err)
			continue
		}
		data = append(data, '\n')
		writeMu.Lock()
		_, err = conn.Write(data)
		writeMu.Unlock()
		if err != nil {
			return
		}

		select {
		case <-s.shutdownCh:
			return
		default:
		}
	}
}

// Stop closes the listener and all connections. Calls already being
// dispatched are allowed to complete first.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.shutdownCh)
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	s.calls.Wait()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return nil
}
