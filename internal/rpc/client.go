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
	"fmt"
	"net"
	"sync"
)

// ErrConnectionLost is returned by calls whose connection dropped before a
// response arrived.
var ErrConnectionLost = errors.New("rpc: connection lost")

// RemoteError is a non-protocol error reported by the remote method itself.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %s: %s", e.Code, e.Message)
}

// Client issues method calls over a single connection. It is safe for
// concurrent use; responses are matched to callers by correlation ID.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool

	done chan struct{}
}

// Dial connects to the Unix socket at path and returns a client for it.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection. The client owns the
// connection and closes it on Close.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.CorrelationID]
		if ok {
			delete(c.pending, msg.CorrelationID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}

	// The connection is gone; fail every waiter.
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
	close(c.done)
}

// Call invokes the named method and decodes its result into out (which may
// be nil). Params must be transport-safe. A method-not-found reply is
// surfaced as ErrMethodNotFound.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionLost
	}
	c.pending[req.CorrelationID] = ch
	c.mu.Unlock()

	data, err := req.Marshal()
	if err != nil {
		c.forget(req.CorrelationID)
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.CorrelationID)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return ErrConnectionLost
		}
		return decodeReply(msg, out)
	case <-ctx.Done():
		c.forget(req.CorrelationID)
		return ctx.Err()
	case <-c.done:
		return ErrConnectionLost
	}
}

func decodeReply(msg *Message, out any) error {
	switch msg.Type {
	case MessageTypeError:
		if msg.Error.Code == CodeMethodNotFound {
			return fmt.Errorf("%w: %s", ErrMethodNotFound, msg.Error.Message)
		}
		return &RemoteError{Code: msg.Error.Code, Message: msg.Error.Message}
	case MessageTypeResponse:
		if out == nil {
			return nil
		}
		return msg.UnmarshalResult(out)
	default:
		return fmt.Errorf("%w: reply of type %q", ErrInvalidMessage, msg.Type)
	}
}

func (c *Client) forget(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

// Done is closed once the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
