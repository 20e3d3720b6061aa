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
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer binds a server with the given registry to a Unix socket in a
// temp dir and returns the socket path. Cleanup stops the server.
func startServer(t *testing.T, reg *Registry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := NewServer(reg, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		srv.Stop()
		err := <-done
		assert.ErrorIs(t, err, ErrServerClosed)
	})
	return path
}

func TestClientServerCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return true, nil
	})
	path := startServer(t, reg)

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	var alive bool
	require.NoError(t, client.Call(context.Background(), "ping", nil, &alive))
	assert.True(t, alive)
}

func TestClientCallMethodNotFound(t *testing.T) {
	path := startServer(t, NewRegistry())

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(context.Background(), "missing", nil, nil)
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestClientCallRemoteError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("explode", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	})
	path := startServer(t, reg)

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	err = client.Call(context.Background(), "explode", nil, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, CodeInternal, remote.Code)
	assert.Equal(t, "kaboom", remote.Message)
}

func TestClientConcurrentCalls(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var n int
		if err := json.Unmarshal(params, &n); err != nil {
			return nil, err
		}
		return n, nil
	})
	path := startServer(t, reg)

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var out int
			if err := client.Call(context.Background(), "echo", n, &out); err != nil {
				t.Errorf("call %d: %v", n, err)
				return
			}
			if out != n {
				t.Errorf("call %d got %d", n, out)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientCallContextCancelled(t *testing.T) {
	reg := NewRegistry()
	block := make(chan struct{})
	reg.Register("hang", func(ctx context.Context, params json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	defer close(block)
	path := startServer(t, reg)

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = client.Call(ctx, "hang", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientDoneOnServerStop(t *testing.T) {
	reg := NewRegistry()
	path := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	srv := NewServer(reg, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, <-done, ErrServerClosed)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe the connection dropping")
	}

	err = client.Call(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestClientCallAfterClose(t *testing.T) {
	path := startServer(t, NewRegistry())

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	err = client.Call(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestServerIgnoresMalformedLines(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return true, nil
	})
	path := startServer(t, reg)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	client := NewClient(conn)
	var alive bool
	require.NoError(t, client.Call(context.Background(), "ping", nil, &alive))
	assert.True(t, alive)
}
