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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return true, nil
	})

	req, err := NewRequest("ping", nil)
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), req)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, req.CorrelationID, resp.CorrelationID)

	var alive bool
	require.NoError(t, resp.UnmarshalResult(&alive))
	assert.True(t, alive)
}

func TestRegistryDispatchUnknownMethod(t *testing.T) {
	reg := NewRegistry()

	req, err := NewRequest("get_secrets", nil)
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), req)
	assert.Equal(t, MessageTypeError, resp.Type)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "get_secrets")
}

func TestRegistryDispatchHandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("explode", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("kaboom")
	})

	req, err := NewRequest("explode", nil)
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), req)
	assert.Equal(t, MessageTypeError, resp.Type)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.Equal(t, "kaboom", resp.Error.Message)
}

func TestRegistryDispatchParams(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		return in["text"], nil
	})

	req, err := NewRequest("echo", map[string]string{"text": "hi"})
	require.NoError(t, err)

	resp := reg.Dispatch(context.Background(), req)
	require.Equal(t, MessageTypeResponse, resp.Type)

	var out string
	require.NoError(t, resp.UnmarshalResult(&out))
	assert.Equal(t, "hi", out)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("exit", nil)
	reg.Register("ping", nil)
	reg.Register("register", nil)

	assert.Equal(t, []string{"exit", "ping", "register"}, reg.Names())
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return false, nil
	})
	reg.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return true, nil
	})

	req, err := NewRequest("ping", nil)
	require.NoError(t, err)

	var alive bool
	resp := reg.Dispatch(context.Background(), req)
	require.NoError(t, resp.UnmarshalResult(&alive))
	assert.True(t, alive)
}
