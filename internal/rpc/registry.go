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
	"sort"
	"sync"
)

// Handler processes a single method call. The params are the raw JSON of
// the request parameters, nil when the caller sent none.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry is the method-exposure table of one component. A method is
// remotely callable if and only if it was registered here; there is no
// reflection over the component object.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Handler)}
}

// Register exposes a method under the given name, replacing any previous
// handler for that name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = h
}

// Names returns the sorted names of all exposed methods.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes the handler for the request and builds the reply
// message. A request for an unregistered method yields a method-not-found
// error response rather than an error on the server side.
func (r *Registry) Dispatch(ctx context.Context, req *Message) *Message {
	r.mu.RLock()
	handler, ok := r.methods[req.Method]
	r.mu.RUnlock()

	if !ok {
		return NewErrorResponse(req.CorrelationID, CodeMethodNotFound,
			"method "+req.Method+" is not exposed")
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		return NewErrorResponse(req.CorrelationID, CodeInternal, err.Error())
	}

	resp, err := NewResponse(req.CorrelationID, result)
	if err != nil {
		return NewErrorResponse(req.CorrelationID, CodeInternal, err.Error())
	}
	return resp
}
