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
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

var (
	// ErrInvalidMessage is returned when a message cannot be parsed.
	ErrInvalidMessage = errors.New("rpc: invalid message format")

	// ErrMissingCorrelationID is returned when a message lacks a correlation ID.
	ErrMissingCorrelationID = errors.New("rpc: missing correlation ID")

	// ErrMethodNotFound is returned when the requested method is not exposed.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrUnsupportedType is returned when an argument or result is not a
	// transport-safe value.
	ErrUnsupportedType = errors.New("rpc: unsupported argument type")
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeMethodNotFound = "method_not_found"
	CodeInvalidParams  = "invalid_params"
	CodeInternal       = "internal_error"
)

// MessageType identifies the type of RPC message.
type MessageType string

const (
	// MessageTypeRequest is a request from client to server.
	MessageTypeRequest MessageType = "request"

	// MessageTypeResponse is a successful response from server to client.
	MessageTypeResponse MessageType = "response"

	// MessageTypeError is an error response.
	MessageTypeError MessageType = "error"
)

// Message is the base structure for all RPC messages.
type Message struct {
	// Type identifies the message type
	Type MessageType `json:"type"`

	// CorrelationID links requests with responses
	CorrelationID string `json:"correlationId"`

	// Method is the RPC method to invoke (request only)
	Method string `json:"method,omitempty"`

	// Params contains method parameters (request only)
	Params json.RawMessage `json:"params,omitempty"`

	// Result contains the response data (response only)
	Result json.RawMessage `json:"result,omitempty"`

	// Error contains error information (error only)
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse contains structured error information.
type ErrorResponse struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`
}

// NewRequest creates a new request message with a generated correlation ID.
// The params value must be transport-safe.
func NewRequest(method string, params any) (*Message, error) {
	if err := CheckValue(params); err != nil {
		return nil, err
	}

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshaling params: %w", err)
		}
		paramsJSON = data
	}

	return &Message{
		Type:          MessageTypeRequest,
		CorrelationID: uuid.New().String(),
		Method:        method,
		Params:        paramsJSON,
	}, nil
}

// NewResponse creates a response message for the given request. The result
// value must be transport-safe.
func NewResponse(correlationID string, result any) (*Message, error) {
	if err := CheckValue(result); err != nil {
		return nil, err
	}

	var resultJSON json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshaling result: %w", err)
		}
		resultJSON = data
	}

	return &Message{
		Type:          MessageTypeResponse,
		CorrelationID: correlationID,
		Result:        resultJSON,
	}, nil
}

// NewErrorResponse creates an error response message.
func NewErrorResponse(correlationID, code, message string) *Message {
	return &Message{
		Type:          MessageTypeError,
		CorrelationID: correlationID,
		Error: &ErrorResponse{
			Code:    code,
			Message: message,
		},
	}
}

// Validate checks if the message is well-formed.
func (m *Message) Validate() error {
	if m.CorrelationID == "" {
		return ErrMissingCorrelationID
	}

	switch m.Type {
	case MessageTypeRequest:
		if m.Method == "" {
			return fmt.Errorf("%w: missing method", ErrInvalidMessage)
		}
	case MessageTypeResponse:
		// Valid as-is
	case MessageTypeError:
		if m.Error == nil {
			return fmt.Errorf("%w: missing error body", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}

	return nil
}

// UnmarshalParams unmarshals the params field into the given value.
func (m *Message) UnmarshalParams(v any) error {
	if m.Params == nil {
		return nil
	}
	return json.Unmarshal(m.Params, v)
}

// UnmarshalResult unmarshals the result field into the given value.
func (m *Message) UnmarshalResult(v any) error {
	if m.Result == nil {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}

// Marshal encodes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses and validates a JSON message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return &msg, nil
}

// CheckValue verifies that v is a transport-safe value: nil, a primitive,
// an ordered sequence, or a string-keyed mapping, recursively. Structs and
// pointers are allowed since they marshal to string-keyed mappings.
func CheckValue(v any) error {
	if v == nil {
		return nil
	}
	return checkValue(reflect.ValueOf(v), make(map[uintptr]bool))
}

// checkValue walks v recursively. seen holds the pointers, maps, and
// slices on the current path so a self-referencing value is rejected
// instead of recursed into without bound.
func checkValue(v reflect.Value, seen map[uintptr]bool) error {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkValue(v.Elem(), seen)
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if seen[p] {
			return fmt.Errorf("%w: cyclic value", ErrUnsupportedType)
		}
		seen[p] = true
		err := checkValue(v.Elem(), seen)
		delete(seen, p)
		return err
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if seen[p] {
			return fmt.Errorf("%w: cyclic value", ErrUnsupportedType)
		}
		seen[p] = true
		err := checkElems(v, seen)
		delete(seen, p)
		return err
	case reflect.Array:
		return checkElems(v, seen)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map keyed by %s", ErrUnsupportedType, v.Type().Key())
		}
		if v.IsNil() {
			return nil
		}
		p := v.Pointer()
		if seen[p] {
			return fmt.Errorf("%w: cyclic value", ErrUnsupportedType)
		}
		seen[p] = true
		var err error
		iter := v.MapRange()
		for iter.Next() {
			if err = checkValue(iter.Value(), seen); err != nil {
				break
			}
		}
		delete(seen, p)
		return err
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := checkValue(v.Field(i), seen); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, v.Kind())
	}
}

func checkElems(v reflect.Value, seen map[uintptr]bool) error {
	for i := 0; i < v.Len(); i++ {
		if err := checkValue(v.Index(i), seen); err != nil {
			return err
		}
	}
	return nil
}
