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

// Package rpc implements the method-call protocol the hostfleet processes
// use to talk to each other over Unix domain sockets.
//
// Messages are newline-delimited JSON. A request names a method and carries
// parameters; the peer answers with a response or an error message bearing
// the same correlation ID. A server only dispatches methods that were
// explicitly registered; anything else fails with a method-not-found error.
//
// Parameters and results are restricted to transport-safe shapes:
// primitives, ordered sequences, and string-keyed mappings. The boundary is
// validated when building messages so a bad argument fails fast on the
// caller's side.
package rpc
