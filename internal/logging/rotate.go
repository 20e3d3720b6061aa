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

package logging

import (
	"os"
	"sync"
)

// RotatableFile is a log destination that can be reopened in place, so an
// external log rotation tool can move the file aside and signal us
// (SIGUSR1) to start writing to a fresh one.
type RotatableFile struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenRotatable opens (or creates) the log file at path for appending.
func OpenRotatable(path string) (*RotatableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &RotatableFile{path: path, file: f}, nil
}

// Write implements io.Writer.
func (r *RotatableFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Write(p)
}

// Reopen closes the current file and opens a new one at the same path.
// Writers racing with Reopen land in either the old or the new file, never
// in a closed one.
func (r *RotatableFile) Reopen() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.file
	r.file = f
	r.mu.Unlock()
	return old.Close()
}

// Close closes the underlying file.
func (r *RotatableFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
