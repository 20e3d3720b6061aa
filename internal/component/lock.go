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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// ProcessNamePrefix is the command-name prefix shared by all hostfleet
// processes. A lock whose PID resolves to a live process with a different
// name belongs to a reused PID and is treated as stale.
const ProcessNamePrefix = "hostfleet"

// ProcessChecker is the OS-facing capability used for stale-lock
// detection. It is an interface so tests can decide which PIDs are alive
// and what they are called.
type ProcessChecker interface {
	// Alive reports whether a process with the given PID exists.
	Alive(pid int) bool

	// CommandName returns the command name of the process, as the kernel
	// reports it.
	CommandName(pid int) (string, error)
}

// readLock parses the owner PID out of a lock file.
func readLock(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("component: malformed lock file %s: %w", path, err)
	}
	return pid, nil
}

// writeLock records pid as the owner of the lock, atomically so a reader
// never observes a half-written PID.
func writeLock(path string, pid int) error {
	return renameio.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// lockIsLive reports whether the lock's PID belongs to a live process of
// this product. Anything else, including a PID we cannot inspect, means
// the lock is stale.
func lockIsLive(checker ProcessChecker, pid int) bool {
	if !checker.Alive(pid) {
		return false
	}
	name, err := checker.CommandName(pid)
	if err != nil {
		return false
	}
	return strings.HasPrefix(name, ProcessNamePrefix)
}
