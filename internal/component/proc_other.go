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

//go:build !linux

package component

import (
	"errors"
	"os"
	"syscall"
)

// Without procfs only liveness can be probed; name verification reports an
// error, which callers treat as a stale lock.
type basicChecker struct{}

// DefaultProcessChecker returns the platform ProcessChecker.
func DefaultProcessChecker() ProcessChecker {
	return basicChecker{}
}

func (basicChecker) Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (basicChecker) CommandName(pid int) (string, error) {
	return "", errors.New("component: process names not available on this platform")
}
