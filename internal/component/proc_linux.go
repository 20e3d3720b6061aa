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

//go:build linux

package component

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// procChecker is the real ProcessChecker, backed by signal probing and
// /proc/<pid>/stat.
type procChecker struct{}

// DefaultProcessChecker returns the platform ProcessChecker.
func DefaultProcessChecker() ProcessChecker {
	return procChecker{}
}

func (procChecker) Alive(pid int) bool {
	// Signal 0 performs the existence check without delivering anything.
	// EPERM still means the process exists.
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

func (procChecker) CommandName(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", err
	}
	// The command name is parenthesized and may itself contain parens;
	// take everything between the first '(' and the last ')'.
	stat := string(data)
	open := strings.IndexByte(stat, '(')
	closing := strings.LastIndexByte(stat, ')')
	if open < 0 || closing < open {
		return "", fmt.Errorf("component: malformed stat for pid %d", pid)
	}
	return stat[open+1 : closing], nil
}
