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

package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostfleet/hostfleet/internal/config"
)

func TestServiceBootstrapCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		DataPath: filepath.Join(base, "data"),
		LogDir:   filepath.Join(base, "logs"),
	}
	s := &Service{cfg: cfg, logger: testLogger()}

	require.NoError(t, s.bootstrap())
	for _, dir := range []string{cfg.DataPath, cfg.SocketsPath(), cfg.LogDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestServicePIDFileRoundTrip(t *testing.T) {
	cfg := &config.Config{PIDFile: filepath.Join(t.TempDir(), "watchdog.pid")}
	s := &Service{cfg: cfg, logger: testLogger()}

	require.NoError(t, s.writePIDFile())
	data, err := os.ReadFile(cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	s.removePIDFile()
	_, err = os.Stat(cfg.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestServicePIDFileNotRemovedWhenForeign(t *testing.T) {
	cfg := &config.Config{PIDFile: filepath.Join(t.TempDir(), "watchdog.pid")}
	s := &Service{cfg: cfg, logger: testLogger()}

	// A replacement instance already took over the file.
	require.NoError(t, os.WriteFile(cfg.PIDFile, []byte("99999\n"), 0o644))
	s.removePIDFile()
	_, err := os.Stat(cfg.PIDFile)
	assert.NoError(t, err, "foreign PID file must survive")
}

func TestServicePIDFileDisabled(t *testing.T) {
	s := &Service{cfg: &config.Config{}, logger: testLogger()}
	require.NoError(t, s.writePIDFile())
	s.removePIDFile()
}

func TestNewServiceDaemonSet(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		DataPath: filepath.Join(base, "data"),
		LogDir:   filepath.Join(base, "logs"),
		BinDir:   base,
	}

	svc, err := NewService(cfg, testLogger(), nil)
	require.NoError(t, err)

	daemons := svc.WatchDog().Daemons()
	require.Len(t, daemons, 3)
	assert.Equal(t, "broker", daemons[0].Name(), "broker must come first for shutdown")
	assert.Equal(t, "monitor", daemons[1].Name())
	assert.Equal(t, "manager", daemons[2].Name())
	assert.Equal(t, "hostfleet-broker", daemons[0].Program())
}

func TestNewServiceMonitorOnly(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{
		DataPath:    filepath.Join(base, "data"),
		LogDir:      filepath.Join(base, "logs"),
		BinDir:      base,
		MonitorOnly: true,
	}

	svc, err := NewService(cfg, testLogger(), nil)
	require.NoError(t, err)

	daemons := svc.WatchDog().Daemons()
	require.Len(t, daemons, 2)
	for _, d := range daemons {
		assert.NotEqual(t, "manager", d.Name())
	}
}
