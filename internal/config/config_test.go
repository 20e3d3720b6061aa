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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DataPath != "/var/lib/hostfleet" {
		t.Errorf("expected data path /var/lib/hostfleet, got %q", cfg.DataPath)
	}
	if cfg.LogDir != "/var/log/hostfleet" {
		t.Errorf("expected log dir /var/log/hostfleet, got %q", cfg.LogDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.Username != "hostfleet" {
		t.Errorf("expected username 'hostfleet', got %q", cfg.Username)
	}
	if cfg.Quiet {
		t.Error("expected quiet false by default")
	}
	if cfg.MonitorOnly {
		t.Error("expected monitor_only false by default")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataPath != Default().DataPath {
		t.Errorf("expected default data path, got %q", cfg.DataPath)
	}
	if cfg.Path != "" {
		t.Errorf("expected empty Path, got %q", cfg.Path)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := `
data_path: /tmp/hf-data
log_dir: /tmp/hf-logs
log_level: debug
quiet: true
monitor_only: true
username: nobody
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataPath != "/tmp/hf-data" {
		t.Errorf("expected data path /tmp/hf-data, got %q", cfg.DataPath)
	}
	if cfg.LogDir != "/tmp/hf-logs" {
		t.Errorf("expected log dir /tmp/hf-logs, got %q", cfg.LogDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}
	if !cfg.Quiet || !cfg.MonitorOnly {
		t.Error("expected quiet and monitor_only to be set")
	}
	if cfg.Username != "nobody" {
		t.Errorf("expected username nobody, got %q", cfg.Username)
	}
	if cfg.Path != path {
		t.Errorf("expected Path %q, got %q", path, cfg.Path)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %q", cfg.LogLevel)
	}
	if cfg.DataPath != "/var/lib/hostfleet" {
		t.Errorf("expected default data path to survive, got %q", cfg.DataPath)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte("data_path: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "empty data path",
			mutate:  func(c *Config) { c.DataPath = "" },
			wantErr: true,
		},
		{
			name:    "empty log dir",
			mutate:  func(c *Config) { c.LogDir = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSocketsPath(t *testing.T) {
	cfg := &Config{DataPath: "/var/lib/hostfleet"}
	if got := cfg.SocketsPath(); got != "/var/lib/hostfleet/sockets" {
		t.Errorf("unexpected sockets path %q", got)
	}
}
