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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the watchdog configuration. Values come from defaults, then
// the YAML config file, then CLI flag overrides, in that order.
type Config struct {
	// DataPath is the directory for runtime state. Sockets live under
	// <data_path>/sockets.
	// Default: /var/lib/hostfleet
	DataPath string `yaml:"data_path"`

	// LogDir is the directory daemons and the watchdog log to.
	// Default: /var/log/hostfleet
	LogDir string `yaml:"log_dir"`

	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`

	// BinDir is the directory holding the component executables. Empty
	// means the directory of the running watchdog binary.
	BinDir string `yaml:"bin_dir,omitempty"`

	// PIDFile is the path the watchdog writes its PID to. Empty means no
	// PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// Quiet suppresses child daemon console output (children get --quiet).
	Quiet bool `yaml:"quiet"`

	// MonitorOnly disables the management component, so the agent can run
	// without root-level apply capabilities.
	MonitorOnly bool `yaml:"monitor_only"`

	// Username is the account the unprivileged components run as when the
	// watchdog itself runs as root.
	// Default: hostfleet
	Username string `yaml:"username,omitempty"`

	// IgnoreSIGINT makes the watchdog ignore SIGINT, for running under an
	// init system that delivers terminal signals to the whole group. Set
	// from the CLI only.
	IgnoreSIGINT bool `yaml:"-"`

	// Path is the location the config was loaded from. It is forwarded to
	// child daemons via -c so every component reads the same file.
	Path string `yaml:"-"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		DataPath: "/var/lib/hostfleet",
		LogDir:   "/var/log/hostfleet",
		LogLevel: "info",
		Username: "hostfleet",
	}
}

// Load reads the YAML config file at path on top of the defaults. A missing
// file is not an error when path is empty; an explicitly given path must
// exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("%w: data_path must not be empty", ErrInvalidConfig)
	}
	if c.LogDir == "" {
		return fmt.Errorf("%w: log_dir must not be empty", ErrInvalidConfig)
	}
	return nil
}

// SocketsPath returns the directory component sockets are created in.
func (c *Config) SocketsPath() string {
	return filepath.Join(c.DataPath, "sockets")
}
