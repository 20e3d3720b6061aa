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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hostfleet/hostfleet/internal/config"
	"github.com/hostfleet/hostfleet/internal/logging"
	"github.com/hostfleet/hostfleet/internal/supervisor"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type flags struct {
	configPath  string
	dataPath    string
	logDir      string
	logLevel    string
	binDir      string
	pidFile     string
	quiet       bool
	daemonize   bool
	monitorOnly bool
	ignoreInt   bool
	showVersion bool
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "hostfleetd",
		Short: "Hostfleet client watchdog",
		Long: `hostfleetd supervises the hostfleet client daemons (broker, monitor
and manager), restarting them when they wedge and relaying shutdown and
log-rotation signals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				fmt.Printf("hostfleetd %s (commit: %s, built: %s)\n", version, commit, buildDate)
				return nil
			}
			code, err := run(cmd.Context(), &f)
			if err != nil {
				return err
			}
			if code != supervisor.ExitOK {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&f.dataPath, "data-path", "", "Directory for runtime state")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "Directory to write logs to")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Minimum log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.binDir, "bin-dir", "", "Directory holding the daemon executables")
	cmd.Flags().StringVar(&f.pidFile, "pid-file", "", "File to write the watchdog PID to")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Log to files instead of the console")
	cmd.Flags().BoolVar(&f.daemonize, "daemon", false, "Run detached from the console (implies --quiet)")
	cmd.Flags().BoolVar(&f.monitorOnly, "monitor-only", false, "Do not start the manager daemon")
	cmd.Flags().BoolVar(&f.ignoreInt, "ignore-sigint", false, "Ignore SIGINT (for running under an init system)")
	cmd.Flags().BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hostfleetd: %v\n", err)
		os.Exit(supervisor.ExitStartupFailure)
	}
}

func run(ctx context.Context, f *flags) (int, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return supervisor.ExitStartupFailure, err
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return supervisor.ExitStartupFailure, err
	}

	logCfg := logging.FromEnv()
	if cfg.LogLevel != "" && os.Getenv("HOSTFLEET_LOG_LEVEL") == "" && os.Getenv("HOSTFLEET_DEBUG") == "" {
		logCfg.Level = cfg.LogLevel
	}

	// In quiet mode the console belongs to whoever started us, so the
	// watchdog's own output goes to a rotatable file under LogDir.
	var logFile *logging.RotatableFile
	if cfg.Quiet {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return supervisor.ExitStartupFailure, err
		}
		logFile, err = logging.OpenRotatable(filepath.Join(cfg.LogDir, "watchdog.log"))
		if err != nil {
			return supervisor.ExitStartupFailure, err
		}
		defer logFile.Close()
		logCfg.Output = logFile
		logCfg.Format = logging.FormatJSON
	}

	logger := logging.New(logCfg)
	slog.SetDefault(logger)

	svc, err := supervisor.NewService(cfg, logger, logFile)
	if err != nil {
		return supervisor.ExitStartupFailure, err
	}
	return svc.Run(ctx), nil
}

func applyFlags(cfg *config.Config, f *flags) {
	if f.dataPath != "" {
		cfg.DataPath = f.dataPath
	}
	if f.logDir != "" {
		cfg.LogDir = f.logDir
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.binDir != "" {
		cfg.BinDir = f.binDir
	}
	if f.pidFile != "" {
		cfg.PIDFile = f.pidFile
	}
	if f.quiet || f.daemonize {
		cfg.Quiet = true
	}
	if f.monitorOnly {
		cfg.MonitorOnly = true
	}
	if f.ignoreInt {
		cfg.IgnoreSIGINT = true
	}
}
