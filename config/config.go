// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package config loads this server's runtime configuration from flags and
// environment variables; no config file is read. It follows the
// flag+viper layering used by the wider fuse-adjacent tooling this module
// is drawn from.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacobsa/davserve/davlog"
)

// Config holds everything cmd/davserved needs to stand up the server. Every
// field has a sensible zero-config default; see RegisterFlags.
type Config struct {
	ListenAddr      string
	MetricsAddr     string
	LogLevel        string
	WorkerCommand   string
	DrainTimeout    time.Duration
	ReplySlotWindow time.Duration
}

// RegisterFlags declares this module's flags on fs and binds them into v,
// so that environment variables of the form DAVSERVE_<FLAG_NAME> override
// the defaults, and flags given explicitly on the command line override
// both. Call Load(v) after fs.Parse to materialize a Config.
func RegisterFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.String("listen", ":8080", "address the WebDAV HTTP server listens on")
	fs.String("metrics-listen", ":9090", "address the Prometheus metrics endpoint listens on")
	fs.String("log-level", "info", "one of: error, warn, info, debug")
	fs.String("worker-command", "", "path to the FUSE worker binary; empty runs the worker in-process")
	fs.Duration("drain-timeout", 5*time.Second, "how long in-flight requests may run after shutdown starts before they are ended, and how long to wait for the FUSE worker to exit")
	fs.Duration("reply-slot-window", 2*time.Second, "log a warning if the FUSE reply slot stays busy longer than this")

	v.SetEnvPrefix("davserve")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
}

// Load materializes a Config from v after flags have been parsed.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:      v.GetString("listen"),
		MetricsAddr:     v.GetString("metrics-listen"),
		LogLevel:        v.GetString("log-level"),
		WorkerCommand:   v.GetString("worker-command"),
		DrainTimeout:    v.GetDuration("drain-timeout"),
		ReplySlotWindow: v.GetDuration("reply-slot-window"),
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseLogLevel maps a config string to a davlog.Level.
func ParseLogLevel(s string) (davlog.Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return davlog.LevelError, nil
	case "warn", "warning":
		return davlog.LevelWarn, nil
	case "info":
		return davlog.LevelInfo, nil
	case "debug":
		return davlog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
}
