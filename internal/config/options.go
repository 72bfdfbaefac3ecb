/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the operator's runtime options.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

const (
	DefaultMetricsAddr     = ":8080"
	DefaultProbeAddr       = ":8081"
	DefaultFieldOwner      = "integration-operator"
	DefaultMinPollInterval = 5 * time.Second
	DefaultWaitTimeout     = 60 * time.Second
	DefaultHookTimeout     = 60 * time.Second
	EnvDebug               = "DEBUG_OPERATOR"
	EnvWatchNamespace      = "WATCH_NAMESPACE"
	zapLogLevelFlagName    = "zap-log-level"
)

// Options contains the configuration of the operator process.
type Options struct {
	//
	// Behavior.
	//
	Debug              bool          // Logs a YAML dump of objects whose handler failed.
	WatchNamespace     string        // Restricts the cache to one namespace. Empty watches all.
	FieldOwner         string        // Field manager recorded on every write.
	MinPollInterval    time.Duration // Lower bound for readiness and Job polling.
	DefaultWaitTimeout time.Duration // Used when a Socket's wait spec has no timeout.
	DefaultHookTimeout time.Duration // Used when a hook has no timeout.

	//
	// Diagnostics.
	//
	MetricsAddr string      // Address the metrics endpoint binds to.
	ProbeAddr   string      // Address the health probe endpoint binds to.
	ZapOptions  zap.Options // Zap logging options.

	fs *pflag.FlagSet
}

// NewOptions returns Options initialized with default values.
func NewOptions() *Options {
	return &Options{
		FieldOwner:         DefaultFieldOwner,
		MinPollInterval:    DefaultMinPollInterval,
		DefaultWaitTimeout: DefaultWaitTimeout,
		DefaultHookTimeout: DefaultHookTimeout,
		MetricsAddr:        DefaultMetricsAddr,
		ProbeAddr:          DefaultProbeAddr,
	}
}

// LoadEnv applies environment overrides. It runs before flags are parsed so
// that flags win over the environment.
func (opts *Options) LoadEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid value %q for %s: %w", v, EnvDebug, err)
		}
		opts.Debug = debug
	}
	if v, ok := lookup(EnvWatchNamespace); ok {
		opts.WatchNamespace = strings.TrimSpace(v)
	}
	return nil
}

// AddFlags binds the Options fields to command-line flags on the given FlagSet.
func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.BoolVar(&opts.Debug, "debug", opts.Debug,
		"Log a YAML dump of every object whose handler fails.")
	fs.StringVar(&opts.WatchNamespace, "watch-namespace", opts.WatchNamespace,
		"Namespace to watch. Watches all namespaces when empty.")
	fs.StringVar(&opts.FieldOwner, "field-owner", opts.FieldOwner,
		"Field manager name recorded on objects written by the operator.")
	fs.DurationVar(&opts.MinPollInterval, "min-poll-interval", opts.MinPollInterval,
		"Lower bound for readiness and hook Job polling.")
	fs.DurationVar(&opts.DefaultWaitTimeout, "wait-timeout", opts.DefaultWaitTimeout,
		"Readiness timeout used when a Socket does not set one.")
	fs.DurationVar(&opts.DefaultHookTimeout, "hook-timeout", opts.DefaultHookTimeout,
		"Job completion timeout used when a hook does not set one.")
	fs.StringVar(&opts.MetricsAddr, "metrics-bind-address", opts.MetricsAddr,
		"The address the metrics endpoint binds to. Use 0 to disable it.")
	fs.StringVar(&opts.ProbeAddr, "health-probe-bind-address", opts.ProbeAddr,
		"The address the probe endpoint binds to.")

	// zap binds to a standard Go FlagSet.
	gofs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.ZapOptions.BindFlags(gofs)
	fs.AddGoFlagSet(gofs)
}

// Complete derives settings that depend on more than one flag.
func (opts *Options) Complete() error {
	if !opts.Debug || opts.fs == nil {
		return nil
	}
	if f := opts.fs.Lookup(zapLogLevelFlagName); f != nil && f.Changed {
		return nil
	}
	opts.ZapOptions.Level = uberzap.NewAtomicLevelAt(zapcore.DebugLevel)
	return nil
}

// Validate checks the Options for invalid values.
func (opts *Options) Validate() error {
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"min-poll-interval", opts.MinPollInterval},
		{"wait-timeout", opts.DefaultWaitTimeout},
		{"hook-timeout", opts.DefaultHookTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("invalid value %s for flag %q: must be positive", d.value, d.name)
		}
	}
	if opts.FieldOwner == "" {
		return fmt.Errorf("flag %q must not be empty", "field-owner")
	}
	return nil
}

// PollInterval returns the polling interval for an operation bounded by
// timeout: a tenth of the timeout, but never less than MinPollInterval.
func (opts *Options) PollInterval(timeout time.Duration) time.Duration {
	return max(opts.MinPollInterval, timeout/10)
}
