// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config defines the configuration of the instrumentation pipeline.
//
// A Config can be created with Default, loaded from JSON with LoadJSON, or bound to command line
// flags with RegisterFlags. Validate checks it for consistency, and it's called by every top-level
// operation before any graph is touched.
package config

import (
	"encoding/json"
	"flag"
	"io"
	"runtime"
	"strings"

	"github.com/gomlx/qcalib/pkg/qerrors"
	"github.com/gomlx/qcalib/pkg/support/sets"
	"github.com/pkg/errors"
)

// Target hardware the quantized model is calibrated for.
type Target int

const (
	TargetGeneric Target = iota
	TargetX86
	TargetARM
	TargetGPU
	targetLast
)

var targetNames = [targetLast]string{
	TargetGeneric: "generic",
	TargetX86:     "x86",
	TargetARM:     "arm",
	TargetGPU:     "gpu",
}

// String implements fmt.Stringer.
func (t Target) String() string {
	if t < 0 || t >= targetLast {
		return "unknown"
	}
	return targetNames[t]
}

// ParseTarget converts a target name (case-insensitive) to a Target.
func ParseTarget(name string) (Target, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, tName := range targetNames {
		if tName == name {
			return Target(t), nil
		}
	}
	return TargetGeneric, qerrors.Configf("unknown target %q, valid values are %q", name, targetNames)
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(text []byte) error {
	parsed, err := ParseTarget(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Config of the instrumentation pipeline.
type Config struct {
	// ExportFunc is the name of the method that must be exported: it must exist and not be excluded.
	ExportFunc string `json:"export_func"`

	// ExcludeFuncs are the names of the methods left untouched by the pipeline.
	ExcludeFuncs sets.Set[string] `json:"-"`

	DefaultFakeQuantizeEnabled bool `json:"default_fake_quantize_enabled"`
	DefaultObserverEnabled     bool `json:"default_observer_enabled"`
	DefaultTrackQuantStats     bool `json:"default_track_quant_stats"`

	// DefaultHistogramBins and DefaultHistogramUpsampleRate configure the range histograms.
	DefaultHistogramBins         int `json:"default_histogram_bins"`
	DefaultHistogramUpsampleRate int `json:"default_histogram_upsample_rate"`

	Target Target `json:"target"`

	// MaxUnrollTripCount is the largest constant trip count of a loop that gets fully unrolled.
	MaxUnrollTripCount int `json:"max_unroll_trip_count"`

	// Parallelism is the maximum number of methods processed concurrently. 0 processes them sequentially.
	Parallelism int `json:"parallelism"`
}

// Default returns the default configuration: export "forward", observation enabled.
func Default() *Config {
	return &Config{
		ExportFunc:                   "forward",
		ExcludeFuncs:                 sets.Make[string](),
		DefaultFakeQuantizeEnabled:   false,
		DefaultObserverEnabled:       true,
		DefaultTrackQuantStats:       false,
		DefaultHistogramBins:         2048,
		DefaultHistogramUpsampleRate: 128,
		Target:                       TargetGeneric,
		MaxUnrollTripCount:           32,
		Parallelism:                  runtime.NumCPU(),
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c2 := *c
	c2.ExcludeFuncs = c.ExcludeFuncs.Clone()
	return &c2
}

// Validate checks the values that don't depend on the module being processed. It returns an error
// wrapping qerrors.ErrConfig.
func (c *Config) Validate() error {
	if c.ExportFunc == "" {
		return qerrors.Configf("export function name not set")
	}
	if c.ExcludeFuncs.Has(c.ExportFunc) {
		return qerrors.Configf("export function %q cannot be excluded", c.ExportFunc)
	}
	if c.DefaultHistogramBins <= 0 {
		return qerrors.Configf("default_histogram_bins must be positive, got %d", c.DefaultHistogramBins)
	}
	if c.DefaultHistogramUpsampleRate <= 0 {
		return qerrors.Configf("default_histogram_upsample_rate must be positive, got %d", c.DefaultHistogramUpsampleRate)
	}
	if c.Target < 0 || c.Target >= targetLast {
		return qerrors.Configf("invalid target %d", int(c.Target))
	}
	if c.MaxUnrollTripCount < 0 {
		return qerrors.Configf("max_unroll_trip_count must be non-negative, got %d", c.MaxUnrollTripCount)
	}
	if c.Parallelism < 0 {
		return qerrors.Configf("parallelism must be non-negative, got %d", c.Parallelism)
	}
	return nil
}

// jsonConfig adds the fields that don't have a direct JSON representation.
type jsonConfig struct {
	*Config
	ExcludeFuncs []string `json:"exclude_funcs"`
}

// LoadJSON reads a configuration from JSON. Missing fields take their Default values.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	jc := jsonConfig{Config: c}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jc); err != nil {
		return nil, errors.Wrapf(qerrors.ErrConfig, "failed to parse configuration: %v", err)
	}
	c.ExcludeFuncs = sets.MakeWith(jc.ExcludeFuncs...)
	return c, nil
}

// SaveJSON writes the configuration as JSON.
func (c *Config) SaveJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	jc := jsonConfig{Config: c, ExcludeFuncs: sets.Sorted(c.ExcludeFuncs)}
	return errors.Wrap(enc.Encode(jc), "failed to write configuration")
}

// RegisterFlags binds the configuration fields to flags in the given set. Flag values are parsed
// directly into c.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ExportFunc, "export_func", c.ExportFunc, "Name of the method to export.")
	fs.Func("exclude_funcs", "Comma-separated names of methods to leave untouched.", func(value string) error {
		if c.ExcludeFuncs == nil {
			c.ExcludeFuncs = sets.Make[string]()
		}
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.ExcludeFuncs.Insert(name)
			}
		}
		return nil
	})
	fs.BoolVar(&c.DefaultFakeQuantizeEnabled, "fake_quantize", c.DefaultFakeQuantizeEnabled,
		"Enable fake quantization by default in the inserted observers.")
	fs.BoolVar(&c.DefaultObserverEnabled, "observe", c.DefaultObserverEnabled,
		"Enable observation by default in the inserted observers.")
	fs.BoolVar(&c.DefaultTrackQuantStats, "track_quant_stats", c.DefaultTrackQuantStats,
		"Track quantization error statistics by default.")
	fs.IntVar(&c.DefaultHistogramBins, "histogram_bins", c.DefaultHistogramBins, "Number of histogram bins.")
	fs.IntVar(&c.DefaultHistogramUpsampleRate, "histogram_upsample_rate", c.DefaultHistogramUpsampleRate,
		"Histogram upsample rate.")
	fs.TextVar(&c.Target, "target", c.Target, "Target hardware: generic, x86, arm or gpu.")
	fs.IntVar(&c.MaxUnrollTripCount, "max_unroll", c.MaxUnrollTripCount,
		"Largest constant trip count of loops to fully unroll.")
	fs.IntVar(&c.Parallelism, "parallelism", c.Parallelism,
		"Maximum number of methods processed concurrently, 0 for sequential.")
}
