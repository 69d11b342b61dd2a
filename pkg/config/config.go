// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the extraction settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopro/pkg/pipeline"
	"gopro/pkg/process"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig invalid config.
var ErrInvalidConfig = errors.New("invalid config")

// Fields without a value keep their default.
type file struct {
	DecimalPlaces    *int              `yaml:"decimalPlaces"`
	RoundingMode     string            `yaml:"roundingMode"`
	RequireDevice    bool              `yaml:"requireDevice"`
	RequireTelemetry bool              `yaml:"requireTelemetry"`
	FailFast         bool              `yaml:"failFast"`
	Timestamps       *bool             `yaml:"timestamps"`
	Workers          int               `yaml:"workers"`
	Streams          []string          `yaml:"streams"`
	GPSFix           int               `yaml:"gpsFix"`
	GPSPrecision     float64           `yaml:"gpsPrecision"`
	MaxSpeed         float64           `yaml:"maxSpeed"`
	Rename           map[string]string `yaml:"rename"`
	Cache            string            `yaml:"cache"`
}

// Config extraction settings.
type Config struct {
	Pipeline pipeline.Config

	// Path of the result cache, empty disables caching.
	Cache string
}

// Default returns the default config.
func Default() *Config {
	return &Config{Pipeline: pipeline.DefaultConfig()}
}

// maxDecimalPlaces float64 has no more significant decimals.
const maxDecimalPlaces = 15

// Parse parses and validates a YAML config.
func Parse(raw []byte) (*Config, error) {
	var f file
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	c := Default()
	p := &c.Pipeline

	if f.DecimalPlaces != nil {
		p.DecimalPlaces = *f.DecimalPlaces
	}
	rounding, err := process.ParseRoundingMode(f.RoundingMode)
	if err != nil {
		return nil, fmt.Errorf("%w: roundingMode: %v", ErrInvalidConfig, err)
	}
	p.Rounding = rounding
	p.RequireDevice = f.RequireDevice
	p.RequireTelemetry = f.RequireTelemetry
	p.FailFast = f.FailFast
	if f.Timestamps != nil {
		p.Timestamps = *f.Timestamps
	}
	p.Workers = f.Workers
	p.Streams = f.Streams
	p.GPSFix = f.GPSFix
	p.GPSPrecision = f.GPSPrecision
	p.MaxSpeed = f.MaxSpeed
	p.Rename = f.Rename
	c.Cache = f.Cache

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

// Validate checks the value ranges.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.DecimalPlaces > maxDecimalPlaces:
		return fmt.Errorf("%w: decimalPlaces %d is greater than %d",
			ErrInvalidConfig, p.DecimalPlaces, maxDecimalPlaces)
	case p.Workers < 0:
		return fmt.Errorf("%w: workers %d is negative", ErrInvalidConfig, p.Workers)
	case p.GPSFix < 0:
		return fmt.Errorf("%w: gpsFix %d is negative", ErrInvalidConfig, p.GPSFix)
	case p.GPSPrecision < 0:
		return fmt.Errorf("%w: gpsPrecision %v is negative", ErrInvalidConfig, p.GPSPrecision)
	case p.MaxSpeed < 0:
		return fmt.Errorf("%w: maxSpeed %v is negative", ErrInvalidConfig, p.MaxSpeed)
	}
	for from, to := range p.Rename {
		if from == "" || to == "" {
			return fmt.Errorf("%w: rename %q to %q", ErrInvalidConfig, from, to)
		}
	}
	return nil
}

// fingerprint every setting that changes the output.
type fingerprint struct {
	DecimalPlaces    int        `yaml:"decimalPlaces"`
	RoundingMode     string     `yaml:"roundingMode"`
	RequireDevice    bool       `yaml:"requireDevice"`
	RequireTelemetry bool       `yaml:"requireTelemetry"`
	FailFast         bool       `yaml:"failFast"`
	Timestamps       bool       `yaml:"timestamps"`
	Streams          []string   `yaml:"streams"`
	GPSFix           int        `yaml:"gpsFix"`
	GPSPrecision     float64    `yaml:"gpsPrecision"`
	MaxSpeed         float64    `yaml:"maxSpeed"`
	Rename           [][]string `yaml:"rename"`
}

// Fingerprint returns a stable encoding of the settings that
// affect the result. Workers, cache and custom filters are excluded.
func (c *Config) Fingerprint() ([]byte, error) {
	p := c.Pipeline
	streams := append([]string(nil), p.Streams...)
	sort.Strings(streams)

	var rename [][]string
	for from, to := range p.Rename {
		rename = append(rename, []string{from, to})
	}
	sort.Slice(rename, func(i, j int) bool {
		return rename[i][0] < rename[j][0]
	})

	return yaml.Marshal(fingerprint{
		DecimalPlaces:    p.DecimalPlaces,
		RoundingMode:     p.Rounding.String(),
		RequireDevice:    p.RequireDevice,
		RequireTelemetry: p.RequireTelemetry,
		FailFast:         p.FailFast,
		Timestamps:       p.Timestamps,
		Streams:          streams,
		GPSFix:           p.GPSFix,
		GPSPrecision:     p.GPSPrecision,
		MaxSpeed:         p.MaxSpeed,
		Rename:           rename,
	})
}
