// SPDX-License-Identifier: GPL-2.0-or-later

// Package process post-processes the streams of one chunk.
package process

import (
	"errors"
	"fmt"

	"gopro/pkg/telemetry"
)

// Stage transforms one stream of a chunk. Returning nil drops the stream.
type Stage interface {
	Name() string
	Apply(s *telemetry.Stream, t telemetry.Timing) *telemetry.Stream
}

// RoundingMode how ties are rounded.
type RoundingMode uint8

// Rounding modes.
const (
	RoundHalfAwayFromZero RoundingMode = iota
	RoundHalfEven
)

// ErrUnknownRoundingMode unknown rounding mode.
var ErrUnknownRoundingMode = errors.New("unknown rounding mode")

// ParseRoundingMode parses "halfAwayFromZero" or "halfEven",
// an empty string selects the default.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "", "halfAwayFromZero":
		return RoundHalfAwayFromZero, nil
	case "halfEven":
		return RoundHalfEven, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRoundingMode, s)
}

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfAwayFromZero:
		return "halfAwayFromZero"
	case RoundHalfEven:
		return "halfEven"
	}
	return fmt.Sprintf("RoundingMode(%d)", uint8(m))
}

// Predicate reports if a sample of the stream with the key is kept.
type Predicate func(key string, s telemetry.Sample) bool

// Options selects the enabled stages.
type Options struct {
	// Synthesize sample timestamps.
	Timestamps bool

	// Round values to decimal places, negative disables rounding.
	DecimalPlaces int
	Rounding      RoundingMode

	// Keep only these stream keys, empty keeps every stream.
	Streams []string

	// Drop GPS samples with a fix below MinFix, a DOP above
	// MaxPrecision or a speed from the previous sample above
	// MaxSpeed meters per second. Zero disables each check.
	MinFix       int
	MaxPrecision float64
	MaxSpeed     float64

	// Custom sample filter.
	Filter Predicate

	// Stream key renames, old to new.
	Rename map[string]string
}

// Pipeline returns the enabled stages in their fixed order:
// timestamps, precision, filter, rename.
func Pipeline(opts Options) []Stage {
	var stages []Stage
	if opts.Timestamps {
		stages = append(stages, Timestamps{})
	}
	if opts.DecimalPlaces >= 0 {
		stages = append(stages, NewPrecision(opts.DecimalPlaces, opts.Rounding))
	}
	if f := NewFilter(opts); f != nil {
		stages = append(stages, f)
	}
	if len(opts.Rename) != 0 {
		stages = append(stages, Rename(opts.Rename))
	}
	return stages
}

// Apply runs the stages in order and stops if a stage drops the stream.
func Apply(stages []Stage, s *telemetry.Stream, t telemetry.Timing) *telemetry.Stream {
	for _, stage := range stages {
		if s = stage.Apply(s, t); s == nil {
			return nil
		}
	}
	return s
}
