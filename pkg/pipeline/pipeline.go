// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline extracts the telemetry of a container. Chunks are
// parsed concurrently and merged in demuxer order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopro/pkg/demux"
	"gopro/pkg/gpmf"
	"gopro/pkg/log"
	"gopro/pkg/process"
	"gopro/pkg/system"
	"gopro/pkg/telemetry"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrNoTelemetry no sample was left after processing.
var ErrNoTelemetry = errors.New("no telemetry")

// Config pipeline configuration.
type Config struct {
	// Round values to decimal places, negative disables rounding.
	DecimalPlaces int
	Rounding      process.RoundingMode

	RequireDevice    bool
	RequireTelemetry bool

	// Abort on the first corrupt chunk instead of skipping it.
	FailFast bool

	Timestamps bool

	// Concurrent chunk workers, zero uses one per logical CPU.
	Workers int

	Filter       process.Predicate
	Streams      []string
	GPSFix       int
	GPSPrecision float64
	MaxSpeed     float64
	Rename       map[string]string

	Logger *log.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DecimalPlaces: -1,
		Timestamps:    true,
	}
}

func (c Config) processOptions() process.Options {
	return process.Options{
		Timestamps:    c.Timestamps,
		DecimalPlaces: c.DecimalPlaces,
		Rounding:      c.Rounding,
		Streams:       c.Streams,
		MinFix:        c.GPSFix,
		MaxPrecision:  c.GPSPrecision,
		MaxSpeed:      c.MaxSpeed,
		Filter:        c.Filter,
		Rename:        c.Rename,
	}
}

func (c Config) workers() int {
	return system.New(c.Logger).Workers(c.Workers)
}

// ChunkError a chunk that could not be processed.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Result of a pipeline run.
type Result struct {
	Telemetry telemetry.Result

	// Number of metadata chunks in the input.
	Chunks int

	// Skipped chunks in chunk order.
	ChunkErrors []*ChunkError
}

// Err returns the chunk errors combined or nil.
func (r *Result) Err() error {
	var err error
	for _, e := range r.ChunkErrors {
		err = multierr.Append(err, e)
	}
	return err
}

type chunkResult struct {
	telemetry telemetry.Result
	err       *ChunkError
}

// Process demuxes the input and runs every metadata chunk through
// the parser, the interpreter and the post-processing stages.
// Container errors are fatal. A chunk that fails is skipped and
// recorded unless cfg.FailFast is set.
func Process(ctx context.Context, r io.ReadSeeker, cfg Config) (*Result, error) {
	logger := cfg.Logger

	d, err := demux.New(r)
	if err != nil {
		return nil, err
	}
	for _, t := range d.Tracks() {
		logger.Debug().Src("pipeline").Msgf(
			"track %d: %s %q, %d samples, %v",
			t.ID, t.SampleEntry, t.Name, t.Samples, t.Duration)
	}

	stages := process.Pipeline(cfg.processOptions())
	results := make([]chunkResult, d.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())

	var readErr error
	for gctx.Err() == nil {
		chunk, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = err
			break
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := processChunk(chunk, stages, cfg.RequireDevice)
			if err != nil {
				chunkErr := &ChunkError{Index: chunk.Index, Err: err}
				if cfg.FailFast {
					return chunkErr
				}
				results[chunk.Index].err = chunkErr
				return nil
			}
			results[chunk.Index].telemetry = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Telemetry: telemetry.Result{},
		Chunks:    len(results),
	}
	for _, r := range results {
		if r.err != nil {
			logger.Warn().Src("pipeline").Chunk(r.err.Index).Msgf("skipped: %v", r.err.Err)
			result.ChunkErrors = append(result.ChunkErrors, r.err)
			continue
		}
		result.Telemetry.Merge(r.telemetry)
	}

	if result.Telemetry.SampleCount() == 0 && cfg.RequireTelemetry {
		return nil, ErrNoTelemetry
	}
	logger.Debug().Src("pipeline").Msgf("%d chunks, %d skipped, %d samples",
		result.Chunks, len(result.ChunkErrors), result.Telemetry.SampleCount())
	return result, nil
}

func processChunk(chunk *demux.Chunk, stages []process.Stage, requireDevice bool) (telemetry.Result, error) {
	root, err := gpmf.Parse(chunk.Payload)
	if err != nil {
		return nil, err
	}
	devices, err := telemetry.Interpret(root, telemetry.Options{RequireDevice: requireDevice})
	if err != nil {
		return nil, err
	}

	timing := telemetry.Timing{Start: chunk.Start, Duration: chunk.Duration}
	out := telemetry.Result{}
	for _, id := range devices.IDs() {
		dev := devices[id]
		for _, key := range dev.Keys() {
			s := process.Apply(stages, dev.Streams[key], timing)
			if s == nil {
				continue
			}
			dst := out.Device(id)
			if dst.Name == "" {
				dst.Name = dev.Name
			}
			dst.Append(s)
		}
	}
	return out, nil
}
