// SPDX-License-Identifier: GPL-2.0-or-later

package process

import (
	"math"
	"time"

	"gopro/pkg/telemetry"

	geo "github.com/kellydunn/golang-geo"
)

// Timestamps spreads the samples evenly over the chunk.
// Sample i of n gets start + duration*i/n as composition time,
// and the same offset from the base date if the stream has one.
type Timestamps struct{}

// Name implements Stage.
func (Timestamps) Name() string { return "timestamps" }

// Apply implements Stage.
func (Timestamps) Apply(s *telemetry.Stream, t telemetry.Timing) *telemetry.Stream {
	n := len(s.Samples)
	if n == 0 {
		return s
	}
	startMs := float64(t.Start) / float64(time.Millisecond)
	durationMs := float64(t.Duration) / float64(time.Millisecond)

	for i := range s.Samples {
		sample := &s.Samples[i]
		cts := startMs + durationMs*float64(i)/float64(n)
		sample.CTS = &cts

		if sample.Date == nil && s.BaseDate != nil {
			offset := t.Duration * time.Duration(i) / time.Duration(n)
			date := s.BaseDate.Add(offset)
			sample.Date = &date
		}
	}
	return s
}

// Precision rounds every value component to a number of decimal places.
type Precision struct {
	places int
	factor float64
	mode   RoundingMode
}

// NewPrecision returns a precision stage.
func NewPrecision(places int, mode RoundingMode) *Precision {
	return &Precision{
		places: places,
		factor: math.Pow(10, float64(places)),
		mode:   mode,
	}
}

// Name implements Stage.
func (*Precision) Name() string { return "precision" }

// Apply implements Stage.
func (p *Precision) Apply(s *telemetry.Stream, _ telemetry.Timing) *telemetry.Stream {
	for i := range s.Samples {
		for j, v := range s.Samples[i].Value {
			s.Samples[i].Value[j] = p.Round(v)
		}
	}
	return s
}

// Round rounds a single value.
func (p *Precision) Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scaled := v * p.factor
	if math.IsInf(scaled, 0) {
		return v
	}
	if p.mode == RoundHalfEven {
		return math.RoundToEven(scaled) / p.factor
	}
	return math.Round(scaled) / p.factor
}

// Filter drops samples, or whole streams, that fail the configured checks.
type Filter struct {
	keep      map[string]struct{}
	minFix    int
	maxDOP    float64
	maxSpeed  float64
	predicate Predicate
}

// NewFilter returns nil if no filter is configured.
func NewFilter(opts Options) *Filter {
	if len(opts.Streams) == 0 && opts.MinFix == 0 && opts.MaxPrecision == 0 &&
		opts.MaxSpeed == 0 && opts.Filter == nil {
		return nil
	}
	f := &Filter{
		minFix:    opts.MinFix,
		maxDOP:    opts.MaxPrecision,
		maxSpeed:  opts.MaxSpeed,
		predicate: opts.Filter,
	}
	if len(opts.Streams) != 0 {
		f.keep = make(map[string]struct{}, len(opts.Streams))
		for _, key := range opts.Streams {
			f.keep[key] = struct{}{}
		}
	}
	return f
}

// Name implements Stage.
func (*Filter) Name() string { return "filter" }

// Apply implements Stage.
func (f *Filter) Apply(s *telemetry.Stream, _ telemetry.Timing) *telemetry.Stream {
	if f.keep != nil {
		if _, exists := f.keep[s.Key]; !exists {
			return nil
		}
	}

	isGPS := s.Key == telemetry.KeyGPS5 || s.Key == telemetry.KeyGPS9
	kept := s.Samples[:0]
	var prev *telemetry.Sample
	for _, sample := range s.Samples {
		if isGPS && !f.gpsOK(sample, prev) {
			continue
		}
		if f.predicate != nil && !f.predicate(s.Key, sample) {
			continue
		}
		kept = append(kept, sample)
		prev = &kept[len(kept)-1]
	}
	// Clear the tail so dropped samples can be collected.
	for i := len(kept); i < len(s.Samples); i++ {
		s.Samples[i] = telemetry.Sample{}
	}
	s.Samples = kept
	return s
}

func (f *Filter) gpsOK(s telemetry.Sample, prev *telemetry.Sample) bool {
	if f.minFix != 0 && s.Fix != nil && *s.Fix < f.minFix {
		return false
	}
	if f.maxDOP != 0 && s.Precision != nil && *s.Precision > f.maxDOP {
		return false
	}
	if f.maxSpeed != 0 && prev != nil {
		if speed, ok := speed(*prev, s); ok && speed > f.maxSpeed {
			return false
		}
	}
	return true
}

// speed returns the great-circle speed between two GPS
// samples in meters per second.
func speed(from, to telemetry.Sample) (float64, bool) {
	if len(from.Value) < 2 || len(to.Value) < 2 {
		return 0, false
	}
	seconds, ok := elapsed(from, to)
	if !ok || seconds <= 0 {
		return 0, false
	}
	a := geo.NewPoint(from.Value[0], from.Value[1])
	b := geo.NewPoint(to.Value[0], to.Value[1])
	meters := a.GreatCircleDistance(b) * 1000
	return meters / seconds, true
}

func elapsed(from, to telemetry.Sample) (float64, bool) {
	switch {
	case from.Date != nil && to.Date != nil:
		return to.Date.Sub(*from.Date).Seconds(), true
	case from.CTS != nil && to.CTS != nil:
		return (*to.CTS - *from.CTS) / 1000, true
	}
	return 0, false
}

// Rename maps stream keys to new keys.
type Rename map[string]string

// Name implements Stage.
func (Rename) Name() string { return "rename" }

// Apply implements Stage.
func (r Rename) Apply(s *telemetry.Stream, _ telemetry.Timing) *telemetry.Stream {
	if key, exists := r[s.Key]; exists {
		s.Key = key
	}
	return s
}
