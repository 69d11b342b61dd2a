// SPDX-License-Identifier: GPL-2.0-or-later

package process

import (
	"testing"
	"time"

	"gopro/pkg/telemetry"

	"github.com/stretchr/testify/require"
)

func stream(key string, values ...[]float64) *telemetry.Stream {
	s := &telemetry.Stream{Key: key}
	for _, v := range values {
		s.Samples = append(s.Samples, telemetry.Sample{Value: v})
	}
	return s
}

func cts(s *telemetry.Stream) []float64 {
	var out []float64
	for _, sample := range s.Samples {
		out = append(out, *sample.CTS)
	}
	return out
}

func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func TestTimestamps(t *testing.T) {
	timing := telemetry.Timing{Start: 2 * time.Second, Duration: time.Second}

	t.Run("evenlySpaced", func(t *testing.T) {
		run := func() []float64 {
			s := stream("ACCL", make([][]float64, 10)...)
			return cts(Timestamps{}.Apply(s, timing))
		}
		first := run()
		require.Equal(t, []float64{
			2000, 2100, 2200, 2300, 2400, 2500, 2600, 2700, 2800, 2900,
		}, first)
		require.Equal(t, first, run())
	})
	t.Run("baseDate", func(t *testing.T) {
		base := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
		s := stream("GPS5", []float64{1}, []float64{2}, []float64{3}, []float64{4})
		s.BaseDate = &base
		known := base.Add(time.Hour)
		s.Samples[3].Date = &known

		s = Timestamps{}.Apply(s, timing)
		require.Equal(t, base, *s.Samples[0].Date)
		require.Equal(t, base.Add(250*time.Millisecond), *s.Samples[1].Date)
		require.Equal(t, base.Add(500*time.Millisecond), *s.Samples[2].Date)
		require.Equal(t, known, *s.Samples[3].Date)
	})
	t.Run("empty", func(t *testing.T) {
		s := Timestamps{}.Apply(stream("ACCL"), timing)
		require.Empty(t, s.Samples)
	})
}

func TestPrecision(t *testing.T) {
	testCases := []struct {
		name     string
		places   int
		mode     RoundingMode
		input    []float64
		expected []float64
	}{
		{
			name:     "coordinates",
			places:   3,
			input:    []float64{33.1261, -117.3267, 12.3456},
			expected: []float64{33.126, -117.327, 12.346},
		},
		{
			name:     "halfAwayFromZero",
			places:   0,
			input:    []float64{0.5, 1.5, 2.5, -2.5},
			expected: []float64{1, 2, 3, -3},
		},
		{
			name:     "halfEven",
			places:   0,
			mode:     RoundHalfEven,
			input:    []float64{0.5, 1.5, 2.5, -2.5},
			expected: []float64{0, 2, 2, -2},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPrecision(tc.places, tc.mode)
			s := p.Apply(stream("TEST", tc.input), telemetry.Timing{})
			require.Equal(t, tc.expected, s.Samples[0].Value)
		})
	}
}

func TestPrecisionIdempotent(t *testing.T) {
	p := NewPrecision(4, RoundHalfAwayFromZero)
	values := []float64{33.12615, -117.32675, 0.00005, 1e6 + 0.123456, -0.99995}

	once := p.Apply(stream("GPS5", append([]float64(nil), values...)), telemetry.Timing{})
	first := append([]float64(nil), once.Samples[0].Value...)
	twice := p.Apply(once, telemetry.Timing{})
	require.Equal(t, first, twice.Samples[0].Value)
}

func TestFilter(t *testing.T) {
	t.Run("keepStreams", func(t *testing.T) {
		f := NewFilter(Options{Streams: []string{"GPS5"}})
		require.Nil(t, f.Apply(stream("ACCL", []float64{1}), telemetry.Timing{}))
		require.NotNil(t, f.Apply(stream("GPS5", []float64{1}), telemetry.Timing{}))
	})
	t.Run("fixAndPrecision", func(t *testing.T) {
		s := stream("GPS5", []float64{1}, []float64{2}, []float64{3}, []float64{4})
		s.Samples[0].Fix, s.Samples[0].Precision = intPtr(3), floatPtr(1.2)
		s.Samples[1].Fix, s.Samples[1].Precision = intPtr(2), floatPtr(1.2)
		s.Samples[2].Fix, s.Samples[2].Precision = intPtr(3), floatPtr(6)
		s.Samples[3].Fix, s.Samples[3].Precision = intPtr(3), floatPtr(4.99)

		f := NewFilter(Options{MinFix: 3, MaxPrecision: 5})
		s = f.Apply(s, telemetry.Timing{})
		require.Len(t, s.Samples, 2)
		require.Equal(t, []float64{1}, s.Samples[0].Value)
		require.Equal(t, []float64{4}, s.Samples[1].Value)
	})
	t.Run("nonGPSUntouched", func(t *testing.T) {
		s := stream("ACCL", []float64{1})
		s.Samples[0].Fix = intPtr(0)
		s = NewFilter(Options{MinFix: 3}).Apply(s, telemetry.Timing{})
		require.Len(t, s.Samples, 1)
	})
	t.Run("maxSpeed", func(t *testing.T) {
		// 0.001 degrees of latitude is about 111 meters.
		s := stream("GPS5",
			[]float64{33.126, -117.327},
			[]float64{33.127, -117.327},
			[]float64{33.126, -117.327},
		)
		s.Samples[0].CTS = floatPtr(0)
		s.Samples[1].CTS = floatPtr(1000)
		s.Samples[2].CTS = floatPtr(2000)

		// The second sample is dropped, the third is compared to the first.
		s = NewFilter(Options{MaxSpeed: 50}).Apply(s, telemetry.Timing{})
		require.Len(t, s.Samples, 2)
		require.Equal(t, 2000.0, *s.Samples[1].CTS)
	})
	t.Run("maxSpeedDate", func(t *testing.T) {
		base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		s := stream("GPS9",
			[]float64{33.126, -117.327},
			[]float64{33.127, -117.327},
		)
		s.Samples[0].Date = timePtr(base)
		s.Samples[1].Date = timePtr(base.Add(10 * time.Second))

		s = NewFilter(Options{MaxSpeed: 50}).Apply(s, telemetry.Timing{})
		require.Len(t, s.Samples, 2)
	})
	t.Run("predicate", func(t *testing.T) {
		f := NewFilter(Options{
			Filter: func(key string, s telemetry.Sample) bool {
				return s.Value[0] > 1
			},
		})
		s := f.Apply(stream("ACCL", []float64{3}, []float64{1}, []float64{2}), telemetry.Timing{})
		require.Equal(t, []float64{3}, s.Samples[0].Value)
		require.Equal(t, []float64{2}, s.Samples[1].Value)
	})
	t.Run("disabled", func(t *testing.T) {
		require.Nil(t, NewFilter(Options{}))
	})
}

func TestRename(t *testing.T) {
	r := Rename{"GPS5": "GPS"}
	require.Equal(t, "GPS", r.Apply(stream("GPS5"), telemetry.Timing{}).Key)
	require.Equal(t, "ACCL", r.Apply(stream("ACCL"), telemetry.Timing{}).Key)
}

func TestPipeline(t *testing.T) {
	names := func(stages []Stage) []string {
		var n []string
		for _, s := range stages {
			n = append(n, s.Name())
		}
		return n
	}

	require.Empty(t, Pipeline(Options{DecimalPlaces: -1}))
	require.Equal(t,
		[]string{"timestamps", "precision", "filter", "rename"},
		names(Pipeline(Options{
			Timestamps:    true,
			DecimalPlaces: 3,
			MinFix:        2,
			Rename:        map[string]string{"GPS5": "GPS"},
		})),
	)

	stages := Pipeline(Options{
		Timestamps:    true,
		DecimalPlaces: 3,
		Streams:       []string{"GPS5"},
		Rename:        map[string]string{"GPS5": "GPS"},
	})
	timing := telemetry.Timing{Duration: time.Second}

	s := Apply(stages, stream("GPS5",
		[]float64{33.1261, -117.3267},
		[]float64{33.1262, -117.3268},
	), timing)
	require.Equal(t, "GPS", s.Key)
	require.Equal(t, []float64{0, 500}, cts(s))
	require.Equal(t, []float64{33.126, -117.327}, s.Samples[1].Value)

	require.Nil(t, Apply(stages, stream("ACCL", []float64{1}), timing))
}

func TestParseRoundingMode(t *testing.T) {
	mode, err := ParseRoundingMode("")
	require.NoError(t, err)
	require.Equal(t, RoundHalfAwayFromZero, mode)

	mode, err = ParseRoundingMode("halfEven")
	require.NoError(t, err)
	require.Equal(t, RoundHalfEven, mode)
	require.Equal(t, "halfEven", mode.String())

	_, err = ParseRoundingMode("up")
	require.ErrorIs(t, err, ErrUnknownRoundingMode)
}
