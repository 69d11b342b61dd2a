// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"bytes"
	"context"
	"math"
	"testing"

	"gopro/pkg/demux"
	"gopro/pkg/gpmf"
	"gopro/pkg/gpmf/gpmftest"
	"gopro/pkg/log"
	"gopro/pkg/telemetry"
	"gopro/pkg/video/mp4/mp4test"

	"github.com/stretchr/testify/require"
)

// gpsChunk returns a chunk payload with one GPS5 sample per point.
func gpsChunk(points ...[2]float64) []byte {
	var vals []float64
	for _, p := range points {
		vals = append(vals, math.Round(p[0]*1e4), math.Round(p[1]*1e4))
	}
	return gpmftest.Encode(gpsDevice(vals...))
}

func gpsDevice(vals ...float64) gpmftest.KLV {
	return gpmftest.Nested("DEVC",
		gpmftest.Values("DVID", gpmf.TypeUint32, 1, 1),
		gpmftest.String("DVNM", "Camera"),
		gpmftest.Nested("STRM",
			gpmftest.String("STNM", "GPS"),
			gpmftest.Values("SCAL", gpmf.TypeInt32, 1, 1e4),
			gpmftest.Values("GPS5", gpmf.TypeInt32, 2, vals...),
		),
	)
}

func container(payloads ...[]byte) *bytes.Reader {
	var samples []mp4test.Sample
	for _, p := range payloads {
		samples = append(samples, mp4test.Sample{Data: p, Duration: 1000})
	}
	return bytes.NewReader(mp4test.Build(mp4test.Track{Samples: samples}))
}

// corruptChunk declares a DEVC longer than the payload.
func corruptChunk() []byte {
	devc := gpsDevice(1, 2)
	devc.Repeat += 64
	return gpmftest.Encode(devc)
}

func TestProcess(t *testing.T) {
	input := container(
		gpsChunk([2]float64{33.1261, -117.3267}, [2]float64{33.1262, -117.3268}),
		gpsChunk([2]float64{33.1263, -117.3269}, [2]float64{33.1264, -117.327}),
	)

	cfg := DefaultConfig()
	cfg.DecimalPlaces = 3
	cfg.Rename = map[string]string{"GPS5": "GPS"}
	cfg.Workers = 2
	cfg.Logger = log.NewMockLogger()

	res, err := Process(context.Background(), input, cfg)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	require.Equal(t, 2, res.Chunks)
	require.Equal(t, []string{"1"}, res.Telemetry.IDs())

	dev := res.Telemetry["1"]
	require.Equal(t, "Camera", dev.Name)
	require.Equal(t, []string{"GPS"}, dev.Keys())

	gps := dev.Streams["GPS"]
	require.Equal(t, "GPS", gps.Name)
	require.Len(t, gps.Samples, 4)

	var cts []float64
	for _, s := range gps.Samples {
		require.Equal(t, []float64{33.126, -117.327}, s.Value)
		cts = append(cts, *s.CTS)
	}
	require.Equal(t, []float64{0, 500, 1000, 1500}, cts)
}

func TestProcessOrder(t *testing.T) {
	var payloads [][]byte
	for i := 0; i < 32; i++ {
		payloads = append(payloads, gpmftest.Encode(
			gpmftest.Nested("DEVC",
				gpmftest.Values("DVID", gpmf.TypeUint32, 1, 1),
				gpmftest.Values("ACCL", gpmf.TypeInt32, 1, float64(i)),
			),
		))
	}

	cfg := DefaultConfig()
	cfg.Workers = 8

	for run := 0; run < 3; run++ {
		res, err := Process(context.Background(), container(payloads...), cfg)
		require.NoError(t, err)

		accl := res.Telemetry["1"].Streams["ACCL"]
		require.Len(t, accl.Samples, 32)
		for i, s := range accl.Samples {
			require.Equal(t, []float64{float64(i)}, s.Value)
			require.Equal(t, float64(i*1000), *s.CTS)
		}
	}
}

func TestProcessCorruptChunk(t *testing.T) {
	newInput := func() *bytes.Reader {
		return container(
			gpsChunk([2]float64{33.1261, -117.3267}),
			corruptChunk(),
		)
	}

	t.Run("skip", func(t *testing.T) {
		res, err := Process(context.Background(), newInput(), DefaultConfig())
		require.NoError(t, err)

		require.Len(t, res.Telemetry["1"].Streams["GPS5"].Samples, 1)
		require.Len(t, res.ChunkErrors, 1)
		require.Equal(t, 1, res.ChunkErrors[0].Index)
		require.ErrorIs(t, res.Err(), gpmf.ErrCorrupt)
	})
	t.Run("failFast", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FailFast = true

		_, err := Process(context.Background(), newInput(), cfg)
		require.ErrorIs(t, err, gpmf.ErrCorrupt)

		var chunkErr *ChunkError
		require.ErrorAs(t, err, &chunkErr)
		require.Equal(t, 1, chunkErr.Index)
	})
}

func TestProcessRequireDevice(t *testing.T) {
	payload := gpmftest.Encode(gpmftest.Values("ACCL", gpmf.TypeInt16, 1, 1))

	res, err := Process(context.Background(), container(payload), DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, []string{"unknown-1"}, res.Telemetry.IDs())

	cfg := DefaultConfig()
	cfg.RequireDevice = true
	res, err = Process(context.Background(), container(payload), cfg)
	require.NoError(t, err)
	require.Empty(t, res.Telemetry)
	require.ErrorIs(t, res.Err(), telemetry.ErrUnknownDevice)
}

func TestProcessEmpty(t *testing.T) {
	video := func() *bytes.Reader {
		return bytes.NewReader(mp4test.Build(mp4test.Track{
			Handler:     "vide",
			SampleEntry: "avc1",
			Samples:     []mp4test.Sample{{Data: []byte("frame"), Duration: 1000}},
		}))
	}

	res, err := Process(context.Background(), video(), DefaultConfig())
	require.NoError(t, err)
	require.Empty(t, res.Telemetry)
	require.Equal(t, 0, res.Chunks)

	cfg := DefaultConfig()
	cfg.RequireTelemetry = true
	_, err = Process(context.Background(), video(), cfg)
	require.ErrorIs(t, err, ErrNoTelemetry)
}

func TestProcessContainerError(t *testing.T) {
	_, err := Process(context.Background(), bytes.NewReader([]byte("not a container")), DefaultConfig())
	require.ErrorIs(t, err, demux.ErrContainerFormat)
}

func TestProcessCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := container(gpsChunk([2]float64{33.1261, -117.3267}))
	_, err := Process(ctx, input, DefaultConfig())
	require.ErrorIs(t, err, context.Canceled)
}

func TestProcessFilter(t *testing.T) {
	payload := gpmftest.Encode(
		gpmftest.Nested("DEVC",
			gpmftest.Values("DVID", gpmf.TypeUint32, 1, 1),
			gpmftest.Values("ACCL", gpmf.TypeInt16, 1, 1, 2, 3),
			gpmftest.Values("GYRO", gpmf.TypeInt16, 1, 4),
		),
	)

	cfg := DefaultConfig()
	cfg.Streams = []string{"ACCL"}
	cfg.Filter = func(key string, s telemetry.Sample) bool {
		return s.Value[0] != 2
	}

	res, err := Process(context.Background(), container(payload), cfg)
	require.NoError(t, err)

	dev := res.Telemetry["1"]
	require.Equal(t, []string{"ACCL"}, dev.Keys())
	require.Len(t, dev.Streams["ACCL"].Samples, 2)
	require.Equal(t, []float64{3}, dev.Streams["ACCL"].Samples[1].Value)
}

func TestProcessFilteredEmpty(t *testing.T) {
	input := func() *bytes.Reader {
		return container(gpsChunk([2]float64{33.1261, -117.3267}))
	}

	cfg := DefaultConfig()
	cfg.Filter = func(string, telemetry.Sample) bool { return false }
	res, err := Process(context.Background(), input(), cfg)
	require.NoError(t, err)
	require.Equal(t, 0, res.Telemetry.SampleCount())

	cfg.RequireTelemetry = true
	_, err = Process(context.Background(), input(), cfg)
	require.ErrorIs(t, err, ErrNoTelemetry)
}
