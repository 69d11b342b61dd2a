// SPDX-License-Identifier: GPL-2.0-or-later

package gopro

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopro/pkg/config"
	"gopro/pkg/gpmf"
	"gopro/pkg/gpmf/gpmftest"
	"gopro/pkg/video/mp4/mp4test"

	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T) string {
	t.Helper()
	chunk := func(lat, lon float64) mp4test.Sample {
		payload := gpmftest.Encode(
			gpmftest.Nested("DEVC",
				gpmftest.Values("DVID", gpmf.TypeUint32, 1, 1),
				gpmftest.String("DVNM", "Camera"),
				gpmftest.Nested("STRM",
					gpmftest.Values("SCAL", gpmf.TypeInt32, 1, 1e4),
					gpmftest.Values("GPS5", gpmf.TypeInt32, 2, lat, lon),
				),
			),
		)
		return mp4test.Sample{Data: payload, Duration: 1000}
	}
	file := mp4test.Build(mp4test.Track{
		Samples: []mp4test.Sample{
			chunk(331261, -1173267),
			chunk(331263, -1173269),
		},
	})

	path := filepath.Join(t.TempDir(), "GX010001.MP4")
	require.NoError(t, os.WriteFile(path, file, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp(&stdout, &stderr)
	err := app.Run(append([]string{"gpmf2json"}, args...))
	return stdout.String(), stderr.String(), err
}

type output map[string]struct {
	Name    string `json:"name"`
	Streams map[string]struct {
		Samples []struct {
			Value []float64 `json:"value"`
			CTS   *float64  `json:"cts"`
		} `json:"samples"`
	} `json:"streams"`
}

func TestExtract(t *testing.T) {
	path := writeTestFile(t)

	t.Run("json", func(t *testing.T) {
		stdout, _, err := run(t, "--decimal-places", "3", "--rename", "GPS5=GPS", path)
		require.NoError(t, err)

		var out output
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		require.Equal(t, "Camera", out["1"].Name)

		samples := out["1"].Streams["GPS"].Samples
		require.Len(t, samples, 2)
		require.Equal(t, []float64{33.126, -117.327}, samples[0].Value)
		require.Equal(t, 1000.0, *samples[1].CTS)
	})
	t.Run("extractCommand", func(t *testing.T) {
		stdout, _, err := run(t, "extract", "--no-timestamps", path)
		require.NoError(t, err)

		var out output
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		samples := out["1"].Streams["GPS5"].Samples
		require.Equal(t, []float64{33.1263, -117.3269}, samples[1].Value)
		require.Nil(t, samples[1].CTS)
	})
	t.Run("gpx", func(t *testing.T) {
		stdout, _, err := run(t, "--gpx", path)
		require.NoError(t, err)
		require.Contains(t, stdout, `<wpt lat="33.1261" lon="-117.3267"></wpt>`)
	})
	t.Run("splitDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out")
		stdout, _, err := run(t, "--split-dir", dir, path)
		require.NoError(t, err)
		require.Empty(t, stdout)
		require.FileExists(t, filepath.Join(dir, "GPS5.json"))
	})
	t.Run("config", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "config.yaml")
		raw := []byte("decimalPlaces: 1\nrename: {GPS5: GPS}\n")
		require.NoError(t, os.WriteFile(cfgPath, raw, 0o600))

		// Flags override the file.
		stdout, _, err := run(t, "--config", cfgPath, "--decimal-places", "2", path)
		require.NoError(t, err)

		var out output
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		require.Equal(t, []float64{33.13, -117.33}, out["1"].Streams["GPS"].Samples[0].Value)
	})
	t.Run("cache", func(t *testing.T) {
		cachePath := filepath.Join(t.TempDir(), "cache.db")
		first, _, err := run(t, "--cache", cachePath, path)
		require.NoError(t, err)
		second, _, err := run(t, "--cache", cachePath, path)
		require.NoError(t, err)
		require.JSONEq(t, first, second)
	})
	t.Run("verbose", func(t *testing.T) {
		_, stderr, err := run(t, "--verbose", path)
		require.NoError(t, err)
		require.Contains(t, stderr, "[DEBUG] Pipeline: track 1: gpmd")
	})
}

func TestExtractErrors(t *testing.T) {
	path := writeTestFile(t)

	testCases := []struct {
		name     string
		args     []string
		expected error
	}{
		{"noFile", nil, ErrUsage},
		{"missingFile", []string{filepath.Join(t.TempDir(), "missing.mp4")}, os.ErrNotExist},
		{"rename", []string{"--rename", "GPS5", path}, ErrInvalidRename},
		{"decimalPlaces", []string{"--decimal-places", "20", path}, config.ErrInvalidConfig},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := run(t, tc.args...)
			require.ErrorIs(t, err, tc.expected)
		})
	}

	t.Run("notContainer", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.mp4")
		require.NoError(t, os.WriteFile(bad, []byte("not a video"), 0o600))
		_, _, err := run(t, bad)
		require.Error(t, err)
		require.True(t, strings.HasPrefix(err.Error(), bad))
	})
}

func TestInspect(t *testing.T) {
	path := writeTestFile(t)

	stdout, _, err := run(t, "inspect", "--tree", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Equal(t,
		`track 1: gpmd handler=meta name="GoPro MET" timescale=1000 samples=2 duration=2s`,
		lines[0],
	)
	require.True(t, strings.HasPrefix(lines[1], "chunk 0: track=1 offset="))
	require.True(t, strings.HasSuffix(lines[1], "start=0s duration=1s"))
	require.Equal(t, "ROOT 0 size=1 repeat=72", lines[2])
	require.Equal(t, "  DEVC 0 size=1 repeat=64", lines[3])
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "chunk 1: track=1"))
}
