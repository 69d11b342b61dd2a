// SPDX-License-Identifier: GPL-2.0-or-later

// Package export writes extraction results as JSON or GPX.
package export

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopro/pkg/telemetry"
)

// ErrNoDevice the result has no device.
var ErrNoDevice = errors.New("no device")

// WriteJSON writes the result as a JSON object keyed by device id.
func WriteJSON(w io.Writer, res telemetry.Result, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	if res == nil {
		res = telemetry.Result{}
	}
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// WriteStreamFiles writes every stream of the first device,
// by sorted id, to "<dir>/<stream>.json". Stream keys are read
// from the file, bytes outside [A-Za-z0-9_-] are escaped as %XX.
func WriteStreamFiles(dir string, res telemetry.Result) ([]string, error) {
	ids := res.IDs()
	if len(ids) == 0 {
		return nil, ErrNoDevice
	}
	dev := res[ids[0]]

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var paths []string
	for _, key := range dev.Keys() {
		raw, err := json.MarshalIndent(dev.Streams[key], "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %v: %w", key, err)
		}
		path := filepath.Join(dir, streamFileName(key))
		if err := os.WriteFile(path, raw, 0o644); err != nil { //nolint:gosec
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func streamFileName(key string) string {
	const hex = "0123456789ABCDEF"
	name := make([]byte, 0, len(key)+len(".json"))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '_', c == '-':
			name = append(name, c)
		default:
			name = append(name, '%', hex[c>>4], hex[c&0xf])
		}
	}
	return string(name) + ".json"
}

// GPS stream keys exported as waypoints. Renamed streams are
// recognized by their original key through the rename map.
var gpsKeys = map[string]struct{}{
	telemetry.KeyGPS5: {},
	telemetry.KeyGPS9: {},
}

type gpx struct {
	XMLName   xml.Name   `xml:"gpx"`
	Version   string     `xml:"version,attr"`
	Creator   string     `xml:"creator,attr"`
	Xmlns     string     `xml:"xmlns,attr"`
	Waypoints []waypoint `xml:"wpt"`
}

type waypoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele,omitempty"`
	Time string   `xml:"time,omitempty"`
	Fix  string   `xml:"fix,omitempty"`
	PDOP *float64 `xml:"pdop,omitempty"`
}

// WriteGPX writes the samples of every GPS stream as GPX 1.1
// waypoints. rename maps original stream keys to output keys.
func WriteGPX(w io.Writer, res telemetry.Result, rename map[string]string) error {
	isGPS := make(map[string]struct{}, len(gpsKeys))
	for key := range gpsKeys {
		isGPS[key] = struct{}{}
		if renamed, exists := rename[key]; exists {
			isGPS[renamed] = struct{}{}
		}
	}

	doc := gpx{
		Version: "1.1",
		Creator: "gpmf2json",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
	}
	for _, id := range res.IDs() {
		dev := res[id]
		for _, key := range dev.Keys() {
			if _, exists := isGPS[key]; !exists {
				continue
			}
			for _, s := range dev.Streams[key].Samples {
				if wpt, ok := newWaypoint(s); ok {
					doc.Waypoints = append(doc.Waypoints, wpt)
				}
			}
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func newWaypoint(s telemetry.Sample) (waypoint, bool) {
	if len(s.Value) < 2 {
		return waypoint{}, false
	}
	wpt := waypoint{
		Lat: s.Value[0],
		Lon: s.Value[1],
	}
	if len(s.Value) >= 3 {
		ele := s.Value[2]
		wpt.Ele = &ele
	}
	if s.Date != nil {
		wpt.Time = s.Date.UTC().Format(time.RFC3339Nano)
	}
	if s.Fix != nil {
		wpt.Fix = fixName(*s.Fix)
	}
	if s.Precision != nil {
		pdop := *s.Precision
		wpt.PDOP = &pdop
	}
	return wpt, true
}

func fixName(fix int) string {
	switch fix {
	case 0:
		return "none"
	case 2:
		return "2d"
	case 3:
		return "3d"
	}
	return ""
}
