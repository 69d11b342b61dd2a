// SPDX-License-Identifier: GPL-2.0-or-later

// Package telemetry turns a parsed GPMF tree into device
// partitioned streams of scaled samples.
package telemetry

import (
	"sort"
	"time"
)

// Timing is the time span of a chunk.
type Timing struct {
	Start    time.Duration
	Duration time.Duration
}

// Sample is one decoded data point.
type Sample struct {
	Value []float64 `json:"value,omitempty"`
	Text  string    `json:"text,omitempty"`

	// Composition time in milliseconds from the start of the file.
	CTS *float64 `json:"cts,omitempty"`

	Date      *time.Time `json:"date,omitempty"`
	Fix       *int       `json:"fix,omitempty"`
	Precision *float64   `json:"precision,omitempty"`
}

// Stream is a time ordered sequence of samples of one kind.
type Stream struct {
	Key     string   `json:"-"`
	Name    string   `json:"name,omitempty"`
	Units   []string `json:"units,omitempty"`
	Samples []Sample `json:"samples"`

	// UTC date of the first sample, from GPSU.
	BaseDate *time.Time `json:"-"`
}

// Device holds the streams of one device.
type Device struct {
	ID      string             `json:"-"`
	Name    string             `json:"name,omitempty"`
	Streams map[string]*Stream `json:"streams"`

	// Stream keys in order of first appearance.
	order []string
}

// NewDevice returns an empty device.
func NewDevice(id string) *Device {
	return &Device{
		ID:      id,
		Streams: make(map[string]*Stream),
	}
}

// Stream returns the stream with the key, creating it if needed.
func (d *Device) Stream(key string) *Stream {
	if s, exists := d.Streams[key]; exists {
		return s
	}
	s := &Stream{Key: key}
	d.Streams[key] = s
	d.order = append(d.order, key)
	return s
}

// Keys returns the stream keys in order of first appearance.
// Devices decoded from JSON have no order and return sorted keys.
func (d *Device) Keys() []string {
	if len(d.order) == len(d.Streams) {
		return append([]string(nil), d.order...)
	}
	keys := make([]string, 0, len(d.Streams))
	for key := range d.Streams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Append appends the samples of s to the stream with the same key.
// Name, units and base date are kept from the first stream
// that declares them.
func (d *Device) Append(s *Stream) {
	dst := d.Stream(s.Key)
	if dst.Name == "" {
		dst.Name = s.Name
	}
	if len(dst.Units) == 0 {
		dst.Units = s.Units
	}
	if dst.BaseDate == nil {
		dst.BaseDate = s.BaseDate
	}
	dst.Samples = append(dst.Samples, s.Samples...)
}

// Remove deletes the stream with the key.
func (d *Device) Remove(key string) {
	if _, exists := d.Streams[key]; !exists {
		return
	}
	delete(d.Streams, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
}

// Result maps device id to device.
type Result map[string]*Device

// Device returns the device with the id, creating it if needed.
func (r Result) Device(id string) *Device {
	if d, exists := r[id]; exists {
		return d
	}
	d := NewDevice(id)
	r[id] = d
	return d
}

// IDs returns the device ids sorted.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge appends every stream of other to r.
func (r Result) Merge(other Result) {
	for _, id := range other.IDs() {
		src := other[id]
		dst := r.Device(id)
		if dst.Name == "" {
			dst.Name = src.Name
		}
		for _, key := range src.Keys() {
			dst.Append(src.Streams[key])
		}
	}
}

// SampleCount returns the total number of samples.
func (r Result) SampleCount() int {
	n := 0
	for _, d := range r {
		for _, s := range d.Streams {
			n += len(s.Samples)
		}
	}
	return n
}
