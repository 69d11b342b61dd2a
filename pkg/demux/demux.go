// SPDX-License-Identifier: GPL-2.0-or-later

// Package demux finds the GoPro metadata tracks of an ISO-BMFF
// file and reads their samples one at a time.
package demux

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/abema/go-mp4"
)

// Errors.
var (
	ErrContainerFormat      = errors.New("invalid container")
	ErrUnsupportedContainer = errors.New("unsupported container")
)

// Track is a metadata track.
type Track struct {
	ID          uint32
	Handler     string
	Name        string
	SampleEntry string
	Timescale   uint32
	Samples     int
	Duration    time.Duration

	stts         []mp4.SttsEntry
	stsc         []mp4.StscEntry
	sampleSize   uint32
	sampleCount  uint32
	entrySizes   []uint32
	chunkOffsets []uint64
}

func (t *Track) isMetadata() bool {
	if t.SampleEntry == "gpmd" {
		return true
	}
	return t.Handler == "meta" && strings.Contains(t.Name, "GoPro MET")
}

// Chunk is one sample of a metadata track.
type Chunk struct {
	// Position in the output order of the demuxer.
	Index int

	TrackID  uint32
	Offset   int64
	Size     int
	Start    time.Duration
	Duration time.Duration
	Payload  []byte
}

type sampleRef struct {
	track    *Track
	offset   uint64
	size     uint32
	start    time.Duration
	duration time.Duration
}

// Demuxer reads metadata chunks from an input.
type Demuxer struct {
	r      io.ReadSeeker
	size   int64
	tracks []*Track
	refs   []sampleRef
	next   int
}

// New reads the box structure and resolves the sample tables
// of every metadata track. Sample data is read by Next.
func New(r io.ReadSeeker) (*Demuxer, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek end: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek start: %w", err)
	}

	tracks, err := readTracks(r, size)
	if err != nil {
		return nil, err
	}

	d := &Demuxer{r: r, size: size}
	for _, t := range tracks {
		if !t.isMetadata() {
			continue
		}
		refs, err := t.resolve(size)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", t.ID, err)
		}
		d.tracks = append(d.tracks, t)
		d.refs = append(d.refs, refs...)
	}

	// Refs are grouped by track, ties keep track order.
	sort.SliceStable(d.refs, func(i, j int) bool {
		return d.refs[i].start < d.refs[j].start
	})
	return d, nil
}

// Tracks returns the metadata tracks.
func (d *Demuxer) Tracks() []Track {
	tracks := make([]Track, 0, len(d.tracks))
	for _, t := range d.tracks {
		tracks = append(tracks, *t)
	}
	return tracks
}

// Len returns the total number of chunks.
func (d *Demuxer) Len() int {
	return len(d.refs)
}

// Next reads the next chunk, io.EOF is returned after the last one.
func (d *Demuxer) Next() (*Chunk, error) {
	if d.next >= len(d.refs) {
		return nil, io.EOF
	}
	ref := d.refs[d.next]

	if _, err := d.r.Seek(int64(ref.offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek chunk %d: %w", d.next, err)
	}
	payload := make([]byte, ref.size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("%w: read chunk %d at offset %d: %v",
			ErrContainerFormat, d.next, ref.offset, err)
	}

	chunk := &Chunk{
		Index:    d.next,
		TrackID:  ref.track.ID,
		Offset:   int64(ref.offset),
		Size:     int(ref.size),
		Start:    ref.start,
		Duration: ref.duration,
		Payload:  payload,
	}
	d.next++
	return chunk, nil
}

// resolve maps every sample to its byte range and time span.
// Sample n of chunk c starts at the chunk offset plus the sizes
// of the samples before it in the same chunk.
func (t *Track) resolve(fileSize int64) ([]sampleRef, error) {
	count := int(t.sampleCount)
	if t.Timescale == 0 {
		return nil, fmt.Errorf("%w: timescale is zero", ErrContainerFormat)
	}
	if t.sampleSize == 0 && len(t.entrySizes) != count {
		return nil, fmt.Errorf("%w: stsz lists %d sizes for %d samples",
			ErrContainerFormat, len(t.entrySizes), count)
	}
	if t.sampleSize != 0 && uint64(count)*uint64(t.sampleSize) > uint64(fileSize) {
		return nil, fmt.Errorf("%w: %d samples of %d bytes exceed input length %d",
			ErrContainerFormat, count, t.sampleSize, fileSize)
	}
	var timed int
	for _, e := range t.stts {
		timed += int(e.SampleCount)
	}
	if timed != count {
		return nil, fmt.Errorf("%w: stts covers %d samples, stsz has %d",
			ErrContainerFormat, timed, count)
	}
	if len(t.chunkOffsets) != 0 && len(t.stsc) == 0 {
		return nil, fmt.Errorf("%w: missing stsc", ErrContainerFormat)
	}

	refs := make([]sampleRef, 0, count)
	entry := 0
	for i, offset := range t.chunkOffsets {
		chunkNum := uint32(i + 1)
		for entry+1 < len(t.stsc) && t.stsc[entry+1].FirstChunk <= chunkNum {
			entry++
		}

		for j := uint32(0); j < t.stsc[entry].SamplesPerChunk; j++ {
			if len(refs) == count {
				return nil, fmt.Errorf("%w: chunk %d references sample %d of %d",
					ErrContainerFormat, chunkNum, len(refs)+1, count)
			}
			size := t.sampleSize
			if size == 0 {
				size = t.entrySizes[len(refs)]
			}
			if offset+uint64(size) > uint64(fileSize) {
				return nil, fmt.Errorf("%w: sample %d at offset %d size %d exceeds input length %d",
					ErrContainerFormat, len(refs)+1, offset, size, fileSize)
			}
			refs = append(refs, sampleRef{track: t, offset: offset, size: size})
			offset += uint64(size)
		}
	}
	if len(refs) != count {
		return nil, fmt.Errorf("%w: chunks hold %d samples, stsz has %d",
			ErrContainerFormat, len(refs), count)
	}

	var ticks uint64
	i := 0
	for _, e := range t.stts {
		for k := uint32(0); k < e.SampleCount; k++ {
			refs[i].start = toDuration(ticks, t.Timescale)
			refs[i].duration = toDuration(uint64(e.SampleDelta), t.Timescale)
			ticks += uint64(e.SampleDelta)
			i++
		}
	}

	t.Samples = count
	t.Duration = toDuration(ticks, t.Timescale)
	return refs, nil
}

func toDuration(ticks uint64, timescale uint32) time.Duration {
	ts := uint64(timescale)
	whole := time.Duration(ticks/ts) * time.Second
	frac := time.Duration(ticks%ts) * time.Second / time.Duration(ts)
	return whole + frac
}
