// SPDX-License-Identifier: GPL-2.0-or-later

package demux

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abema/go-mp4"
)

// readTracks walks the box tree once. Only the moov hierarchy is
// expanded, every other box is skipped by seeking over it.
func readTracks(r io.ReadSeeker, size int64) ([]*Track, error) {
	var (
		tracks  []*Track
		current *Track
		sawMoov bool
	)

	_, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (interface{}, error) {
		bi := h.BoxInfo
		if bi.Offset+bi.Size > uint64(size) {
			return nil, fmt.Errorf("%w: %s box at offset %d with size %d exceeds input length %d",
				ErrContainerFormat, bi.Type, bi.Offset, bi.Size, size)
		}

		switch bi.Type {
		case mp4.BoxTypeMoov():
			sawMoov = true
			return h.Expand()
		case mp4.BoxTypeMvex(), mp4.BoxTypeMoof():
			return nil, fmt.Errorf("%w: fragmented file, found %s box", ErrUnsupportedContainer, bi.Type)
		case mp4.BoxTypeTrak():
			current = &Track{}
			tracks = append(tracks, current)
			return h.Expand()
		case mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl(), mp4.BoxTypeStsd():
			if current == nil {
				return nil, nil
			}
			return h.Expand()
		}

		if current == nil {
			return nil, nil
		}
		if parent(h.Path) == mp4.BoxTypeStsd() {
			if current.SampleEntry == "" {
				current.SampleEntry = bi.Type.String()
			}
			return nil, nil
		}
		return nil, readTrackBox(r, h, current)
	})
	if err != nil {
		if errors.Is(err, ErrContainerFormat) || errors.Is(err, ErrUnsupportedContainer) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrContainerFormat, err)
	}
	if !sawMoov {
		return nil, fmt.Errorf("%w: no moov box", ErrContainerFormat)
	}
	return tracks, nil
}

func parent(path mp4.BoxPath) mp4.BoxType {
	if len(path) < 2 {
		return mp4.BoxType{}
	}
	return path[len(path)-2]
}

func readTrackBox(r io.ReadSeeker, h *mp4.ReadHandle, t *Track) error {
	bi := h.BoxInfo
	switch bi.Type {
	case mp4.BoxTypeTkhd(), mp4.BoxTypeHdlr(), mp4.BoxTypeStts(), mp4.BoxTypeStsc(),
		mp4.BoxTypeStsz(), mp4.BoxTypeStco(), mp4.BoxTypeCo64():
	case mp4.BoxTypeMdhd():
		version, err := fullBoxVersion(r, bi)
		if err != nil {
			return err
		}
		if version > 1 {
			return fmt.Errorf("%w: mdhd version %d", ErrUnsupportedContainer, version)
		}
	default:
		return nil
	}

	box, _, err := h.ReadPayload()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrContainerFormat, bi.Type, err)
	}

	switch b := box.(type) {
	case *mp4.Tkhd:
		t.ID = b.TrackID
	case *mp4.Mdhd:
		t.Timescale = b.Timescale
	case *mp4.Hdlr:
		t.Handler = string(b.HandlerType[:])
		t.Name = strings.TrimRight(b.Name, "\x00")
	case *mp4.Stts:
		t.stts = b.Entries
	case *mp4.Stsc:
		t.stsc = b.Entries
	case *mp4.Stsz:
		t.sampleSize = b.SampleSize
		t.sampleCount = b.SampleCount
		t.entrySizes = b.EntrySize
	case *mp4.Stco:
		t.chunkOffsets = make([]uint64, 0, len(b.ChunkOffset))
		for _, o := range b.ChunkOffset {
			t.chunkOffsets = append(t.chunkOffsets, uint64(o))
		}
	case *mp4.Co64:
		t.chunkOffsets = b.ChunkOffset
	}
	return nil
}

// fullBoxVersion reads the version byte of a full box without
// decoding the rest of it.
func fullBoxVersion(r io.ReadSeeker, bi mp4.BoxInfo) (uint8, error) {
	if bi.Size < bi.HeaderSize+1 {
		return 0, fmt.Errorf("%w: %s box is empty", ErrContainerFormat, bi.Type)
	}
	if _, err := r.Seek(int64(bi.Offset+bi.HeaderSize), io.SeekStart); err != nil {
		return 0, err
	}
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrContainerFormat, bi.Type, err)
	}
	return version[0], nil
}
