// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4test builds small GoPro style mp4 files for tests.
package mp4test

import (
	"bytes"

	"gopro/pkg/video/mp4"
	"gopro/pkg/video/mp4/bitio"
)

// Sample one sample and its duration in track timescale units.
type Sample struct {
	Data     []byte
	Duration uint32
}

// Track to be written.
type Track struct {
	// Defaults to "meta".
	Handler string

	// Defaults to "GoPro MET".
	Name string

	// Defaults to "gpmd".
	SampleEntry string

	// Defaults to 1000.
	Timescale uint32

	// Samples per chunk, defaults to 1.
	SamplesPerChunk int

	// Use co64 instead of stco.
	LargeOffsets bool

	// Write a version 2 mdhd.
	MdhdVersion uint8

	Samples []Sample
}

// Options file level options.
type Options struct {
	// Add an empty mvex box to mark the file as fragmented.
	Fragmented bool

	// Write mdat before moov.
	MdatFirst bool

	// Write an empty free box after ftyp.
	Free bool
}

// Build returns a complete mp4 file.
func Build(tracks ...Track) []byte {
	return BuildWithOptions(Options{}, tracks...)
}

// BuildWithOptions returns a complete mp4 file.
func BuildWithOptions(opts Options, tracks ...Track) []byte {
	for i := range tracks {
		tracks[i].setDefaults()
	}

	ftyp := &mp4.Ftyp{
		MajorBrand: mp4.BoxType{'m', 'p', '4', '1'},
		CompatibleBrands: []mp4.BoxType{
			{'m', 'p', '4', '1'},
			{'i', 's', 'o', 'm'},
		},
	}
	ftypSize := 8 + ftyp.Size()

	var mdat []byte
	for _, track := range tracks {
		for _, s := range track.Samples {
			mdat = append(mdat, s.Data...)
		}
	}
	mdatBox := &mp4.Mdat{Data: mdat}

	// The moov size does not depend on the offsets,
	// build it once to learn the mdat offset.
	moov := buildMoov(opts, tracks, 0)
	mdatStart := ftypSize + 8
	if opts.Free {
		mdatStart += 8
	}
	if !opts.MdatFirst {
		mdatStart += moov.Size()
	}
	moov = buildMoov(opts, tracks, uint64(mdatStart))
	free := mp4.Boxes{Box: mp4.Free}

	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	mustWrite(mp4.WriteSingleBox(w, ftyp))
	if opts.Free {
		mustNotErr(free.Marshal(w))
	}
	if opts.MdatFirst {
		mustWrite(mp4.WriteSingleBox(w, mdatBox))
		mustNotErr(moov.Marshal(w))
	} else {
		mustNotErr(moov.Marshal(w))
		mustWrite(mp4.WriteSingleBox(w, mdatBox))
	}
	mustNotErr(w.Close())
	return buf.Bytes()
}

func (t *Track) setDefaults() {
	if t.Handler == "" {
		t.Handler = "meta"
	}
	if t.Name == "" {
		t.Name = "GoPro MET"
	}
	if t.SampleEntry == "" {
		t.SampleEntry = "gpmd"
	}
	if t.Timescale == 0 {
		t.Timescale = 1000
	}
	if t.SamplesPerChunk == 0 {
		t.SamplesPerChunk = 1
	}
}

func buildMoov(opts Options, tracks []Track, mdatStart uint64) mp4.Boxes {
	moov := mp4.Boxes{
		Box: mp4.Moov,
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   1000,
				NextTrackID: uint32(len(tracks) + 1),
			}},
		},
	}

	offset := mdatStart
	for i, track := range tracks {
		moov.Children = append(moov.Children, track.boxes(uint32(i+1), offset))
		for _, s := range track.Samples {
			offset += uint64(len(s.Data))
		}
	}

	if opts.Fragmented {
		moov.Children = append(moov.Children, mp4.Boxes{
			Box: mp4.Mvex,
			Children: []mp4.Boxes{
				{Box: &mp4.Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1}},
			},
		})
	}
	return moov
}

func (t Track) boxes(id uint32, offset uint64) mp4.Boxes {
	var duration uint32
	for _, s := range t.Samples {
		duration += s.Duration
	}

	sampleEntry := &mp4.SampleEntry{DataReferenceIndex: 1}
	copy(sampleEntry.EntryType[:], t.SampleEntry)

	var handler mp4.BoxType
	copy(handler[:], t.Handler)

	mdhd := &mp4.Mdhd{
		FullBox:   mp4.FullBox{Version: t.MdhdVersion},
		Timescale: t.Timescale,
		Duration:  uint64(duration),
		Language:  "eng",
	}

	return mp4.Boxes{
		Box: mp4.Trak,
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox:  mp4.FullBox{Flags: 3}, // Enabled, in movie.
				TrackID:  id,
				Duration: duration,
			}},
			{Box: mp4.Mdia, Children: []mp4.Boxes{
				{Box: mdhd},
				{Box: &mp4.Hdlr{HandlerType: handler, Name: t.Name}},
				{Box: mp4.Minf, Children: []mp4.Boxes{
					{Box: t.mediaHeader()},
					{Box: mp4.Dinf, Children: []mp4.Boxes{
						{Box: &mp4.Dref{EntryCount: 1}, Children: []mp4.Boxes{
							{Box: &mp4.SelfContainedURL{}},
						}},
					}},
					{Box: mp4.Stbl, Children: []mp4.Boxes{
						{Box: &mp4.Stsd{EntryCount: 1}, Children: []mp4.Boxes{
							{Box: sampleEntry},
						}},
						{Box: t.stts()},
						{Box: t.stsc()},
						{Box: t.stsz()},
						{Box: t.chunkOffsets(offset)},
					}},
				}},
			}},
		},
	}
}

func (t Track) mediaHeader() mp4.ImmutableBox {
	if t.Handler == "vide" {
		return &mp4.Vmhd{}
	}
	return &mp4.Nmhd{}
}

func (t Track) stts() *mp4.Stts {
	stts := &mp4.Stts{}
	for _, s := range t.Samples {
		n := len(stts.Entries)
		if n != 0 && stts.Entries[n-1].SampleDelta == s.Duration {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, mp4.SttsEntry{SampleCount: 1, SampleDelta: s.Duration})
	}
	return stts
}

func (t Track) stsc() *mp4.Stsc {
	stsc := &mp4.Stsc{}
	if len(t.Samples) == 0 {
		return stsc
	}
	stsc.Entries = append(stsc.Entries, mp4.StscEntry{
		FirstChunk:             1,
		SamplesPerChunk:        uint32(t.SamplesPerChunk),
		SampleDescriptionIndex: 1,
	})
	if last := len(t.Samples) % t.SamplesPerChunk; last != 0 && len(t.Samples) > t.SamplesPerChunk {
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{
			FirstChunk:             uint32(len(t.Samples)/t.SamplesPerChunk + 1),
			SamplesPerChunk:        uint32(last),
			SampleDescriptionIndex: 1,
		})
	} else if last != 0 {
		stsc.Entries[0].SamplesPerChunk = uint32(last)
	}
	return stsc
}

func (t Track) stsz() *mp4.Stsz {
	stsz := &mp4.Stsz{SampleCount: uint32(len(t.Samples))}
	for _, s := range t.Samples {
		stsz.EntrySizes = append(stsz.EntrySizes, uint32(len(s.Data)))
	}
	return stsz
}

func (t Track) chunkOffsets(offset uint64) mp4.ImmutableBox {
	var offsets []uint64
	for i, s := range t.Samples {
		if i%t.SamplesPerChunk == 0 {
			offsets = append(offsets, offset)
		}
		offset += uint64(len(s.Data))
	}

	if t.LargeOffsets {
		return &mp4.Co64{ChunkOffsets: offsets}
	}
	stco := &mp4.Stco{}
	for _, o := range offsets {
		stco.ChunkOffsets = append(stco.ChunkOffsets, uint32(o))
	}
	return stco
}

func mustWrite(_ int, err error) {
	mustNotErr(err)
}

func mustNotErr(err error) {
	if err != nil {
		panic(err)
	}
}
