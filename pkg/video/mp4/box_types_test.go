// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"testing"

	"gopro/pkg/video/mp4/bitio"

	"github.com/stretchr/testify/require"
)

func TestBoxTypes(t *testing.T) {
	fullBox := []byte{0, 0, 0, 0}

	testCases := []struct {
		name string
		src  ImmutableBox
		bin  [][]byte
	}{
		{"container", Moov, nil},
		{
			"co64",
			&Co64{ChunkOffsets: []uint64{0x0123456789abcdef, 0x10}},
			[][]byte{
				fullBox,
				{0, 0, 0, 2},
				{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef},
				{0, 0, 0, 0, 0, 0, 0, 0x10},
			},
		},
		{
			"sampleEntry",
			&SampleEntry{EntryType: BoxType{'g', 'p', 'm', 'd'}, DataReferenceIndex: 1},
			[][]byte{{0, 0, 0, 0, 0, 0}, {0, 1}},
		},
		{
			"hdlr",
			&Hdlr{HandlerType: BoxType{'m', 'e', 't', 'a'}, Name: "GoPro MET"},
			[][]byte{
				fullBox,
				{0, 0, 0, 0},
				[]byte("meta"),
				make([]byte, 12),
				[]byte("GoPro MET\x00"),
			},
		},
		{
			"mdhdV0",
			&Mdhd{Timescale: 1000, Duration: 2000, Language: "eng"},
			[][]byte{
				fullBox,
				make([]byte, 8),
				{0, 0, 0x03, 0xe8},
				{0, 0, 0x07, 0xd0},
				{0x15, 0xc7}, // 0 00101 01110 00111
				{0, 0},
			},
		},
		{
			"mdhdV1",
			&Mdhd{FullBox: FullBox{Version: 1}, Timescale: 90000, Duration: 1 << 32, Language: "und"},
			[][]byte{
				{1, 0, 0, 0},
				make([]byte, 16),
				{0, 0x01, 0x5f, 0x90},
				{0, 0, 0, 1, 0, 0, 0, 0},
				{0x55, 0xc4}, // 0 10101 01110 00100
				{0, 0},
			},
		},
		{"nmhd", &Nmhd{}, [][]byte{fullBox}},
		{"vmhd", &Vmhd{}, [][]byte{{0, 0, 0, 1}, make([]byte, 8)}},
		{"url", &SelfContainedURL{}, [][]byte{{0, 0, 0, 1}}},
		{
			"stsc",
			&Stsc{Entries: []StscEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescriptionIndex: 1}}},
			[][]byte{fullBox, {0, 0, 0, 1}, {0, 0, 0, 1}, {0, 0, 0, 2}, {0, 0, 0, 1}},
		},
		{
			"stszArray",
			&Stsz{SampleCount: 2, EntrySizes: []uint32{0x01234567, 0x23456789}},
			[][]byte{
				fullBox,
				{0, 0, 0, 0},
				{0, 0, 0, 2},
				{0x01, 0x23, 0x45, 0x67},
				{0x23, 0x45, 0x67, 0x89},
			},
		},
		{
			"stszUniform",
			&Stsz{SampleSize: 8, SampleCount: 3},
			[][]byte{fullBox, {0, 0, 0, 8}, {0, 0, 0, 3}},
		},
		{
			"stts",
			&Stts{Entries: []SttsEntry{{SampleCount: 2, SampleDelta: 1001}}},
			[][]byte{fullBox, {0, 0, 0, 1}, {0, 0, 0, 2}, {0, 0, 0x03, 0xe9}},
		},
		{
			"trex",
			&Trex{TrackID: 1, DefaultSampleDescriptionIndex: 1},
			[][]byte{fullBox, {0, 0, 0, 1}, {0, 0, 0, 1}, make([]byte, 12)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := bytes.NewBuffer([]byte{})
			require.NoError(t, tc.src.Marshal(bitio.NewWriter(buf)))

			expected := bytes.Join(tc.bin, nil)
			require.Equal(t, len(expected), tc.src.Size())
			require.Equal(t, expected, buf.Bytes())
		})
	}
}

func TestHeaderSizes(t *testing.T) {
	cases := []ImmutableBox{&Mvhd{}, &Tkhd{}}
	for _, box := range cases {
		buf := &bytes.Buffer{}
		require.NoError(t, box.Marshal(bitio.NewWriter(buf)))
		require.Equal(t, box.Size(), buf.Len(), box.Type().String())
	}
}

func TestBoxesMarshal(t *testing.T) {
	boxes := Boxes{
		Box: Moov,
		Children: []Boxes{
			{Box: Trak, Children: []Boxes{
				{Box: &Nmhd{}},
			}},
			{Box: Udta},
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, boxes.Marshal(bitio.NewWriter(buf)))

	expected := []byte{
		0x00, 0x00, 0x00, 0x24, 'm', 'o', 'o', 'v',
		0x00, 0x00, 0x00, 0x14, 't', 'r', 'a', 'k',
		0x00, 0x00, 0x00, 0x0c, 'n', 'm', 'h', 'd',
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x08, 'u', 'd', 't', 'a',
	}
	require.Equal(t, expected, buf.Bytes())
	require.Equal(t, len(expected), boxes.Size())
}
