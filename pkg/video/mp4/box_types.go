// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import "gopro/pkg/video/mp4/bitio"

// Identity transformation matrix of mvhd and tkhd.
var unityMatrix = [9]uint32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}

// FullBox is the version and flags header shared by most boxes.
type FullBox struct {
	Version uint8

	// 24 bits.
	Flags uint32
}

func (b FullBox) write(w *bitio.Writer) {
	w.TryWriteUint32(uint32(b.Version)<<24 | b.Flags&0xffffff)
}

func writeZeros(w *bitio.Writer, n int) {
	w.TryWrite(make([]byte, n))
}

// Container is a box without fields, only children.
type Container BoxType

// Container boxes.
var (
	Dinf = Container{'d', 'i', 'n', 'f'}
	Free = Container{'f', 'r', 'e', 'e'}
	Mdia = Container{'m', 'd', 'i', 'a'}
	Minf = Container{'m', 'i', 'n', 'f'}
	Moov = Container{'m', 'o', 'o', 'v'}
	Mvex = Container{'m', 'v', 'e', 'x'}
	Stbl = Container{'s', 't', 'b', 'l'}
	Trak = Container{'t', 'r', 'a', 'k'}
	Udta = Container{'u', 'd', 't', 'a'}
)

// Type returns the BoxType.
func (c Container) Type() BoxType { return BoxType(c) }

// Size is always zero.
func (Container) Size() int { return 0 }

// Marshal is never called.
func (Container) Marshal(*bitio.Writer) error { return nil }

// Ftyp file type box.
type Ftyp struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType { return BoxType{'f', 't', 'y', 'p'} }

// Size returns the payload size.
func (b *Ftyp) Size() int { return 8 + 4*len(b.CompatibleBrands) }

// Marshal payload to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteUint32(b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

// Mdat media data box.
type Mdat struct {
	Data []byte
}

// Type returns the BoxType.
func (*Mdat) Type() BoxType { return BoxType{'m', 'd', 'a', 't'} }

// Size returns the payload size.
func (b *Mdat) Size() int { return len(b.Data) }

// Marshal payload to writer.
func (b *Mdat) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

// Mvhd version 0 movie header with unity rate, volume and matrix.
type Mvhd struct {
	Timescale   uint32
	Duration    uint32
	NextTrackID uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType { return BoxType{'m', 'v', 'h', 'd'} }

// Size returns the payload size.
func (*Mvhd) Size() int { return 100 }

// Marshal payload to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	writeZeros(w, 8) // Creation and modification time.
	w.TryWriteUint32(b.Timescale)
	w.TryWriteUint32(b.Duration)
	w.TryWriteUint32(0x10000) // Rate 1.0
	w.TryWriteUint16(0x100)   // Volume 1.0
	writeZeros(w, 10)
	for _, v := range unityMatrix {
		w.TryWriteUint32(v)
	}
	writeZeros(w, 24) // Pre-defined.
	w.TryWriteUint32(b.NextTrackID)
	return w.TryError
}

// Tkhd version 0 track header.
type Tkhd struct {
	FullBox
	TrackID  uint32
	Duration uint32
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType { return BoxType{'t', 'k', 'h', 'd'} }

// Size returns the payload size.
func (*Tkhd) Size() int { return 84 }

// Marshal payload to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	FullBox{Flags: b.Flags}.write(w)
	writeZeros(w, 8) // Creation and modification time.
	w.TryWriteUint32(b.TrackID)
	writeZeros(w, 4)
	w.TryWriteUint32(b.Duration)
	writeZeros(w, 16) // Reserved, layer, alternate group, volume.
	for _, v := range unityMatrix {
		w.TryWriteUint32(v)
	}
	writeZeros(w, 8) // Width and height.
	return w.TryError
}

// Mdhd media header. Version 0 writes 32 bit times, any
// other version writes the 64 bit layout.
type Mdhd struct {
	FullBox
	Timescale uint32
	Duration  uint64

	// ISO-639-2/T code, lower case.
	Language string
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType { return BoxType{'m', 'd', 'h', 'd'} }

// Size returns the payload size.
func (b *Mdhd) Size() int {
	if b.Version == 0 {
		return 24
	}
	return 36
}

// Marshal payload to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	b.FullBox.write(w)
	if b.Version == 0 {
		writeZeros(w, 8)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint32(uint32(b.Duration))
	} else {
		writeZeros(w, 16)
		w.TryWriteUint32(b.Timescale)
		w.TryWriteUint64(b.Duration)
	}
	w.TryWriteUint16(packLanguage(b.Language))
	writeZeros(w, 2)
	return w.TryError
}

// packLanguage packs three letters into 5 bits each.
func packLanguage(lang string) uint16 {
	var packed uint16
	for i := 0; i < 3; i++ {
		var c byte
		if i < len(lang) {
			c = lang[i] - 0x60
		}
		packed = packed<<5 | uint16(c&0x1f)
	}
	return packed
}

// Hdlr handler reference.
type Hdlr struct {
	HandlerType BoxType
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType { return BoxType{'h', 'd', 'l', 'r'} }

// Size returns the payload size.
func (b *Hdlr) Size() int { return 25 + len(b.Name) }

// Marshal payload to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	writeZeros(w, 4) // Pre-defined.
	w.TryWrite(b.HandlerType[:])
	writeZeros(w, 12)
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

// Nmhd null media header of metadata tracks.
type Nmhd struct{}

// Type returns the BoxType.
func (*Nmhd) Type() BoxType { return BoxType{'n', 'm', 'h', 'd'} }

// Size returns the payload size.
func (*Nmhd) Size() int { return 4 }

// Marshal payload to writer.
func (*Nmhd) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	return w.TryError
}

// Vmhd video media header with the copy graphics mode.
type Vmhd struct{}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType { return BoxType{'v', 'm', 'h', 'd'} }

// Size returns the payload size.
func (*Vmhd) Size() int { return 12 }

// Marshal payload to writer.
func (*Vmhd) Marshal(w *bitio.Writer) error {
	FullBox{Flags: 1}.write(w)
	writeZeros(w, 8)
	return w.TryError
}

// Dref data reference, its entries are child boxes.
type Dref struct {
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType { return BoxType{'d', 'r', 'e', 'f'} }

// Size returns the payload size.
func (*Dref) Size() int { return 8 }

// Marshal payload to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

// SelfContainedURL is a "url " data entry whose media
// is in the same file.
type SelfContainedURL struct{}

// Type returns the BoxType.
func (*SelfContainedURL) Type() BoxType { return BoxType{'u', 'r', 'l', ' '} }

// Size returns the payload size.
func (*SelfContainedURL) Size() int { return 4 }

// Marshal payload to writer.
func (*SelfContainedURL) Marshal(w *bitio.Writer) error {
	FullBox{Flags: 1}.write(w)
	return w.TryError
}

// Stsd sample description, its entries are child boxes.
type Stsd struct {
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType { return BoxType{'s', 't', 's', 'd'} }

// Size returns the payload size.
func (*Stsd) Size() int { return 8 }

// Marshal payload to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(b.EntryCount)
	return w.TryError
}

// SampleEntry is a sample description without codec specific
// fields, such as the GoPro "gpmd" entry.
type SampleEntry struct {
	EntryType          BoxType
	DataReferenceIndex uint16
}

// Type returns the BoxType.
func (b *SampleEntry) Type() BoxType { return b.EntryType }

// Size returns the payload size.
func (*SampleEntry) Size() int { return 8 }

// Marshal payload to writer.
func (b *SampleEntry) Marshal(w *bitio.Writer) error {
	writeZeros(w, 6)
	w.TryWriteUint16(b.DataReferenceIndex)
	return w.TryError
}

// SttsEntry a run of samples with the same duration.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts decoding time to sample.
type Stts struct {
	Entries []SttsEntry
}

// Type returns the BoxType.
func (*Stts) Type() BoxType { return BoxType{'s', 't', 't', 's'} }

// Size returns the payload size.
func (b *Stts) Size() int { return 8 + 8*len(b.Entries) }

// Marshal payload to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.SampleCount)
		w.TryWriteUint32(e.SampleDelta)
	}
	return w.TryError
}

// StscEntry a run of chunks with the same number of samples.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc sample to chunk.
type Stsc struct {
	Entries []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType { return BoxType{'s', 't', 's', 'c'} }

// Size returns the payload size.
func (b *Stsc) Size() int { return 8 + 12*len(b.Entries) }

// Marshal payload to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.TryWriteUint32(e.FirstChunk)
		w.TryWriteUint32(e.SamplesPerChunk)
		w.TryWriteUint32(e.SampleDescriptionIndex)
	}
	return w.TryError
}

// Stsz sample sizes. EntrySizes is only written
// when SampleSize is zero.
type Stsz struct {
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType { return BoxType{'s', 't', 's', 'z'} }

// Size returns the payload size.
func (b *Stsz) Size() int {
	if b.SampleSize != 0 {
		return 12
	}
	return 12 + 4*len(b.EntrySizes)
}

// Marshal payload to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(b.SampleSize)
	w.TryWriteUint32(b.SampleCount)
	if b.SampleSize == 0 {
		for _, size := range b.EntrySizes {
			w.TryWriteUint32(size)
		}
	}
	return w.TryError
}

// Stco 32 bit chunk offsets.
type Stco struct {
	ChunkOffsets []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType { return BoxType{'s', 't', 'c', 'o'} }

// Size returns the payload size.
func (b *Stco) Size() int { return 8 + 4*len(b.ChunkOffsets) }

// Marshal payload to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		w.TryWriteUint32(offset)
	}
	return w.TryError
}

// Co64 64 bit chunk offsets.
type Co64 struct {
	ChunkOffsets []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType { return BoxType{'c', 'o', '6', '4'} }

// Size returns the payload size.
func (b *Co64) Size() int { return 8 + 8*len(b.ChunkOffsets) }

// Marshal payload to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		w.TryWriteUint64(offset)
	}
	return w.TryError
}

// Trex track extends defaults, only present in fragmented files.
type Trex struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
}

// Type returns the BoxType.
func (*Trex) Type() BoxType { return BoxType{'t', 'r', 'e', 'x'} }

// Size returns the payload size.
func (*Trex) Size() int { return 24 }

// Marshal payload to writer.
func (b *Trex) Marshal(w *bitio.Writer) error {
	FullBox{}.write(w)
	w.TryWriteUint32(b.TrackID)
	w.TryWriteUint32(b.DefaultSampleDescriptionIndex)
	writeZeros(w, 12) // Duration, size and flags.
	return w.TryError
}
