// SPDX-License-Identifier: GPL-2.0-or-later

// Package mp4 writes ISO-BMFF boxes. It is used to build
// container fixtures, reading is done with github.com/abema/go-mp4.
package mp4

import "gopro/pkg/video/mp4/bitio"

// headerSize size of a compact box header.
const headerSize = 8

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the payload size in bytes. It must be known
	// before marshaling since the header holds the box size.
	Size() int

	// Marshal payload to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a box and its children.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := headerSize + b.Box.Size()
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box and children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	if err := marshalBox(w, b.Box, b.Size()); err != nil {
		return err
	}
	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteSingleBox writes a box without children and returns its size.
func WriteSingleBox(w *bitio.Writer, b ImmutableBox) (int, error) {
	size := headerSize + b.Size()
	if err := marshalBox(w, b, size); err != nil {
		return 0, err
	}
	return size, nil
}

func marshalBox(w *bitio.Writer, b ImmutableBox, size int) error {
	typ := b.Type()
	w.TryWriteUint32(uint32(size))
	w.TryWrite(typ[:])
	if w.TryError != nil {
		return w.TryError
	}
	if b.Size() == 0 {
		return nil
	}
	return b.Marshal(w)
}
