// SPDX-License-Identifier: GPL-2.0-or-later

// Package bitio writes big-endian integers with github.com/icza/bitio.
package bitio

import (
	"io"

	"github.com/icza/bitio"
)

// Writer is a bitio.Writer with fixed-width integer helpers.
// Errors of the TryXXX methods are kept in TryError.
type Writer struct {
	*bitio.Writer
}

// NewWriter returns a writer to out. Close flushes cached bits,
// whole byte writes are never cached.
func NewWriter(out io.Writer) *Writer {
	return &Writer{Writer: bitio.NewWriter(out)}
}

// WriteUint32 writes 32 bits.
func (w *Writer) WriteUint32(v uint32) error {
	return w.WriteBits(uint64(v), 32)
}

// TryWriteUint16 tries to write 16 bits.
func (w *Writer) TryWriteUint16(v uint16) {
	w.TryWriteBits(uint64(v), 16)
}

// TryWriteUint32 tries to write 32 bits.
func (w *Writer) TryWriteUint32(v uint32) {
	w.TryWriteBits(uint64(v), 32)
}

// TryWriteUint64 tries to write 64 bits.
func (w *Writer) TryWriteUint64(v uint64) {
	w.TryWriteBits(v, 64)
}
