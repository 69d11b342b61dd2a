// SPDX-License-Identifier: GPL-2.0-or-later

// Package gpmftest encodes GPMF payloads for tests.
package gpmftest

import (
	"bytes"
	"encoding/hex"
	"math"

	"gopro/pkg/gpmf"
	"gopro/pkg/video/mp4/bitio"
)

// KLV a node to be encoded. Nested nodes set Children,
// every other node sets Data which is written as is.
type KLV struct {
	Key      string
	Type     gpmf.Type
	Size     int
	Repeat   int
	Data     []byte
	Children []KLV
}

// Encode encodes the nodes back to back, each padded to 4 bytes.
func Encode(nodes ...KLV) []byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, n := range nodes {
		n.marshal(w)
	}
	if err := closeWriter(w); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (k KLV) marshal(w *bitio.Writer) {
	data := k.Data
	if k.Type == gpmf.TypeNested && k.Children != nil {
		data = Encode(k.Children...)
	}

	key := []byte(k.Key + "\x00\x00\x00\x00")[:4]
	w.TryWrite(key)
	w.TryWriteByte(byte(k.Type))
	w.TryWriteByte(byte(k.Size))
	w.TryWriteUint16(uint16(k.Repeat))
	w.TryWrite(data)
	if pad := (4 - len(data)%4) % 4; pad != 0 {
		w.TryWrite(make([]byte, pad))
	}
}

// Nested returns a nested node with the children as payload.
func Nested(key string, children ...KLV) KLV {
	size := 0
	for _, c := range children {
		n := len(c.Data)
		if c.Type == gpmf.TypeNested && c.Children != nil {
			n = len(Encode(c.Children...))
		}
		size += gpmf.HeaderSize + (n+3)&^3
	}
	return KLV{
		Key:      key,
		Type:     gpmf.TypeNested,
		Size:     1,
		Repeat:   size,
		Children: children,
	}
}

// String returns a char node holding s, one char per repeat.
func String(key string, s string) KLV {
	return KLV{
		Key:    key,
		Type:   gpmf.TypeChar,
		Size:   1,
		Repeat: len(s),
		Data:   []byte(s),
	}
}

// Strings returns a char node with one NUL padded string of
// width bytes per repeat.
func Strings(key string, width int, ss ...string) KLV {
	data := make([]byte, 0, width*len(ss))
	for _, s := range ss {
		b := make([]byte, width)
		copy(b, s)
		data = append(data, b...)
	}
	return KLV{
		Key:    key,
		Type:   gpmf.TypeChar,
		Size:   width,
		Repeat: len(ss),
		Data:   data,
	}
}

// Values returns a fixed-width numeric node with perElement
// values per repeat. len(vals) must be a multiple of perElement.
func Values(key string, t gpmf.Type, perElement int, vals ...float64) KLV {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, v := range vals {
		writeNumber(w, t, v)
	}
	if err := closeWriter(w); err != nil {
		panic(err)
	}
	return KLV{
		Key:    key,
		Type:   t,
		Size:   t.Width() * perElement,
		Repeat: len(vals) / perElement,
		Data:   buf.Bytes(),
	}
}

// Complex returns a complex node. typ is the TYPE string the
// elements are encoded with, it must be declared by a preceding
// TYPE node for the parser to decode the elements.
func Complex(key string, typ string, elems ...gpmf.Element) KLV {
	plan, err := gpmf.ParsePlan(typ)
	if err != nil {
		panic(err)
	}

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, elem := range elems {
		field := 0
		for i := 0; i < len(plan); {
			t := plan[i]
			if t != gpmf.TypeChar {
				writeField(w, t, elem[field], 0)
				field++
				i++
				continue
			}
			j := i
			for j < len(plan) && plan[j] == gpmf.TypeChar {
				j++
			}
			writeField(w, t, elem[field], j-i)
			field++
			i = j
		}
	}
	if err := closeWriter(w); err != nil {
		panic(err)
	}
	return KLV{
		Key:    key,
		Type:   gpmf.TypeComplex,
		Size:   plan.Width(),
		Repeat: len(elems),
		Data:   buf.Bytes(),
	}
}

func writeField(w *bitio.Writer, t gpmf.Type, f gpmf.Field, n int) {
	switch t {
	case gpmf.TypeChar:
		writeString(w, f.Str, n)
	case gpmf.TypeFourCC:
		writeString(w, f.Str, 4)
	case gpmf.TypeUTCDate:
		writeString(w, f.Str, 16)
	case gpmf.TypeUUID:
		b, err := hex.DecodeString(f.Str)
		if err != nil {
			panic(err)
		}
		padded := make([]byte, 16)
		copy(padded, b)
		w.TryWrite(padded)
	default:
		writeNumber(w, t, f.Num)
	}
}

func writeString(w *bitio.Writer, s string, n int) {
	b := make([]byte, n)
	copy(b, s)
	w.TryWrite(b)
}

func writeNumber(w *bitio.Writer, t gpmf.Type, v float64) {
	switch t {
	case gpmf.TypeInt8, gpmf.TypeUint8:
		w.TryWriteByte(byte(int64(v)))
	case gpmf.TypeInt16, gpmf.TypeUint16:
		w.TryWriteUint16(uint16(int64(v)))
	case gpmf.TypeInt32, gpmf.TypeUint32:
		w.TryWriteUint32(uint32(int64(v)))
	case gpmf.TypeInt64:
		w.TryWriteUint64(uint64(int64(v)))
	case gpmf.TypeUint64:
		w.TryWriteUint64(uint64(v))
	case gpmf.TypeFloat32:
		w.TryWriteUint32(math.Float32bits(float32(v)))
	case gpmf.TypeFloat64:
		w.TryWriteUint64(math.Float64bits(v))
	case gpmf.TypeQ15:
		w.TryWriteUint32(uint32(int32(math.Round(v * (1 << 16)))))
	case gpmf.TypeQ31:
		w.TryWriteUint64(uint64(int64(math.Round(v * (1 << 32)))))
	default:
		panic("gpmftest: not a numeric type: " + t.String())
	}
}

func closeWriter(w *bitio.Writer) error {
	if w.TryError != nil {
		return w.TryError
	}
	return w.Close()
}
