// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"encoding/hex"
	"math"
	"strings"

	"github.com/icza/bitio"
)

// Type is the value type code of a node.
type Type byte

// Type codes.
const (
	TypeInt8    Type = 'b'
	TypeUint8   Type = 'B'
	TypeChar    Type = 'c'
	TypeFloat64 Type = 'd'
	TypeFloat32 Type = 'f'
	TypeFourCC  Type = 'F'
	TypeUUID    Type = 'G'
	TypeInt64   Type = 'j'
	TypeUint64  Type = 'J'
	TypeInt32   Type = 'l'
	TypeUint32  Type = 'L'
	TypeQ15     Type = 'q' // Q15.16 fixed point.
	TypeQ31     Type = 'Q' // Q31.32 fixed point.
	TypeInt16   Type = 's'
	TypeUint16  Type = 'S'
	TypeUTCDate Type = 'U' // yymmddhhmmss.sss
	TypeComplex Type = '?'
	TypeNested  Type = 0
)

// Width returns the size in bytes of a single value,
// 0 if the type has no fixed width.
func (t Type) Width() int {
	switch t {
	case TypeInt8, TypeUint8, TypeChar:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeFloat32, TypeFourCC, TypeInt32, TypeUint32, TypeQ15:
		return 4
	case TypeFloat64, TypeInt64, TypeUint64, TypeQ31:
		return 8
	case TypeUUID, TypeUTCDate:
		return 16
	case TypeComplex, TypeNested:
	}
	return 0
}

// IsText reports if values of the type are decoded as strings.
func (t Type) IsText() bool {
	switch t {
	case TypeChar, TypeFourCC, TypeUUID, TypeUTCDate:
		return true
	}
	return false
}

func (t Type) String() string {
	if t == TypeNested {
		return "0"
	}
	return string(rune(t))
}

// readField reads a single value of a fixed-width type.
// Char fields are read as strings of n bytes.
func readField(r *bitio.Reader, t Type, n int) Field {
	f := Field{Type: t}
	switch t {
	case TypeInt8:
		f.Num = float64(int8(r.TryReadBits(8)))
	case TypeUint8:
		f.Num = float64(uint8(r.TryReadBits(8)))
	case TypeInt16:
		f.Num = float64(int16(r.TryReadBits(16)))
	case TypeUint16:
		f.Num = float64(uint16(r.TryReadBits(16)))
	case TypeInt32:
		f.Num = float64(int32(r.TryReadBits(32)))
	case TypeUint32:
		f.Num = float64(uint32(r.TryReadBits(32)))
	case TypeInt64:
		f.Num = float64(int64(r.TryReadBits(64)))
	case TypeUint64:
		f.Num = float64(r.TryReadBits(64))
	case TypeFloat32:
		f.Num = float64(math.Float32frombits(uint32(r.TryReadBits(32))))
	case TypeFloat64:
		f.Num = math.Float64frombits(r.TryReadBits(64))
	case TypeQ15:
		f.Num = float64(int32(r.TryReadBits(32))) / (1 << 16)
	case TypeQ31:
		f.Num = float64(int64(r.TryReadBits(64))) / (1 << 32)
	case TypeChar:
		f.Str = readString(r, n)
	case TypeFourCC:
		f.Str = readString(r, 4)
	case TypeUTCDate:
		f.Str = readString(r, 16)
	case TypeUUID:
		buf := make([]byte, 16)
		for i := range buf {
			buf[i] = r.TryReadByte()
		}
		f.Str = hex.EncodeToString(buf)
	case TypeComplex, TypeNested:
	}
	return f
}

// readString reads n bytes and strips trailing NUL and space padding.
func readString(r *bitio.Reader, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = r.TryReadByte()
	}
	return strings.TrimRight(string(buf), "\x00 ")
}
