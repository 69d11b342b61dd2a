// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/icza/bitio"
)

// MaxElementSize is the largest element a header can describe,
// the structure size is a single byte.
const MaxElementSize = 255

// FieldPlan is the layout of one element of a complex node,
// one type per field. Arrays are expanded, "f[3]" becomes "fff".
type FieldPlan []Type

// Plan errors.
var (
	ErrPlanSyntax      = errors.New("invalid type string")
	ErrPlanUnknownType = errors.New("unknown type in type string")
)

// ParsePlan parses a TYPE string such as "lLf[3]c[4]" into a plan.
// An array suffix [n] repeats the preceding type n times. Plans
// wider than MaxElementSize are rejected.
func ParsePlan(s string) (FieldPlan, error) {
	var (
		plan  FieldPlan
		width int
	)
	for i := 0; i < len(s); i++ {
		c := Type(s[i])
		if c != '[' {
			if c.Width() == 0 {
				return nil, fmt.Errorf("%w: %q in %q", ErrPlanUnknownType, rune(c), s)
			}
			width += c.Width()
			if width > MaxElementSize {
				return nil, fmt.Errorf("%w: %q is wider than %d bytes", ErrPlanSyntax, s, MaxElementSize)
			}
			plan = append(plan, c)
			continue
		}

		end := i + 1
		for end < len(s) && s[end] != ']' {
			end++
		}
		if end == len(s) || len(plan) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrPlanSyntax, s)
		}
		n, err := strconv.Atoi(s[i+1 : end])
		if err != nil || n < 1 || n > MaxElementSize {
			return nil, fmt.Errorf("%w: %q", ErrPlanSyntax, s)
		}
		last := plan[len(plan)-1]
		if width+(n-1)*last.Width() > MaxElementSize {
			return nil, fmt.Errorf("%w: %q is wider than %d bytes", ErrPlanSyntax, s, MaxElementSize)
		}
		width += (n - 1) * last.Width()
		for j := 1; j < n; j++ {
			plan = append(plan, last)
		}
		i = end
	}
	return plan, nil
}

// Width returns the byte width of one element.
func (p FieldPlan) Width() int {
	total := 0
	for _, t := range p {
		total += t.Width()
	}
	return total
}

// String returns the plan in TYPE string notation.
func (p FieldPlan) String() string {
	var b []byte
	for i := 0; i < len(p); {
		j := i + 1
		for j < len(p) && p[j] == p[i] {
			j++
		}
		b = append(b, byte(p[i]))
		if n := j - i; n > 1 {
			b = append(b, '[')
			b = strconv.AppendInt(b, int64(n), 10)
			b = append(b, ']')
		}
		i = j
	}
	return string(b)
}

// readElement decodes one element. A run of char fields is
// decoded as a single string.
func (p FieldPlan) readElement(r *bitio.Reader) Element {
	elem := make(Element, 0, len(p))
	for i := 0; i < len(p); {
		t := p[i]
		if t != TypeChar {
			elem = append(elem, readField(r, t, 0))
			i++
			continue
		}
		j := i
		for j < len(p) && p[j] == TypeChar {
			j++
		}
		elem = append(elem, readField(r, TypeChar, j-i))
		i = j
	}
	return elem
}
