// SPDX-License-Identifier: GPL-2.0-or-later

// Package gpmf parses the GoPro Metadata Format, a nested
// key-length-value encoding where every node starts with an
// 8 byte header: FourCC key, type, structure size and repeat.
package gpmf

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCorrupt the payload is not valid GPMF.
var ErrCorrupt = errors.New("corrupt metadata")

// Kind how the payload of a node was decoded.
type Kind uint8

// Node kinds.
const (
	// KindFixed values of a single fixed-width type.
	KindFixed Kind = iota

	// KindNested payload is a sequence of child nodes.
	KindNested

	// KindComplex each element is decoded with a FieldPlan from a TYPE node.
	KindComplex

	// KindOpaque payload could not be interpreted and is kept as raw bytes.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindNested:
		return "nested"
	case KindComplex:
		return "complex"
	case KindOpaque:
		return "opaque"
	}
	return "kind(" + fmt.Sprint(uint8(k)) + ")"
}

// RootKey key of the synthetic node returned by Parse.
const RootKey = "ROOT"

// Field is one decoded field of an element.
// Numeric types set Num, text types set Str.
type Field struct {
	Type Type
	Num  float64
	Str  string
}

// IsText reports if the field holds a string.
func (f Field) IsText() bool {
	return f.Type.IsText()
}

// Element one repeat of a node.
type Element []Field

// Node is a single KLV node.
type Node struct {
	Kind   Kind
	Key    string
	Type   Type
	Size   int // Structure size in bytes.
	Repeat int

	// Plan used to decode a complex node.
	Plan FieldPlan

	// One entry per repeat, empty for nested and opaque nodes.
	Elements []Element

	// Children of a nested node.
	Children []*Node

	// Payload without padding.
	Raw []byte
}

// PayloadSize returns the declared payload length without padding.
func (n *Node) PayloadSize() int {
	return n.Size * n.Repeat
}

// Find returns the first direct child with the key or nil.
func (n *Node) Find(key string) *Node {
	for _, child := range n.Children {
		if child.Key == key {
			return child
		}
	}
	return nil
}

// Walk calls fn for the node and every descendant in document order.
// Children are skipped if fn returns false.
func (n *Node) Walk(fn func(n *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// Numbers returns every numeric field of the element in order.
func (e Element) Numbers() []float64 {
	var nums []float64
	for _, f := range e {
		if !f.IsText() {
			nums = append(nums, f.Num)
		}
	}
	return nums
}

// Text returns the text fields of the element joined by a space.
func (e Element) Text() string {
	var parts []string
	for _, f := range e {
		if f.IsText() && f.Str != "" {
			parts = append(parts, f.Str)
		}
	}
	return strings.Join(parts, " ")
}

// Text returns the text of every element, one entry per repeat.
func (n *Node) Text() []string {
	texts := make([]string, 0, len(n.Elements))
	for _, e := range n.Elements {
		texts = append(texts, e.Text())
	}
	return texts
}

// Numbers returns the numeric fields of all elements flattened.
func (n *Node) Numbers() []float64 {
	var nums []float64
	for _, e := range n.Elements {
		nums = append(nums, e.Numbers()...)
	}
	return nums
}

// String returns an indented dump of the tree.
func (n *Node) String() string {
	var b strings.Builder
	n.Walk(func(node *Node, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(node.header())
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

func (n *Node) header() string {
	head := fmt.Sprintf("%s %s size=%d repeat=%d", n.Key, n.Type, n.Size, n.Repeat)
	switch n.Kind {
	case KindNested:
		return head
	case KindOpaque:
		return head + fmt.Sprintf(" opaque(%d bytes)", len(n.Raw))
	case KindComplex, KindFixed:
	}

	const maxElements = 3
	var values []string
	for i, e := range n.Elements {
		if i == maxElements {
			values = append(values, fmt.Sprintf("... %d more", len(n.Elements)-maxElements))
			break
		}
		values = append(values, e.String())
	}
	return head + " " + strings.Join(values, " ")
}

func (e Element) String() string {
	parts := make([]string, 0, len(e))
	for _, f := range e {
		if f.IsText() {
			parts = append(parts, fmt.Sprintf("%q", f.Str))
			continue
		}
		parts = append(parts, fmt.Sprint(f.Num))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
