// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/icza/bitio"
)

// HeaderSize size of a KLV header in bytes.
const HeaderSize = 8

// Header is the decoded KLV header.
type Header struct {
	Key    string
	Type   Type
	Size   int
	Repeat int
}

// UnmarshalHeader decodes the first 8 bytes of buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrCorrupt, HeaderSize, len(buf))
	}
	return Header{
		Key:    string(buf[:4]),
		Type:   Type(buf[4]),
		Size:   int(buf[5]),
		Repeat: int(binary.BigEndian.Uint16(buf[6:8])),
	}, nil
}

// Parse parses a payload into a tree. The returned root is a
// synthetic nested node whose children are the top-level nodes.
func Parse(payload []byte) (*Node, error) {
	children, err := parseNodes(payload, nil, RootKey)
	if err != nil {
		return nil, err
	}
	return &Node{
		Kind:     KindNested,
		Key:      RootKey,
		Type:     TypeNested,
		Size:     1,
		Repeat:   len(payload),
		Children: children,
		Raw:      payload,
	}, nil
}

// parseNodes parses sibling nodes. The plan of the nearest
// preceding TYPE node is passed down to children by value.
func parseNodes(buf []byte, plan FieldPlan, parent string) ([]*Node, error) {
	var nodes []*Node
	pos := 0
	for pos < len(buf) {
		if isPadding(buf[pos:]) {
			break
		}

		h, err := UnmarshalHeader(buf[pos:])
		if err != nil {
			return nil, fmt.Errorf("%s: offset %d: %w", parent, pos, err)
		}
		pos += HeaderSize

		length := h.Size * h.Repeat
		if remaining := len(buf) - pos; length > remaining {
			return nil, fmt.Errorf(
				"%w: %s/%s: declared length %d exceeds the %d remaining bytes",
				ErrCorrupt, parent, h.Key, length, remaining)
		}
		payload := buf[pos : pos+length]

		// The last node in a parent may omit its padding.
		padded := (length + 3) &^ 3
		if padded > len(buf)-pos {
			padded = len(buf) - pos
		}
		pos += padded

		node, err := decodeNode(h, payload, plan, parent)
		if err != nil {
			return nil, err
		}

		if node.Key == "TYPE" && node.Type == TypeChar {
			p, err := ParsePlan(typeString(node))
			if err != nil {
				return nil, fmt.Errorf("%w: %s/TYPE: %v", ErrCorrupt, parent, err)
			}
			plan = p
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeNode(h Header, payload []byte, plan FieldPlan, parent string) (*Node, error) {
	node := &Node{
		Key:    h.Key,
		Type:   h.Type,
		Size:   h.Size,
		Repeat: h.Repeat,
		Raw:    payload,
	}
	path := parent + "/" + h.Key

	switch {
	case h.Type == TypeNested:
		children, err := parseNodes(payload, plan, path)
		if err != nil {
			return nil, err
		}
		node.Kind = KindNested
		node.Children = children
		return node, nil

	case h.Type == TypeComplex:
		if plan == nil {
			node.Kind = KindOpaque
			return node, nil
		}
		if plan.Width() != h.Size {
			return nil, fmt.Errorf(
				"%w: %s: type %q is %d bytes wide, structure size is %d",
				ErrCorrupt, path, plan.String(), plan.Width(), h.Size)
		}
		node.Kind = KindComplex
		node.Plan = plan
		r := bitio.NewReader(bytes.NewReader(payload))
		for i := 0; i < h.Repeat; i++ {
			node.Elements = append(node.Elements, plan.readElement(r))
		}
		if r.TryError != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, r.TryError)
		}
		return node, nil

	case h.Type.Width() == 0:
		node.Kind = KindOpaque
		return node, nil
	}

	width := h.Type.Width()
	if h.Size%width != 0 {
		return nil, fmt.Errorf(
			"%w: %s: structure size %d is not a multiple of %d byte type %q",
			ErrCorrupt, path, h.Size, width, h.Type)
	}
	node.Kind = KindFixed
	if h.Size == 0 {
		return node, nil
	}

	r := bitio.NewReader(bytes.NewReader(payload))
	switch {
	case h.Type == TypeChar && h.Size == 1:
		// A string stored one char per repeat.
		node.Elements = []Element{{readField(r, TypeChar, h.Repeat)}}
	case h.Type == TypeChar:
		for i := 0; i < h.Repeat; i++ {
			node.Elements = append(node.Elements, Element{readField(r, TypeChar, h.Size)})
		}
	default:
		perElement := h.Size / width
		for i := 0; i < h.Repeat; i++ {
			elem := make(Element, 0, perElement)
			for j := 0; j < perElement; j++ {
				elem = append(elem, readField(r, h.Type, 0))
			}
			node.Elements = append(node.Elements, elem)
		}
	}
	if r.TryError != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, r.TryError)
	}
	return node, nil
}

func typeString(n *Node) string {
	var s string
	for _, t := range n.Text() {
		s += t
	}
	return s
}

// isPadding reports if the rest of buf is zero filled.
func isPadding(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
