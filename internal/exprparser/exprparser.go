// Package exprparser tokenizes the inline packet-expression dialect:
// `proto(k=v,...):proto(k=v,...):...`, a colon-separated stack of
// protocol layers with the outermost (leftmost) layer being Ethernet,
// explicit or implied.
package exprparser

import (
	"fmt"
	"strings"

	"github.com/amartin755/tcppump/internal/params"
)

// Layer is one `proto(...)` segment of an inline expression.
type Layer struct {
	Proto  string
	Params *params.List
}

// Expression is the fully tokenized colon-stack, outermost layer first.
type Expression struct {
	Layers []Layer
}

// ParseError carries the column (byte offset) an expression failed at.
type ParseError struct {
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("exprparser: %s at column %d", e.Msg, e.Column)
}

// Parse splits s on top-level ':' (not inside parentheses) and parses
// each "name(params)" segment.
func Parse(s string) (*Expression, error) {
	segments, err := splitLayers(s)
	if err != nil {
		return nil, err
	}
	expr := &Expression{}
	for _, seg := range segments {
		layer, err := parseLayer(seg.text, seg.offset)
		if err != nil {
			return nil, err
		}
		expr.Layers = append(expr.Layers, layer)
	}
	return expr, nil
}

type segment struct {
	text   string
	offset int
}

// splitLayers splits on ':' characters that occur outside any
// parenthesized parameter list, since hex payload values or nested
// structures never contain a bare colon at depth 0.
func splitLayers(s string) ([]segment, error) {
	var segments []segment
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, &ParseError{Column: i, Msg: "unmatched ')'"}
			}
		case ':':
			if depth == 0 {
				segments = append(segments, segment{text: s[start:i], offset: start})
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, &ParseError{Column: len(s), Msg: "unmatched '('"}
	}
	segments = append(segments, segment{text: s[start:], offset: start})
	return segments, nil
}

func parseLayer(s string, baseOffset int) (Layer, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return Layer{}, &ParseError{Column: baseOffset, Msg: "expected 'proto(...)'"}
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return Layer{}, &ParseError{Column: baseOffset, Msg: "missing protocol name"}
	}
	if !strings.HasSuffix(s, ")") {
		return Layer{}, &ParseError{Column: baseOffset + len(s), Msg: "expected ')'"}
	}

	list, err := params.Parse(s[open:])
	if err != nil {
		return Layer{}, &ParseError{Column: baseOffset + open, Msg: err.Error()}
	}
	return Layer{Proto: strings.ToLower(name), Params: list}, nil
}
