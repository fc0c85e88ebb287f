// Package colorize assigns terminal escape sequences to the parts of a
// heap report.
package colorize

import (
	"fmt"
	"strings"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	RegionStyle
	KnownStyle
	TargetStyle
	TopStyle
	WarningStyle
	CorruptionStyle
)

const (
	escapeCode = "\033[%dm"
	boldCode   = "\033[1m"
	resetCode  = "\033[0m"
)

var colorCodes = map[string]int{
	"black":   30,
	"red":     31,
	"green":   32,
	"yellow":  33,
	"blue":    34,
	"magenta": 35,
	"cyan":    36,
	"white":   37,
}

// DefaultPalette is the rotation of chunk colors used when the
// configuration does not provide one.
var DefaultPalette = []string{"cyan", "red", "yellow", "blue", "green"}

// Scheme maps styles and chunk indexes to escape sequences. A nil
// *Scheme writes no escape sequences.
type Scheme struct {
	escapes map[Style]string
	chunks  []string
}

// NewScheme returns a scheme rotating chunk colors through palette.
func NewScheme(palette []string) (*Scheme, error) {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	s := &Scheme{
		escapes: map[Style]string{
			RegionStyle:     color(31),
			KnownStyle:      color(32),
			TargetStyle:     color(36),
			TopStyle:        boldCode + color(31),
			WarningStyle:    color(33),
			CorruptionStyle: boldCode + color(31),
		},
	}
	for _, name := range palette {
		code, ok := colorCodes[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown color %q in palette", name)
		}
		s.chunks = append(s.chunks, color(code))
	}
	return s, nil
}

func color(code int) string {
	return fmt.Sprintf(escapeCode, code)
}

// Paint returns text wrapped in the escape sequence of st.
func (s *Scheme) Paint(st Style, text string) string {
	if s == nil || s.escapes[st] == "" {
		return text
	}
	return s.escapes[st] + text + resetCode
}

// PaintChunk returns text in the color of the i-th chunk.
func (s *Scheme) PaintChunk(i int, text string) string {
	if s == nil || len(s.chunks) == 0 {
		return text
	}
	return s.chunks[i%len(s.chunks)] + text + resetCode
}
