package colorize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilScheme(t *testing.T) {
	var s *Scheme
	require.Equal(t, "text", s.Paint(TopStyle, "text"))
	require.Equal(t, "text", s.PaintChunk(3, "text"))
}

func TestPaint(t *testing.T) {
	s, err := NewScheme(nil)
	require.NoError(t, err)
	require.Equal(t, "\033[36mx\033[0m", s.PaintChunk(0, "x"))
	require.Equal(t, "\033[31mx\033[0m", s.PaintChunk(1, "x"))
	// the palette rotates
	require.Equal(t, s.PaintChunk(0, "x"), s.PaintChunk(len(DefaultPalette), "x"))
	require.Equal(t, "\033[1m\033[31mTop\033[0m", s.Paint(TopStyle, "Top"))
	require.Equal(t, "plain", s.Paint(NormalStyle, "plain"))
}

func TestCustomPalette(t *testing.T) {
	s, err := NewScheme([]string{"Magenta"})
	require.NoError(t, err)
	require.Equal(t, "\033[35mx\033[0m", s.PaintChunk(7, "x"))

	_, err = NewScheme([]string{"mauve"})
	require.Error(t, err)
}
