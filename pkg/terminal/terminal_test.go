package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/heapview/pkg/config"
	"github.com/go-delve/heapview/pkg/glibc"
)

func TestParseColorMode(t *testing.T) {
	for in, want := range map[string]ColorMode{"": ColorAuto, "auto": ColorAuto, "Always": ColorAlways, "never": ColorNever} {
		got, err := ParseColorMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseColorMode("sometimes")
	require.EqualError(t, err, "unknown color mode sometimes, expected auto, always or never")
}

func TestUseColor(t *testing.T) {
	yes, no := true, false
	var buf bytes.Buffer
	require.True(t, useColor(ColorAlways, &no, &buf))
	require.False(t, useColor(ColorNever, &yes, &buf))
	require.True(t, useColor(ColorAuto, &yes, &buf))
	require.False(t, useColor(ColorAuto, &no, &buf))
	require.False(t, useColor(ColorAuto, nil, &buf))
}

func TestColoredHeapView(t *testing.T) {
	h := twoChunks(t)
	s, err := glibc.NewSession(h.img, glibc.Options{HeapBase: testHeap, Arena: testArena})
	require.NoError(t, err)
	var buf bytes.Buffer
	term, err := New(s, &config.Config{}, Options{Color: ColorAlways, Stdout: &buf})
	require.NoError(t, err)
	defer term.Close()

	require.NoError(t, term.RunCommands([]string{"heap-view"}))
	out := buf.String()
	require.Contains(t, out, "\033[36m0x0000000000000021\033[0m")
	require.Contains(t, out, "\033[31m0x0000000000000021\033[0m")
	require.Contains(t, out, "\033[32m← fastlist[0/0]\033[0m")

	_, err = New(s, &config.Config{Palette: []string{"mauve"}}, Options{Color: ColorAlways, Stdout: &buf})
	require.Error(t, err)
}

func TestTranscriptEcho(t *testing.T) {
	var out, file bytes.Buffer
	w := newTranscriptWriter(&out)
	w.TranscribeTo(nopCloser{&file}, false)
	w.Echo("(heapview) chunks\n")
	w.Write([]byte("Chunk[0]\n"))
	require.NoError(t, w.CloseTranscript())
	require.Equal(t, "Chunk[0]\n", out.String())
	require.Equal(t, "(heapview) chunks\nChunk[0]\n", file.String())

	w.Write([]byte("after\n"))
	require.False(t, strings.Contains(file.String(), "after"))
}

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

func TestPagingWriterNotTerminal(t *testing.T) {
	t.Setenv("HEAPVIEW_PAGER", "")
	var out bytes.Buffer
	pw := &pagingWriter{w: &out}
	pw.PageMaybe(nil)
	require.Equal(t, pagingWriterNormal, pw.mode)
	pw.Write([]byte("text\n"))
	pw.Reset()
	require.Equal(t, "text\n", out.String())
}
