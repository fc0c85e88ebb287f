package config

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDecodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDefaultConfig(&buf))

	c, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxListLength, c.GetMaxListLength())
	require.Equal(t, DefaultIndexCacheSize, c.GetIndexCacheSize())
	require.True(t, c.GetCollapseNuls())
	require.Nil(t, c.Color)
}

func TestDecode(t *testing.T) {
	in := `
aliases:
  heap-view: ["hh"]
color: false
collapse-nuls: false
palette: ["green", "blue"]
max-list-length: 64
libc-version: "2.31"
index-cache-size: 2
`
	c, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"hh"}, c.Aliases["heap-view"])
	require.NotNil(t, c.Color)
	require.False(t, *c.Color)
	require.False(t, c.GetCollapseNuls())
	require.Equal(t, []string{"green", "blue"}, c.Palette)
	require.Equal(t, 64, c.GetMaxListLength())
	require.Equal(t, "2.31", c.LibcVersion)
	require.Equal(t, 2, c.GetIndexCacheSize())
}

func TestNilConfigDefaults(t *testing.T) {
	var c *Config
	require.Equal(t, DefaultMaxListLength, c.GetMaxListLength())
	require.True(t, c.GetCollapseNuls())
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HEAPVIEW_CONFIG_DIR", dir)

	c := LoadConfig()
	require.NotNil(t, c)
	require.Equal(t, DefaultMaxListLength, c.GetMaxListLength())

	p, err := GetConfigFilePath(configFile)
	require.NoError(t, err)
	_, err = os.Stat(p)
	require.NoError(t, err)
}
