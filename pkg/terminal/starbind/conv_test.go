package starbind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/go-delve/heapview/pkg/proc"
)

func TestInterfaceToStarlarkValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{uint8(7), "7"},
		{uint64(0xffffffffffffffff), "18446744073709551615"},
		{int16(-3), "-3"},
		{42, "42"},
		{true, "True"},
		{"heap", `"heap"`},
		{[]string{"a", "b"}, `["a", "b"]`},
		{nil, "None"},
		{errors.New("broken"), `"broken"`},
		{struct{ X int }{1}, `"{1}"`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, interfaceToStarlarkValue(tt.in).String(), "%#v", tt.in)
	}
}

func TestRegionsToStarlarkValue(t *testing.T) {
	v := regionsToStarlarkValue([]proc.MemoryMapEntry{
		{Addr: 0x5000, Size: 0x1000, Read: true, Write: true, Filename: "[heap]"},
		{Addr: 0x7f0000, Size: 0x2000, Read: true, Exec: true, Filename: "/lib/libc.so.6"},
	})
	l, ok := v.(*starlark.List)
	require.True(t, ok)
	require.Equal(t, 2, l.Len())

	d := l.Index(1).(*starlark.Dict)
	get := func(key string) string {
		v, found, err := d.Get(starlark.String(key))
		require.NoError(t, err)
		require.True(t, found, key)
		return v.String()
	}
	require.Equal(t, "8323072", get("start"))
	require.Equal(t, "8331264", get("end"))
	require.Equal(t, `"r-x"`, get("perm"))
	require.Equal(t, `"libc.so.6"`, get("name"))
}
