package starbind

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/go-delve/heapview/pkg/glibc"
	"github.com/go-delve/heapview/pkg/proc"
)

// interfaceToStarlarkValue converts the arguments of main functions into
// starlark values.
func interfaceToStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uintptr:
		return starlark.MakeUint64(uint64(v))
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt(v)
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []string:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = starlark.String(v[i])
		}
		return starlark.NewList(r)
	case nil:
		return starlark.None
	case error:
		return starlark.String(v.Error())
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// newDict returns a dict with string keys; kv alternates keys and values.
func newDict(kv ...interface{}) *starlark.Dict {
	d := starlark.NewDict(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		d.SetKey(starlark.String(kv[i].(string)), interfaceToStarlarkValue(kv[i+1]))
	}
	return d
}

func chunkToStarlarkValue(i int, c glibc.Chunk, idx *glibc.Index) starlark.Value {
	label, ok := idx.Lookup(c.DataAddress())
	var freeList interface{}
	if ok {
		freeList = label
	}
	return newDict(
		"index", i,
		"base", c.Base,
		"size", c.Size,
		"prev_size", c.PrevSize,
		"flags", c.Flags.String(),
		"data", c.DataAddress(),
		"free_list", freeList,
	)
}

func indexToStarlarkValue(idx *glibc.Index) starlark.Value {
	d := starlark.NewDict(idx.Len())
	for _, addr := range idx.Addresses() {
		label, _ := idx.Lookup(addr)
		d.SetKey(starlark.MakeUint64(addr), starlark.String(label))
	}
	return d
}

func regionsToStarlarkValue(regions []proc.MemoryMapEntry) starlark.Value {
	r := make([]starlark.Value, len(regions))
	for i := range regions {
		e := &regions[i]
		r[i] = newDict(
			"start", e.Addr,
			"end", e.End(),
			"perm", e.Perms(),
			"name", e.Label(),
		)
	}
	return starlark.NewList(r)
}
