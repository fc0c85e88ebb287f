package starbind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

func evalString(t *testing.T, env *Env, thread *starlark.Thread, globals starlark.StringDict, src string) {
	t.Helper()
	f, err := syntax.Parse("<stdin>", src, 0)
	require.NoError(t, err)
	env.evalChunk(thread, globals, f)
}

func TestEvalChunk(t *testing.T) {
	env, _, out := newTestEnv(t)
	thread := env.newThread()
	globals := starlark.StringDict{}
	for k, v := range env.env {
		globals[k] = v
	}

	evalString(t, env, thread, globals, "Base = read_word(0x5008)\n")
	require.Empty(t, out.String())
	require.Equal(t, "33", globals["Base"].String())

	evalString(t, env, thread, globals, "Base + 1\n")
	require.Equal(t, "34\n", out.String())

	out.Reset()
	evalString(t, env, thread, globals, "None\n")
	require.Empty(t, out.String())

	evalString(t, env, thread, globals, "read_word(0x10)\n")
	require.Contains(t, out.String(), "read_word")

	out.Reset()
	evalString(t, env, thread, globals, "undefined_name\n")
	require.Contains(t, out.String(), "undefined: undefined_name")

	require.NoError(t, env.exportGlobals(globals))
	_, err := env.Execute("after.star", "print(Base)\n", "", nil)
	require.NoError(t, err)
	require.Contains(t, out.String(), "33\n")
}

func TestLoadCycle(t *testing.T) {
	env, _, _ := newTestEnv(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.star")
	b := filepath.Join(dir, "b.star")
	require.NoError(t, os.WriteFile(a, []byte("load(\""+b+"\", \"y\")\nx = 1\n"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("load(\""+a+"\", \"x\")\ny = 2\n"), 0600))
	_, err := env.Execute("main.star", "load(\""+a+"\", \"x\")\n", "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle in load graph")
}
