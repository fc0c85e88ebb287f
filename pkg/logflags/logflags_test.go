package logflags

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
}

func (bw bufferWriter) Close() error {
	return nil
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	require.Nil(t, loggerFactory)
	defer func() {
		loggerFactory = nil
	}()
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		require.Equal(t, logrus.TraceLevel, level)
		require.Equal(t, Fields{"foo": "bar"}, fields)
		require.Equal(t, logOut, out)
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	require.Same(t, expectedLogger, actual)
}

func TestMakeFlaggableLogger(t *testing.T) {
	off := makeFlaggableLogger(false, Fields{"layer": "heap"}).(*logrusLogger)
	require.Equal(t, logrus.ErrorLevel, off.Entry.Logger.Level)

	on := makeFlaggableLogger(true, Fields{"layer": "heap"}).(*logrusLogger)
	require.Equal(t, logrus.DebugLevel, on.Entry.Logger.Level)
	require.Equal(t, "heap", on.Entry.Data["layer"])
}

func TestSetupLayers(t *testing.T) {
	defer func() {
		heap, walker, target, terminal = false, false, false, false
	}()

	require.Equal(t, errLogstrWithoutLog, Setup(false, "heap", ""))

	require.NoError(t, Setup(true, "walker,target", ""))
	require.False(t, Heap())
	require.True(t, Walker())
	require.True(t, Target())
	require.False(t, Terminal())
}

func TestDefaultFormatter(t *testing.T) {
	buf := &bufferWriter{}
	logOut = buf
	defer func() {
		logOut = nil
	}()

	makeFlaggableLogger(true, Fields{"layer": "walker"}).WithField("chunk", "0x5000").Debugf("decoded %d", 1)
	out := buf.String()
	require.True(t, strings.Contains(out, "debug walker decoded 1"), out)
	require.True(t, strings.Contains(out, "chunk=0x5000"), out)
}
