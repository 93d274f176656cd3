package monitoring

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	called = false
	SetLogger(nil)
	Logf("test")
	assert.False(t, called, "no-op logger should not reach the previous logger")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for _, l := range []Level{LevelQuiet, LevelOps, LevelDiag, LevelTrace} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	got, err := ParseLevel("DIAG")
	require.NoError(t, err)
	assert.Equal(t, LevelDiag, got)

	_, err = ParseLevel("verbose")
	assert.ErrorContains(t, err, "unknown log level")
	assert.Equal(t, "Level(9)", Level(9).String())
}

func TestWritersFor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.Equal(t, LogWriters{}, WritersFor(LevelQuiet, &buf))
	assert.Equal(t, LogWriters{Ops: &buf}, WritersFor(LevelOps, &buf))
	assert.Equal(t, LogWriters{Ops: &buf, Diag: &buf}, WritersFor(LevelDiag, &buf))
	assert.Equal(t, LogWriters{Ops: &buf, Diag: &buf, Trace: &buf}, WritersFor(LevelTrace, &buf))
}

func TestLogWritersApply(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var calls int
	var gotDiag io.Writer
	WritersFor(LevelDiag, &buf).Apply(
		func(ops, diag, trace io.Writer) { calls++; gotDiag = diag; assert.Nil(t, trace) },
		func(ops, diag, trace io.Writer) { calls++ },
	)
	assert.Equal(t, 2, calls)
	assert.Same(t, &buf, gotDiag.(*bytes.Buffer))
}
