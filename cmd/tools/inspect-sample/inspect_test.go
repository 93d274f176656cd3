package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/banshee-data/cnnseg-dataset/internal/fsutil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/dataset"
)

func writeSample(t *testing.T) *dataset.Reader {
	t.Helper()
	spec := l2grid.Spec{Rows: 8, Cols: 8, Range: 4}
	channels := l2grid.ChannelsFor(false, false)
	feature := l2grid.NewFeatureGrid(spec, channels)
	feature.Set(2, 3, feature.ChannelIndex(l2grid.ChannelMaxHeight), 1.5)
	feature.Set(2, 3, feature.ChannelIndex(l2grid.ChannelNonEmpty), 1)
	enc, err := l3labels.NewEncoder(l3labels.EncoderParams{Spec: spec})
	require.NoError(t, err)
	label, _ := enc.Encode([]l1points.Object{{Class: l1points.ClassCyclist, X: 1, Y: 1, Width: 1, Length: 1.5, Height: 1.2}}, nil)

	root := t.TempDir()
	w, err := dataset.NewWriter(fsutil.OSFileSystem{}, root, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(dataset.NewMetadata(spec, channels)))
	require.NoError(t, w.Write(7, feature, label))

	r, err := dataset.OpenReader(fsutil.OSFileSystem{}, root)
	require.NoError(t, err)
	return r
}

func TestChannelStats(t *testing.T) {
	t.Parallel()

	d := tensor.New(tensor.WithShape(2, 2, 2), tensor.WithBacking([]float32{
		1, 0,
		3, 0,
		0, 0,
		4, 2,
	}))
	got, err := channelStats(d, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, 0.0, got[0].Min)
	assert.Equal(t, 4.0, got[0].Max)
	assert.InDelta(t, 2.0, got[0].Mean, 1e-12)
	assert.Equal(t, 3, got[0].NonZero)
	assert.Equal(t, 1, got[1].NonZero)

	_, err = channelStats(d, []string{"a"})
	assert.Error(t, err)
	_, err = channelStats(tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{1, 2, 3, 4})), nil)
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	r := writeSample(t)
	var buf bytes.Buffer
	require.NoError(t, Inspect(&buf, r, 7))
	out := buf.String()
	assert.Contains(t, out, "sample 00007")
	assert.Contains(t, out, "max_height")
	assert.Contains(t, out, "classify")

	assert.Error(t, Inspect(&buf, r, 8))
}

func TestWritePreviews(t *testing.T) {
	t.Parallel()

	r := writeSample(t)
	dir := t.TempDir()
	require.NoError(t, WritePreviews(r, 7, dir))
	for _, name := range []string{"00007_max_height.png", "00007_nonempty.png", "00007_classify.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
