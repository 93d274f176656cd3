package dataset

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/banshee-data/cnnseg-dataset/internal/fsutil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/npy"
)

var testSpec = l2grid.Spec{Rows: 4, Cols: 4, Range: 2}

// testGrids returns a feature grid with half-precision-exact values and a
// label grid holding one car.
func testGrids(t *testing.T) (*l2grid.FeatureGrid, *l3labels.LabelGrid) {
	t.Helper()
	feature := l2grid.NewFeatureGrid(testSpec, l2grid.ChannelsFor(false, true))
	for i := range feature.Data {
		feature.Data[i] = float32(i%17) * 0.25
	}
	enc, err := l3labels.NewEncoder(l3labels.EncoderParams{Spec: testSpec})
	require.NoError(t, err)
	label, _ := enc.Encode([]l1points.Object{{
		Token: "car", Class: l1points.ClassCar, X: 0.5, Y: 0.5, Length: 1.9, Width: 1.9, Height: 1.4, Yaw: 0.2,
	}}, nil)
	return feature, label
}

func newMemWriter(t *testing.T, retries int) (*fsutil.MemoryFileSystem, *Writer) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	w, err := NewWriter(mfs, "/data", retries)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(NewMetadata(testSpec, l2grid.ChannelsFor(false, true))))
	return mfs, w
}

func TestPaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "00042", Stem(42))
	assert.Equal(t, "123456", Stem(123456))
	assert.Equal(t, filepath.Join("/d", "in_feature", "00007.npy"), FeaturePath("/d", 7))
	assert.Equal(t, filepath.Join("/d", "out_feature", "00007.npy"), LabelPath("/d", 7))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 0)
	feature, label := testGrids(t)
	require.NoError(t, w.Write(3, feature, label))

	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids)

	fa, la, err := r.Load(3)
	require.NoError(t, err)
	assert.Equal(t, npy.Float16, fa.DType)
	assert.Equal(t, []int{4, 4, 6}, fa.Shape)
	assert.Equal(t, npy.Float32, la.DType)
	assert.Equal(t, []int{4, 4, 8}, la.Shape)
	if diff := cmp.Diff(feature.Data, fa.Data); diff != "" {
		t.Errorf("feature mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(label.Data, la.Data); diff != "" {
		t.Errorf("label mismatch (-want +got):\n%s", diff)
	}

	gf, gl, err := r.LoadGrids(3)
	require.NoError(t, err)
	assert.Equal(t, feature.Channels, gf.Channels)
	assert.Equal(t, feature.Data, gf.Data)
	assert.Equal(t, label.Data, gl.Data)
	assert.Equal(t, testSpec, gl.Spec)
}

func TestWriteIdempotent(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 0)
	feature, label := testGrids(t)

	require.NoError(t, w.Write(0, feature, label))
	first, err := mfs.ReadFile(FeaturePath("/data", 0))
	require.NoError(t, err)
	firstLabel, err := mfs.ReadFile(LabelPath("/data", 0))
	require.NoError(t, err)

	require.NoError(t, w.Write(0, feature, label))
	second, err := mfs.ReadFile(FeaturePath("/data", 0))
	require.NoError(t, err)
	secondLabel, err := mfs.ReadFile(LabelPath("/data", 0))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstLabel, secondLabel)
	names, err := mfs.ReadDir("/data/in_feature")
	require.NoError(t, err)
	assert.Equal(t, []string{"00000.npy"}, names)
}

func TestWriteRetriesOnce(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 1)
	feature, label := testGrids(t)

	mfs.InjectFault(fsutil.FaultRename, 1)
	require.NoError(t, w.Write(1, feature, label))

	mfs.InjectFault(fsutil.FaultSync, 2)
	err := w.Write(2, feature, label)
	require.Error(t, err)
	var wf *WriteFailure
	require.True(t, errors.As(err, &wf))
	assert.Equal(t, FeaturePath("/data", 2), wf.Path)
	assert.Equal(t, 2, wf.Attempts)
	assert.ErrorIs(t, err, fsutil.ErrInjected)

	// The failed sample left nothing behind and is not listed.
	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids)
	names, err := mfs.ReadDir("/data/in_feature")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001.npy"}, names)
}

func TestFailedLabelWriteUnlistsSample(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 1)
	feature, label := testGrids(t)
	require.NoError(t, w.Write(0, feature, label))

	rewritten := l2grid.NewFeatureGrid(testSpec, feature.Channels)
	for i := range rewritten.Data {
		rewritten.Data[i] = 3
	}
	mfs.InjectFaultIn(fsutil.FaultRename, "/data/out_feature", 2)
	err := w.Write(0, rewritten, label)
	var wf *WriteFailure
	require.True(t, errors.As(err, &wf), "got %v", err)
	assert.Equal(t, LabelPath("/data", 0), wf.Path)

	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, mfs.Exists(FeaturePath("/data", 0)))

	// A later successful write restores the pair.
	require.NoError(t, w.Write(0, rewritten, label))
	ids, err = r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, ids)
}

func TestWriteRejectsMismatchedGrids(t *testing.T) {
	t.Parallel()

	_, w := newMemWriter(t, 0)
	feature, _ := testGrids(t)
	label := l3labels.NewLabelGrid(l2grid.Spec{Rows: 2, Cols: 2, Range: 2})
	assert.Error(t, w.Write(0, feature, label))
	assert.Error(t, w.Write(-1, feature, l3labels.NewLabelGrid(testSpec)))

	_, err := NewWriter(fsutil.NewMemoryFileSystem(), "/x", -1)
	assert.Error(t, err)
}

func TestReaderIDsIgnoresStrays(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 0)
	feature, label := testGrids(t)
	for _, id := range []int{10, 2, 7} {
		require.NoError(t, w.Write(id, feature, label))
	}
	mfs.WriteFile("/data/in_feature/00011.npy", []byte("unpaired"))
	mfs.WriteFile("/data/in_feature/00012.npy.tmp-000099", []byte("partial"))
	mfs.WriteFile("/data/out_feature/notes.txt", []byte("x"))

	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7, 10}, ids)

	_, _, err = r.Load(99)
	assert.Error(t, err)
}

func TestOpenReaderRequiresLayout(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/data/in_feature", 0o755))
	_, err := OpenReader(mfs, "/data")
	assert.ErrorIs(t, err, ErrNotDataset)
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 0)
	m := NewMetadata(testSpec, l2grid.ChannelsFor(true, true))
	m.ConfigHash = "abc123"
	m.Source = "v1.0-mini"
	require.NoError(t, w.WriteMetadata(m))

	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	got, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, testSpec, got.Spec())
	assert.Len(t, got.FeatureChannels, 8)
	assert.Equal(t, "classify", got.LabelChannels[4])
	assert.Equal(t, "<f2", got.FeatureDType)
}

func TestLoadTensors(t *testing.T) {
	t.Parallel()

	mfs, w := newMemWriter(t, 0)
	feature, label := testGrids(t)
	require.NoError(t, w.Write(5, feature, label))

	r, err := OpenReader(mfs, "/data")
	require.NoError(t, err)
	ft, lt, err := r.LoadTensors(5)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 4, 6}, ft.Shape())
	assert.Equal(t, tensor.Shape{4, 4, 8}, lt.Shape())
	assert.Equal(t, feature.Data, ft.Data().([]float32))
	assert.Equal(t, label.Data, lt.Data().([]float32))
}

func TestOSRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := NewWriter(fsutil.OSFileSystem{}, root, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(NewMetadata(testSpec, l2grid.ChannelsFor(false, true))))
	feature, label := testGrids(t)
	require.NoError(t, w.Write(0, feature, label))
	require.NoError(t, w.Write(1, feature, label))

	r, err := OpenReader(fsutil.OSFileSystem{}, root)
	require.NoError(t, err)
	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)
	_, gl, err := r.LoadGrids(1)
	require.NoError(t, err)
	assert.Equal(t, label.Data, gl.Data)
}
