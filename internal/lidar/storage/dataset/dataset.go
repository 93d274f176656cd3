// Package dataset persists feature/label grid pairs in the directory layout
// read by the cnn_seg trainer:
//
//	<root>/in_feature/%05d.npy   float16 (H, W, C)
//	<root>/out_feature/%05d.npy  float32 (H, W, 8)
//	<root>/dataset.json          grid geometry and channel order
//
// Every file is published by write-to-temp then rename, so a reader never
// sees a partially written array.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"

	"github.com/banshee-data/cnnseg-dataset/internal/fsutil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/npy"
	"github.com/banshee-data/cnnseg-dataset/internal/monitoring"
)

const (
	FeatureDir   = "in_feature"
	LabelDir     = "out_feature"
	MetadataFile = "dataset.json"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// Stem returns the file stem for a data id.
func Stem(id int) string {
	return fmt.Sprintf("%05d", id)
}

// FeaturePath returns the feature file path for id under root.
func FeaturePath(root string, id int) string {
	return filepath.Join(root, FeatureDir, Stem(id)+".npy")
}

// LabelPath returns the label file path for id under root.
func LabelPath(root string, id int) string {
	return filepath.Join(root, LabelDir, Stem(id)+".npy")
}

// Metadata describes every sample of a dataset directory.
type Metadata struct {
	Format          int      `json:"format"`
	Rows            int      `json:"rows"`
	Cols            int      `json:"cols"`
	Range           float64  `json:"range"`
	FeatureDType    string   `json:"feature_dtype"`
	FeatureChannels []string `json:"feature_channels"`
	LabelDType      string   `json:"label_dtype"`
	LabelChannels   []string `json:"label_channels"`
	ConfigHash      string   `json:"config_hash,omitempty"`
	Source          string   `json:"source,omitempty"`
}

// NewMetadata describes grids built with spec and the given feature channels.
func NewMetadata(spec l2grid.Spec, channels []l2grid.Channel) Metadata {
	m := Metadata{
		Format:       FormatVersion,
		Rows:         spec.Rows,
		Cols:         spec.Cols,
		Range:        spec.Range,
		FeatureDType: string(npy.Float16),
		LabelDType:   string(npy.Float32),
	}
	for _, c := range channels {
		m.FeatureChannels = append(m.FeatureChannels, c.String())
	}
	for _, c := range l3labels.Channels() {
		m.LabelChannels = append(m.LabelChannels, c.String())
	}
	return m
}

// Spec returns the grid geometry recorded in m.
func (m Metadata) Spec() l2grid.Spec {
	return l2grid.Spec{Rows: m.Rows, Cols: m.Cols, Range: m.Range}
}

// FeatureArray converts a feature grid to its on-disk array.
func FeatureArray(g *l2grid.FeatureGrid) npy.Array {
	return npy.Array{
		DType: npy.Float16,
		Shape: []int{g.Spec.Rows, g.Spec.Cols, g.NumChannels()},
		Data:  g.Data,
	}
}

// LabelArray converts a label grid to its on-disk array.
func LabelArray(g *l3labels.LabelGrid) npy.Array {
	return npy.Array{
		DType: npy.Float32,
		Shape: []int{g.Spec.Rows, g.Spec.Cols, l3labels.NumChannels},
		Data:  g.Data,
	}
}

// WriteFailure reports a file that could not be persisted after retrying.
type WriteFailure struct {
	Path     string
	Attempts int
	Err      error
}

func (e *WriteFailure) Error() string {
	return fmt.Sprintf("write %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *WriteFailure) Unwrap() error { return e.Err }

// Writer publishes samples into a dataset directory. It is safe for
// concurrent use as long as each id is written by one goroutine at a time.
type Writer struct {
	fs      fsutil.FileSystem
	root    string
	retries int
}

// NewWriter creates the dataset sub-directories under root. retries is the
// number of extra attempts after a failed file write.
func NewWriter(fsys fsutil.FileSystem, root string, retries int) (*Writer, error) {
	if retries < 0 {
		return nil, fmt.Errorf("write retries must be non-negative, got %d", retries)
	}
	for _, dir := range []string{FeatureDir, LabelDir} {
		if err := fsys.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Writer{fs: fsys, root: root, retries: retries}, nil
}

// Root returns the dataset directory.
func (w *Writer) Root() string {
	return w.root
}

// WriteMetadata publishes dataset.json.
func (w *Writer) WriteMetadata(m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return w.publish(filepath.Join(w.root, MetadataFile), append(data, '\n'))
}

// Write persists the feature and label grids of one sample. Re-writing an id
// with the same grids produces identical files. If the label cannot be
// written the feature file is removed, so a failed id is never listed.
func (w *Writer) Write(id int, feature *l2grid.FeatureGrid, label *l3labels.LabelGrid) error {
	if id < 0 {
		return fmt.Errorf("invalid data id %d", id)
	}
	if feature.Spec != label.Spec {
		return fmt.Errorf("feature grid %+v and label grid %+v disagree", feature.Spec, label.Spec)
	}
	fdata, err := npy.Encode(FeatureArray(feature))
	if err != nil {
		return fmt.Errorf("encode feature %d: %w", id, err)
	}
	ldata, err := npy.Encode(LabelArray(label))
	if err != nil {
		return fmt.Errorf("encode label %d: %w", id, err)
	}
	if err := w.publish(FeaturePath(w.root, id), fdata); err != nil {
		return err
	}
	if err := w.publish(LabelPath(w.root, id), ldata); err != nil {
		// Unpublish the feature so the id is not paired with a stale label.
		if rmErr := w.fs.Remove(FeaturePath(w.root, id)); rmErr != nil {
			monitoring.Logf("dataset: remove %s: %v", FeaturePath(w.root, id), rmErr)
		}
		return err
	}
	return nil
}

// publish writes data atomically, retrying up to w.retries extra times.
func (w *Writer) publish(path string, data []byte) error {
	var err error
	attempts := 0
	for attempts <= w.retries {
		attempts++
		if err = fsutil.WriteFileAtomic(w.fs, path, data); err == nil {
			return nil
		}
		monitoring.Logf("dataset: write %s attempt %d failed: %v", path, attempts, err)
	}
	return &WriteFailure{Path: path, Attempts: attempts, Err: err}
}

// ErrNotDataset is returned when a directory lacks the dataset layout.
var ErrNotDataset = errors.New("not a dataset directory")

// Reader lists and loads samples from a dataset directory. This is the
// contract offered to training: the list of ids plus Load(id).
type Reader struct {
	fs   fsutil.FileSystem
	root string
}

// OpenReader checks that root has the dataset layout.
func OpenReader(fsys fsutil.FileSystem, root string) (*Reader, error) {
	for _, dir := range []string{FeatureDir, LabelDir} {
		if !fsys.Exists(filepath.Join(root, dir)) {
			return nil, fmt.Errorf("%s: missing %s: %w", root, dir, ErrNotDataset)
		}
	}
	return &Reader{fs: fsys, root: root}, nil
}

// Root returns the dataset directory.
func (r *Reader) Root() string {
	return r.root
}

// Metadata reads dataset.json.
func (r *Reader) Metadata() (Metadata, error) {
	var m Metadata
	data, err := r.fs.ReadFile(filepath.Join(r.root, MetadataFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return m, nil
}

var stemPattern = regexp.MustCompile(`^([0-9]{5,})\.npy$`)

func (r *Reader) idsIn(dir string) (map[int]bool, error) {
	names, err := r.fs.ReadDir(filepath.Join(r.root, dir))
	if err != nil {
		return nil, err
	}
	ids := make(map[int]bool, len(names))
	for _, name := range names {
		m := stemPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids[id] = true
	}
	return ids, nil
}

// IDs returns the sorted ids present in both the feature and label
// directories. Temp files and unpaired files are ignored.
func (r *Reader) IDs() ([]int, error) {
	features, err := r.idsIn(FeatureDir)
	if err != nil {
		return nil, err
	}
	labels, err := r.idsIn(LabelDir)
	if err != nil {
		return nil, err
	}
	var ids []int
	for id := range features {
		if labels[id] {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// Load decodes the feature and label arrays of id.
func (r *Reader) Load(id int) (feature, label npy.Array, err error) {
	feature, err = r.load(FeaturePath(r.root, id))
	if err != nil {
		return feature, label, err
	}
	label, err = r.load(LabelPath(r.root, id))
	return feature, label, err
}

func (r *Reader) load(path string) (npy.Array, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return npy.Array{}, err
	}
	defer f.Close()
	a, err := npy.Read(f)
	if err != nil {
		return npy.Array{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// LoadGrids decodes id back into typed grids. The feature channel order is
// taken from dataset.json; the instance index is not persisted and is left
// as background.
func (r *Reader) LoadGrids(id int) (*l2grid.FeatureGrid, *l3labels.LabelGrid, error) {
	meta, err := r.Metadata()
	if err != nil {
		return nil, nil, err
	}
	channels := make([]l2grid.Channel, len(meta.FeatureChannels))
	for i, name := range meta.FeatureChannels {
		if channels[i], err = l2grid.ParseChannel(name); err != nil {
			return nil, nil, err
		}
	}
	fa, la, err := r.Load(id)
	if err != nil {
		return nil, nil, err
	}
	spec := meta.Spec()
	if want := []int{spec.Rows, spec.Cols, len(channels)}; !slices.Equal(fa.Shape, want) {
		return nil, nil, fmt.Errorf("feature %d has shape %v, want %v", id, fa.Shape, want)
	}
	if want := []int{spec.Rows, spec.Cols, l3labels.NumChannels}; !slices.Equal(la.Shape, want) {
		return nil, nil, fmt.Errorf("label %d has shape %v, want %v", id, la.Shape, want)
	}
	feature := l2grid.NewFeatureGrid(spec, channels)
	copy(feature.Data, fa.Data)
	label := l3labels.NewLabelGrid(spec)
	copy(label.Data, la.Data)
	return feature, label, nil
}
