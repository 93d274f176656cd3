package pipeline

import (
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/nuscenes"
	sqlite "github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/sqlite"
)

// SampleSource enumerates and loads keyframes. *nuscenes.Dataset
// implements it.
type SampleSource interface {
	Samples() []nuscenes.SampleRef
	Load(token string) (*l1points.Sample, error)
}

// SampleSink persists one converted sample. *dataset.Writer implements it.
type SampleSink interface {
	Write(id int, feature *l2grid.FeatureGrid, label *l3labels.LabelGrid) error
}

// StatusStore records per-sample outcomes and answers resume queries.
// *sqlite.SampleStore implements it.
type StatusStore interface {
	Upsert(st *sqlite.SampleStatus) error
	WrittenIDs(configHash string) (map[int]bool, error)
}

// WrittenFunc observes every written sample, e.g. to render previews. It
// is called from worker goroutines and must not retain the grids.
type WrittenFunc func(item WorkItem, feature *l2grid.FeatureGrid, label *l3labels.LabelGrid)
