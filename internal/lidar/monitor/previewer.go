package monitor

import (
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/pipeline"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/dataset"
	"github.com/banshee-data/cnnseg-dataset/internal/monitoring"
)

// Previewer saves previews of every Every-th written sample. Its Observe
// method is a pipeline.WrittenFunc.
type Previewer struct {
	Dir     string
	Every   int
	Channel l2grid.Channel
}

// Observe renders the preview of item when its data id is selected.
// Failures are logged; previews never fail a conversion.
func (p *Previewer) Observe(item pipeline.WorkItem, feature *l2grid.FeatureGrid, label *l3labels.LabelGrid) {
	if p.Every <= 0 || item.DataID%p.Every != 0 {
		return
	}
	if err := SavePreview(p.Dir, dataset.Stem(item.DataID), feature, p.Channel, label); err != nil {
		monitoring.Logf("preview of data id %d: %v", item.DataID, err)
	}
}

var _ pipeline.WrittenFunc = (*Previewer)(nil).Observe
