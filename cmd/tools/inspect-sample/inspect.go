package main

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/monitor"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/dataset"
)

// ChannelStats summarises one H×W plane.
type ChannelStats struct {
	Name      string
	Min, Max  float64
	Mean, Std float64
	NonZero   int
}

// channelStats computes per-channel statistics of an (H, W, C) tensor.
func channelStats(t *tensor.Dense, names []string) ([]ChannelStats, error) {
	shape := t.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("want a 3-d tensor, got shape %v", shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("want float32 data, got %T", t.Data())
	}
	cells, depth := shape[0]*shape[1], shape[2]
	if len(names) != depth {
		return nil, fmt.Errorf("%d channel names for depth %d", len(names), depth)
	}

	out := make([]ChannelStats, depth)
	plane := make([]float64, cells)
	for c := 0; c < depth; c++ {
		nonZero := 0
		for i := 0; i < cells; i++ {
			v := float64(data[i*depth+c])
			plane[i] = v
			if v != 0 {
				nonZero++
			}
		}
		mean, std := stat.MeanStdDev(plane, nil)
		if math.IsNaN(std) {
			std = 0
		}
		out[c] = ChannelStats{
			Name:    names[c],
			Min:     floats.Min(plane),
			Max:     floats.Max(plane),
			Mean:    mean,
			Std:     std,
			NonZero: nonZero,
		}
	}
	return out, nil
}

// Inspect prints the shape and per-channel statistics of sample id.
func Inspect(w io.Writer, r *dataset.Reader, id int) error {
	meta, err := r.Metadata()
	if err != nil {
		return err
	}
	feature, label, err := r.LoadTensors(id)
	if err != nil {
		return err
	}
	fstats, err := channelStats(feature, meta.FeatureChannels)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}
	lstats, err := channelStats(label, meta.LabelChannels)
	if err != nil {
		return fmt.Errorf("labels: %w", err)
	}

	fmt.Fprintf(w, "sample %s  features %v (%s)  labels %v (%s)  range %.1f m\n",
		dataset.Stem(id), feature.Shape(), meta.FeatureDType, label.Shape(), meta.LabelDType, meta.Range)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "group\tchannel\tmin\tmax\tmean\tstd\tnonzero\t")
	for _, group := range []struct {
		name  string
		stats []ChannelStats
	}{{"feature", fstats}, {"label", lstats}} {
		for _, s := range group.stats {
			fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\t\n",
				group.name, s.Name, s.Min, s.Max, s.Mean, s.Std, s.NonZero)
		}
	}
	return tw.Flush()
}

// WritePreviews renders every feature channel and the class map of id into
// dir.
func WritePreviews(r *dataset.Reader, id int, dir string) error {
	feature, label, err := r.LoadGrids(id)
	if err != nil {
		return err
	}
	stem := dataset.Stem(id)
	for _, ch := range feature.Channels {
		p, err := monitor.FeaturePlot(feature, ch, stem)
		if err != nil {
			return err
		}
		if err := monitor.SavePlot(p, filepath.Join(dir, fmt.Sprintf("%s_%s.png", stem, ch))); err != nil {
			return err
		}
	}
	return monitor.SavePlot(monitor.LabelPlot(label, stem), filepath.Join(dir, stem+"_"+l3labels.ChannelClassify.String()+".png"))
}
