package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l3labels"
)

// previewSize is the edge length of saved previews.
const previewSize = 8 * vg.Inch

// planeGrid adapts one H×W plane to plotter.GridXYZ. Columns run along the
// sensor's right (−y) and rows along forward (+x), so the preview shows the
// scene from above with the vehicle heading up.
type planeGrid struct {
	spec  l2grid.Spec
	plane []float32
}

func (g planeGrid) Dims() (c, r int) { return g.spec.Cols, g.spec.Rows }

// Z maps plot row r (bottom up) to grid row Rows-1-r (top down).
func (g planeGrid) Z(c, r int) float64 {
	return float64(g.plane[g.spec.Index(g.spec.Rows-1-r, c)])
}

func (g planeGrid) X(c int) float64 {
	_, y := g.spec.CellCenter(0, c)
	return -y
}

func (g planeGrid) Y(r int) float64 {
	x, _ := g.spec.CellCenter(g.spec.Rows-1-r, 0)
	return x
}

// classPalette colours label classes; background is transparent.
type classPalette struct{}

func (classPalette) Colors() []color.Color {
	return []color.Color{
		color.Transparent,
		color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}, // car
		color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}, // large vehicle
		color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}, // cyclist
		color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}, // pedestrian
	}
}

func newBEVPlot(title string, spec l2grid.Spec) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "right of sensor (m)"
	p.Y.Label.Text = "ahead of sensor (m)"
	p.X.Min, p.X.Max = -spec.Range, spec.Range
	p.Y.Min, p.Y.Max = -spec.Range, spec.Range
	return p
}

// FeaturePlot returns a heat map of one feature channel.
func FeaturePlot(g *l2grid.FeatureGrid, ch l2grid.Channel, title string) (*plot.Plot, error) {
	plane, err := g.Plane(ch)
	if err != nil {
		return nil, err
	}
	grid := planeGrid{spec: g.Spec, plane: plane}
	h := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	if !(h.Max > h.Min) {
		h.Max = h.Min + 1
	}
	p := newBEVPlot(fmt.Sprintf("%s: %s", title, ch), g.Spec)
	p.Add(h)
	return p, nil
}

// LabelPlot returns a class map of a label grid, one colour per class.
func LabelPlot(g *l3labels.LabelGrid, title string) *plot.Plot {
	grid := planeGrid{spec: g.Spec, plane: g.Plane(l3labels.ChannelClassify)}
	h := plotter.NewHeatMap(grid, classPalette{})
	h.Min, h.Max = 0, float64(l1points.NumClasses-1)
	p := newBEVPlot(title+": classes", g.Spec)
	p.Add(h)
	return p
}

// SavePlot writes p as a square image; the format follows the extension.
func SavePlot(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(previewSize, previewSize, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// SavePreview writes a feature channel heat map and the label class map of
// one sample into dir as <stem>_<channel>.png and <stem>_labels.png.
func SavePreview(dir, stem string, feature *l2grid.FeatureGrid, ch l2grid.Channel, label *l3labels.LabelGrid) error {
	fp, err := FeaturePlot(feature, ch, stem)
	if err != nil {
		return err
	}
	if err := SavePlot(fp, filepath.Join(dir, fmt.Sprintf("%s_%s.png", stem, ch))); err != nil {
		return err
	}
	return SavePlot(LabelPlot(label, stem), filepath.Join(dir, stem+"_labels.png"))
}
