package l3labels

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
)

// EncoderParams configures an Encoder.
type EncoderParams struct {
	Spec l2grid.Spec
	// MinPointsInBox drops annotations supported by fewer sweep points
	// inside their 3D box. Zero keeps every annotation.
	MinPointsInBox int
}

// EncoderParamsFromConfig builds EncoderParams from a loaded ConversionConfig.
func EncoderParamsFromConfig(cfg *config.ConversionConfig) EncoderParams {
	return EncoderParams{
		Spec:           l2grid.SpecFromConfig(cfg),
		MinPointsInBox: cfg.GetMinPointsInBox(),
	}
}

// LabelStats summarises one Encode call.
type LabelStats struct {
	Encoded       int // objects painted (they may still be fully overdrawn)
	SkippedClass  int // background categories
	SkippedSparse int // fewer than MinPointsInBox points inside
	Invalid       int // degenerate boxes
	OutOfBounds   int // footprint entirely off the grid
	CellsPerClass [l1points.NumClasses]int
}

// Encoder burns annotated objects into label grids. It is stateless after
// construction and safe for concurrent use.
type Encoder struct {
	params EncoderParams
	// Offsets longer than this are scaled down, per axis.
	maxOffsetX float64
	maxOffsetY float64
}

// NewEncoder validates p.
func NewEncoder(p EncoderParams) (*Encoder, error) {
	if err := p.Spec.Validate(); err != nil {
		return nil, err
	}
	if p.MinPointsInBox < 0 {
		return nil, fmt.Errorf("min points in box must be non-negative, got %d", p.MinPointsInBox)
	}
	return &Encoder{
		params:     p,
		maxOffsetX: 2 * p.Spec.CellSizeX(),
		maxOffsetY: 2 * p.Spec.CellSizeY(),
	}, nil
}

// Params returns the parameters the encoder was built with.
func (e *Encoder) Params() EncoderParams {
	return e.params
}

// Encode builds the label grid for objects. points is the sweep the boxes
// were annotated on and is only used for the MinPointsInBox check.
//
// A cell belongs to an object when its centre lies inside the closed
// footprint rectangle. Overlaps resolve in favour of the smaller footprint;
// on equal area the later annotation wins.
func (e *Encoder) Encode(objects []l1points.Object, points []l1points.Point) (*LabelGrid, LabelStats) {
	spec := e.params.Spec
	grid := NewLabelGrid(spec)
	var stats LabelStats

	var keep []int
	for i, o := range objects {
		if o.Class == l1points.ClassBackground {
			stats.SkippedClass++
			continue
		}
		if err := o.Validate(); err != nil {
			stats.Invalid++
			opsf("skipping annotation %d: %v", i, err)
			continue
		}
		if !e.overlapsGrid(o) {
			stats.OutOfBounds++
			diagf("annotation %s (%s) lies outside the grid", o.Token, o.Class)
			continue
		}
		if e.params.MinPointsInBox > 0 && o.CountPointsInside(points) < e.params.MinPointsInBox {
			stats.SkippedSparse++
			continue
		}
		keep = append(keep, i)
	}

	// Largest first so smaller footprints overwrite them.
	sort.SliceStable(keep, func(a, b int) bool {
		return objects[keep[a]].Area() > objects[keep[b]].Area()
	})
	for _, i := range keep {
		cells := e.paintObject(grid, i, objects[i])
		stats.Encoded++
		tracef("annotation %s (%s) covers %d cells", objects[i].Token, objects[i].Class, cells)
	}

	stats.CellsPerClass = grid.ClassCounts()
	return grid, stats
}

// overlapsGrid reports whether the footprint's bounding box intersects the
// grid extent (-R, R] on both axes.
func (e *Encoder) overlapsGrid(o l1points.Object) bool {
	r := e.params.Spec.Range
	minX, maxX, minY, maxY := o.Bounds()
	return maxX > -r && minX <= r && maxY > -r && minY <= r
}

// paintObject writes o into every cell whose centre it contains and
// returns the number of cells written.
func (e *Encoder) paintObject(grid *LabelGrid, owner int, o l1points.Object) int {
	spec := e.params.Spec
	minX, maxX, minY, maxY := o.Bounds()

	// Rows grow towards -X and columns towards -Y. One cell of margin keeps
	// centres that sit exactly on the footprint edge in the search window.
	rowLo := clamp(spec.Row(maxX)-1, 0, spec.Rows-1)
	rowHi := clamp(spec.Row(minX)+1, 0, spec.Rows-1)
	colLo := clamp(spec.Col(maxY)-1, 0, spec.Cols-1)
	colHi := clamp(spec.Col(minY)+1, 0, spec.Cols-1)

	yaw := math.Atan(math.Sin(o.Yaw) / math.Cos(o.Yaw))
	headingX := float32(math.Cos(2 * yaw))
	headingY := float32(math.Sin(2 * yaw))

	n := 0
	for row := rowLo; row <= rowHi; row++ {
		for col := colLo; col <= colHi; col++ {
			cx, cy := spec.CellCenter(row, col)
			if !o.ContainsXY(cx, cy) {
				continue
			}
			dx, dy := cx-o.X, cy-o.Y
			scale := math.Min(shrink(dx, e.maxOffsetX), shrink(dy, e.maxOffsetY))
			grid.paint(spec.Index(row, col), owner, [NumChannels]float32{
				ChannelCategory:   1,
				ChannelInstanceX:  float32(dx * scale),
				ChannelInstanceY:  float32(dy * scale),
				ChannelConfidence: 1,
				ChannelClassify:   float32(o.Class),
				ChannelHeadingX:   headingX,
				ChannelHeadingY:   headingY,
				ChannelHeight:     float32(o.Height),
			})
			n++
		}
	}
	return n
}

// shrink returns the factor that brings |d| down to limit, or 1.
func shrink(d, limit float64) float64 {
	if a := math.Abs(d); a > limit {
		return limit / a
	}
	return 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
