package l2grid

import (
	"fmt"
	"math"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
)

// Channel identifies one plane of the feature grid.
type Channel uint8

const (
	ChannelMaxHeight     Channel = iota // height of the highest return
	ChannelMeanHeight                   // mean return height
	ChannelLogCount                     // ln(count + 1)
	ChannelDirection                    // atan2(cy, cx) / 2π of the cell centre, constant
	ChannelTopIntensity                 // scaled intensity of the highest return
	ChannelMeanIntensity                // mean scaled intensity
	ChannelDistance                     // hypot(cx, cy)/60 - 0.5 of the cell centre, constant
	ChannelNonEmpty                     // 1 when the cell holds at least one return
)

var channelNames = map[Channel]string{
	ChannelMaxHeight:     "max_height",
	ChannelMeanHeight:    "mean_height",
	ChannelLogCount:      "log_count",
	ChannelDirection:     "direction",
	ChannelTopIntensity:  "top_intensity",
	ChannelMeanIntensity: "mean_intensity",
	ChannelDistance:      "distance",
	ChannelNonEmpty:      "nonempty",
}

func (c Channel) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(name string) (Channel, error) {
	for c, n := range channelNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown feature channel %q", name)
}

// ChannelsFor returns the channel layout expected by the cnn_seg network for
// the given feature switches: 4, 6 or 8 channels.
func ChannelsFor(useConstant, useIntensity bool) []Channel {
	chs := []Channel{ChannelMaxHeight, ChannelMeanHeight, ChannelLogCount}
	if useConstant {
		chs = append(chs, ChannelDirection)
	}
	if useIntensity {
		chs = append(chs, ChannelTopIntensity, ChannelMeanIntensity)
	}
	if useConstant {
		chs = append(chs, ChannelDistance)
	}
	return append(chs, ChannelNonEmpty)
}

// FeatureGrid is a Rows x Cols x len(Channels) float32 array stored
// row-major with the channel index varying fastest.
type FeatureGrid struct {
	Spec     Spec
	Channels []Channel
	Data     []float32
}

// NewFeatureGrid allocates a zeroed grid.
func NewFeatureGrid(spec Spec, channels []Channel) *FeatureGrid {
	return &FeatureGrid{
		Spec:     spec,
		Channels: append([]Channel(nil), channels...),
		Data:     make([]float32, spec.Cells()*len(channels)),
	}
}

// NumChannels returns len(g.Channels).
func (g *FeatureGrid) NumChannels() int {
	return len(g.Channels)
}

// At returns the value of channel index ch at (row, col).
func (g *FeatureGrid) At(row, col, ch int) float32 {
	return g.Data[g.Spec.Index(row, col)*len(g.Channels)+ch]
}

// Set stores v in channel index ch at (row, col).
func (g *FeatureGrid) Set(row, col, ch int, v float32) {
	g.Data[g.Spec.Index(row, col)*len(g.Channels)+ch] = v
}

// ChannelIndex returns the position of c in the layout, or -1.
func (g *FeatureGrid) ChannelIndex(c Channel) int {
	for i, x := range g.Channels {
		if x == c {
			return i
		}
	}
	return -1
}

// Plane copies one channel out as a Rows*Cols row-major slice.
func (g *FeatureGrid) Plane(c Channel) ([]float32, error) {
	ch := g.ChannelIndex(c)
	if ch < 0 {
		return nil, fmt.Errorf("channel %s not present", c)
	}
	n := len(g.Channels)
	out := make([]float32, g.Spec.Cells())
	for i := range out {
		out[i] = g.Data[i*n+ch]
	}
	return out, nil
}

// RasterParams configures a Rasterizer.
type RasterParams struct {
	Spec           Spec
	Channels       []Channel
	MinHeight      float64 // returns at or below are ignored; also the initial max height
	MaxHeight      float64 // returns at or above are ignored
	IntensityScale float64
}

// RasterParamsFromConfig builds RasterParams from a loaded ConversionConfig.
func RasterParamsFromConfig(cfg *config.ConversionConfig) RasterParams {
	return RasterParams{
		Spec:           SpecFromConfig(cfg),
		Channels:       ChannelsFor(cfg.GetUseConstantFeature(), cfg.GetUseIntensityFeature()),
		MinHeight:      cfg.GetMinHeight(),
		MaxHeight:      cfg.GetMaxHeight(),
		IntensityScale: cfg.GetIntensityScale(),
	}
}

// RasterStats summarises one Rasterize call.
type RasterStats struct {
	Points        int // returns accumulated into a cell
	OutOfBounds   int // returns outside the grid or the height window
	OccupiedCells int
}

// Rasterizer turns point clouds into feature grids. It holds no mutable
// state after construction and is safe for concurrent use.
type Rasterizer struct {
	params RasterParams
	// direction and distance are the constant planes, computed once.
	direction []float32
	distance  []float32
}

// NewRasterizer validates p and precomputes the constant channels.
func NewRasterizer(p RasterParams) (*Rasterizer, error) {
	if err := p.Spec.Validate(); err != nil {
		return nil, err
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("at least one feature channel is required")
	}
	if p.MinHeight >= p.MaxHeight {
		return nil, fmt.Errorf("min height %f must be below max height %f", p.MinHeight, p.MaxHeight)
	}
	r := &Rasterizer{params: p}
	r.params.Channels = append([]Channel(nil), p.Channels...)

	spec := p.Spec
	r.direction = make([]float32, spec.Cells())
	r.distance = make([]float32, spec.Cells())
	for row := 0; row < spec.Rows; row++ {
		for col := 0; col < spec.Cols; col++ {
			cx, cy := spec.CellCenter(row, col)
			idx := spec.Index(row, col)
			r.direction[idx] = float32(math.Atan2(cy, cx) / (2 * math.Pi))
			r.distance[idx] = float32(math.Hypot(cx, cy)/60.0 - 0.5)
		}
	}
	diagf("rasterizer ready: %dx%d cells, range=%.1fm, channels=%v", spec.Rows, spec.Cols, spec.Range, r.params.Channels)
	return r, nil
}

// Params returns the parameters the rasterizer was built with.
func (r *Rasterizer) Params() RasterParams {
	return r.params
}

type cellAccum struct {
	maxHeight    float64
	topIntensity float64
	sumHeight    float64
	sumIntensity float64
	count        int
}

// Rasterize accumulates points into a new FeatureGrid. Points outside the
// grid or the height window are discarded silently and counted in the
// returned stats. Identical input always yields an identical grid.
func (r *Rasterizer) Rasterize(points []l1points.Point) (*FeatureGrid, RasterStats) {
	p := r.params
	spec := p.Spec
	var stats RasterStats

	cells := make([]cellAccum, spec.Cells())
	for i := range cells {
		cells[i].maxHeight = p.MinHeight
	}

	for _, pt := range points {
		z := float64(pt.Z)
		if z <= p.MinHeight || z >= p.MaxHeight {
			stats.OutOfBounds++
			continue
		}
		row, col, ok := spec.Cell(float64(pt.X), float64(pt.Y))
		if !ok {
			stats.OutOfBounds++
			continue
		}
		intensity := float64(pt.Intensity) * p.IntensityScale
		c := &cells[spec.Index(row, col)]
		if c.maxHeight < z {
			c.maxHeight = z
			c.topIntensity = intensity
		}
		c.sumHeight += z
		c.sumIntensity += intensity
		c.count++
		stats.Points++
	}

	grid := NewFeatureGrid(spec, p.Channels)
	n := len(p.Channels)
	for idx := range cells {
		c := &cells[idx]
		base := idx * n
		if c.count > 0 {
			stats.OccupiedCells++
		}
		for ch, kind := range p.Channels {
			grid.Data[base+ch] = r.value(kind, c, idx)
		}
	}
	if len(points) > 0 && stats.Points == 0 {
		opsf("none of %d points landed on the grid", len(points))
	}
	tracef("rasterized %d points (%d discarded) into %d occupied cells", stats.Points, stats.OutOfBounds, stats.OccupiedCells)
	return grid, stats
}

func (r *Rasterizer) value(kind Channel, c *cellAccum, idx int) float32 {
	switch kind {
	case ChannelDirection:
		return r.direction[idx]
	case ChannelDistance:
		return r.distance[idx]
	}
	if c.count == 0 {
		return 0
	}
	n := float64(c.count)
	switch kind {
	case ChannelMaxHeight:
		return float32(c.maxHeight)
	case ChannelMeanHeight:
		return float32(c.sumHeight / n)
	case ChannelLogCount:
		return float32(math.Log(n + 1))
	case ChannelTopIntensity:
		return float32(c.topIntensity)
	case ChannelMeanIntensity:
		return float32(c.sumIntensity / n)
	case ChannelNonEmpty:
		return 1
	}
	return 0
}
