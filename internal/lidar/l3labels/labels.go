package l3labels

import (
	"fmt"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
)

// Channel identifies one plane of the label grid.
type Channel uint8

const (
	ChannelCategory   Channel = iota // 1 inside any object footprint
	ChannelInstanceX                 // clamped x offset from the object centre
	ChannelInstanceY                 // clamped y offset from the object centre
	ChannelConfidence                // 1 inside any object footprint
	ChannelClassify                  // l1points.Class of the owning object
	ChannelHeadingX                  // cos(2θ)
	ChannelHeadingY                  // sin(2θ)
	ChannelHeight                    // box height in metres
)

// NumChannels is the fixed depth of every label grid.
const NumChannels = 8

var channelNames = [NumChannels]string{
	"category", "instance_x", "instance_y", "confidence",
	"classify", "heading_x", "heading_y", "height",
}

func (c Channel) String() string {
	if int(c) < NumChannels {
		return channelNames[c]
	}
	return fmt.Sprintf("label(%d)", uint8(c))
}

// Channels returns the label channel order written to disk.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// NoInstance marks a background cell in LabelGrid.Instance.
const NoInstance = -1

// LabelGrid is a Rows x Cols x 8 float32 array stored row-major with the
// channel index varying fastest, plus the owning annotation index per cell.
// Background cells are all zeros with Instance == NoInstance.
type LabelGrid struct {
	Spec     l2grid.Spec
	Data     []float32
	Instance []int32
}

// NewLabelGrid allocates an all-background grid.
func NewLabelGrid(spec l2grid.Spec) *LabelGrid {
	g := &LabelGrid{
		Spec:     spec,
		Data:     make([]float32, spec.Cells()*NumChannels),
		Instance: make([]int32, spec.Cells()),
	}
	for i := range g.Instance {
		g.Instance[i] = NoInstance
	}
	return g
}

// At returns channel c at (row, col).
func (g *LabelGrid) At(row, col int, c Channel) float32 {
	return g.Data[g.Spec.Index(row, col)*NumChannels+int(c)]
}

// Owner returns the annotation index owning (row, col), or NoInstance.
func (g *LabelGrid) Owner(row, col int) int {
	return int(g.Instance[g.Spec.Index(row, col)])
}

// ClassAt returns the class written at (row, col).
func (g *LabelGrid) ClassAt(row, col int) l1points.Class {
	return l1points.Class(g.At(row, col, ChannelClassify))
}

// Plane copies one channel out as a Rows*Cols row-major slice.
func (g *LabelGrid) Plane(c Channel) []float32 {
	out := make([]float32, g.Spec.Cells())
	for i := range out {
		out[i] = g.Data[i*NumChannels+int(c)]
	}
	return out
}

// ClassCounts returns the number of labelled cells per class.
func (g *LabelGrid) ClassCounts() [l1points.NumClasses]int {
	var counts [l1points.NumClasses]int
	for i, owner := range g.Instance {
		if owner == NoInstance {
			continue
		}
		cls := int(g.Data[i*NumChannels+int(ChannelClassify)])
		if cls >= 0 && cls < l1points.NumClasses {
			counts[cls]++
		}
	}
	return counts
}

// paint writes every channel of one cell.
func (g *LabelGrid) paint(idx int, owner int, v [NumChannels]float32) {
	copy(g.Data[idx*NumChannels:(idx+1)*NumChannels], v[:])
	g.Instance[idx] = int32(owner)
}
