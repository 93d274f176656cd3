package l2grid

import (
	"fmt"
	"math"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
)

// Spec is the fixed geometry of every grid in a dataset.
//
// The grid covers x, y in (-Range, Range]. Row indices grow towards -X and
// column indices towards -Y, so cell (0, 0) is the far-front-left corner:
//
//	row = floor((Range - x) * Rows / (2*Range))
//	col = floor((Range - y) * Cols / (2*Range))
//
// This is the Apollo cnn_seg convention, i.e. (coordinate - origin) / cell
// size with the origin at (+Range, +Range) and both axes mirrored.
type Spec struct {
	Rows  int     // feature map height
	Cols  int     // feature map width
	Range float64 // metres
}

// SpecFromConfig builds a Spec from a loaded ConversionConfig.
func SpecFromConfig(cfg *config.ConversionConfig) Spec {
	return Spec{Rows: cfg.GetHeight(), Cols: cfg.GetWidth(), Range: cfg.GetRange()}
}

// Validate checks if the spec describes a usable grid.
func (s Spec) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("grid must have positive dimensions, got %dx%d", s.Rows, s.Cols)
	}
	if !(s.Range > 0) {
		return fmt.Errorf("grid range must be positive, got %f", s.Range)
	}
	return nil
}

// Cells returns Rows*Cols.
func (s Spec) Cells() int {
	return s.Rows * s.Cols
}

// CellSizeX is the extent of one row along X in metres.
func (s Spec) CellSizeX() float64 {
	return 2 * s.Range / float64(s.Rows)
}

// CellSizeY is the extent of one column along Y in metres.
func (s Spec) CellSizeY() float64 {
	return 2 * s.Range / float64(s.Cols)
}

func (s Spec) invResX() float64 { return 0.5 * float64(s.Rows) / s.Range }
func (s Spec) invResY() float64 { return 0.5 * float64(s.Cols) / s.Range }

// Row maps an X coordinate to a row index. The result may be out of range.
func (s Spec) Row(x float64) int {
	return toIndex(math.Floor((s.Range - x) * s.invResX()))
}

// Col maps a Y coordinate to a column index. The result may be out of range.
func (s Spec) Col(y float64) int {
	return toIndex(math.Floor((s.Range - y) * s.invResY()))
}

// Cell returns the cell containing (x, y) and whether it lies on the grid.
// Bounds are checked before the integer conversion so that non-finite
// coordinates are always rejected.
func (s Spec) Cell(x, y float64) (row, col int, ok bool) {
	fr := math.Floor((s.Range - x) * s.invResX())
	fc := math.Floor((s.Range - y) * s.invResY())
	ok = fr >= 0 && fr < float64(s.Rows) && fc >= 0 && fc < float64(s.Cols)
	return toIndex(fr), toIndex(fc), ok
}

// toIndex converts a floored coordinate to int; non-finite or huge values
// map to -1.
func toIndex(f float64) int {
	if math.IsNaN(f) || math.Abs(f) > math.MaxInt32 {
		return -1
	}
	return int(f)
}

// InBounds reports whether (row, col) addresses a cell of the grid.
func (s Spec) InBounds(row, col int) bool {
	return row >= 0 && row < s.Rows && col >= 0 && col < s.Cols
}

// Index returns the row-major offset of (row, col).
func (s Spec) Index(row, col int) int {
	return row*s.Cols + col
}

// CellCenter returns the sensor-frame coordinates of the centre of (row, col).
func (s Spec) CellCenter(row, col int) (x, y float64) {
	x = s.Range - (float64(row)+0.5)*s.CellSizeX()
	y = s.Range - (float64(col)+0.5)*s.CellSizeY()
	return x, y
}
