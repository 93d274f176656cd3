package l3labels

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cnnseg-dataset/internal/config"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l2grid"
)

// testSpec is a 10x10 grid of 1 m cells covering ±5 m.
var testSpec = l2grid.Spec{Rows: 10, Cols: 10, Range: 5}

func testEncoder(t *testing.T, minPoints int) *Encoder {
	t.Helper()
	e, err := NewEncoder(EncoderParams{Spec: testSpec, MinPointsInBox: minPoints})
	require.NoError(t, err)
	return e
}

// carOverCells returns a yaw-0 car whose footprint edges sit on the cell
// boundaries of rows r0..r1 and columns c0..c1.
func carOverCells(spec l2grid.Spec, r0, c0, r1, c1 int) l1points.Object {
	xHi := spec.Range - float64(r0)*spec.CellSizeX()
	xLo := spec.Range - float64(r1+1)*spec.CellSizeX()
	yHi := spec.Range - float64(c0)*spec.CellSizeY()
	yLo := spec.Range - float64(c1+1)*spec.CellSizeY()
	return l1points.Object{
		Token:    "car",
		Category: "vehicle.car",
		Class:    l1points.ClassCar,
		X:        (xHi + xLo) / 2,
		Y:        (yHi + yLo) / 2,
		Z:        0,
		Length:   xHi - xLo,
		Width:    yHi - yLo,
		Height:   1.5,
	}
}

func ownedCells(g *LabelGrid) map[[2]int]int {
	out := map[[2]int]int{}
	for row := 0; row < g.Spec.Rows; row++ {
		for col := 0; col < g.Spec.Cols; col++ {
			if o := g.Owner(row, col); o != NoInstance {
				out[[2]int{row, col}] = o
			}
		}
	}
	return out
}

func TestNewLabelGridIsBackground(t *testing.T) {
	t.Parallel()

	g := NewLabelGrid(testSpec)
	assert.Len(t, g.Data, 100*NumChannels)
	for i, v := range g.Instance {
		require.Equal(t, int32(NoInstance), v, "instance[%d]", i)
	}
	assert.Equal(t, [l1points.NumClasses]int{}, g.ClassCounts())
}

func TestChannelNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "category", ChannelCategory.String())
	assert.Equal(t, "height", ChannelHeight.String())
	assert.Equal(t, "label(9)", Channel(9).String())
	assert.Len(t, Channels(), NumChannels)
	assert.Equal(t, ChannelClassify, Channels()[4])
}

func TestNewEncoderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEncoder(EncoderParams{Spec: l2grid.Spec{}})
	assert.Error(t, err)
	_, err = NewEncoder(EncoderParams{Spec: testSpec, MinPointsInBox: -1})
	assert.Error(t, err)

	p := EncoderParamsFromConfig(config.EmptyConversionConfig())
	assert.Equal(t, 4, p.MinPointsInBox)
	assert.Equal(t, 672, p.Spec.Rows)
}

func TestEncodeCarFootprint(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	car := carOverCells(testSpec, 2, 2, 4, 4)
	grid, stats := e.Encode([]l1points.Object{car}, nil)

	assert.Equal(t, 1, stats.Encoded)
	assert.Equal(t, 9, stats.CellsPerClass[l1points.ClassCar])

	want := map[[2]int]int{}
	for row := 2; row <= 4; row++ {
		for col := 2; col <= 4; col++ {
			want[[2]int{row, col}] = 0
		}
	}
	if diff := cmp.Diff(want, ownedCells(grid)); diff != "" {
		t.Fatalf("footprint mismatch (-want +got):\n%s", diff)
	}

	for row := 0; row < testSpec.Rows; row++ {
		for col := 0; col < testSpec.Cols; col++ {
			_, inside := want[[2]int{row, col}]
			for _, ch := range Channels() {
				v := grid.At(row, col, ch)
				if !inside {
					require.Zero(t, v, "background cell (%d,%d) channel %s", row, col, ch)
				}
			}
			if inside {
				assert.Equal(t, l1points.ClassCar, grid.ClassAt(row, col))
				assert.Equal(t, float32(1), grid.At(row, col, ChannelCategory))
				assert.Equal(t, float32(1), grid.At(row, col, ChannelConfidence))
				assert.Equal(t, float32(1.5), grid.At(row, col, ChannelHeight))
				assert.InDelta(t, 1.0, grid.At(row, col, ChannelHeadingX), 1e-6)
				assert.InDelta(t, 0.0, grid.At(row, col, ChannelHeadingY), 1e-6)
			}
		}
	}

	// Cell (2,2) has its centre one metre from the box centre on each axis.
	assert.InDelta(t, 1.0, grid.At(2, 2, ChannelInstanceX), 1e-6)
	assert.InDelta(t, 1.0, grid.At(2, 2, ChannelInstanceY), 1e-6)
	assert.InDelta(t, 0.0, grid.At(3, 3, ChannelInstanceX), 1e-6)
	assert.InDelta(t, -1.0, grid.At(4, 3, ChannelInstanceX), 1e-6)
}

func TestEncodeRotatedFootprint(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	// A 0.9 x 2.9 bar rotated onto the Y axis. At the origin no cell centre
	// is within 0.45 m of it along X.
	bar := l1points.Object{Token: "bar", Class: l1points.ClassPedestrian, Length: 2.9, Width: 0.9, Height: 1.8, Yaw: math.Pi / 2}
	_, stats := e.Encode([]l1points.Object{bar}, nil)
	assert.Equal(t, 1, stats.Encoded)
	assert.Equal(t, 0, stats.CellsPerClass[l1points.ClassPedestrian])

	bar.X, bar.Y = 0.5, 0.5
	grid, stats := e.Encode([]l1points.Object{bar}, nil)
	owned := ownedCells(grid)
	assert.Equal(t, map[[2]int]int{{4, 3}: 0, {4, 4}: 0, {4, 5}: 0}, owned)
	assert.Equal(t, 3, stats.CellsPerClass[l1points.ClassPedestrian])
	// θ = atan(tan(π/2)) = π/2, so the heading vector is (cos π, sin π).
	assert.InDelta(t, -1.0, grid.At(4, 4, ChannelHeadingX), 1e-6)
	assert.InDelta(t, 0.0, grid.At(4, 4, ChannelHeadingY), 1e-6)
}

func TestEncodeHeadingFolding(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	base := carOverCells(testSpec, 4, 4, 5, 5)
	for _, tt := range []struct {
		yaw    float64
		hx, hy float64
	}{
		{0, 1, 0},
		{math.Pi, 1, 0},
		{math.Pi / 4, 0, 1},
		{3 * math.Pi / 4, 0, -1},
		{-math.Pi / 4, 0, -1},
	} {
		o := base
		o.Yaw = tt.yaw
		grid, _ := e.Encode([]l1points.Object{o}, nil)
		row, col, ok := testSpec.Cell(o.X, o.Y)
		require.True(t, ok)
		require.NotEqual(t, NoInstance, grid.Owner(row, col), "yaw %v", tt.yaw)
		assert.InDelta(t, tt.hx, grid.At(row, col, ChannelHeadingX), 1e-6, "yaw %v", tt.yaw)
		assert.InDelta(t, tt.hy, grid.At(row, col, ChannelHeadingY), 1e-6, "yaw %v", tt.yaw)
	}
}

func TestEncodeInstanceOffsetClamp(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	// 9 m long along X, centred on row 4/5 boundary.
	long := l1points.Object{Token: "bus", Class: l1points.ClassLargeVehicle, X: 0, Y: 0.5, Length: 9, Width: 0.9, Height: 3}
	grid, _ := e.Encode([]l1points.Object{long}, nil)

	// Row 0 centre x = 4.5: dx = 4.5, limited to 2 cells.
	require.Equal(t, 0, grid.Owner(0, 4))
	assert.InDelta(t, 2.0, grid.At(0, 4, ChannelInstanceX), 1e-6)
	assert.InDelta(t, 0.0, grid.At(0, 4, ChannelInstanceY), 1e-6)
	// Row 4 centre x = 0.5 is within range and unscaled.
	assert.InDelta(t, 0.5, grid.At(4, 4, ChannelInstanceX), 1e-6)
	assert.Equal(t, float32(3), grid.At(0, 4, ChannelHeight))
}

func TestEncodeOverlapSmallerWins(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	big := carOverCells(testSpec, 1, 1, 6, 6)
	big.Token = "truck"
	big.Class = l1points.ClassLargeVehicle
	small := carOverCells(testSpec, 3, 3, 4, 4)
	small.Token = "person"
	small.Class = l1points.ClassPedestrian

	// Annotation order must not matter when areas differ.
	for _, objs := range [][]l1points.Object{{big, small}, {small, big}} {
		grid, stats := e.Encode(objs, nil)
		assert.Equal(t, 2, stats.Encoded)
		smallIdx := 0
		if objs[1].Token == "person" {
			smallIdx = 1
		}
		for row := 3; row <= 4; row++ {
			for col := 3; col <= 4; col++ {
				assert.Equal(t, smallIdx, grid.Owner(row, col))
				assert.Equal(t, l1points.ClassPedestrian, grid.ClassAt(row, col))
			}
		}
		assert.Equal(t, 1-smallIdx, grid.Owner(1, 1))
		assert.Equal(t, 4, stats.CellsPerClass[l1points.ClassPedestrian])
		assert.Equal(t, 36-4, stats.CellsPerClass[l1points.ClassLargeVehicle])
	}
}

func TestEncodeOverlapEqualAreaLaterWins(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	a := carOverCells(testSpec, 2, 2, 4, 4)
	a.Token = "a"
	b := a
	b.Token = "b"
	b.Class = l1points.ClassCyclist

	grid, _ := e.Encode([]l1points.Object{a, b}, nil)
	assert.Equal(t, 1, grid.Owner(3, 3))
	assert.Equal(t, l1points.ClassCyclist, grid.ClassAt(3, 3))
}

func TestEncodeSkips(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 4)
	car := carOverCells(testSpec, 2, 2, 4, 4)
	cone := car
	cone.Token = "cone"
	cone.Category = "movable_object.trafficcone"
	cone.Class = l1points.ClassBackground
	far := car
	far.Token = "far"
	far.X = 40
	broken := car
	broken.Token = "broken"
	broken.Width = 0

	inside := []l1points.Point{
		{X: float32(car.X), Y: float32(car.Y), Z: 0},
		{X: float32(car.X) + 0.5, Y: float32(car.Y), Z: 0.2},
		{X: float32(car.X), Y: float32(car.Y) - 0.5, Z: -0.2},
	}

	t.Run("sparse", func(t *testing.T) {
		t.Parallel()
		grid, stats := e.Encode([]l1points.Object{car, cone, far, broken}, inside)
		assert.Equal(t, 0, stats.Encoded)
		assert.Equal(t, 1, stats.SkippedSparse)
		assert.Equal(t, 1, stats.SkippedClass)
		assert.Equal(t, 1, stats.OutOfBounds)
		assert.Equal(t, 1, stats.Invalid)
		assert.Empty(t, ownedCells(grid))
	})

	t.Run("supported", func(t *testing.T) {
		t.Parallel()
		pts := append(append([]l1points.Point(nil), inside...), l1points.Point{X: float32(car.X), Y: float32(car.Y), Z: 0.7})
		grid, stats := e.Encode([]l1points.Object{car}, pts)
		assert.Equal(t, 1, stats.Encoded)
		assert.Len(t, ownedCells(grid), 9)
	})
}

func TestEncodePartiallyOutside(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	// Centred on the front edge: only rows 0..1 are on the grid.
	edge := l1points.Object{Token: "edge", Class: l1points.ClassCar, X: 5, Y: 0.5, Length: 3.9, Width: 0.9, Height: 1}
	grid, stats := e.Encode([]l1points.Object{edge}, nil)
	assert.Equal(t, 0, stats.OutOfBounds)
	assert.Equal(t, map[[2]int]int{{0, 4}: 0, {1, 4}: 0}, ownedCells(grid))
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	e := testEncoder(t, 0)
	objs := []l1points.Object{
		{Token: "a", Class: l1points.ClassCar, X: 1.2, Y: -0.7, Length: 4.1, Width: 1.8, Height: 1.6, Yaw: 0.3},
		{Token: "b", Class: l1points.ClassPedestrian, X: 0.4, Y: -1.1, Length: 0.8, Width: 0.7, Height: 1.7, Yaw: -1.2},
		{Token: "c", Class: l1points.ClassLargeVehicle, X: -2.5, Y: 2.5, Length: 7, Width: 2.5, Height: 3.2, Yaw: 2.9},
	}
	a, sa := e.Encode(objs, nil)
	b, sb := e.Encode(objs, nil)
	assert.Equal(t, sa, sb)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("encoding not deterministic (-first +second):\n%s", diff)
	}
}

// ---
// Feature and label grids together.

func TestScenarioThreePointsAndCar(t *testing.T) {
	t.Parallel()

	r, err := l2grid.NewRasterizer(l2grid.RasterParams{
		Spec:           testSpec,
		Channels:       l2grid.ChannelsFor(false, true),
		MinHeight:      -5,
		MaxHeight:      5,
		IntensityScale: 1.0 / 255.0,
	})
	require.NoError(t, err)

	var pts []l1points.Point
	mapped := map[[2]int]bool{}
	for _, c := range [][2]int{{0, 9}, {7, 1}, {9, 6}} {
		x, y := testSpec.CellCenter(c[0], c[1])
		pts = append(pts, l1points.Point{X: float32(x), Y: float32(y), Z: 0.3, Intensity: 80})
		mapped[c] = true
	}
	features, fstats := r.Rasterize(pts)
	assert.Equal(t, 3, fstats.OccupiedCells)

	labels, _ := testEncoder(t, 0).Encode([]l1points.Object{carOverCells(testSpec, 2, 2, 4, 4)}, pts)

	nonEmpty := features.ChannelIndex(l2grid.ChannelNonEmpty)
	for row := 0; row < testSpec.Rows; row++ {
		for col := 0; col < testSpec.Cols; col++ {
			assert.Equal(t, mapped[[2]int{row, col}], features.At(row, col, nonEmpty) == 1, "feature cell (%d,%d)", row, col)
			inCar := row >= 2 && row <= 4 && col >= 2 && col <= 4
			if inCar {
				assert.Equal(t, l1points.ClassCar, labels.ClassAt(row, col))
			} else {
				assert.Equal(t, l1points.ClassBackground, labels.ClassAt(row, col))
				assert.Equal(t, NoInstance, labels.Owner(row, col))
			}
		}
	}
}
