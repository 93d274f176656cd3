package l1points

import "math"

// ROI is the region of interest kept for rasterization. The XY extent is
// the square |x|,|y| <= Range; Z is the open interval (MinZ, MaxZ).
// Points closer than CloseRadius to the sensor are ego-vehicle returns.
type ROI struct {
	Range       float64
	MinZ        float64
	MaxZ        float64
	CloseRadius float64
}

// Contains reports whether p is kept by the region of interest.
func (r ROI) Contains(p Point) bool {
	x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
	if math.Abs(x) > r.Range || math.Abs(y) > r.Range {
		return false
	}
	if z <= r.MinZ || z >= r.MaxZ {
		return false
	}
	return !(math.Abs(x) < r.CloseRadius && math.Abs(y) < r.CloseRadius)
}

// FilterROI returns the points inside roi, reusing the backing array of the
// input, and the number of points dropped.
func FilterROI(points []Point, roi ROI) ([]Point, int) {
	kept := points[:0]
	for _, p := range points {
		if roi.Contains(p) {
			kept = append(kept, p)
		}
	}
	return kept, len(points) - len(kept)
}

// RemoveClose drops returns inside the axis-aligned square of half-size
// radius around the sensor, matching the NuScenes devkit's remove_close.
func RemoveClose(points []Point, radius float64) []Point {
	if radius <= 0 {
		return points
	}
	kept := points[:0]
	for _, p := range points {
		if math.Abs(float64(p.X)) < radius && math.Abs(float64(p.Y)) < radius {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}
