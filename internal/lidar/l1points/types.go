package l1points

import (
	"fmt"
	"math"
	"strings"
)

// Point is a single LiDAR return in the sensor frame.
// Coordinate convention: X=forward, Y=left, Z=up (NuScenes LIDAR_TOP).
type Point struct {
	X         float32
	Y         float32
	Z         float32
	Intensity float32 // raw sensor intensity, 0-255 for NuScenes
}

// Class is the training class written to the classify channel.
type Class uint8

const (
	ClassBackground Class = iota
	ClassCar
	ClassLargeVehicle
	ClassCyclist
	ClassPedestrian
)

// NumClasses counts Background plus the four object classes.
const NumClasses = 5

var classNames = [NumClasses]string{"background", "car", "large_vehicle", "cyclist", "pedestrian"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ClassFromCategory maps a NuScenes category name (e.g. "vehicle.bus.rigid")
// to a training class. Categories that are not trained on map to
// ClassBackground.
func ClassFromCategory(name string) Class {
	parts := strings.Split(name, ".")
	switch parts[0] {
	case "human":
		return ClassPedestrian
	case "vehicle":
		if len(parts) < 2 {
			return ClassBackground
		}
		switch parts[1] {
		case "car":
			return ClassCar
		case "bus", "truck", "construction", "emergency", "trailer":
			return ClassLargeVehicle
		case "bicycle", "motorcycle":
			return ClassCyclist
		}
	}
	return ClassBackground
}

// Object is an annotated 3D box in the sensor frame.
//
// Length runs along the heading, Width across it. Yaw is the heading angle
// around +Z in radians, measured from +X.
type Object struct {
	Token       string
	Category    string
	Class       Class
	X, Y, Z     float64 // box centre
	Width       float64
	Length      float64
	Height      float64
	Yaw         float64
	NumLidarPts int // as recorded by the dataset, informational
}

// Area is the footprint area in square metres.
func (o Object) Area() float64 {
	return o.Width * o.Length
}

// local returns the offset of (x, y) from the box centre expressed along
// the box heading (u) and across it (v).
func (o Object) local(x, y float64) (u, v float64) {
	dx, dy := x-o.X, y-o.Y
	c, s := math.Cos(o.Yaw), math.Sin(o.Yaw)
	return dx*c + dy*s, -dx*s + dy*c
}

// ContainsXY reports whether (x, y) lies inside the closed footprint rectangle.
func (o Object) ContainsXY(x, y float64) bool {
	u, v := o.local(x, y)
	return math.Abs(u) <= o.Length/2 && math.Abs(v) <= o.Width/2
}

// Contains reports whether (x, y, z) lies inside the closed 3D box.
func (o Object) Contains(x, y, z float64) bool {
	return o.ContainsXY(x, y) && math.Abs(z-o.Z) <= o.Height/2
}

// Corners returns the footprint corners in counter-clockwise order starting
// front-left.
func (o Object) Corners() [4][2]float64 {
	c, s := math.Cos(o.Yaw), math.Sin(o.Yaw)
	hl, hw := o.Length/2, o.Width/2
	offsets := [4][2]float64{{hl, hw}, {-hl, hw}, {-hl, -hw}, {hl, -hw}}
	var out [4][2]float64
	for i, d := range offsets {
		out[i][0] = o.X + d[0]*c - d[1]*s
		out[i][1] = o.Y + d[0]*s + d[1]*c
	}
	return out
}

// Bounds returns the axis-aligned extent of the footprint.
func (o Object) Bounds() (minX, maxX, minY, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range o.Corners() {
		minX = math.Min(minX, c[0])
		maxX = math.Max(maxX, c[0])
		minY = math.Min(minY, c[1])
		maxY = math.Max(maxY, c[1])
	}
	return
}

// CountPointsInside returns how many points fall inside the 3D box.
func (o Object) CountPointsInside(points []Point) int {
	n := 0
	for _, p := range points {
		if o.Contains(float64(p.X), float64(p.Y), float64(p.Z)) {
			n++
		}
	}
	return n
}

// Validate rejects boxes that cannot be rasterized.
func (o Object) Validate() error {
	if !(o.Width > 0 && o.Length > 0 && o.Height > 0) {
		return fmt.Errorf("object %s: size must be positive, got w=%g l=%g h=%g", o.Token, o.Width, o.Length, o.Height)
	}
	for _, v := range []float64{o.X, o.Y, o.Z, o.Yaw, o.Width, o.Length, o.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("object %s: non-finite box", o.Token)
		}
	}
	return nil
}

// Sample is one annotated keyframe.
type Sample struct {
	Token     string
	SceneName string
	Timestamp int64 // microseconds, as stored by NuScenes
	Points    []Point
	Objects   []Object
}

// Clone returns a deep copy so that augmentations never alias the loaded sample.
func (s *Sample) Clone() *Sample {
	out := *s
	out.Points = append([]Point(nil), s.Points...)
	out.Objects = append([]Object(nil), s.Objects...)
	return &out
}
