package l1points

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Augmentation is a rigid yaw rotation about the sensor's Z axis preceded
// by a vertical shift, applied identically to points and boxes.
type Augmentation struct {
	DZ  float64 // metres
	Yaw float64 // radians
}

// NewAugmentation draws a random augmentation: DZ uniform in
// [-zRange, zRange) and Yaw uniform in [0, 2π).
func NewAugmentation(rng *rand.Rand, zRange float64) Augmentation {
	dz := (rng.Float64() - 0.5) * 2 * zRange
	yaw := rng.Float64() * 2 * math.Pi
	return Augmentation{DZ: dz, Yaw: yaw}
}

// IsIdentity reports whether applying a leaves the sample unchanged.
func (a Augmentation) IsIdentity() bool {
	return a.DZ == 0 && a.Yaw == 0
}

// Apply returns a transformed copy of s. The input is not modified.
func (a Augmentation) Apply(s *Sample) *Sample {
	out := s.Clone()
	if a.IsIdentity() {
		return out
	}
	rot := r3.NewRotation(a.Yaw, r3.Vec{Z: 1})
	for i, p := range out.Points {
		v := rot.Rotate(r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z) + a.DZ})
		out.Points[i].X = float32(v.X)
		out.Points[i].Y = float32(v.Y)
		out.Points[i].Z = float32(v.Z)
	}
	for i, o := range out.Objects {
		v := rot.Rotate(r3.Vec{X: o.X, Y: o.Y, Z: o.Z + a.DZ})
		out.Objects[i].X, out.Objects[i].Y, out.Objects[i].Z = v.X, v.Y, v.Z
		out.Objects[i].Yaw = wrapAngle(o.Yaw + a.Yaw)
	}
	return out
}

// wrapAngle maps an angle into (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// NoiseParams controls AddNoisePoints.
type NoiseParams struct {
	Rate        float64 // probability that a given azimuth degree receives a point
	Samples     int     // uniform draws per azimuth; the nearest one is kept
	MinDistance float64
	Sigma       float64 // std-dev of the noise height around the mean height
}

// maxHeightDraws bounds the rejection sampling of noise heights.
const maxHeightDraws = 64

// AddNoisePoints appends spurious returns at random azimuths, between
// MinDistance and the farthest point of the cloud, with heights drawn around
// the cloud's mean height and intensities copied from random existing
// points. The input slice is not modified.
func AddNoisePoints(points []Point, rng *rand.Rand, p NoiseParams) []Point {
	if len(points) == 0 || p.Samples <= 0 {
		return points
	}

	minZ, maxZ := math.Inf(1), math.Inf(-1)
	var sumZ, maxDist float64
	for _, pt := range points {
		z := float64(pt.Z)
		minZ = math.Min(minZ, z)
		maxZ = math.Max(maxZ, z)
		sumZ += z
		maxDist = math.Max(maxDist, math.Hypot(float64(pt.X), float64(pt.Y)))
	}
	meanZ := sumZ / float64(len(points))
	if maxDist <= p.MinDistance {
		return points
	}

	out := append([]Point(nil), points...)
	for deg := 0; deg < 360; deg++ {
		if rng.Float64() > p.Rate {
			continue
		}
		dist := math.Inf(1)
		for i := 0; i < p.Samples; i++ {
			d := p.MinDistance + rng.Float64()*(maxDist-p.MinDistance)
			dist = math.Min(dist, d)
		}
		z := meanZ
		for i := 0; i < maxHeightDraws; i++ {
			z = meanZ + rng.NormFloat64()*p.Sigma
			if z >= minZ && z <= maxZ {
				break
			}
		}
		z = math.Max(minZ, math.Min(maxZ, z))

		theta := float64(deg) * math.Pi / 180
		out = append(out, Point{
			X:         float32(dist * math.Cos(theta)),
			Y:         float32(dist * math.Sin(theta)),
			Z:         float32(z),
			Intensity: points[rng.IntN(len(points))].Intensity,
		})
	}
	return out
}
