package nuscenes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// unitNormTolerance is how far a stored rotation may deviate from unit norm
// before the record is rejected.
const unitNormTolerance = 1e-3

type vec3 [3]float64

// rigid maps x to rot·x + trans.
type rigid struct {
	rot   quat.Number
	trans vec3
}

func rotate(q quat.Number, v vec3) vec3 {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}), quat.Conj(q))
	return vec3{p.Imag, p.Jmag, p.Kmag}
}

func (r rigid) apply(v vec3) vec3 {
	p := rotate(r.rot, v)
	return vec3{p[0] + r.trans[0], p[1] + r.trans[1], p[2] + r.trans[2]}
}

// then returns the transform applying r first and next second.
func (r rigid) then(next rigid) rigid {
	return rigid{
		rot:   quat.Mul(next.rot, r.rot),
		trans: next.apply(r.trans),
	}
}

// inverseOf returns the transform from the parent frame into a frame whose
// pose in that parent is (translation, rotation).
func inverseOf(translation []float64, rotation []float64) (rigid, error) {
	if len(translation) != 3 {
		return rigid{}, fmt.Errorf("translation must have 3 values, got %d: %w", len(translation), ErrMalformedRecord)
	}
	q, err := unitQuat(rotation)
	if err != nil {
		return rigid{}, err
	}
	inv := quat.Conj(q)
	t := rotate(inv, vec3{translation[0], translation[1], translation[2]})
	return rigid{rot: inv, trans: vec3{-t[0], -t[1], -t[2]}}, nil
}

// globalToSensor composes global → ego (ego pose) and ego → sensor
// (calibrated sensor) for one sweep.
func globalToSensor(ego egoPoseRecord, cs calibratedSensorRecord) (rigid, error) {
	toEgo, err := inverseOf(ego.Translation, ego.Rotation)
	if err != nil {
		return rigid{}, fmt.Errorf("ego pose %s: %w", ego.Token, err)
	}
	toSensor, err := inverseOf(cs.Translation, cs.Rotation)
	if err != nil {
		return rigid{}, fmt.Errorf("calibrated sensor %s: %w", cs.Token, err)
	}
	return toEgo.then(toSensor), nil
}

// unitQuat converts a stored (w, x, y, z) rotation, rejecting values that
// are not close to unit norm.
func unitQuat(r []float64) (quat.Number, error) {
	if len(r) != 4 {
		return quat.Number{}, fmt.Errorf("rotation must have 4 values, got %d: %w", len(r), ErrMalformedRecord)
	}
	q := quat.Number{Real: r[0], Imag: r[1], Jmag: r[2], Kmag: r[3]}
	n := quat.Abs(q)
	if math.IsNaN(n) || math.Abs(n-1) > unitNormTolerance {
		return quat.Number{}, fmt.Errorf("rotation %v is not a unit quaternion: %w", r, ErrMalformedRecord)
	}
	return quat.Scale(1/n, q), nil
}

// yawOf returns the rotation of q about +Z, in (-π, π].
func yawOf(q quat.Number) float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// yawQuat returns the unit quaternion of a rotation by yaw about +Z.
func yawQuat(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}
