package nuscenes

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
)

const testVersion = "v1.0-mini"

func twoScenes() []FixtureScene {
	pts := []l1points.Point{
		{X: 10, Y: 0, Z: -1, Intensity: 12},
		{X: 0.5, Y: -0.5, Z: 0, Intensity: 200}, // ego vehicle return
		{X: -3, Y: 4, Z: 0.5, Intensity: 7},
	}
	return []FixtureScene{
		{
			Name: "scene-0001",
			Samples: []FixtureSample{
				{Points: pts, Boxes: []FixtureBox{
					{Category: "vehicle.car", X: 10, Y: 0, Z: -0.5, Width: 1.8, Length: 4.2, Height: 1.5, Yaw: 0.3, NumLidarPts: 40},
					{Category: "movable_object.barrier", X: -3, Y: 4, Z: 0, Width: 0.5, Length: 2, Height: 1, NumLidarPts: 3},
				}},
				{Points: pts},
				{Points: pts, Boxes: []FixtureBox{
					{Category: "human.pedestrian.adult", X: 2, Y: 2, Z: 0, Width: 0.6, Length: 0.7, Height: 1.8, Yaw: -2.5, NumLidarPts: 9},
				}},
			},
		},
		{
			Name:    "scene-0002",
			EgoX:    100,
			EgoY:    50,
			EgoYaw:  math.Pi / 2,
			SensorZ: 1.8,
			Samples: []FixtureSample{
				{Points: pts, Boxes: []FixtureBox{
					{Category: "vehicle.bus.rigid", X: 100, Y: 60, Z: 1, Width: 2.9, Length: 11, Height: 3.4, Yaw: math.Pi / 2, NumLidarPts: 120},
				}},
				{Points: pts},
			},
		},
	}
}

func writeFixture(t *testing.T, scenes []FixtureScene) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, WriteFixture(root, testVersion, scenes))
	return root
}

func openFixture(t *testing.T, opts Options) *Dataset {
	t.Helper()
	d, err := Open(writeFixture(t, twoScenes()), testVersion, opts)
	require.NoError(t, err)
	return d
}

func TestOpenInvalidDataroot(t *testing.T) {
	t.Parallel()

	_, err := Open(t.TempDir(), testVersion, Options{})
	assert.ErrorIs(t, err, ErrInvalidDataroot)

	t.Run("missing table", func(t *testing.T) {
		t.Parallel()
		root := writeFixture(t, twoScenes())
		require.NoError(t, os.Remove(filepath.Join(root, testVersion, tableEgoPose)))
		_, err := Open(root, testVersion, Options{})
		assert.ErrorIs(t, err, ErrInvalidDataroot)
	})

	t.Run("corrupt table", func(t *testing.T) {
		t.Parallel()
		root := writeFixture(t, twoScenes())
		require.NoError(t, os.WriteFile(filepath.Join(root, testVersion, tableSample), []byte("{not json"), 0o644))
		_, err := Open(root, testVersion, Options{})
		assert.ErrorIs(t, err, ErrInvalidDataroot)
	})

	t.Run("wrong version", func(t *testing.T) {
		t.Parallel()
		root := writeFixture(t, twoScenes())
		_, err := Open(root, "v1.0-trainval", Options{})
		assert.ErrorIs(t, err, ErrInvalidDataroot)
	})
}

func TestSamplesOrder(t *testing.T) {
	t.Parallel()

	d := openFixture(t, Options{})
	refs := d.Samples()
	require.Len(t, refs, 5)
	want := []string{
		FixtureSampleToken(0, 0), FixtureSampleToken(0, 1), FixtureSampleToken(0, 2),
		FixtureSampleToken(1, 0), FixtureSampleToken(1, 1),
	}
	for i, ref := range refs {
		assert.Equal(t, i, ref.Index)
		assert.Equal(t, want[i], ref.Token)
	}
	assert.Equal(t, "scene-0002", refs[3].SceneName)
	assert.Equal(t, testVersion, d.Version())

	// Callers cannot mutate the index.
	refs[0].Token = "x"
	assert.Equal(t, want[0], d.Samples()[0].Token)
}

func TestLoadIdentityPose(t *testing.T) {
	t.Parallel()

	d := openFixture(t, Options{RemoveCloseRadius: 1})
	s, err := d.Load(FixtureSampleToken(0, 0))
	require.NoError(t, err)

	assert.Equal(t, "scene-0001", s.SceneName)
	assert.Equal(t, int64(1_500_000_000_000_000), s.Timestamp)
	require.Len(t, s.Points, 2, "the return within 1 m is removed")
	assert.Equal(t, l1points.Point{X: 10, Y: 0, Z: -1, Intensity: 12}, s.Points[0])

	require.Len(t, s.Objects, 2)
	car := s.Objects[0]
	assert.Equal(t, "vehicle.car", car.Category)
	assert.Equal(t, l1points.ClassCar, car.Class)
	assert.InDelta(t, 10, car.X, 1e-9)
	assert.InDelta(t, -0.5, car.Z, 1e-9)
	assert.Equal(t, 1.8, car.Width)
	assert.Equal(t, 4.2, car.Length)
	assert.Equal(t, 1.5, car.Height)
	assert.InDelta(t, 0.3, car.Yaw, 1e-9)
	assert.Equal(t, 40, car.NumLidarPts)

	assert.Equal(t, l1points.ClassBackground, s.Objects[1].Class)

	ped, err := d.Load(FixtureSampleToken(0, 2))
	require.NoError(t, err)
	require.Len(t, ped.Objects, 1)
	assert.Equal(t, l1points.ClassPedestrian, ped.Objects[0].Class)
	assert.InDelta(t, -2.5, ped.Objects[0].Yaw, 1e-9)
}

func TestLoadTransformsIntoSensorFrame(t *testing.T) {
	t.Parallel()

	d := openFixture(t, Options{})
	s, err := d.Load(FixtureSampleToken(1, 0))
	require.NoError(t, err)
	require.Len(t, s.Objects, 1)
	bus := s.Objects[0]

	// Ten metres to the ego's left in the global frame is straight ahead
	// once the ego's quarter turn is undone; the sensor sits 1.8 m up.
	assert.InDelta(t, 10, bus.X, 1e-9)
	assert.InDelta(t, 0, bus.Y, 1e-9)
	assert.InDelta(t, -0.8, bus.Z, 1e-9)
	assert.InDelta(t, 0, bus.Yaw, 1e-9)
	assert.Equal(t, l1points.ClassLargeVehicle, bus.Class)
	assert.Len(t, s.Points, 3, "no close-range removal by default")
}

func TestLoadSensorYaw(t *testing.T) {
	t.Parallel()

	scenes := []FixtureScene{{
		Name:      "rotated-sensor",
		SensorYaw: -math.Pi / 2,
		Samples: []FixtureSample{{Boxes: []FixtureBox{
			{Category: "vehicle.bicycle", X: 5, Y: 0, Z: 0, Width: 0.6, Length: 1.7, Height: 1.2, Yaw: 0},
		}}},
	}}
	d, err := Open(writeFixture(t, scenes), testVersion, Options{})
	require.NoError(t, err)
	s, err := d.Load(FixtureSampleToken(0, 0))
	require.NoError(t, err)
	require.Len(t, s.Objects, 1)
	o := s.Objects[0]
	// A sensor turned to face -Y sees the ego's forward direction on its left.
	assert.InDelta(t, 0, o.X, 1e-9)
	assert.InDelta(t, 5, o.Y, 1e-9)
	assert.InDelta(t, math.Pi/2, o.Yaw, 1e-9)
	assert.Equal(t, l1points.ClassCyclist, o.Class)
	assert.Empty(t, s.Points)
}

func TestLoadMissingSample(t *testing.T) {
	t.Parallel()

	d := openFixture(t, Options{})
	_, err := d.Load("no-such-token")
	require.Error(t, err)
	var missing *MissingSampleError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "no-such-token", missing.Token)
	assert.ErrorIs(t, err, ErrMissingSample)
}

func TestLoadMissingSweepFile(t *testing.T) {
	t.Parallel()

	scenes := twoScenes()
	scenes[0].SkipSweepFiles = true
	d, err := Open(writeFixture(t, scenes), testVersion, Options{})
	require.NoError(t, err)
	_, err = d.Load(FixtureSampleToken(0, 0))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = d.Load(FixtureSampleToken(1, 0))
	assert.NoError(t, err)
}

func TestLoadMalformedAnnotation(t *testing.T) {
	t.Parallel()

	root := writeFixture(t, twoScenes())
	path := filepath.Join(root, testVersion, tableSampleAnnotation)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var anns []annotationRecord
	require.NoError(t, json.Unmarshal(data, &anns))
	anns[0].Rotation = []float64{2, 0, 0, 0}
	anns[len(anns)-1].Size = []float64{1, 2}
	data, err = json.Marshal(anns)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	d, err := Open(root, testVersion, Options{})
	require.NoError(t, err)
	_, err = d.Load(FixtureSampleToken(0, 0))
	assert.ErrorIs(t, err, ErrMalformedRecord)
	_, err = d.Load(FixtureSampleToken(1, 0))
	assert.ErrorIs(t, err, ErrMalformedRecord)
	_, err = d.Load(FixtureSampleToken(0, 1))
	assert.NoError(t, err, "samples without broken records still load")
}

func TestSweepCodec(t *testing.T) {
	t.Parallel()

	pts := []l1points.Point{{X: 1.5, Y: -2, Z: 0.25, Intensity: 99}, {X: -70, Y: 70, Z: -5, Intensity: 0}}
	got, err := DecodeSweep(bytes.NewReader(EncodeSweep(pts)))
	require.NoError(t, err)
	assert.Equal(t, pts, got)

	_, err = DecodeSweep(bytes.NewReader(make([]byte, 21)))
	assert.ErrorIs(t, err, ErrMalformedRecord)

	empty, err := DecodeSweep(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnitQuat(t *testing.T) {
	t.Parallel()

	q, err := unitQuat([]float64{1.0004, 0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1, q.Real, 1e-12)

	_, err = unitQuat([]float64{0.5, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedRecord)
	_, err = unitQuat([]float64{1, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedRecord)
	_, err = unitQuat([]float64{math.NaN(), 0, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	for _, yaw := range []float64{0, 0.4, -1.2, 3} {
		assert.InDelta(t, yaw, yawOf(yawQuat(yaw)), 1e-12)
	}
}
