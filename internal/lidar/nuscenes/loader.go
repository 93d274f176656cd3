package nuscenes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
)

// DefaultChannel is the sensor channel converted by default.
const DefaultChannel = "LIDAR_TOP"

// pointStride is the number of float32 values per point in a .pcd.bin file:
// x, y, z, intensity, ring index.
const pointStride = 5

// maxSweepBytes caps a single sweep file.
const maxSweepBytes = 256 << 20

var (
	// ErrInvalidDataroot is wrapped by Open when the dataset tables cannot
	// be read.
	ErrInvalidDataroot = errors.New("invalid nuscenes dataroot")

	// ErrMissingSample is wrapped by MissingSampleError.
	ErrMissingSample = errors.New("sample not found")

	// ErrMalformedRecord is wrapped when a table record cannot be converted.
	ErrMalformedRecord = errors.New("malformed record")
)

// MissingSampleError reports a sample token absent from the sample table.
type MissingSampleError struct {
	Token string
}

func (e *MissingSampleError) Error() string {
	return fmt.Sprintf("sample %q not found in dataset index", e.Token)
}

func (e *MissingSampleError) Unwrap() error { return ErrMissingSample }

// Options tunes how samples are loaded.
type Options struct {
	// Channel is the LiDAR sensor channel to read. Empty means LIDAR_TOP.
	Channel string
	// RemoveCloseRadius drops returns within this square half-size of the
	// sensor. Zero keeps them.
	RemoveCloseRadius float64
}

// SampleRef identifies one keyframe in enumeration order.
type SampleRef struct {
	Index     int // position in Samples()
	Token     string
	SceneName string
}

// Dataset is an opened NuScenes version. It is read-only after Open and
// safe for concurrent Load calls.
type Dataset struct {
	root    string
	version string
	opts    Options

	scenes      []sceneRecord
	samples     map[string]sampleRecord
	sweeps      map[string]sampleDataRecord // keyframe sweep of Options.Channel by sample token
	annotations map[string][]annotationRecord
	instances   map[string]instanceRecord
	categories  map[string]categoryRecord
	calibrated  map[string]calibratedSensorRecord
	egoPoses    map[string]egoPoseRecord
	sceneNames  map[string]string

	refs []SampleRef
}

// Open reads the metadata tables of version under dataroot and builds the
// sample index. Any unreadable table is reported as ErrInvalidDataroot.
func Open(dataroot, version string, opts Options) (*Dataset, error) {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	dir := filepath.Join(dataroot, version)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidDataroot, dir)
	}

	var (
		scenes      []sceneRecord
		samples     []sampleRecord
		sampleData  []sampleDataRecord
		annotations []annotationRecord
		instances   []instanceRecord
		categories  []categoryRecord
		calibrated  []calibratedSensorRecord
		egoPoses    []egoPoseRecord
		sensors     []sensorRecord
	)
	tables := []struct {
		name string
		out  any
	}{
		{tableScene, &scenes},
		{tableSample, &samples},
		{tableSampleData, &sampleData},
		{tableSampleAnnotation, &annotations},
		{tableInstance, &instances},
		{tableCategory, &categories},
		{tableCalibratedSensor, &calibrated},
		{tableEgoPose, &egoPoses},
		{tableSensor, &sensors},
	}
	for _, t := range tables {
		if err := readTable(dir, t.name, t.out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
		}
		diagf("loaded %s", t.name)
	}

	d := &Dataset{root: dataroot, version: version, opts: opts, scenes: scenes}
	var err error
	if d.samples, err = index(tableSample, samples, func(r sampleRecord) string { return r.Token }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
	}
	if d.instances, err = index(tableInstance, instances, func(r instanceRecord) string { return r.Token }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
	}
	if d.categories, err = index(tableCategory, categories, func(r categoryRecord) string { return r.Token }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
	}
	if d.calibrated, err = index(tableCalibratedSensor, calibrated, func(r calibratedSensorRecord) string { return r.Token }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
	}
	if d.egoPoses, err = index(tableEgoPose, egoPoses, func(r egoPoseRecord) string { return r.Token }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataroot, err)
	}

	channelOf := make(map[string]string, len(sensors))
	for _, s := range sensors {
		channelOf[s.Token] = s.Channel
	}
	d.sweeps = make(map[string]sampleDataRecord)
	for _, sd := range sampleData {
		if !sd.IsKeyFrame {
			continue
		}
		cs, ok := d.calibrated[sd.CalibratedSensorToken]
		if !ok || channelOf[cs.SensorToken] != opts.Channel {
			continue
		}
		d.sweeps[sd.SampleToken] = sd
	}

	d.annotations = make(map[string][]annotationRecord)
	for _, a := range annotations {
		d.annotations[a.SampleToken] = append(d.annotations[a.SampleToken], a)
	}

	d.sceneNames = make(map[string]string, len(scenes))
	for _, s := range scenes {
		d.sceneNames[s.Token] = s.Name
	}
	d.buildRefs()
	opsf("opened %s: %d scenes, %d keyframes, %d annotations", dir, len(scenes), len(d.refs), len(annotations))
	return d, nil
}

// buildRefs walks every scene from its first sample along the next links.
func (d *Dataset) buildRefs() {
	seen := make(map[string]bool)
	for _, sc := range d.scenes {
		for tok := sc.FirstSampleToken; tok != ""; {
			if seen[tok] {
				opsf("scene %s: sample %s reached twice, stopping walk", sc.Name, tok)
				break
			}
			s, ok := d.samples[tok]
			if !ok {
				opsf("scene %s: next link to unknown sample %s, stopping walk", sc.Name, tok)
				break
			}
			seen[tok] = true
			d.refs = append(d.refs, SampleRef{Index: len(d.refs), Token: tok, SceneName: sc.Name})
			tok = s.Next
		}
	}
}

// Version returns the dataset version the index was built from.
func (d *Dataset) Version() string {
	return d.version
}

// Samples returns every keyframe, scene by scene in scene table order and
// in time order within a scene.
func (d *Dataset) Samples() []SampleRef {
	return append([]SampleRef(nil), d.refs...)
}

// Load reads the sweep and annotations of one keyframe. Boxes are returned
// in annotation table order, in the sensor frame of the sweep.
func (d *Dataset) Load(token string) (*l1points.Sample, error) {
	rec, ok := d.samples[token]
	if !ok {
		return nil, &MissingSampleError{Token: token}
	}
	sd, ok := d.sweeps[token]
	if !ok {
		return nil, fmt.Errorf("sample %s: no %s keyframe sweep: %w", token, d.opts.Channel, ErrMalformedRecord)
	}
	cs, ok := d.calibrated[sd.CalibratedSensorToken]
	if !ok {
		return nil, fmt.Errorf("sample %s: unknown calibrated sensor %s: %w", token, sd.CalibratedSensorToken, ErrMalformedRecord)
	}
	ego, ok := d.egoPoses[sd.EgoPoseToken]
	if !ok {
		return nil, fmt.Errorf("sample %s: unknown ego pose %s: %w", token, sd.EgoPoseToken, ErrMalformedRecord)
	}
	toSensor, err := globalToSensor(ego, cs)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", token, err)
	}

	points, err := ReadSweep(filepath.Join(d.root, sd.Filename))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", token, err)
	}
	points = l1points.RemoveClose(points, d.opts.RemoveCloseRadius)

	anns := d.annotations[token]
	objects := make([]l1points.Object, 0, len(anns))
	for _, a := range anns {
		o, err := d.object(a, toSensor)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", token, err)
		}
		objects = append(objects, o)
	}
	tracef("sample %s: %d points, %d objects", token, len(points), len(objects))

	return &l1points.Sample{
		Token:     token,
		SceneName: d.sceneNames[rec.SceneToken],
		Timestamp: rec.Timestamp,
		Points:    points,
		Objects:   objects,
	}, nil
}

// object converts one annotation into the sensor frame.
func (d *Dataset) object(a annotationRecord, toSensor rigid) (l1points.Object, error) {
	if len(a.Translation) != 3 || len(a.Size) != 3 {
		return l1points.Object{}, fmt.Errorf("annotation %s: translation/size must have 3 values: %w", a.Token, ErrMalformedRecord)
	}
	rot, err := unitQuat(a.Rotation)
	if err != nil {
		return l1points.Object{}, fmt.Errorf("annotation %s: %w", a.Token, err)
	}
	inst, ok := d.instances[a.InstanceToken]
	if !ok {
		return l1points.Object{}, fmt.Errorf("annotation %s: unknown instance %s: %w", a.Token, a.InstanceToken, ErrMalformedRecord)
	}
	cat, ok := d.categories[inst.CategoryToken]
	if !ok {
		return l1points.Object{}, fmt.Errorf("annotation %s: unknown category %s: %w", a.Token, inst.CategoryToken, ErrMalformedRecord)
	}

	center := toSensor.apply(vec3{a.Translation[0], a.Translation[1], a.Translation[2]})
	orient := quat.Mul(toSensor.rot, rot)
	o := l1points.Object{
		Token:       a.Token,
		Category:    cat.Name,
		Class:       l1points.ClassFromCategory(cat.Name),
		X:           center[0],
		Y:           center[1],
		Z:           center[2],
		Width:       a.Size[0],
		Length:      a.Size[1],
		Height:      a.Size[2],
		Yaw:         yawOf(orient),
		NumLidarPts: a.NumLidarPts,
	}
	if err := o.Validate(); err != nil {
		return l1points.Object{}, fmt.Errorf("%v: %w", err, ErrMalformedRecord)
	}
	return o, nil
}

// ReadSweep decodes a NuScenes .pcd.bin file of little-endian float32
// records (x, y, z, intensity, ring).
func ReadSweep(path string) ([]l1points.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSweep(io.LimitReader(f, maxSweepBytes+1))
}

// DecodeSweep decodes .pcd.bin contents from r.
func DecodeSweep(r io.Reader) ([]l1points.Point, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxSweepBytes {
		return nil, fmt.Errorf("sweep exceeds %d bytes", maxSweepBytes)
	}
	const recordBytes = pointStride * 4
	if len(raw)%recordBytes != 0 {
		return nil, fmt.Errorf("sweep length %d is not a multiple of %d: %w", len(raw), recordBytes, ErrMalformedRecord)
	}
	points := make([]l1points.Point, len(raw)/recordBytes)
	for i := range points {
		rec := raw[i*recordBytes:]
		points[i] = l1points.Point{
			X:         math.Float32frombits(binary.LittleEndian.Uint32(rec[0:])),
			Y:         math.Float32frombits(binary.LittleEndian.Uint32(rec[4:])),
			Z:         math.Float32frombits(binary.LittleEndian.Uint32(rec[8:])),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(rec[12:])),
		}
	}
	return points, nil
}

// EncodeSweep is the inverse of DecodeSweep; ring indices are written as 0.
func EncodeSweep(points []l1points.Point) []byte {
	out := make([]byte, len(points)*pointStride*4)
	for i, p := range points {
		rec := out[i*pointStride*4:]
		binary.LittleEndian.PutUint32(rec[0:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(p.Z))
		binary.LittleEndian.PutUint32(rec[12:], math.Float32bits(p.Intensity))
	}
	return out
}
