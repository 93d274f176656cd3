package nuscenes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/l1points"
)

// FixtureBox is an annotation written by WriteFixture. Pose is in the
// global frame.
type FixtureBox struct {
	Category              string
	X, Y, Z               float64
	Width, Length, Height float64
	Yaw                   float64
	NumLidarPts           int
}

// FixtureSample is one keyframe: a sweep already in the sensor frame and
// its global-frame boxes.
type FixtureSample struct {
	Points []l1points.Point
	Boxes  []FixtureBox
}

// FixtureScene is a scene whose ego pose and sensor mounting are the same
// for every keyframe.
type FixtureScene struct {
	Name           string
	EgoX, EgoY     float64
	EgoYaw         float64
	SensorZ        float64
	SensorYaw      float64
	Samples        []FixtureSample
	SkipSweepFiles bool // leave the .pcd.bin files out
}

// FixtureSampleToken returns the token WriteFixture gives to sample i of
// scene s.
func FixtureSampleToken(s, i int) string {
	return fmt.Sprintf("sample-%d-%d", s, i)
}

// WriteFixture writes a minimal NuScenes version directory under dataroot
// containing scenes. Besides the LIDAR_TOP keyframes it adds a camera
// keyframe and a LIDAR_TOP intermediate sweep per sample, which a loader
// must ignore. It is used by tests and tools that need a dataroot without
// the real dataset.
func WriteFixture(dataroot, version string, scenes []FixtureScene) error {
	dir := filepath.Join(dataroot, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	sweepDir := filepath.Join(dataroot, "samples", DefaultChannel)
	if err := os.MkdirAll(sweepDir, 0o755); err != nil {
		return err
	}

	var (
		sceneT      []sceneRecord
		sampleT     []sampleRecord
		sampleDataT []sampleDataRecord
		annT        []annotationRecord
		instT       []instanceRecord
		calT        []calibratedSensorRecord
		egoT        []egoPoseRecord
	)
	sensorT := []sensorRecord{
		{Token: "sensor-lidar", Channel: DefaultChannel, Modality: "lidar"},
		{Token: "sensor-cam", Channel: "CAM_FRONT", Modality: "camera"},
	}
	catTokens := map[string]string{}
	var catT []categoryRecord

	for s, sc := range scenes {
		sceneTok := fmt.Sprintf("scene-%d", s)
		lidarCal := fmt.Sprintf("cs-lidar-%d", s)
		camCal := fmt.Sprintf("cs-cam-%d", s)
		sensorRot := yawQuat(sc.SensorYaw)
		calT = append(calT,
			calibratedSensorRecord{Token: lidarCal, SensorToken: "sensor-lidar",
				Translation: []float64{0, 0, sc.SensorZ},
				Rotation:    []float64{sensorRot.Real, sensorRot.Imag, sensorRot.Jmag, sensorRot.Kmag}},
			calibratedSensorRecord{Token: camCal, SensorToken: "sensor-cam",
				Translation: []float64{1, 0, 1.5}, Rotation: []float64{1, 0, 0, 0}},
		)
		egoRot := yawQuat(sc.EgoYaw)

		rec := sceneRecord{Token: sceneTok, Name: sc.Name, NbrSamples: len(sc.Samples)}
		for i, smp := range sc.Samples {
			tok := FixtureSampleToken(s, i)
			ts := int64(1_500_000_000_000_000 + s*1_000_000_000 + i*500_000)
			if i == 0 {
				rec.FirstSampleToken = tok
			}
			rec.LastSampleToken = tok
			sr := sampleRecord{Token: tok, Timestamp: ts, SceneToken: sceneTok}
			if i > 0 {
				sr.Prev = FixtureSampleToken(s, i-1)
			}
			if i+1 < len(sc.Samples) {
				sr.Next = FixtureSampleToken(s, i+1)
			}
			sampleT = append(sampleT, sr)

			egoTok := "ego-" + tok
			egoT = append(egoT, egoPoseRecord{Token: egoTok, Timestamp: ts,
				Translation: []float64{sc.EgoX, sc.EgoY, 0},
				Rotation:    []float64{egoRot.Real, egoRot.Imag, egoRot.Jmag, egoRot.Kmag}})

			file := filepath.Join("samples", DefaultChannel, tok+".pcd.bin")
			sampleDataT = append(sampleDataT,
				sampleDataRecord{Token: "sd-lidar-" + tok, SampleToken: tok, EgoPoseToken: egoTok,
					CalibratedSensorToken: lidarCal, Timestamp: ts, FileFormat: "pcd", IsKeyFrame: true, Filename: file},
				sampleDataRecord{Token: "sd-sweep-" + tok, SampleToken: tok, EgoPoseToken: egoTok,
					CalibratedSensorToken: lidarCal, Timestamp: ts + 50_000, FileFormat: "pcd", IsKeyFrame: false,
					Filename: filepath.Join("sweeps", DefaultChannel, tok+".pcd.bin")},
				sampleDataRecord{Token: "sd-cam-" + tok, SampleToken: tok, EgoPoseToken: egoTok,
					CalibratedSensorToken: camCal, Timestamp: ts, FileFormat: "jpg", IsKeyFrame: true,
					Filename: filepath.Join("samples", "CAM_FRONT", tok+".jpg")},
			)
			if !sc.SkipSweepFiles {
				if err := os.WriteFile(filepath.Join(dataroot, file), EncodeSweep(smp.Points), 0o644); err != nil {
					return err
				}
			}

			for b, box := range smp.Boxes {
				catTok, ok := catTokens[box.Category]
				if !ok {
					catTok = fmt.Sprintf("cat-%d", len(catT))
					catTokens[box.Category] = catTok
					catT = append(catT, categoryRecord{Token: catTok, Name: box.Category})
				}
				instTok := fmt.Sprintf("inst-%s-%d", tok, b)
				instT = append(instT, instanceRecord{Token: instTok, CategoryToken: catTok})
				q := yawQuat(box.Yaw)
				annT = append(annT, annotationRecord{
					Token:         fmt.Sprintf("ann-%s-%d", tok, b),
					SampleToken:   tok,
					InstanceToken: instTok,
					Translation:   []float64{box.X, box.Y, box.Z},
					Size:          []float64{box.Width, box.Length, box.Height},
					Rotation:      []float64{q.Real, q.Imag, q.Jmag, q.Kmag},
					NumLidarPts:   box.NumLidarPts,
				})
			}
		}
		sceneT = append(sceneT, rec)
	}

	tables := map[string]any{
		tableScene:            sceneT,
		tableSample:           sampleT,
		tableSampleData:       sampleDataT,
		tableSampleAnnotation: annT,
		tableInstance:         instT,
		tableCategory:         catT,
		tableCalibratedSensor: calT,
		tableEgoPose:          egoT,
		tableSensor:           sensorT,
	}
	for name, rows := range tables {
		data, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
