package nuscenes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Table file names under <dataroot>/<version>/.
const (
	tableScene            = "scene.json"
	tableSample           = "sample.json"
	tableSampleData       = "sample_data.json"
	tableSampleAnnotation = "sample_annotation.json"
	tableInstance         = "instance.json"
	tableCategory         = "category.json"
	tableCalibratedSensor = "calibrated_sensor.json"
	tableEgoPose          = "ego_pose.json"
	tableSensor           = "sensor.json"
)

// maxTableSize caps a single metadata table (v1.0-trainval's largest table
// is under 600 MB).
const maxTableSize = 2 << 30

type sceneRecord struct {
	Token            string `json:"token"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	NbrSamples       int    `json:"nbr_samples"`
	FirstSampleToken string `json:"first_sample_token"`
	LastSampleToken  string `json:"last_sample_token"`
}

type sampleRecord struct {
	Token      string `json:"token"`
	Timestamp  int64  `json:"timestamp"`
	Prev       string `json:"prev"`
	Next       string `json:"next"`
	SceneToken string `json:"scene_token"`
}

type sampleDataRecord struct {
	Token                 string `json:"token"`
	SampleToken           string `json:"sample_token"`
	EgoPoseToken          string `json:"ego_pose_token"`
	CalibratedSensorToken string `json:"calibrated_sensor_token"`
	Timestamp             int64  `json:"timestamp"`
	FileFormat            string `json:"fileformat"`
	IsKeyFrame            bool   `json:"is_key_frame"`
	Filename              string `json:"filename"`
}

type annotationRecord struct {
	Token         string    `json:"token"`
	SampleToken   string    `json:"sample_token"`
	InstanceToken string    `json:"instance_token"`
	Translation   []float64 `json:"translation"`
	Size          []float64 `json:"size"`
	Rotation      []float64 `json:"rotation"`
	NumLidarPts   int       `json:"num_lidar_pts"`
}

type instanceRecord struct {
	Token         string `json:"token"`
	CategoryToken string `json:"category_token"`
}

type categoryRecord struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type calibratedSensorRecord struct {
	Token       string    `json:"token"`
	SensorToken string    `json:"sensor_token"`
	Translation []float64 `json:"translation"`
	Rotation    []float64 `json:"rotation"`
}

type egoPoseRecord struct {
	Token       string    `json:"token"`
	Timestamp   int64     `json:"timestamp"`
	Translation []float64 `json:"translation"`
	Rotation    []float64 `json:"rotation"`
}

type sensorRecord struct {
	Token    string `json:"token"`
	Channel  string `json:"channel"`
	Modality string `json:"modality"`
}

// readTable decodes one JSON array table into out.
func readTable(dir, name string, out any) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxTableSize {
		return fmt.Errorf("table %s is too large (%d bytes)", name, info.Size())
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// index builds a token → record map, rejecting duplicate tokens.
func index[T any](name string, records []T, token func(T) string) (map[string]T, error) {
	m := make(map[string]T, len(records))
	for _, r := range records {
		tok := token(r)
		if _, dup := m[tok]; dup {
			return nil, fmt.Errorf("table %s: duplicate token %q", name, tok)
		}
		m[tok] = r
	}
	return m, nil
}
