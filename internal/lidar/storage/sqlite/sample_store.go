package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/cnnseg-dataset/internal/timeutil"
)

// ErrSampleNotFound is returned when a data id has no status row.
var ErrSampleNotFound = errors.New("sample status not found")

// StateWritten and StateFailed are the terminal sample states the stores
// query by.
const (
	StateWritten = "WRITTEN"
	StateFailed  = "FAILED"
)

// SampleStatus is the manifest row of one output sample.
type SampleStatus struct {
	DataID      int    `json:"data_id"`
	RunID       string `json:"run_id"`
	SampleToken string `json:"sample_token"`
	SceneName   string `json:"scene_name"`
	AugIndex    int    `json:"aug_index"`
	// State is the current state; Stage is the last state reached before
	// a failure and equals State otherwise.
	State              string         `json:"state"`
	Stage              string         `json:"stage"`
	Error              string         `json:"error,omitempty"`
	ConfigHash         string         `json:"config_hash"`
	Points             int            `json:"points"`
	OutOfBoundsPoints  int            `json:"oob_points"`
	ObjectsEncoded     int            `json:"objects_encoded"`
	OutOfBoundsObjects int            `json:"oob_objects"`
	ClassCells         map[string]int `json:"class_cells,omitempty"`
	UpdatedAt          int64          `json:"updated_at"`
}

// SampleStore persists per-sample conversion status.
type SampleStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewSampleStore creates a SampleStore backed by db.
func NewSampleStore(db *sql.DB) *SampleStore {
	return &SampleStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock that stamps rows.
func (s *SampleStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Upsert replaces the status row of st.DataID and its class cell counts.
func (s *SampleStore) Upsert(st *SampleStatus) error {
	if st.UpdatedAt == 0 {
		st.UpdatedAt = s.clock.Now().UnixNano()
	}
	if st.Stage == "" {
		st.Stage = st.State
	}
	var errVal interface{}
	if st.Error != "" {
		errVal = st.Error
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			INSERT INTO sample_status (
				data_id, run_id, sample_token, scene_name, aug_index, state, stage, error,
				config_hash, points, oob_points, objects_encoded, oob_objects, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(data_id) DO UPDATE SET
				run_id = excluded.run_id, sample_token = excluded.sample_token,
				scene_name = excluded.scene_name, aug_index = excluded.aug_index,
				state = excluded.state, stage = excluded.stage, error = excluded.error,
				config_hash = excluded.config_hash, points = excluded.points,
				oob_points = excluded.oob_points, objects_encoded = excluded.objects_encoded,
				oob_objects = excluded.oob_objects, updated_at = excluded.updated_at`,
			st.DataID, st.RunID, st.SampleToken, st.SceneName, st.AugIndex, st.State, st.Stage, errVal,
			st.ConfigHash, st.Points, st.OutOfBoundsPoints, st.ObjectsEncoded, st.OutOfBoundsObjects, st.UpdatedAt,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sample_class_cells WHERE data_id = ?`, st.DataID); err != nil {
			return err
		}
		for class, cells := range st.ClassCells {
			if _, err := tx.Exec(`INSERT INTO sample_class_cells (data_id, class, cells) VALUES (?, ?, ?)`,
				st.DataID, class, cells); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

const sampleColumns = `data_id, run_id, sample_token, scene_name, aug_index, state, stage, error,
	config_hash, points, oob_points, objects_encoded, oob_objects, updated_at`

func scanSample(row scanner) (*SampleStatus, error) {
	var (
		st     SampleStatus
		errMsg sql.NullString
	)
	err := row.Scan(
		&st.DataID, &st.RunID, &st.SampleToken, &st.SceneName, &st.AugIndex, &st.State, &st.Stage, &errMsg,
		&st.ConfigHash, &st.Points, &st.OutOfBoundsPoints, &st.ObjectsEncoded, &st.OutOfBoundsObjects, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Error = errMsg.String
	return &st, nil
}

// Get returns the status of one data id, including class cell counts.
func (s *SampleStore) Get(dataID int) (*SampleStatus, error) {
	st, err := scanSample(s.db.QueryRow(`SELECT `+sampleColumns+` FROM sample_status WHERE data_id = ?`, dataID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data id %d: %w", dataID, ErrSampleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sample %d: %w", dataID, err)
	}
	rows, err := s.db.Query(`SELECT class, cells FROM sample_class_cells WHERE data_id = ?`, dataID)
	if err != nil {
		return nil, fmt.Errorf("query class cells: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			class string
			cells int
		)
		if err := rows.Scan(&class, &cells); err != nil {
			return nil, err
		}
		if st.ClassCells == nil {
			st.ClassCells = make(map[string]int)
		}
		st.ClassCells[class] = cells
	}
	return st, rows.Err()
}

// WrittenIDs returns the data ids already written with configHash.
func (s *SampleStore) WrittenIDs(configHash string) (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT data_id FROM sample_status WHERE state = ? AND config_hash = ?`,
		StateWritten, configHash)
	if err != nil {
		return nil, fmt.Errorf("query written samples: %w", err)
	}
	defer rows.Close()

	ids := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ListByRun returns the rows last touched by runID in data id order.
func (s *SampleStore) ListByRun(runID string) ([]*SampleStatus, error) {
	return s.list(`WHERE run_id = ?`, runID)
}

// Failures returns the failed rows of runID in data id order.
func (s *SampleStore) Failures(runID string) ([]*SampleStatus, error) {
	return s.list(`WHERE run_id = ? AND state = ?`, runID, StateFailed)
}

func (s *SampleStore) list(where string, args ...interface{}) ([]*SampleStatus, error) {
	rows, err := s.db.Query(`SELECT `+sampleColumns+` FROM sample_status `+where+` ORDER BY data_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []*SampleStatus
	for rows.Next() {
		st, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StageCount is the number of failures that stopped at one stage.
type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// FailureStages groups the failures of runID by the stage reached, most
// frequent first.
func (s *SampleStore) FailureStages(runID string) ([]StageCount, error) {
	rows, err := s.db.Query(`
		SELECT stage, COUNT(*) FROM sample_status
		WHERE run_id = ? AND state = ?
		GROUP BY stage`, runID, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("query failure stages: %w", err)
	}
	defer rows.Close()

	var out []StageCount
	for rows.Next() {
		var sc StageCount
		if err := rows.Scan(&sc.Stage, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Stage < out[j].Stage
	})
	return out, nil
}

// ClassCellTotals sums the labelled cells per class over the written
// samples of runID.
func (s *SampleStore) ClassCellTotals(runID string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT c.class, SUM(c.cells) FROM sample_class_cells c
		JOIN sample_status s ON s.data_id = c.data_id
		WHERE s.run_id = ? AND s.state = ?
		GROUP BY c.class`, runID, StateWritten)
	if err != nil {
		return nil, fmt.Errorf("query class cells: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			class string
			n     int64
		)
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		out[class] = n
	}
	return out, rows.Err()
}
