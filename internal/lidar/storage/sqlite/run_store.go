package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/cnnseg-dataset/internal/timeutil"
)

// ErrRunNotFound is returned when a run id is absent from the manifest.
var ErrRunNotFound = errors.New("conversion run not found")

// RunStatus is the lifecycle state of a conversion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// RunCounts are the outcome counters written when a run finishes.
type RunCounts struct {
	Total              int   `json:"total"`
	Succeeded          int   `json:"succeeded"`
	Failed             int   `json:"failed"`
	Skipped            int   `json:"skipped"`
	Cancelled          int   `json:"cancelled"`
	OutOfBoundsPoints  int64 `json:"oob_points"`
	OutOfBoundsObjects int64 `json:"oob_objects"`
}

// Run is one invocation of the converter against a save directory.
type Run struct {
	RunID      string          `json:"run_id"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
	Status     RunStatus       `json:"status"`
	Dataroot   string          `json:"dataroot"`
	Version    string          `json:"nusc_version"`
	SaveDir    string          `json:"save_dir"`
	ConfigHash string          `json:"config_hash"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Counts     RunCounts       `json:"counts"`
	Error      string          `json:"error,omitempty"`
}

// RunStore persists conversion runs.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore backed by db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock that stamps rows.
func (s *RunStore) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Insert records a new running run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.clock.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	cfg := string(run.ConfigJSON)
	if cfg == "" {
		cfg = "{}"
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO conversion_runs (
				run_id, started_at, status, dataroot, nusc_version, save_dir,
				config_hash, config_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.StartedAt, string(run.Status), run.Dataroot, run.Version, run.SaveDir,
			run.ConfigHash, cfg,
		)
		return err
	})
}

// Finish stores the final status and counters of a run.
func (s *RunStore) Finish(runID string, status RunStatus, counts RunCounts, errMsg string) error {
	var errVal interface{}
	if errMsg != "" {
		errVal = errMsg
	}
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE conversion_runs SET
				finished_at = ?, status = ?, total = ?, succeeded = ?, failed = ?,
				skipped = ?, cancelled = ?, oob_points = ?, oob_objects = ?, error = ?
			WHERE run_id = ?`,
			s.clock.Now().UnixNano(), string(status), counts.Total, counts.Succeeded, counts.Failed,
			counts.Skipped, counts.Cancelled, counts.OutOfBoundsPoints, counts.OutOfBoundsObjects, errVal,
			runID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, dataroot, nusc_version, save_dir,
	config_hash, config_json, total, succeeded, failed, skipped, cancelled,
	oob_points, oob_objects, error`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullInt64
		status   string
		cfg      string
		errMsg   sql.NullString
	)
	err := row.Scan(
		&r.RunID, &r.StartedAt, &finished, &status, &r.Dataroot, &r.Version, &r.SaveDir,
		&r.ConfigHash, &cfg, &r.Counts.Total, &r.Counts.Succeeded, &r.Counts.Failed,
		&r.Counts.Skipped, &r.Counts.Cancelled, &r.Counts.OutOfBoundsPoints, &r.Counts.OutOfBoundsObjects,
		&errMsg,
	)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finished.Int64
	r.Status = RunStatus(status)
	r.ConfigJSON = json.RawMessage(cfg)
	r.Error = errMsg.String
	return &r, nil
}

// Get returns a single run by id.
func (s *RunStore) Get(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM conversion_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return r, nil
}

// List returns every run, newest first.
func (s *RunStore) List() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM conversion_runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the most recently started run.
func (s *RunStore) Latest() (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT ` + runColumns + ` FROM conversion_runs ORDER BY started_at DESC, run_id LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}
