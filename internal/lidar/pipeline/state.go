package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/cnnseg-dataset/internal/lidar/nuscenes"
)

// State is the position of a work item in the conversion state machine.
type State uint8

const (
	StatePending State = iota
	StateLoaded
	StateRasterized
	StateLabeled
	StateWritten
	StateFailed
)

var stateNames = [...]string{"PENDING", "LOADED", "RASTERIZED", "LABELED", "WRITTEN", "FAILED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateWritten || s == StateFailed
}

// ErrInvalidTransition is returned when a work item is moved out of order.
var ErrInvalidTransition = errors.New("invalid state transition")

// WorkItem is one output sample: a keyframe and an augmentation index.
type WorkItem struct {
	DataID   int
	AugIndex int
	Ref      nuscenes.SampleRef

	State State
	// Stage is the last non-failed state reached.
	Stage State
	Err   error
}

// advance moves the item to the next state in line.
func (w *WorkItem) advance(to State) error {
	if w.State.Terminal() || to != w.State+1 || to == StateFailed {
		return fmt.Errorf("data id %d: %s → %s: %w", w.DataID, w.State, to, ErrInvalidTransition)
	}
	w.State = to
	w.Stage = to
	tracef("data id %d: %s", w.DataID, to)
	return nil
}

// fail moves a non-terminal item to FAILED, keeping the stage it reached.
func (w *WorkItem) fail(err error) {
	if w.State.Terminal() {
		return
	}
	w.Stage = w.State
	w.State = StateFailed
	w.Err = err
}

// DataID numbers the output samples: every keyframe owns augmentationNum+1
// consecutive ids, starting with the unaugmented copy.
func DataID(sampleIndex, augmentationNum, augIndex int) int {
	return sampleIndex*(augmentationNum+1) + augIndex
}

// Plan lists the work items for refs in data id order. A non-negative endID
// keeps only data ids below it.
func Plan(refs []nuscenes.SampleRef, augmentationNum, endID int) []WorkItem {
	var items []WorkItem
	for _, ref := range refs {
		for aug := 0; aug <= augmentationNum; aug++ {
			id := DataID(ref.Index, augmentationNum, aug)
			if endID >= 0 && id >= endID {
				return items
			}
			items = append(items, WorkItem{DataID: id, AugIndex: aug, Ref: ref})
		}
	}
	return items
}
