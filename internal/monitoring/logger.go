// Package monitoring holds the process-wide log plumbing: the Logf hook used
// by packages without their own streams, and the ops/diag/trace level model
// shared by every package's SetLogWriters.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects how many log streams are enabled.
type Level int

const (
	LevelQuiet Level = iota // nothing
	LevelOps                // actionable warnings and errors
	LevelDiag               // plus run-level diagnostics
	LevelTrace              // plus per-sample transitions
)

var levelNames = []string{"quiet", "ops", "diag", "trace"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts the names printed by Level.String, case-insensitively.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelQuiet, fmt.Errorf("unknown log level %q (want one of %s)", s, strings.Join(levelNames, ", "))
}

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables its stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// WritersFor routes the streams enabled at level to w.
func WritersFor(level Level, w io.Writer) LogWriters {
	var lw LogWriters
	if level >= LevelOps {
		lw.Ops = w
	}
	if level >= LevelDiag {
		lw.Diag = w
	}
	if level >= LevelTrace {
		lw.Trace = w
	}
	return lw
}

// Apply calls each setter with the three writers. Setters are the
// SetLogWriters functions of the packages being configured.
func (lw LogWriters) Apply(setters ...func(ops, diag, trace io.Writer)) {
	for _, set := range setters {
		set(lw.Ops, lw.Diag, lw.Trace)
	}
}
