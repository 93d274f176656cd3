package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/cnnseg-dataset/internal/db"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/monitor"
	sqlite "github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/sqlite"
	"github.com/banshee-data/cnnseg-dataset/internal/security"
)

// ListRuns prints one line per recorded run, newest first.
func ListRuns(w io.Writer, manifest *db.DB) error {
	runs, err := sqlite.NewRunStore(manifest.DB).List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tVERSION\tTOTAL\tWRITTEN\tFAILED\tSKIPPED\tCANCELLED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.RunID, time.Unix(0, r.StartedAt).UTC().Format(time.RFC3339), r.Status, r.Version,
			r.Counts.Total, r.Counts.Succeeded, r.Counts.Failed, r.Counts.Skipped, r.Counts.Cancelled)
	}
	return tw.Flush()
}

// WriteReport renders the HTML report of runID (latest when empty) to path
// and returns the path written. An empty path names the file after the run
// in the current directory.
func WriteReport(manifest *db.DB, runID, path string) (written string, err error) {
	rep, err := monitor.BuildRunReport(sqlite.NewRunStore(manifest.DB), sqlite.NewSampleStore(manifest.DB), runID)
	if err != nil {
		return "", err
	}
	if path == "" {
		path = security.SanitizeFilename("report-"+rep.Run.RunID) + ".html"
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return path, monitor.RenderRunReport(f, rep)
}
