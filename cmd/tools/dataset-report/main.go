package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/cnnseg-dataset/internal/db"
)

func main() {
	saveDir := flag.String("save_dir", "", "dataset directory holding manifest.db")
	runID := flag.String("run", "", "run id to report on; empty means the latest run")
	out := flag.String("out", "", "HTML report path; empty writes report-<run>.html")
	list := flag.Bool("list", false, "list recorded runs instead of writing a report")
	flag.Parse()

	if *saveDir == "" {
		log.Fatal("--save_dir is required")
	}
	path := filepath.Join(*saveDir, db.ManifestFile)
	if _, err := os.Stat(path); err != nil {
		log.Fatalf("manifest %s not accessible: %v", path, err)
	}
	manifest, err := db.Open(path)
	if err != nil {
		log.Fatalf("open manifest: %v", err)
	}
	defer manifest.Close()

	if *list {
		if err := ListRuns(os.Stdout, manifest); err != nil {
			log.Fatalf("list runs: %v", err)
		}
		return
	}
	path, err = WriteReport(manifest, *runID, *out)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	log.Printf("report written to %s", path)
}
