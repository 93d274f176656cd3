package main

import (
	"flag"
	"log"
	"os"

	"github.com/banshee-data/cnnseg-dataset/internal/fsutil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/storage/dataset"
)

func main() {
	saveDir := flag.String("save_dir", "", "dataset directory written by create-dataset")
	id := flag.Int("id", 0, "data id of the sample to inspect")
	out := flag.String("out", "", "write PNG previews of every channel into this directory")
	flag.Parse()

	if *saveDir == "" {
		log.Fatal("--save_dir is required")
	}
	r, err := dataset.OpenReader(fsutil.OSFileSystem{}, *saveDir)
	if err != nil {
		log.Fatalf("open dataset: %v", err)
	}
	if err := Inspect(os.Stdout, r, *id); err != nil {
		log.Fatalf("inspect %d: %v", *id, err)
	}
	if *out != "" {
		if err := WritePreviews(r, *id, *out); err != nil {
			log.Fatalf("previews: %v", err)
		}
		log.Printf("previews written to %s", *out)
	}
}
