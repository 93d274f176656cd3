package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/cnnseg-dataset/internal/db"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/monitor"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/pipeline"
)

// serveDebug starts the /debug server on addr and returns a function that
// shuts it down.
func serveDebug(addr string, manifest *db.DB, snapshot func() pipeline.Progress, report func() (*monitor.RunReport, error)) (func(), error) {
	mux := http.NewServeMux()
	if err := manifest.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	monitor.AttachProgressRoutes(mux, snapshot, report)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("debug server: %v", err)
		}
	}()
	log.Printf("debug routes on http://%s/debug/", ln.Addr())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("debug server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("debug server force close error: %v", err)
			}
		}
	}, nil
}
