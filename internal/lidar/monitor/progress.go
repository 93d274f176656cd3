package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/cnnseg-dataset/internal/httputil"
	"github.com/banshee-data/cnnseg-dataset/internal/lidar/pipeline"
)

// AttachProgressRoutes mounts /debug/progress (JSON snapshot of the running
// conversion) and, when report is non-nil, /debug/report (HTML run report)
// on mux's tsweb debug index.
func AttachProgressRoutes(mux *http.ServeMux, snapshot func() pipeline.Progress, report func() (*RunReport, error)) {
	debug := tsweb.Debugger(mux)
	debug.Handle("progress", "Conversion progress", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, snapshot())
	}))
	if report == nil {
		return
	}
	debug.Handle("report", "Run report", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet) {
			return
		}
		rep, err := report()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build report: %v", err))
			return
		}
		var buf bytes.Buffer
		if err := RenderRunReport(&buf, rep); err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render report: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}))
}
