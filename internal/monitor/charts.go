// Package monitor serves debugging chart pages rendered with go-echarts.
// These endpoints exist to eyeball tracking quality without a frontend:
// confidence over time and the marker's XY path through the scene.
package monitor

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/arview/posebridge/internal/httputil"
	"github.com/arview/posebridge/internal/session"
	"github.com/arview/posebridge/internal/storage"
)

const defaultChartPoints = 500

// WebServer renders the debug chart pages.
type WebServer struct {
	store   *storage.Store
	session *session.Session
}

// NewWebServer creates a chart server over the pose store.
func NewWebServer(store *storage.Store, s *session.Session) *WebServer {
	return &WebServer{store: store, session: s}
}

// AttachDebugRoutes mounts the chart endpoints on mux.
func (ws *WebServer) AttachDebugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts/confidence", ws.handleConfidenceChart)
	mux.HandleFunc("/debug/charts/path", ws.handlePathChart)
}

func (ws *WebServer) chartRecords(r *http.Request) ([]storage.PoseRecord, error) {
	limit := defaultChartPoints
	if v := r.URL.Query().Get("points"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}
	return ws.store.RecentPoses(ws.session.ID, limit)
}

// handleConfidenceChart renders a line chart (HTML) of recorded pose
// confidence, oldest to newest.
func (ws *WebServer) handleConfidenceChart(w http.ResponseWriter, r *http.Request) {
	records, err := ws.chartRecords(r)
	if err != nil {
		httputil.InternalServerError(w, "failed to load poses: "+err.Error())
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no poses recorded yet")
		return
	}

	// RecentPoses returns newest first; charts read left to right.
	xAxis := make([]string, 0, len(records))
	series := make([]opts.LineData, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		xAxis = append(xAxis, rec.RecordedAt.Format("15:04:05.000"))
		series = append(series, opts.LineData{Value: rec.Pose.Confidence})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Pose confidence",
			Subtitle: fmt.Sprintf("session %s, last %d poses", ws.session.ID, len(records)),
		}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(xAxis).AddSeries("confidence", series)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		httputil.InternalServerError(w, "failed to render chart: "+err.Error())
	}
}

// handlePathChart renders a scatter plot (HTML) of the marker's estimated
// XY path through the scene.
func (ws *WebServer) handlePathChart(w http.ResponseWriter, r *http.Request) {
	records, err := ws.chartRecords(r)
	if err != nil {
		httputil.InternalServerError(w, "failed to load poses: "+err.Error())
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no poses recorded yet")
		return
	}

	data := make([]opts.ScatterData, 0, len(records))
	for _, rec := range records {
		data = append(data, opts.ScatterData{
			Value: []interface{}{rec.Pose.Position.X, rec.Pose.Position.Y},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Marker path (scene XY)",
			Subtitle: fmt.Sprintf("session %s", ws.session.ID),
		}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
	)
	scatter.AddSeries("position", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		httputil.InternalServerError(w, "failed to render chart: "+err.Error())
	}
}
