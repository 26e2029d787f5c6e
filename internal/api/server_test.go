package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/arview/posebridge/internal/detect"
	"github.com/arview/posebridge/internal/pose"
	"github.com/arview/posebridge/internal/session"
	"github.com/arview/posebridge/internal/storage"
	"github.com/arview/posebridge/internal/timeutil"
)

func newTestServer(t *testing.T) (*Server, *session.Session, *storage.Store) {
	t.Helper()

	store, err := storage.NewStore(t.TempDir() + "/poses.db")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := session.New(session.Config{
		TrackedMarkerID:    6,
		MarkerPhysicalSize: 0.1,
		Smoother:           pose.DefaultSmootherConfig(),
	}, store, clock)

	return NewServer(s, store), s, store
}

func trackedCycle(markerID int) detect.Cycle {
	return detect.Cycle{
		FrameID:     1,
		ImageWidth:  320,
		ImageHeight: 240,
		Markers: []pose.MarkerObservation{{
			ID: markerID,
			Corners: [4]pose.Point{
				{X: 0, Y: 0},
				{X: 100, Y: 0},
				{X: 100, Y: 100},
				{X: 0, Y: 100},
			},
			Center: pose.Point{X: 50, Y: 50},
		}},
	}
}

func TestPoseNotTracked(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pose", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before tracking starts, got %d", rec.Code)
	}
}

func TestPoseReturnsDisplayPose(t *testing.T) {
	srv, s, _ := newTestServer(t)
	mux := srv.ServeMux()

	s.HandleCycle(trackedCycle(6))
	s.Tick()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pose", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var d pose.DisplayPose
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("failed to decode pose: %v", err)
	}
	if d.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", d.Confidence)
	}
	if d.Tier != pose.TierHigh {
		t.Errorf("expected high tier, got %q", d.Tier)
	}
}

func TestPoseMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pose", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestTrackingGetAndSet(t *testing.T) {
	srv, s, _ := newTestServer(t)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tracking", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats session.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TrackedMarkerID != 6 {
		t.Errorf("expected tracked marker 6, got %d", stats.TrackedMarkerID)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tracking", strings.NewReader(`{"marker_id": 11}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.TrackedMarker() != 11 {
		t.Errorf("expected tracked marker switched to 11, got %d", s.TrackedMarker())
	}
}

func TestTrackingPostValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	cases := []struct {
		name string
		body string
	}{
		{name: "missing marker_id", body: `{}`},
		{name: "bad json", body: `{"marker_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/tracking", strings.NewReader(tc.body))
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	srv, s, _ := newTestServer(t)
	mux := srv.ServeMux()

	s.HandleCycle(trackedCycle(6))
	s.HandleCycle(trackedCycle(6))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var records []storage.PoseRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHistoryEmptyIsJSONArray(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty JSON array, got %q", got)
	}
}

func TestSummary(t *testing.T) {
	srv, s, _ := newTestServer(t)
	mux := srv.ServeMux()

	s.HandleCycle(trackedCycle(6))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary storage.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}

	want := storage.Summary{
		SessionID:      s.ID,
		PoseCount:      1,
		MeanConfidence: 1.0,
		P95Confidence:  1.0,
		MeanScale:      2.0,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreDisabled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := session.New(session.Config{
		TrackedMarkerID:    6,
		MarkerPhysicalSize: 0.1,
		Smoother:           pose.DefaultSmootherConfig(),
	}, nil, clock)
	mux := NewServer(s, nil).ServeMux()

	for _, path := range []string{"/history", "/summary"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 when recording disabled, got %d", path, rec.Code)
		}
	}
}
