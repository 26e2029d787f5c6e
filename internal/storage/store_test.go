package storage

import (
	"math"
	"testing"
	"time"

	"github.com/arview/posebridge/internal/pose"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir() + "/poses.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePose(confidence float64) pose.RawPose {
	return pose.RawPose{
		Position:   pose.Vec3{X: 1, Y: 2, Z: -3},
		Rotation:   pose.Vec3{X: 0.1, Y: 0.2, Z: 0.3},
		Scale:      1.5,
		Confidence: confidence,
	}
}

func TestRecordAndRecentPoses(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateSession("sess-1", 6); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := s.RecordPose("sess-1", 6, samplePose(float64(i)/10), now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordPose %d failed: %v", i, err)
		}
	}

	records, err := s.RecentPoses("sess-1", 3)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// Newest first.
	if records[0].Pose.Confidence != 0.4 {
		t.Errorf("expected newest pose first (confidence 0.4), got %v", records[0].Pose.Confidence)
	}
	if records[0].MarkerID != 6 {
		t.Errorf("expected marker id 6, got %d", records[0].MarkerID)
	}
	if records[0].Pose.Position != (pose.Vec3{X: 1, Y: 2, Z: -3}) {
		t.Errorf("position did not round-trip: %+v", records[0].Pose.Position)
	}
}

func TestRecentPosesEmptySession(t *testing.T) {
	s := newTestStore(t)
	records, err := s.RecentPoses("nope", 10)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestSessionSummary(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", 6); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	now := time.Now()
	confidences := []float64{0.2, 0.4, 0.6, 0.8, 1.0}
	for i, c := range confidences {
		if err := s.RecordPose("sess-1", 6, samplePose(c), now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordPose failed: %v", err)
		}
	}

	summary, err := s.SessionSummary("sess-1")
	if err != nil {
		t.Fatalf("SessionSummary failed: %v", err)
	}

	if summary.PoseCount != 5 {
		t.Errorf("expected 5 poses, got %d", summary.PoseCount)
	}
	if math.Abs(summary.MeanConfidence-0.6) > 1e-9 {
		t.Errorf("expected mean confidence 0.6, got %v", summary.MeanConfidence)
	}
	if summary.StdDevConfidence <= 0 {
		t.Errorf("expected positive stddev, got %v", summary.StdDevConfidence)
	}
	if summary.P95Confidence < 0.8 || summary.P95Confidence > 1.0 {
		t.Errorf("p95 confidence out of range: %v", summary.P95Confidence)
	}
	if math.Abs(summary.MeanScale-1.5) > 1e-9 {
		t.Errorf("expected mean scale 1.5, got %v", summary.MeanScale)
	}
}

func TestSessionSummaryEmpty(t *testing.T) {
	s := newTestStore(t)
	summary, err := s.SessionSummary("missing")
	if err != nil {
		t.Fatalf("SessionSummary failed: %v", err)
	}
	if summary.PoseCount != 0 {
		t.Errorf("expected zero pose count, got %d", summary.PoseCount)
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession("sess-1", 6); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	now := time.Now()
	for i := 0; i < 4; i++ {
		at := now.Add(time.Duration(i-3) * time.Hour)
		if err := s.RecordPose("sess-1", 6, samplePose(0.5), at); err != nil {
			t.Fatalf("RecordPose failed: %v", err)
		}
	}

	pruned, err := s.PruneBefore(now.Add(-90 * time.Minute))
	if err != nil {
		t.Fatalf("PruneBefore failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned rows, got %d", pruned)
	}

	records, err := s.RecentPoses("sess-1", 10)
	if err != nil {
		t.Fatalf("RecentPoses failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 remaining records, got %d", len(records))
	}
}
