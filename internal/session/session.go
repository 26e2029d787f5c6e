// Package session ties the detection stream to the pose pipeline: it
// selects the tracked marker out of each detection cycle, runs the
// estimator, feeds the smoother, and drives the render-rate tick loop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arview/posebridge/internal/detect"
	"github.com/arview/posebridge/internal/monitoring"
	"github.com/arview/posebridge/internal/pose"
	"github.com/arview/posebridge/internal/timeutil"
)

// Config holds the parameters of one tracking session.
type Config struct {
	TrackedMarkerID    int
	MarkerPhysicalSize float64
	RenderRate         time.Duration // interval between smoother ticks
	Smoother           pose.SmootherConfig
}

// Stats is a snapshot of session counters.
type Stats struct {
	SessionID       string `json:"session_id"`
	TrackedMarkerID int    `json:"tracked_marker_id"`
	Cycles          int64  `json:"cycles"`
	Detections      int64  `json:"detections"`
	Misses          int64  `json:"misses"`
	Indeterminate   int64  `json:"indeterminate"`
	Rejected        int64  `json:"rejected"`
	Tracking        bool   `json:"tracking"`
}

// PoseRecorder receives every accepted raw pose. Implemented by the storage
// layer; nil disables recording.
type PoseRecorder interface {
	CreateSession(sessionID string, markerID int) error
	RecordPose(sessionID string, markerID int, p pose.RawPose, at time.Time) error
}

// Session owns one smoother and the identity of the marker being tracked.
// HandleCycle runs on the detection path; Tick (via Run) on the render
// clock.
type Session struct {
	ID string

	mu         sync.Mutex
	trackedID  int
	markerSize float64
	smoother   *pose.Smoother

	cycles        int64
	detections    int64
	misses        int64
	indeterminate int64
	rejected      int64

	clock      timeutil.Clock
	renderRate time.Duration
	recorder   PoseRecorder
}

// New creates a session. recorder may be nil; clock may be nil for the real
// clock.
func New(cfg Config, recorder PoseRecorder, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	renderRate := cfg.RenderRate
	if renderRate <= 0 {
		renderRate = time.Second / 60
	}

	s := &Session{
		ID:         uuid.New().String(),
		trackedID:  cfg.TrackedMarkerID,
		markerSize: cfg.MarkerPhysicalSize,
		smoother:   pose.NewSmoother(cfg.Smoother, clock),
		clock:      clock,
		renderRate: renderRate,
		recorder:   recorder,
	}

	if recorder != nil {
		if err := recorder.CreateSession(s.ID, cfg.TrackedMarkerID); err != nil {
			monitoring.Logf("failed to record session start: %v", err)
		}
	}
	return s
}

// HandleCycle processes one detection cycle. When the tracked marker is
// present its estimate becomes the new smoothing target; an indeterminate
// estimate leaves the previous target untouched; a missing marker clears
// the smoother entirely.
func (s *Session) HandleCycle(c detect.Cycle) {
	s.mu.Lock()
	trackedID := s.trackedID
	markerSize := s.markerSize
	s.cycles++
	s.mu.Unlock()

	obs, found := c.Find(trackedID)
	if !found {
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()
		s.smoother.Clear()
		return
	}

	raw, err := pose.Estimate(obs, pose.EstimateContext{
		MarkerPhysicalSize: markerSize,
		ImageWidth:         c.ImageWidth,
		ImageHeight:        c.ImageHeight,
	})
	if err != nil {
		s.mu.Lock()
		if errors.Is(err, pose.ErrIndeterminatePose) {
			// Degenerate geometry counts as "no estimate this cycle"; the
			// previous target persists to avoid flicker.
			s.indeterminate++
		} else {
			s.rejected++
			monitoring.Logf("pose estimate rejected: %v", err)
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.detections++
	s.mu.Unlock()

	s.smoother.Observe(raw, obs.ID)

	if s.recorder != nil {
		if err := s.recorder.RecordPose(s.ID, obs.ID, raw, s.clock.Now()); err != nil {
			monitoring.Logf("failed to record pose: %v", err)
		}
	}
}

// Tick advances the smoother one render step.
func (s *Session) Tick() {
	s.smoother.Tick()
}

// DisplayPose returns the pose to render this frame, or false when nothing
// is tracked.
func (s *Session) DisplayPose() (pose.DisplayPose, bool) {
	return s.smoother.Display()
}

// SetTrackedMarker switches the tracked marker. Changing target drops all
// smoothing state so the new marker starts cleanly.
func (s *Session) SetTrackedMarker(id int) {
	s.mu.Lock()
	changed := id != s.trackedID
	s.trackedID = id
	s.mu.Unlock()
	if changed {
		s.smoother.Clear()
	}
}

// TrackedMarker returns the currently tracked marker id.
func (s *Session) TrackedMarker() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackedID
}

// Snapshot returns the current session counters.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, tracking := s.smoother.Display()
	return Stats{
		SessionID:       s.ID,
		TrackedMarkerID: s.trackedID,
		Cycles:          s.cycles,
		Detections:      s.detections,
		Misses:          s.misses,
		Indeterminate:   s.indeterminate,
		Rejected:        s.rejected,
		Tracking:        tracking,
	}
}

// Run consumes detection cycles from the mux and drives the render-rate
// tick loop until the context is cancelled.
func (s *Session) Run(ctx context.Context, mux detect.MuxInterface) error {
	id, cycles := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ticker := s.clock.NewTicker(s.renderRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-cycles:
			if !ok {
				return nil
			}
			s.HandleCycle(c)
		case <-ticker.C():
			s.Tick()
		}
	}
}
