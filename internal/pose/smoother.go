package pose

import (
	"math"
	"sync"
	"time"

	"github.com/arview/posebridge/internal/timeutil"
)

// SmootherConfig holds tuning parameters for the pose smoother.
type SmootherConfig struct {
	Alpha           float64       // per-tick interpolation factor (0, 1]
	JitterAmplitude float64       // vertical hover amplitude (scene units)
	JitterPeriod    time.Duration // hover oscillation period
	JitterThreshold float64       // minimum smoothed confidence before hover applies
}

// DefaultSmootherConfig returns default smoother configuration.
func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{
		Alpha:           0.1,
		JitterAmplitude: 0.02,
		JitterPeriod:    3 * time.Second,
		JitterThreshold: 0.5,
	}
}

// Smoother maintains a temporally stable display pose from a stream of noisy
// per-cycle raw poses. Observe is called from the detection path at whatever
// cadence cycles arrive; Tick is called once per render frame on the
// renderer's own clock. The two run on different goroutines, so all state is
// mutex-guarded.
//
// The smoothed pose is only ever advanced by Tick; Observe never overwrites
// an existing smoothed pose, so all visible motion is interpolated except the
// very first appearance of a marker.
type Smoother struct {
	mu       sync.Mutex
	cfg      SmootherConfig
	clock    timeutil.Clock
	epoch    time.Time
	current  *RawPose // smoothed base value, never carries hover offset
	target   *RawPose
	markerID int
}

// NewSmoother creates a smoother. A nil clock falls back to the real clock;
// the clock only drives the cosmetic hover offset, never the interpolation.
func NewSmoother(cfg SmootherConfig, clock timeutil.Clock) *Smoother {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultSmootherConfig().Alpha
	}
	if cfg.JitterPeriod <= 0 {
		cfg.JitterPeriod = DefaultSmootherConfig().JitterPeriod
	}
	return &Smoother{
		cfg:   cfg,
		clock: clock,
		epoch: clock.Now(),
	}
}

// Observe records a fresh raw pose as the new interpolation target. On the
// first observation for a tracking run the smoothed pose starts as an exact
// copy of the raw pose, so the first Tick has nothing to jump from.
func (s *Smoother) Observe(raw RawPose, markerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := raw
	s.target = &t
	s.markerID = markerID

	if s.current == nil {
		c := raw
		s.current = &c
	}
}

// Clear discards both the target and the smoothed pose. Called when the
// tracked marker is lost or the tracking target changes. Idempotent.
func (s *Smoother) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.target = nil
}

// Tick advances the smoothed pose one interpolation step toward the target.
// With no target the smoother is inert. Rotation is interpolated per Euler
// axis independently; this can show gimbal artifacts at large angular deltas
// but is kept deliberately so smoothing behaviour stays predictable.
func (s *Smoother) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target == nil || s.current == nil {
		return
	}

	a := s.cfg.Alpha
	s.current.Position = lerpVec3(s.current.Position, s.target.Position, a)
	s.current.Rotation = lerpVec3(s.current.Rotation, s.target.Rotation, a)
	s.current.Scale = lerp(s.current.Scale, s.target.Scale, a)
	s.current.Confidence = lerp(s.current.Confidence, s.target.Confidence, a)
}

// Display returns the pose to render this frame, or false when nothing is
// tracked. The hover offset is recomputed from the wall clock on every call
// and never written back into the smoothed state.
func (s *Smoother) Display() (DisplayPose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return DisplayPose{}, false
	}

	d := DisplayPose{
		Position:   s.current.Position,
		Rotation:   s.current.Rotation,
		Scale:      s.current.Scale,
		Confidence: s.current.Confidence,
		Tier:       TierFor(s.current.Confidence),
	}

	if s.current.Confidence > s.cfg.JitterThreshold && s.cfg.JitterAmplitude > 0 {
		phase := s.clock.Since(s.epoch).Seconds() / s.cfg.JitterPeriod.Seconds()
		d.Position.Y += s.cfg.JitterAmplitude * math.Sin(2*math.Pi*phase)
	}

	return d, true
}

// MarkerID returns the id of the marker the smoother was last fed, and
// whether any pose is currently held.
func (s *Smoother) MarkerID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markerID, s.current != nil
}

func lerp(from, to, a float64) float64 {
	return from + (to-from)*a
}

func lerpVec3(from, to Vec3, a float64) Vec3 {
	return Vec3{
		X: lerp(from.X, to.X, a),
		Y: lerp(from.Y, to.Y, a),
		Z: lerp(from.Z, to.Z, a),
	}
}
