// Package pose turns 2-D fiducial marker observations into smoothed 3-D
// display poses. The estimator is a pure function from marker corner
// geometry to a raw pose; the smoother maintains the temporally filtered
// pose sampled by the renderer.
package pose

// Point is a 2-D point in image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec3 is a 3-D vector in scene units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MarkerObservation is one detected marker from a single detection cycle.
// Corners are ordered top-left, top-right, bottom-right, bottom-left.
type MarkerObservation struct {
	ID      int
	Corners [4]Point
	Center  Point
}

// RawPose is a per-cycle pose estimate before smoothing.
type RawPose struct {
	Position   Vec3    `json:"position"`
	Rotation   Vec3    `json:"rotation"` // Euler angles (x, y, z) in radians
	Scale      float64 `json:"scale"`
	Confidence float64 `json:"confidence"` // [0, 1]
}

// Tier is the presentational confidence tier used by the renderer for
// overlay colouring.
type Tier string

const (
	TierHigh   Tier = "high"   // confidence > 0.7
	TierMedium Tier = "medium" // confidence > 0.4
	TierLow    Tier = "low"
)

// TierFor maps a confidence value to its display tier.
func TierFor(confidence float64) Tier {
	switch {
	case confidence > 0.7:
		return TierHigh
	case confidence > 0.4:
		return TierMedium
	default:
		return TierLow
	}
}

// DisplayPose is the temporally smoothed pose sampled once per render tick.
type DisplayPose struct {
	Position   Vec3    `json:"position"`
	Rotation   Vec3    `json:"rotation"`
	Scale      float64 `json:"scale"`
	Confidence float64 `json:"confidence"`
	Tier       Tier    `json:"tier"`
}
