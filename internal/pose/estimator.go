package pose

import (
	"errors"
	"fmt"
	"math"
)

// ErrIndeterminatePose is returned when marker geometry is too degenerate to
// produce a finite pose. Callers treat it exactly like "marker not found this
// cycle": no pose is emitted and no NaN/Inf ever leaves the estimator.
var ErrIndeterminatePose = errors.New("indeterminate pose: degenerate marker geometry")

// Estimator tuning constants. The depth model is an uncalibrated heuristic
// (no camera intrinsics): apparent polygon area stands in for distance, and
// trapezoidal foreshortening stands in for out-of-plane rotation.
const (
	// MinPolygonArea is the smallest corner polygon area (px²) accepted
	// before the estimate is declared indeterminate.
	MinPolygonArea = 1e-6

	distanceScale   = 5.0  // multiplier on the sqrt(expected/observed) area ratio
	positionDamping = 0.5  // scales normalized centre into scene units
	depthPush       = 0.1  // fraction of distance pushed along -Z
	tiltDamping     = 0.25 // scales trapezoid-derived tilt angles

	confidenceAreaRef = 1000.0 // area (px²) at which the size penalty saturates
	scaleAreaRef      = 5000.0 // area (px²) mapping to unit display scale
	minScale          = 0.5
	maxScale          = 2.0
)

// EstimateContext carries the per-deployment and per-frame context a marker
// observation is interpreted against.
type EstimateContext struct {
	MarkerPhysicalSize float64 // real-world marker edge length (metres)
	ImageWidth         int     // pixel width of the detection frame
	ImageHeight        int     // pixel height of the detection frame
}

func (ec EstimateContext) validate() error {
	if ec.MarkerPhysicalSize <= 0 {
		return fmt.Errorf("marker physical size must be positive, got %v", ec.MarkerPhysicalSize)
	}
	if ec.ImageWidth <= 0 || ec.ImageHeight <= 0 {
		return fmt.Errorf("image dimensions must be positive, got %dx%d", ec.ImageWidth, ec.ImageHeight)
	}
	return nil
}

// Estimate maps a marker observation to a raw 3-D pose. It is pure and
// deterministic: same observation and context, same pose. Degenerate corner
// geometry yields ErrIndeterminatePose.
func Estimate(obs MarkerObservation, ec EstimateContext) (RawPose, error) {
	if err := ec.validate(); err != nil {
		return RawPose{}, err
	}

	area := polygonArea(obs.Corners)
	if area < MinPolygonArea {
		return RawPose{}, ErrIndeterminatePose
	}

	// Uncalibrated depth proxy: a marker of the expected physical size
	// projecting to a larger apparent area is closer.
	expectedArea := (ec.MarkerPhysicalSize * 1000) * (ec.MarkerPhysicalSize * 1000)
	distance := math.Sqrt(expectedArea/area) * distanceScale

	// Map the centre into [-1, 1] with the vertical axis flipped
	// (image y grows down, scene y grows up).
	nx := (obs.Center.X/float64(ec.ImageWidth))*2 - 1
	ny := -((obs.Center.Y/float64(ec.ImageHeight))*2 - 1)

	// In-plane rotation from the top edge direction.
	rotZ := math.Atan2(obs.Corners[1].Y-obs.Corners[0].Y, obs.Corners[1].X-obs.Corners[0].X)

	top := edgeLength(obs.Corners[0], obs.Corners[1])
	right := edgeLength(obs.Corners[1], obs.Corners[2])
	bottom := edgeLength(obs.Corners[2], obs.Corners[3])
	left := edgeLength(obs.Corners[3], obs.Corners[0])

	// Out-of-plane tilt from trapezoidal foreshortening: unequal opposite
	// edges mean the marker plane is rotated away from the camera.
	rotX := normalizedDiff(top, bottom) * (math.Pi / 2) * tiltDamping
	rotY := normalizedDiff(left, right) * (math.Pi / 2) * tiltDamping

	confidence := deriveConfidence(top, right, bottom, left, area)

	return RawPose{
		Position: Vec3{
			X: nx * distance * positionDamping,
			Y: ny * distance * positionDamping,
			Z: -distance * depthPush,
		},
		Rotation:   Vec3{X: rotX, Y: rotY, Z: rotZ},
		Scale:      clamp(area/scaleAreaRef, minScale, maxScale),
		Confidence: confidence,
	}, nil
}

// ValidateCorners checks the transport-layer corner list before it is
// narrowed into a MarkerObservation. A count other than four is a data
// contract violation by the detection service.
func ValidateCorners(corners []Point) error {
	if len(corners) != 4 {
		return fmt.Errorf("expected 4 corners, got %d", len(corners))
	}
	for i := 0; i < len(corners); i++ {
		for j := i + 1; j < len(corners); j++ {
			if corners[i] == corners[j] {
				return fmt.Errorf("coincident corners at %d and %d", i, j)
			}
		}
	}
	return nil
}

// polygonArea computes the absolute polygon area of the corner quad via the
// shoelace formula.
func polygonArea(c [4]Point) float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return math.Abs(sum) / 2
}

func edgeLength(a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// normalizedDiff returns (a-b) relative to the longer edge, in [-1, 1].
func normalizedDiff(a, b float64) float64 {
	m := math.Max(a, b)
	if m <= 0 {
		return 0
	}
	return (a - b) / m
}

// deriveConfidence combines how square the projected quad looks (aspect
// ratio of mean horizontal to mean vertical edge) with a saturating area
// term that penalises very small markers.
func deriveConfidence(top, right, bottom, left, area float64) float64 {
	horizontal := (top + bottom) / 2
	vertical := (left + right) / 2
	if vertical <= 0 {
		return 0
	}
	aspect := horizontal / vertical

	squareness := math.Max(0, 1-math.Abs(aspect-1)*2)
	sizeTerm := math.Min(1, area/confidenceAreaRef)
	return clamp(squareness*sizeTerm, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
