package detect

import (
	"encoding/json"
	"fmt"

	"github.com/arview/posebridge/internal/pose"
)

// Cycle is one round of detection results for a single captured frame: zero
// or more marker observations plus the pixel dimensions they are expressed
// in.
type Cycle struct {
	FrameID     int64
	ImageWidth  int
	ImageHeight int
	Markers     []pose.MarkerObservation
}

// Find returns the observation for the given marker id, if present in the
// cycle.
func (c Cycle) Find(markerID int) (pose.MarkerObservation, bool) {
	for _, m := range c.Markers {
		if m.ID == markerID {
			return m, true
		}
	}
	return pose.MarkerObservation{}, false
}

// Wire messages exchanged with the detection service. One JSON object per
// line in both directions.
type cycleMessage struct {
	Type    string          `json:"type"`
	FrameID int64           `json:"frame_id"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
	Markers []markerMessage `json:"markers"`
}

type markerMessage struct {
	ID      int          `json:"id"`
	Corners [][2]float64 `json:"corners"`
	Center  [2]float64   `json:"center"`
}

type frameMessage struct {
	Type    string  `json:"type"`
	FrameID int64   `json:"frame_id"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Quality float64 `json:"quality"`
	JPEG    []byte  `json:"jpeg"` // base64-encoded by encoding/json
}

const (
	messageTypeDetections = "detections"
	messageTypeFrame      = "frame"
)

// ParseCycle parses one line from the detection service into a Cycle. A
// malformed message (bad JSON, wrong type, non-positive dimensions, corner
// count other than four) is a data contract violation by the service and is
// rejected in full rather than partially accepted.
func ParseCycle(line []byte) (Cycle, error) {
	var msg cycleMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return Cycle{}, fmt.Errorf("failed to unmarshal detection message: %w", err)
	}
	if msg.Type != messageTypeDetections {
		return Cycle{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if msg.Width <= 0 || msg.Height <= 0 {
		return Cycle{}, fmt.Errorf("non-positive image dimensions %dx%d", msg.Width, msg.Height)
	}

	c := Cycle{
		FrameID:     msg.FrameID,
		ImageWidth:  msg.Width,
		ImageHeight: msg.Height,
		Markers:     make([]pose.MarkerObservation, 0, len(msg.Markers)),
	}

	for i, m := range msg.Markers {
		corners := make([]pose.Point, len(m.Corners))
		for j, pt := range m.Corners {
			corners[j] = pose.Point{X: pt[0], Y: pt[1]}
		}
		if err := pose.ValidateCorners(corners); err != nil {
			return Cycle{}, fmt.Errorf("marker %d (id %d): %w", i, m.ID, err)
		}

		obs := pose.MarkerObservation{
			ID:     m.ID,
			Center: pose.Point{X: m.Center[0], Y: m.Center[1]},
		}
		copy(obs.Corners[:], corners)
		c.Markers = append(c.Markers, obs)
	}

	return c, nil
}
