// replay runs recorded detection cycles through the pose pipeline offline
// and prints the smoothed pose after each cycle, plus a closing summary.
// Useful for tuning smoothing parameters against captured footage without
// the detection service running.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arview/posebridge/internal/detect"
	"github.com/arview/posebridge/internal/pose"
	"github.com/arview/posebridge/internal/session"
	"github.com/arview/posebridge/internal/timeutil"
)

func main() {
	var fixturesPath string
	var markerID int
	var markerSize float64
	var alpha float64
	var ticksPerCycle int

	flag.StringVar(&fixturesPath, "fixtures", "fixtures.jsonl", "path to recorded detection cycles (one JSON message per line)")
	flag.IntVar(&markerID, "marker", 6, "marker id to track")
	flag.Float64Var(&markerSize, "size", 0.1, "marker edge length in metres")
	flag.Float64Var(&alpha, "alpha", 0.1, "per-tick smoothing factor in (0, 1]")
	flag.IntVar(&ticksPerCycle, "ticks", 6, "render ticks to run between cycles")
	flag.Parse()

	if alpha <= 0 || alpha > 1 {
		log.Fatalf("alpha must be in (0, 1], got %f", alpha)
	}

	f, err := os.Open(fixturesPath)
	if err != nil {
		log.Fatalf("failed to open fixtures: %v", err)
	}
	defer f.Close()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	smootherCfg := pose.DefaultSmootherConfig()
	smootherCfg.Alpha = alpha
	sess := session.New(session.Config{
		TrackedMarkerID:    markerID,
		MarkerPhysicalSize: markerSize,
		Smoother:           smootherCfg,
	}, nil, clock)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		c, err := detect.ParseCycle(line)
		if err != nil {
			log.Printf("line %d: skipping malformed cycle: %v", lineNo, err)
			continue
		}

		sess.HandleCycle(c)
		for i := 0; i < ticksPerCycle; i++ {
			sess.Tick()
			clock.Advance(time.Second / 60)
		}

		if d, ok := sess.DisplayPose(); ok {
			fmt.Printf("frame %d  pos=(%.4f, %.4f, %.4f)  rot=(%.4f, %.4f, %.4f)  scale=%.3f  conf=%.3f  tier=%s\n",
				c.FrameID,
				d.Position.X, d.Position.Y, d.Position.Z,
				d.Rotation.X, d.Rotation.Y, d.Rotation.Z,
				d.Scale, d.Confidence, d.Tier)
		} else {
			fmt.Printf("frame %d  marker %d not visible\n", c.FrameID, markerID)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read fixtures: %v", err)
	}

	stats := sess.Snapshot()
	fmt.Printf("\nreplayed %d cycles: %d detections, %d misses, %d indeterminate, %d rejected\n",
		stats.Cycles, stats.Detections, stats.Misses, stats.Indeterminate, stats.Rejected)
}
