package detect

import (
	"context"
	"errors"
	"time"

	"github.com/arview/posebridge/internal/monitoring"
	"github.com/arview/posebridge/internal/timeutil"
)

// FrameSource produces JPEG stills for the detection service. Camera
// acquisition itself lives outside the bridge; this is the whole contract.
type FrameSource interface {
	// CaptureJPEG returns one JPEG-encoded frame at the given quality
	// (0, 1], plus its pixel dimensions.
	CaptureJPEG(ctx context.Context, quality float64) (jpeg []byte, width, height int, err error)
}

// RunCapture captures frames from src once per interval and submits them to
// the detection service until the context is cancelled. Capture or send
// failures are logged and skipped; the loop only stops with the context.
func RunCapture(ctx context.Context, clock timeutil.Clock, m MuxInterface, src FrameSource, interval time.Duration, quality float64) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		jpeg, w, h, err := src.CaptureJPEG(ctx, quality)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			monitoring.Logf("frame capture failed: %v", err)
			continue
		}

		if _, err := m.SendFrame(jpeg, w, h, quality); err != nil {
			if errors.Is(err, ErrNotConnected) {
				monitoring.Debugf("skipping frame, detector not connected")
				continue
			}
			monitoring.Logf("frame submit failed: %v", err)
		}
	}
}
