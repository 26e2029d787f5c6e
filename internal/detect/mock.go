package detect

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/arview/posebridge/internal/timeutil"
)

// MockPort implements Port for dev mode and tests. Reads replay canned
// detection lines; writes (outbound frames) are recorded and discarded.
type MockPort struct {
	io.Reader

	writeMu sync.Mutex
	writes  [][]byte

	closeOnce sync.Once
	closer    io.Closer
}

func (p *MockPort) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.writes = append(p.writes, cp)
	return len(b), nil
}

// Writes returns a copy of everything written to the port so far.
func (p *MockPort) Writes() [][]byte {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *MockPort) Close() error {
	p.closeOnce.Do(func() {
		if p.closer != nil {
			p.closer.Close()
		}
	})
	return nil
}

// NewMockDetectorMux creates a DetectorMux backed by a mock port that
// replays the given fixture lines (one JSON detection message per line) in
// a loop, one line per interval. Used by -dev mode when no detection
// service is reachable.
func NewMockDetectorMux(fixtures []byte, interval time.Duration, clock timeutil.Clock) *DetectorMux {
	lines := bytes.Split(bytes.TrimSpace(fixtures), []byte("\n"))

	dial := func(ctx context.Context) (Port, error) {
		r, w := io.Pipe()
		port := &MockPort{Reader: r, closer: r}

		// Replay fixture lines until the port is closed.
		go func() {
			defer w.Close()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			i := 0
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				line := append(append([]byte{}, lines[i%len(lines)]...), '\n')
				if _, err := w.Write(line); err != nil {
					return
				}
				i++
			}
		}()

		return port, nil
	}

	return newDetectorMux(dial, clock)
}

// NewPortDetectorMux creates a DetectorMux over a pre-built port. Tests use
// this to drive the monitor loop with scripted input. Once the port is
// exhausted, reconnect attempts get a port that blocks until the context is
// cancelled, so the monitor loop idles instead of spinning.
func NewPortDetectorMux(port Port, clock timeutil.Clock) *DetectorMux {
	first := true
	return newDetectorMux(func(ctx context.Context) (Port, error) {
		if first {
			first = false
			return port, nil
		}
		return &idlePort{done: ctx.Done()}, nil
	}, clock)
}

// idlePort blocks reads until the context ends.
type idlePort struct {
	done <-chan struct{}
}

func (p *idlePort) Read([]byte) (int, error) {
	<-p.done
	return 0, io.EOF
}

func (p *idlePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *idlePort) Close() error                { return nil }
