// Package detect maintains the socket to the external marker detection
// service. A single connection carries JPEG frames out and detection cycles
// back, one JSON object per line; the mux fans parsed cycles out to any
// number of subscribers.
package detect

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arview/posebridge/internal/monitoring"
	"github.com/arview/posebridge/internal/timeutil"
)

// ErrNotConnected is returned when a frame is submitted while the detection
// service connection is down.
var ErrNotConnected = errors.New("detection service not connected")

// Reconnect backoff bounds for the monitor loop.
const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// maxLineBytes bounds a single detection message; frames go the other
	// way, so inbound lines are small.
	maxLineBytes = 1 << 20
)

// Port is the byte stream to the detection service.
type Port interface {
	io.Reader
	io.Writer
	Close() error
}

// DetectorMux multiplexes one detection service connection to multiple
// subscribers and serialises outbound frame writes.
type DetectorMux struct {
	dial func(context.Context) (Port, error)

	portMu sync.Mutex
	port   Port

	subscriberMu sync.Mutex
	subscribers  map[string]chan Cycle

	sendMu sync.Mutex

	closingMu sync.Mutex
	closing   bool

	clock       timeutil.Clock
	nextFrameID atomic.Int64
}

// MuxInterface defines the operations the rest of the bridge uses against
// the detector connection.
type MuxInterface interface {
	// Subscribe creates a new channel receiving parsed detection cycles.
	// The returned id identifies the channel when unsubscribing.
	Subscribe() (string, chan Cycle)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// SendFrame submits a JPEG frame to the detection service and returns
	// the frame id it was tagged with.
	SendFrame(jpeg []byte, width, height int, quality float64) (int64, error)
	// Monitor keeps the connection alive and fans out detection cycles
	// until the context is cancelled.
	Monitor(context.Context) error
	// Close tears down the connection and all subscriber channels.
	Close() error
}

// NewDetectorMux creates a mux that dials the detection service at addr
// (TCP, newline-delimited JSON).
func NewDetectorMux(addr string, clock timeutil.Clock) *DetectorMux {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return newDetectorMux(func(ctx context.Context) (Port, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial detection service at %s: %w", addr, err)
		}
		return conn, nil
	}, clock)
}

func newDetectorMux(dial func(context.Context) (Port, error), clock timeutil.Clock) *DetectorMux {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DetectorMux{
		dial:        dial,
		subscribers: make(map[string]chan Cycle),
		clock:       clock,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new cycle channel. Delivery is best-effort: a
// subscriber that falls behind misses cycles rather than stalling the
// connection.
func (m *DetectorMux) Subscribe() (string, chan Cycle) {
	id := randomID()
	ch := make(chan Cycle, 1)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (m *DetectorMux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendFrame writes a frame message to the detection service.
func (m *DetectorMux) SendFrame(jpeg []byte, width, height int, quality float64) (int64, error) {
	m.portMu.Lock()
	port := m.port
	m.portMu.Unlock()
	if port == nil {
		return 0, ErrNotConnected
	}

	id := m.nextFrameID.Add(1)
	payload, err := json.Marshal(frameMessage{
		Type:    messageTypeFrame,
		FrameID: id,
		Width:   width,
		Height:  height,
		Quality: quality,
		JPEG:    jpeg,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal frame message: %w", err)
	}
	payload = append(payload, '\n')

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	n, err := port.Write(payload)
	if err != nil {
		return 0, err
	}
	if n != len(payload) {
		return 0, fmt.Errorf("short write to detection service: %d of %d bytes", n, len(payload))
	}
	return id, nil
}

// Monitor keeps the detection connection alive, parsing each inbound line
// and fanning cycles out to subscribers. On read or dial failure it backs
// off exponentially (capped) and reconnects until the context is cancelled
// or the mux is closed.
func (m *DetectorMux) Monitor(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.isClosing() {
			return nil
		}

		port, err := m.dial(ctx)
		if err != nil {
			monitoring.Logf("detection dial failed, retrying in %v: %v", backoff, err)
			if !m.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		m.portMu.Lock()
		m.port = port
		m.portMu.Unlock()
		backoff = initialBackoff
		monitoring.Logf("connected to detection service")

		err = m.readLoop(ctx, port)

		m.portMu.Lock()
		m.port = nil
		m.portMu.Unlock()
		port.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.isClosing() {
			return nil
		}
		monitoring.Logf("detection connection lost, reconnecting: %v", err)
	}
}

func (m *DetectorMux) readLoop(ctx context.Context, port Port) error {
	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		cycle, err := ParseCycle(line)
		if err != nil {
			// Contract violation by the service: drop the message, keep
			// the connection.
			monitoring.Logf("dropping malformed detection message: %v", err)
			continue
		}
		monitoring.Debugf("cycle frame=%d markers=%d", cycle.FrameID, len(cycle.Markers))
		m.publish(cycle)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// publish fans a cycle out to all subscribers without blocking. A full
// subscriber channel is drained of its stale cycle first so the subscriber
// always sees the newest data.
func (m *DetectorMux) publish(c Cycle) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- c:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c:
			default:
			}
		}
	}
}

// Close closes all subscribed channels and the underlying connection.
func (m *DetectorMux) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()

	m.portMu.Lock()
	port := m.port
	m.port = nil
	m.portMu.Unlock()
	if port != nil {
		return port.Close()
	}
	return nil
}

func (m *DetectorMux) isClosing() bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing
}

// sleep waits for d on the mux clock, returning false if the context is
// cancelled first.
func (m *DetectorMux) sleep(ctx context.Context, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.clock.Sleep(d)
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
