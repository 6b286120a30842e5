package gpio

import (
	"sync"
	"time"
)

// Pulse is one scripted high pulse for FakeEdgeSource.
type Pulse struct {
	// Width is the high time of the pulse.
	Width time.Duration

	// Dropout makes the wait that would start this pulse time out instead.
	Dropout bool
}

// fakeFrame is the spacing between scripted pulses (a 50Hz RC frame).
const fakeFrame = 20 * time.Millisecond

// FakeEdgeSource is a test double that replays scripted pulses as
// falling, rising, falling edge triples.
type FakeEdgeSource struct {
	mu sync.Mutex

	// Pulses contains the scripted pulses. Each is consumed once.
	Pulses []Pulse

	// Closed tracks if Close was called.
	Closed bool

	index   int
	pending []edgeEvent
	clock   time.Duration
}

// NewFakeEdgeSource creates a FakeEdgeSource replaying the given pulses.
func NewFakeEdgeSource(pulses ...Pulse) *FakeEdgeSource {
	return &FakeEdgeSource{Pulses: pulses}
}

// Widths is shorthand for building a pulse script from microsecond widths.
func Widths(us ...int) []Pulse {
	pulses := make([]Pulse, len(us))
	for i, w := range us {
		pulses[i] = Pulse{Width: time.Duration(w) * time.Microsecond}
	}
	return pulses
}

// Add appends pulses to the script.
func (f *FakeEdgeSource) Add(pulses ...Pulse) {
	f.mu.Lock()
	f.Pulses = append(f.Pulses, pulses...)
	f.mu.Unlock()
}

// Remaining returns the number of pulses not yet started.
func (f *FakeEdgeSource) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Pulses) - f.index
}

// WaitEdge returns the next scripted edge of the given kind.
// When the script is exhausted it returns ErrTimeout after a short sleep so
// that a measurement loop does not spin.
func (f *FakeEdgeSource) WaitEdge(edge Edge, timeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	for {
		if f.Closed {
			f.mu.Unlock()
			return 0, ErrClosed
		}
		if len(f.pending) == 0 {
			if f.index >= len(f.Pulses) {
				f.mu.Unlock()
				time.Sleep(min(timeout, time.Millisecond))
				return 0, ErrTimeout
			}
			p := f.Pulses[f.index]
			f.index++
			if p.Dropout {
				f.mu.Unlock()
				return 0, ErrTimeout
			}
			start := f.clock + time.Millisecond
			f.pending = append(f.pending,
				edgeEvent{edge: EdgeFalling, ts: f.clock},
				edgeEvent{edge: EdgeRising, ts: start},
				edgeEvent{edge: EdgeFalling, ts: start + p.Width},
			)
			f.clock += fakeFrame
		}
		ev := f.pending[0]
		f.pending = f.pending[1:]
		if ev.edge == edge {
			f.mu.Unlock()
			return ev.ts, nil
		}
	}
}

// Close marks the source as closed.
func (f *FakeEdgeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
