// Package pwm measures RC receiver pulse widths and keeps a smoothed value
// per input.
package pwm

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/helifx/internal/gpio"
)

// Accepted pulse range. Anything outside is a glitch, not a stick position.
const (
	MinPulseUs = 500
	MaxPulseUs = 3000
)

const (
	// DefaultWindow is the number of samples averaged (about 200ms at 50Hz).
	DefaultWindow = 10

	// DefaultTimeout bounds each edge wait. Two missed RC frames.
	DefaultTimeout = 50 * time.Millisecond
)

// ErrOutOfRange is returned for a measured pulse outside the accepted range.
var ErrOutOfRange = errors.New("pwm: pulse out of range")

// Reader exposes a smoothed pulse width. ok is false until the first
// successful measurement.
type Reader interface {
	ReadAverage() (us uint32, ok bool)
}

// Options tunes a Monitor. Zero values select the defaults.
type Options struct {
	Window  int
	Timeout time.Duration
}

// Monitor measures the high time of one input in its own goroutine and
// maintains a moving average of the last Window accepted samples.
//
// Only the measurement goroutine writes the average; ReadAverage is safe
// from any goroutine.
type Monitor struct {
	name    string
	src     gpio.EdgeSource
	timeout time.Duration

	// Ring of accepted samples, owned by the measuring goroutine.
	samples []uint32
	head    int
	count   int
	sum     uint64

	// average is -1 until the first sample.
	average atomic.Int64

	acquired bool
	lost     bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a Monitor reading from src. name is used in logs.
func NewMonitor(name string, src gpio.EdgeSource, opts Options) *Monitor {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	m := &Monitor{
		name:    name,
		src:     src,
		timeout: opts.Timeout,
		samples: make([]uint32, opts.Window),
	}
	m.average.Store(-1)
	return m
}

// Name returns the monitor's name.
func (m *Monitor) Name() string {
	return m.name
}

// MeasurePulse waits for a falling edge (to get out of a pulse already in
// progress), then a rising edge, then a falling edge, and returns the time
// between the last two. Each wait is bounded by the monitor timeout.
func (m *Monitor) MeasurePulse() (uint32, error) {
	if _, err := m.src.WaitEdge(gpio.EdgeFalling, m.timeout); err != nil {
		return 0, err
	}
	rise, err := m.src.WaitEdge(gpio.EdgeRising, m.timeout)
	if err != nil {
		return 0, err
	}
	fall, err := m.src.WaitEdge(gpio.EdgeFalling, m.timeout)
	if err != nil {
		return 0, err
	}
	width := (fall - rise).Microseconds()
	if width < MinPulseUs || width > MaxPulseUs {
		return 0, fmt.Errorf("%w: %dus", ErrOutOfRange, width)
	}
	return uint32(width), nil
}

// Sample measures one pulse and folds it into the average. On any error
// the previous average is left untouched.
func (m *Monitor) Sample() error {
	us, err := m.MeasurePulse()
	if err != nil {
		if errors.Is(err, gpio.ErrTimeout) && m.acquired && !m.lost {
			log.Printf("pwm %s: signal lost, holding %dus", m.name, m.average.Load())
			m.lost = true
		}
		return err
	}
	m.add(us)
	if !m.acquired {
		log.Printf("pwm %s: signal acquired (%dus)", m.name, us)
		m.acquired = true
	} else if m.lost {
		log.Printf("pwm %s: signal restored (%dus)", m.name, us)
	}
	m.lost = false
	return nil
}

func (m *Monitor) add(us uint32) {
	if m.count == len(m.samples) {
		m.sum -= uint64(m.samples[m.head])
	} else {
		m.count++
	}
	m.samples[m.head] = us
	m.sum += uint64(us)
	m.head = (m.head + 1) % len(m.samples)
	m.average.Store(int64(m.sum / uint64(m.count)))
}

// ReadAverage returns the current moving average in microseconds.
func (m *Monitor) ReadAverage() (uint32, bool) {
	v := m.average.Load()
	if v < 0 {
		return 0, false
	}
	return uint32(v), true
}

// Start launches the measurement goroutine. Calling Start on a running
// monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
}

func (m *Monitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := m.Sample(); errors.Is(err, gpio.ErrClosed) {
			return
		}
	}
}

// Stop signals the measurement goroutine and waits for it to exit. An
// in-flight measurement finishes or times out first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}
