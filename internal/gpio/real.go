//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Chip is the single owner of the GPIO character device. Lines are
// requested through it and released with it.
type Chip struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*RealEdgeSource
}

// OpenChip opens the named GPIO chip (e.g. "gpiochip0").
func OpenChip(name string) (*Chip, error) {
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("helifx"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{
		chip:  chip,
		lines: make(map[int]*RealEdgeSource),
	}, nil
}

// EdgeSource requests pin as an input reporting both edges.
func (c *Chip) EdgeSource(pin int) (EdgeSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chip == nil {
		return nil, ErrClosed
	}
	if _, ok := c.lines[pin]; ok {
		return nil, fmt.Errorf("gpio pin %d already requested", pin)
	}

	src := &RealEdgeSource{
		pin:    pin,
		events: make(chan edgeEvent, edgeBuffer),
		done:   make(chan struct{}),
	}
	line, err := c.chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(src.handle))
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}
	src.line = line
	src.release = func() { c.release(pin) }
	c.lines[pin] = src
	return src, nil
}

func (c *Chip) release(pin int) {
	c.mu.Lock()
	delete(c.lines, pin)
	c.mu.Unlock()
}

// Close releases every line still held and then the chip itself.
func (c *Chip) Close() error {
	c.mu.Lock()
	lines := make([]*RealEdgeSource, 0, len(c.lines))
	for _, l := range c.lines {
		lines = append(lines, l)
	}
	c.mu.Unlock()

	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealEdgeSource reads kernel-timestamped edges from one line.
type RealEdgeSource struct {
	pin     int
	line    *gpiocdev.Line
	events  chan edgeEvent
	done    chan struct{}
	once    sync.Once
	release func()
}

// handle runs on the gpiocdev event goroutine and must not block.
func (s *RealEdgeSource) handle(evt gpiocdev.LineEvent) {
	e := EdgeFalling
	if evt.Type == gpiocdev.LineEventRisingEdge {
		e = EdgeRising
	}
	select {
	case s.events <- edgeEvent{edge: e, ts: evt.Timestamp}:
	default:
		// Queue full: the consumer is not measuring, drop.
	}
}

// WaitEdge blocks until the next edge of the given kind or timeout.
func (s *RealEdgeSource) WaitEdge(edge Edge, timeout time.Duration) (time.Duration, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.events:
			if ev.edge == edge {
				return ev.ts, nil
			}
		case <-timer.C:
			return 0, ErrTimeout
		case <-s.done:
			return 0, ErrClosed
		}
	}
}

// Close reconfigures the line to a plain pulled-down input (Pi boot default)
// and releases it.
func (s *RealEdgeSource) Close() error {
	var errs []error
	s.once.Do(func() {
		close(s.done)
		if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", s.pin, err))
		}
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", s.pin, err))
		}
		if s.release != nil {
			s.release()
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
