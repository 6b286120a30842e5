// Package gpio provides timestamped edge events from GPIO inputs.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"time"
)

// Edge is a signal transition on an input line.
type Edge int

const (
	EdgeRising Edge = iota + 1
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	}
	return "unknown"
}

// ErrTimeout is returned when no matching edge arrives within the wait bound.
var ErrTimeout = errors.New("gpio: edge wait timed out")

// ErrClosed is returned by waits on a closed source.
var ErrClosed = errors.New("gpio: source closed")

// EdgeSource delivers edges from a single input line.
type EdgeSource interface {
	// WaitEdge blocks until the next edge of the given kind, or until
	// timeout elapses (ErrTimeout). Edges of the other kind are skipped.
	// The returned timestamp is monotonic and only meaningful relative to
	// other timestamps from the same source.
	WaitEdge(edge Edge, timeout time.Duration) (time.Duration, error)

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO chip on a Raspberry Pi header.
const DefaultChip = "gpiochip0"

// edgeBuffer bounds the queue between the kernel event handler and waiters.
// At RC frame rates (50Hz, two edges per frame) this covers over a second.
const edgeBuffer = 128

type edgeEvent struct {
	edge Edge
	ts   time.Duration
}
