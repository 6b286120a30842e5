package protocol

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

var (
	// ErrLinkIO is returned when the transport fails during a send.
	ErrLinkIO = errors.New("protocol: link i/o error")

	// ErrLinkUnavailable is returned when the transport cannot be opened.
	ErrLinkUnavailable = errors.New("protocol: link unavailable")
)

// DefaultKeepaliveInterval is how often a keepalive is sent to hold off the
// slave's watchdog.
const DefaultKeepaliveInterval = 30 * time.Second

// rxQueue bounds received packets waiting for Poll. Older telemetry is
// worthless once newer has arrived, so overflow drops.
const rxQueue = 64

// Health records link activity used to schedule keepalives.
type Health struct {
	LastKeepaliveSent time.Time
	LastRx            time.Time
}

// Stats counts link traffic since open.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	SendErrors      uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	UnknownPackets  uint64
	Dropped         uint64
}

// LinkOptions tunes a Link. Zero values select the defaults.
type LinkOptions struct {
	KeepaliveInterval time.Duration
	Now               func() time.Time
}

// Link sends packets to the slave and collects what it sends back.
//
// Sends must come from a single goroutine so that frames never interleave.
// A background goroutine reads the transport; received packets are picked
// up with Poll.
type Link struct {
	port      io.ReadWriteCloser
	now       func() time.Time
	keepalive time.Duration

	mu     sync.Mutex
	health Health
	stats  Stats

	rx        chan Packet
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLink wraps an open transport and starts its receive goroutine.
func NewLink(port io.ReadWriteCloser, opts LinkOptions) *Link {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Link{
		port:      port,
		now:       opts.Now,
		keepalive: opts.KeepaliveInterval,
		rx:        make(chan Packet, rxQueue),
		done:      make(chan struct{}),
	}
	l.health.LastKeepaliveSent = l.now()
	l.wg.Add(1)
	go l.readLoop()
	return l
}

// Send encodes and writes p. Failures are returned as ErrLinkIO and are not
// retried.
func (l *Link) Send(p Packet) error {
	return l.SendPacket(p.Type(), p.Payload())
}

// SendPacket encodes and writes a raw packet.
func (l *Link) SendPacket(typ byte, payload []byte) error {
	frame, err := EncodeFrame(typ, payload)
	if err != nil {
		return err
	}
	n, err := l.port.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.stats.SendErrors++
		return fmt.Errorf("%w: packet 0x%02X: %w", ErrLinkIO, typ, err)
	}
	l.stats.PacketsSent++
	return nil
}

// KeepaliveDue reports whether the keepalive interval has elapsed.
func (l *Link) KeepaliveDue(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.health.LastKeepaliveSent) >= l.keepalive
}

// SendKeepaliveIfDue sends a keepalive when the interval has elapsed.
// It reports whether one was attempted. The interval restarts even if the
// send fails, so a dead link is retried at keepalive pace, not every tick.
func (l *Link) SendKeepaliveIfDue(now time.Time) (bool, error) {
	if !l.KeepaliveDue(now) {
		return false, nil
	}
	l.mu.Lock()
	l.health.LastKeepaliveSent = now
	l.mu.Unlock()
	return true, l.Send(Keepalive{})
}

// Poll returns every packet received since the last call without blocking.
func (l *Link) Poll() []Packet {
	var out []Packet
	for {
		select {
		case p := <-l.rx:
			out = append(out, p)
		default:
			return out
		}
	}
}

// Wait blocks until a packet arrives or timeout elapses.
func (l *Link) Wait(timeout time.Duration) (Packet, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-l.rx:
		return p, true
	case <-timer.C:
		return nil, false
	case <-l.done:
		return nil, false
	}
}

// Health returns a copy of the link health.
func (l *Link) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

// Stats returns a copy of the traffic counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			l.receive(dec, buf[:n])
		}
		if err != nil {
			select {
			case <-l.done:
			default:
				log.Printf("link: read error, receive stopped: %v", err)
			}
			return
		}
		select {
		case <-l.done:
			return
		default:
		}
	}
}

func (l *Link) receive(dec *Decoder, data []byte) {
	var packets []Packet
	var unknown uint64
	for _, f := range dec.Feed(data) {
		p, err := Decode(f)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				unknown++
			} else {
				dec.FramingErrors++
			}
			continue
		}
		packets = append(packets, p)
	}

	l.mu.Lock()
	l.stats.ChecksumErrors = dec.ChecksumErrors
	l.stats.FramingErrors = dec.FramingErrors
	l.stats.UnknownPackets += unknown
	if len(packets) > 0 {
		l.stats.PacketsReceived += uint64(len(packets))
		l.health.LastRx = l.now()
	}
	l.mu.Unlock()

	for _, p := range packets {
		select {
		case l.rx <- p:
		default:
			l.mu.Lock()
			l.stats.Dropped++
			l.mu.Unlock()
		}
	}
}

// Close stops the receive goroutine and closes the transport.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.port.Close()
		l.wg.Wait()
	})
	return err
}
