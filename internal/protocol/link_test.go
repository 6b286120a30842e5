package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/helifx/internal/serial"
)

func newTestLink(t *testing.T, now func() time.Time) (*Link, *serial.FakePort) {
	t.Helper()
	port := serial.NewFakePort()
	l := NewLink(port, LinkOptions{KeepaliveInterval: 30 * time.Second, Now: now})
	t.Cleanup(func() { l.Close() })
	return l, port
}

func sentPackets(t *testing.T, port *serial.FakePort) []Packet {
	t.Helper()
	var out []Packet
	for _, f := range NewDecoder().Feed(port.Written()) {
		p, err := Decode(f)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func waitPackets(l *Link, n int) []Packet {
	var got []Packet
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		got = append(got, l.Poll()...)
		time.Sleep(time.Millisecond)
	}
	return got
}

func TestLinkSend(t *testing.T) {
	l, port := newTestLink(t, nil)

	if err := l.Send(TriggerOn{RPM: 600}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Send(SmokeHeat{On: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := sentPackets(t, port)
	if len(sent) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(sent))
	}
	if sent[0] != (TriggerOn{RPM: 600}) {
		t.Errorf("packet 0: got %#v", sent[0])
	}
	if sent[1] != (SmokeHeat{On: true}) {
		t.Errorf("packet 1: got %#v", sent[1])
	}
	if got := l.Stats().PacketsSent; got != 2 {
		t.Errorf("PacketsSent: got %d, want 2", got)
	}
}

func TestLinkSendError(t *testing.T) {
	l, port := newTestLink(t, nil)
	port.SetWriteError(errors.New("unplugged"))

	err := l.Send(Keepalive{})
	if !errors.Is(err, ErrLinkIO) {
		t.Fatalf("expected ErrLinkIO, got %v", err)
	}
	if got := l.Stats().SendErrors; got != 1 {
		t.Errorf("SendErrors: got %d, want 1", got)
	}
}

func TestLinkReceive(t *testing.T) {
	l, port := newTestLink(t, nil)

	ready, _ := Encode(InitReady{ModuleName: "GunFX"})
	status, _ := Encode(Status{Flags: StatusHeaterOn, RateOfFireRPM: 550})
	port.Inject(append(ready, status...))

	got := waitPackets(l, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(got))
	}
	if got[0] != (InitReady{ModuleName: "GunFX"}) {
		t.Errorf("packet 0: got %#v", got[0])
	}
	if s, ok := got[1].(Status); !ok || s.RateOfFireRPM != 550 || !s.Flags.Has(StatusHeaterOn) {
		t.Errorf("packet 1: got %#v", got[1])
	}
	if l.Health().LastRx.IsZero() {
		t.Error("LastRx should be set after receiving")
	}
	if got := l.Stats().PacketsReceived; got != 2 {
		t.Errorf("PacketsReceived: got %d, want 2", got)
	}
}

func TestLinkReceiveDropsCorruptFrames(t *testing.T) {
	l, port := newTestLink(t, nil)

	bad, _ := Encode(Status{})
	bad[1] ^= 0x01 // type byte
	unknown, _ := EncodeFrame(0x99, nil)
	good, _ := Encode(Ack{})
	port.Inject(append(append(bad, unknown...), good...))

	got := waitPackets(l, 1)
	if len(got) != 1 || got[0] != (Ack{}) {
		t.Fatalf("expected only ACK, got %#v", got)
	}
	st := l.Stats()
	if st.ChecksumErrors+st.FramingErrors != 1 {
		t.Errorf("expected 1 corrupt frame, got checksum=%d framing=%d", st.ChecksumErrors, st.FramingErrors)
	}
	if st.UnknownPackets != 1 {
		t.Errorf("UnknownPackets: got %d, want 1", st.UnknownPackets)
	}
}

func TestLinkWait(t *testing.T) {
	l, port := newTestLink(t, nil)

	if _, ok := l.Wait(10 * time.Millisecond); ok {
		t.Fatal("expected timeout with nothing received")
	}

	frame, _ := Encode(InitReady{ModuleName: "x"})
	port.Inject(frame)
	p, ok := l.Wait(2 * time.Second)
	if !ok {
		t.Fatal("expected a packet")
	}
	if _, isReady := p.(InitReady); !isReady {
		t.Errorf("got %#v, want InitReady", p)
	}
}

func TestLinkKeepalive(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, port := newTestLink(t, func() time.Time { return start })

	if sent, _ := l.SendKeepaliveIfDue(start.Add(29 * time.Second)); sent {
		t.Fatal("keepalive sent before interval")
	}
	sent, err := l.SendKeepaliveIfDue(start.Add(30 * time.Second))
	if !sent || err != nil {
		t.Fatalf("expected keepalive at 30s, got (%v, %v)", sent, err)
	}
	if got := l.Health().LastKeepaliveSent; !got.Equal(start.Add(30 * time.Second)) {
		t.Errorf("LastKeepaliveSent: got %v", got)
	}
	if sent, _ := l.SendKeepaliveIfDue(start.Add(45 * time.Second)); sent {
		t.Error("keepalive sent again before interval")
	}

	packets := sentPackets(t, port)
	if len(packets) != 1 || packets[0] != (Keepalive{}) {
		t.Errorf("expected one keepalive on the wire, got %#v", packets)
	}
}

func TestLinkKeepaliveFailureRestartsInterval(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l, port := newTestLink(t, func() time.Time { return start })
	port.SetWriteError(errors.New("unplugged"))

	sent, err := l.SendKeepaliveIfDue(start.Add(31 * time.Second))
	if !sent || !errors.Is(err, ErrLinkIO) {
		t.Fatalf("expected attempted keepalive with ErrLinkIO, got (%v, %v)", sent, err)
	}
	if l.KeepaliveDue(start.Add(32 * time.Second)) {
		t.Error("keepalive should not be due right after a failed attempt")
	}
}

func TestLinkClose(t *testing.T) {
	port := serial.NewFakePort()
	l := NewLink(port, LinkOptions{})

	done := make(chan struct{})
	go func() {
		l.Close()
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	if !port.Closed() {
		t.Error("port should be closed")
	}
}
