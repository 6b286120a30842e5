package serial

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// fakeReadTimeout mimics a port read timeout so readers can poll for close.
const fakeReadTimeout = 5 * time.Millisecond

// FakePort is an in-memory transport. Writes are recorded; bytes passed to
// Inject are returned by Read.
type FakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	pending []byte
	closed  bool

	incoming chan []byte
	done     chan struct{}

	// WriteError, if set, is returned by Write.
	WriteError error
}

// NewFakePort creates an open FakePort.
func NewFakePort() *FakePort {
	return &FakePort{
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Write records p.
func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	if f.WriteError != nil {
		return 0, f.WriteError
	}
	return f.written.Write(p)
}

// Read returns injected bytes, or (0, nil) after a short timeout when there
// are none, or io.EOF once closed.
func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	select {
	case data := <-f.incoming:
		n := copy(p, data)
		if n < len(data) {
			f.mu.Lock()
			f.pending = append(f.pending, data[n:]...)
			f.mu.Unlock()
		}
		return n, nil
	case <-f.done:
		return 0, io.EOF
	case <-time.After(fakeReadTimeout):
		return 0, nil
	}
}

// Inject queues bytes to be read, as if sent by the slave.
func (f *FakePort) Inject(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.incoming <- buf
}

// Written returns a copy of everything written so far.
func (f *FakePort) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.written.Bytes())
}

// ResetWritten discards the recorded writes.
func (f *FakePort) ResetWritten() {
	f.mu.Lock()
	f.written.Reset()
	f.mu.Unlock()
}

// SetWriteError sets the error returned by Write.
func (f *FakePort) SetWriteError(err error) {
	f.mu.Lock()
	f.WriteError = err
	f.mu.Unlock()
}

// Closed reports whether Close was called.
func (f *FakePort) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close closes the port. Closing twice is allowed.
func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}
