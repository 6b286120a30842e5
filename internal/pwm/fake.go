package pwm

import "sync"

// FakeReader is a Reader whose value is set directly by tests.
type FakeReader struct {
	mu    sync.Mutex
	us    uint32
	valid bool
}

// NewFakeReader returns a FakeReader with no value yet.
func NewFakeReader() *FakeReader {
	return &FakeReader{}
}

// Set sets the value returned by ReadAverage.
func (f *FakeReader) Set(us uint32) {
	f.mu.Lock()
	f.us = us
	f.valid = true
	f.mu.Unlock()
}

// Clear returns the reader to the never-measured state.
func (f *FakeReader) Clear() {
	f.mu.Lock()
	f.us = 0
	f.valid = false
	f.mu.Unlock()
}

// ReadAverage returns the value last passed to Set.
func (f *FakeReader) ReadAverage() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.us, f.valid
}
