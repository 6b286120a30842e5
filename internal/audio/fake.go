package audio

import "sync"

// Call is one recorded Player call.
type Call struct {
	Op      string // "play" or "stop"
	Channel int
	Sound   Sound
	Opts    PlayOptions
	Mode    StopMode
}

// FakePlayer records calls. A channel plays from Play until Finish or an
// immediate Stop.
type FakePlayer struct {
	mu      sync.Mutex
	calls   []Call
	playing map[int]bool

	// PlayError, if set, is returned by Play.
	PlayError error
}

// NewFakePlayer creates a FakePlayer with every channel idle.
func NewFakePlayer() *FakePlayer {
	return &FakePlayer{playing: make(map[int]bool)}
}

// Play records the call and marks the channel playing.
func (f *FakePlayer) Play(channel int, sound Sound, opts PlayOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlayError != nil {
		return f.PlayError
	}
	if sound == "" {
		return ErrNoSound
	}
	f.calls = append(f.calls, Call{Op: "play", Channel: channel, Sound: sound, Opts: opts})
	f.playing[channel] = true
	return nil
}

// Stop records the call. An immediate stop idles the channel.
func (f *FakePlayer) Stop(channel int, mode StopMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "stop", Channel: channel, Mode: mode})
	if mode == StopImmediate {
		f.playing[channel] = false
	}
	return nil
}

// IsPlaying reports whether the channel is playing.
func (f *FakePlayer) IsPlaying(channel int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing[channel]
}

// Finish simulates the channel's sound reaching its end.
func (f *FakePlayer) Finish(channel int) {
	f.mu.Lock()
	f.playing[channel] = false
	f.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (f *FakePlayer) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Reset clears recorded calls.
func (f *FakePlayer) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}
