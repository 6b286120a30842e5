// Package audio defines the playback contract the effect controllers use.
// Decoding and mixing belong to whatever implements Player.
package audio

import (
	"errors"
	"time"
)

// Sound is an opaque handle to a sound, typically a file path. Empty means
// no sound is configured.
type Sound string

// Channels used by the effects. Each channel plays one sound at a time.
const (
	ChannelEngine = 0
	ChannelGun    = 1
)

// StopMode selects how a channel is stopped.
type StopMode int

const (
	// StopImmediate cuts the sound off.
	StopImmediate StopMode = iota
	// StopAfterFinish lets the current pass finish and cancels any loop.
	StopAfterFinish
)

func (m StopMode) String() string {
	if m == StopAfterFinish {
		return "after-finish"
	}
	return "immediate"
}

// PlayOptions modify a Play call.
type PlayOptions struct {
	Loop        bool
	Volume      float64
	StartOffset time.Duration
}

// ErrNoSound is returned when playing an empty Sound.
var ErrNoSound = errors.New("audio: no sound")

// Player plays sounds on numbered channels. Play replaces whatever the
// channel was playing.
type Player interface {
	Play(channel int, sound Sound, opts PlayOptions) error
	Stop(channel int, mode StopMode) error
	IsPlaying(channel int) bool
}
