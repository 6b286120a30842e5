// Package engine runs the engine sound effect: a start/run/stop state
// machine driven by a debounced PWM switch.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sweeney/helifx/internal/audio"
	"github.com/sweeney/helifx/internal/logic"
	"github.com/sweeney/helifx/internal/pwm"
)

// Sounds are the engine's transition sounds. Any may be empty.
type Sounds struct {
	Starting audio.Sound
	Running  audio.Sound
	Stopping audio.Sound
}

// Config configures the engine controller.
type Config struct {
	ThresholdUs uint32
	Channel     int
	Volume      float64
	Sounds      Sounds

	// StartingOffset is where the starting sound resumes when the engine is
	// switched back on while stopping. StoppingOffset is where the stopping
	// sound starts when switched off while still starting.
	StartingOffset time.Duration
	StoppingOffset time.Duration
}

// Controller owns the engine state. Only Tick changes it.
type Controller struct {
	cfg    Config
	toggle pwm.Reader
	player audio.Player
	sw     *logic.Switch

	mu    sync.RWMutex
	state logic.EngineState
	swOn  bool
}

// New creates a stopped engine controller.
func New(cfg Config, toggle pwm.Reader, player audio.Player) *Controller {
	if cfg.Volume <= 0 {
		cfg.Volume = 1.0
	}
	return &Controller{
		cfg:    cfg,
		toggle: toggle,
		player: player,
		sw:     logic.NewSwitch(cfg.ThresholdUs),
		state:  logic.EngineStopped,
	}
}

// State returns the current engine state.
func (c *Controller) State() logic.EngineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SwitchOn returns the debounced switch position as of the last Tick.
func (c *Controller) SwitchOn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.swOn
}

func (c *Controller) set(s logic.EngineState) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	log.Printf("engine: %s -> %s", from, s)
}

func (c *Controller) play(sound audio.Sound, loop bool, offset time.Duration) {
	err := c.player.Play(c.cfg.Channel, sound, audio.PlayOptions{
		Loop:        loop,
		Volume:      c.cfg.Volume,
		StartOffset: offset,
	})
	if err != nil {
		log.Printf("engine: play %s: %v", sound, err)
	}
}

func (c *Controller) halt() {
	if err := c.player.Stop(c.cfg.Channel, audio.StopImmediate); err != nil {
		log.Printf("engine: stop audio: %v", err)
	}
}

// Tick reads the switch and advances the state machine by at most one
// transition. With no reading yet the previous switch position is kept.
func (c *Controller) Tick() {
	on := c.sw.On()
	if us, ok := c.toggle.ReadAverage(); ok {
		on = c.sw.Update(us)
	}
	c.mu.Lock()
	c.swOn = on
	c.mu.Unlock()

	s := c.State()
	switch s {
	case logic.EngineStopped:
		if on {
			c.start(0)
		}

	case logic.EngineStarting:
		if !on {
			c.stop(true)
			return
		}
		if c.cfg.Sounds.Running == "" {
			c.set(logic.EngineRunning)
			return
		}
		if !c.player.IsPlaying(c.cfg.Channel) {
			c.play(c.cfg.Sounds.Running, true, 0)
			c.set(logic.EngineRunning)
		}

	case logic.EngineRunning:
		if !on {
			c.stop(false)
		}

	case logic.EngineStopping:
		if on {
			c.start(c.cfg.StartingOffset)
			return
		}
		if !c.player.IsPlaying(c.cfg.Channel) {
			c.halt()
			c.set(logic.EngineStopped)
		}
	}
}

// start enters Starting, or Running directly when there is no starting sound.
func (c *Controller) start(offset time.Duration) {
	if c.cfg.Sounds.Starting != "" {
		c.play(c.cfg.Sounds.Starting, false, offset)
		c.set(logic.EngineStarting)
		return
	}
	if c.cfg.Sounds.Running != "" {
		c.play(c.cfg.Sounds.Running, true, 0)
	} else {
		c.halt()
	}
	c.set(logic.EngineRunning)
}

// stop enters Stopping, or Stopped directly when there is no stopping sound.
func (c *Controller) stop(fromStarting bool) {
	if c.cfg.Sounds.Stopping == "" {
		c.halt()
		c.set(logic.EngineStopped)
		return
	}
	var offset time.Duration
	if fromStarting {
		offset = c.cfg.StoppingOffset
	}
	c.play(c.cfg.Sounds.Stopping, false, offset)
	c.set(logic.EngineStopping)
}

// Run ticks the controller until ctx is cancelled, then silences the engine.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			if c.State() != logic.EngineStopped {
				c.halt()
				c.set(logic.EngineStopped)
			}
			return
		case <-tick:
			c.Tick()
		}
	}
}
