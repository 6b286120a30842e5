package audio

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// minLoopRun is the shortest run after which a failed looping player is
// restarted. Anything quicker is a broken command or file.
const minLoopRun = 200 * time.Millisecond

// ExecConfig describes an external player command, invoked as
//
//	Command Args... [OffsetFlag seconds] [VolumeFlag volume] file
//
// Empty flags are omitted.
type ExecConfig struct {
	Command    string
	Args       []string
	OffsetFlag string
	VolumeFlag string
}

// ExecPlayer plays each channel with its own external player process.
type ExecPlayer struct {
	cfg ExecConfig

	mu       sync.Mutex
	channels map[int]*execChannel
}

type execChannel struct {
	loop    bool
	stopped bool
	cmd     *exec.Cmd
}

// NewExecPlayer creates a player that runs cfg.Command per sound.
func NewExecPlayer(cfg ExecConfig) *ExecPlayer {
	return &ExecPlayer{cfg: cfg, channels: make(map[int]*execChannel)}
}

func (p *ExecPlayer) args(sound Sound, opts PlayOptions) []string {
	args := append([]string(nil), p.cfg.Args...)
	if opts.StartOffset > 0 {
		if p.cfg.OffsetFlag != "" {
			args = append(args, p.cfg.OffsetFlag, strconv.FormatFloat(opts.StartOffset.Seconds(), 'f', 3, 64))
		} else {
			log.Printf("audio: %s has no offset flag, playing %s from the start", p.cfg.Command, sound)
		}
	}
	if p.cfg.VolumeFlag != "" && opts.Volume > 0 {
		args = append(args, p.cfg.VolumeFlag, strconv.FormatFloat(opts.Volume, 'f', 2, 64))
	}
	return append(args, string(sound))
}

// Play starts sound on channel, replacing anything already playing there.
func (p *ExecPlayer) Play(channel int, sound Sound, opts PlayOptions) error {
	if sound == "" {
		return ErrNoSound
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.killLocked(channel)
	c := &execChannel{loop: opts.Loop}
	if err := p.startLocked(channel, c, sound, opts); err != nil {
		return err
	}
	p.channels[channel] = c
	return nil
}

func (p *ExecPlayer) startLocked(channel int, c *execChannel, sound Sound, opts PlayOptions) error {
	cmd := exec.Command(p.cfg.Command, p.args(sound, opts)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Command, err)
	}
	c.cmd = cmd
	go p.wait(channel, c, cmd, sound, opts, time.Now())
	return nil
}

func (p *ExecPlayer) wait(channel int, c *execChannel, cmd *exec.Cmd, sound Sound, opts PlayOptions, started time.Time) {
	err := cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c.stopped || c.cmd != cmd {
		return
	}
	if c.loop {
		if err != nil && time.Since(started) < minLoopRun {
			log.Printf("audio: channel %d: %s exited early, not looping: %v", channel, sound, err)
		} else {
			opts.StartOffset = 0
			if err := p.startLocked(channel, c, sound, opts); err == nil {
				return
			}
			log.Printf("audio: channel %d: restart %s: %v", channel, sound, err)
		}
	}
	c.cmd = nil
	if p.channels[channel] == c {
		delete(p.channels, channel)
	}
}

// Stop stops the channel. StopAfterFinish only cancels looping.
func (p *ExecPlayer) Stop(channel int, mode StopMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode == StopAfterFinish {
		if c, ok := p.channels[channel]; ok {
			c.loop = false
		}
		return nil
	}
	p.killLocked(channel)
	return nil
}

func (p *ExecPlayer) killLocked(channel int) {
	c, ok := p.channels[channel]
	if !ok {
		return
	}
	c.stopped = true
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	delete(p.channels, channel)
}

// IsPlaying reports whether a player process is alive on channel.
func (p *ExecPlayer) IsPlaying(channel int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.channels[channel]
	return ok && c.cmd != nil
}

// Close kills every player process.
func (p *ExecPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.channels {
		p.killLocked(ch)
	}
	return nil
}
