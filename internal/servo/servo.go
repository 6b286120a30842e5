// Package servo maps RC inputs to servo outputs and moves the outputs under
// velocity and acceleration limits.
package servo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrInvalidConfig is returned for a configuration with an empty or inverted range.
var ErrInvalidConfig = errors.New("servo: invalid config")

const (
	// DefaultUpdateRateHz is the profile update rate when none is configured.
	DefaultUpdateRateHz = 50

	// snapUs is the distance under which the output jumps onto the target.
	snapUs = 0.5
)

// Config describes one axis. Speeds are in µs/s and accelerations in µs/s².
// A zero MaxDecel falls back to MaxAccel.
type Config struct {
	InputMinUs  int
	InputMaxUs  int
	OutputMinUs int
	OutputMaxUs int

	MaxSpeed float64
	MaxAccel float64
	MaxDecel float64

	UpdateRateHz int

	RecoilJerkUs         int
	RecoilJerkVarianceUs int
}

// Validate checks that both ranges are non-empty and the limits are sane.
func (c Config) Validate() error {
	if c.InputMinUs >= c.InputMaxUs {
		return fmt.Errorf("%w: input range %d..%d", ErrInvalidConfig, c.InputMinUs, c.InputMaxUs)
	}
	if c.OutputMinUs >= c.OutputMaxUs {
		return fmt.Errorf("%w: output range %d..%d", ErrInvalidConfig, c.OutputMinUs, c.OutputMaxUs)
	}
	if c.MaxSpeed < 0 || c.MaxAccel < 0 || c.MaxDecel < 0 {
		return fmt.Errorf("%w: negative motion limit", ErrInvalidConfig)
	}
	if c.UpdateRateHz < 0 {
		return fmt.Errorf("%w: update rate %d", ErrInvalidConfig, c.UpdateRateHz)
	}
	if c.RecoilJerkUs < 0 || c.RecoilJerkVarianceUs < 0 {
		return fmt.Errorf("%w: negative recoil jerk", ErrInvalidConfig)
	}
	return nil
}

// Period returns the update interval.
func (c Config) Period() time.Duration {
	hz := c.UpdateRateHz
	if hz <= 0 {
		hz = DefaultUpdateRateHz
	}
	return time.Second / time.Duration(hz)
}

// Map converts an input pulse to an output pulse by linear interpolation,
// clamping on both sides.
func (c Config) Map(inputUs int) int {
	in := min(max(inputUs, c.InputMinUs), c.InputMaxUs)
	norm := float64(in-c.InputMinUs) / float64(c.InputMaxUs-c.InputMinUs)
	out := c.OutputMinUs + int(math.Round(norm*float64(c.OutputMaxUs-c.OutputMinUs)))
	return min(max(out, c.OutputMinUs), c.OutputMaxUs)
}

func (c Config) profiled() bool {
	return c.MaxSpeed > 0 || c.MaxAccel > 0
}

// Input supplies the averaged pulse width an axis follows.
type Input interface {
	ReadAverage() (us uint32, ok bool)
}

// State is a copy of an axis' motion state.
type State struct {
	TargetUs   int
	CurrentUs  float64
	VelocityUs float64
}

// OutputUs returns the current output rounded to whole microseconds.
func (s State) OutputUs() int {
	return int(math.Round(s.CurrentUs))
}

// Axis follows one input and profiles one output.
type Axis struct {
	name  string
	input Input

	mu       sync.Mutex
	cfg      Config
	target   int
	current  float64
	velocity float64
	recoil   int

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAxis creates an axis resting at the output for the centre of the input range.
func NewAxis(name string, cfg Config, input Input) (*Axis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("axis %s: %w", name, err)
	}
	a := &Axis{name: name, cfg: cfg, input: input}
	a.resetLocked(cfg.Map((cfg.InputMinUs + cfg.InputMaxUs) / 2))
	return a, nil
}

// Name returns the axis name.
func (a *Axis) Name() string {
	return a.name
}

// Config returns the current configuration.
func (a *Axis) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetConfig replaces the configuration. The output is clamped into the new
// range.
func (a *Axis) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("axis %s: %w", a.name, err)
	}
	a.mu.Lock()
	a.cfg = cfg
	a.current = clampF(a.current, float64(cfg.OutputMinUs), float64(cfg.OutputMaxUs))
	a.target = min(max(a.target, cfg.OutputMinUs), cfg.OutputMaxUs)
	a.mu.Unlock()
	return nil
}

// Reset places the output at positionUs (clamped) with zero velocity.
func (a *Axis) Reset(positionUs int) {
	a.mu.Lock()
	a.resetLocked(positionUs)
	a.mu.Unlock()
}

func (a *Axis) resetLocked(positionUs int) {
	p := min(max(positionUs, a.cfg.OutputMinUs), a.cfg.OutputMaxUs)
	a.target = p
	a.current = float64(p)
	a.velocity = 0
	a.recoil = 0
}

// Recoil superimposes a one-cycle offset of RecoilJerkUs plus or minus a
// random amount up to RecoilJerkVarianceUs on the next update's target.
// Does nothing when no jerk is configured.
func (a *Axis) Recoil() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.RecoilJerkUs <= 0 {
		return
	}
	jerk := a.cfg.RecoilJerkUs
	if v := a.cfg.RecoilJerkVarianceUs; v > 0 {
		jerk += rand.IntN(2*v+1) - v
	}
	a.recoil = jerk
}

// Update re-reads the input and advances the profile by dt seconds.
// With no input measured yet the previous target is kept.
func (a *Axis) Update(dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.cfg
	if us, ok := a.input.ReadAverage(); ok {
		a.target = cfg.Map(int(us))
	}
	target := a.target
	if a.recoil != 0 {
		target = min(max(target+a.recoil, cfg.OutputMinUs), cfg.OutputMaxUs)
		a.recoil = 0
	}

	lo, hi := float64(cfg.OutputMinUs), float64(cfg.OutputMaxUs)

	if !cfg.profiled() {
		a.current = float64(target)
		a.velocity = 0
		return
	}
	if dt <= 0 {
		return
	}

	errUs := float64(target) - a.current
	if math.Abs(errUs) <= snapUs {
		a.current = float64(target)
		a.velocity = 0
		return
	}
	dir := math.Copysign(1, errUs)

	// Cruise speed, capped so the axis can still stop at the decel limit
	// within the remaining distance.
	decel := cfg.decel()
	speed := math.Inf(1)
	if cfg.MaxSpeed > 0 {
		speed = cfg.MaxSpeed
	}
	if decel > 0 {
		speed = math.Min(speed, math.Sqrt(2*decel*math.Abs(errUs)))
	}
	desired := dir * speed

	limit := cfg.MaxAccel
	if decelerating(a.velocity, desired) {
		limit = decel
	}
	dv := desired - a.velocity
	if limit > 0 {
		dv = clampF(dv, -limit*dt, limit*dt)
	}
	a.velocity += dv

	next := a.current + a.velocity*dt
	switch {
	case a.velocity*dir > 0 && (next-float64(target))*dir >= 0:
		// Never pass the target on the approach.
		a.current = float64(target)
		a.velocity = 0
	case next < lo || next > hi:
		a.current = clampF(next, lo, hi)
		a.velocity = 0
	default:
		a.current = next
	}

	if math.Abs(float64(target)-a.current) <= snapUs {
		a.current = float64(target)
		a.velocity = 0
	}
}

// decel is the braking limit: MaxDecel, or MaxAccel when that is zero.
func (c Config) decel() float64 {
	if c.MaxDecel > 0 {
		return c.MaxDecel
	}
	return c.MaxAccel
}

// decelerating reports whether moving from v to desired sheds speed.
func decelerating(v, desired float64) bool {
	if v == 0 {
		return false
	}
	if (v > 0) != (desired > 0) || desired == 0 {
		return true
	}
	return math.Abs(desired) < math.Abs(v)
}

// State returns a copy of the motion state.
func (a *Axis) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{TargetUs: a.target, CurrentUs: a.current, VelocityUs: a.velocity}
}

// OutputUs returns the current output rounded to whole microseconds.
func (a *Axis) OutputUs() int {
	return a.State().OutputUs()
}

// Start launches the update goroutine at the configured rate.
func (a *Axis) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.cfg.Period(), a.stop, a.done)
}

func (a *Axis) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			a.Update(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Stop ends the update goroutine and waits for it.
func (a *Axis) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stop)
	done := a.done
	a.mu.Unlock()
	<-done
}

func clampF(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
