// Package gun runs the gun effect: rate-of-fire selection from the trigger
// channel, the smoke heater toggle, turret servos, and the serial link to
// the gun slave that does the actual firing.
package gun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/helifx/internal/audio"
	"github.com/sweeney/helifx/internal/logic"
	"github.com/sweeney/helifx/internal/protocol"
	"github.com/sweeney/helifx/internal/pwm"
	"github.com/sweeney/helifx/internal/servo"
)

const (
	// DefaultHeaterThresholdUs is the smoke heater toggle level when none is configured.
	DefaultHeaterThresholdUs = 1500

	// DefaultInitWait bounds the wait for the slave's init-ready reply.
	DefaultInitWait = 100 * time.Millisecond

	// DebugInterval is how often the input summary is logged.
	DebugInterval = 10 * time.Second

	// Servo IDs on the slave.
	PitchServoID = 1
	YawServoID   = 2
)

// ErrTooManyRates is returned for a rate table longer than logic.MaxRatesOfFire.
var ErrTooManyRates = errors.New("gun: too many rates of fire")

// AxisConfig binds a servo configuration to a slave servo ID.
type AxisConfig struct {
	ServoID uint8
	Servo   servo.Config
}

// Config configures the gun controller.
type Config struct {
	Rates []logic.RateOfFire
	// RateHysteresisUs of zero disables rate hysteresis.
	RateHysteresisUs uint32

	HeaterThresholdUs uint32
	FanOffDelayMs     uint16

	// Pitch and Yaw are nil when the axis is disabled.
	Pitch *AxisConfig
	Yaw   *AxisConfig

	AudioChannel int
	Volume       float64

	KeepaliveInterval time.Duration
	InitWait          time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Inputs are the receiver channels the gun reads. A nil input disables
// whatever it drives.
type Inputs struct {
	Trigger pwm.Reader
	Heater  pwm.Reader
	Pitch   pwm.Reader
	Yaw     pwm.Reader
}

// OpenFunc opens the transport to the slave.
type OpenFunc func() (io.ReadWriteCloser, error)

// AxisState is a read-only view of one turret axis.
type AxisState struct {
	Name    string
	ServoID uint8
	servo.State
}

type axisBinding struct {
	id       uint8
	axis     *servo.Axis
	lastSent int
}

// Controller owns the gun state. Tick and Close must be called from the
// same goroutine; getters are safe from any goroutine.
type Controller struct {
	cfg    Config
	in     Inputs
	link   *protocol.Link
	player audio.Player
	now    func() time.Time

	rates      atomic.Pointer[[]logic.RateOfFire]
	ratesDirty atomic.Bool

	axes []*axisBinding

	mu          sync.RWMutex
	firing      logic.GunFiringState
	rateName    string
	heaterOn    bool
	slaveReady  bool
	slaveName   string
	slaveStatus protocol.Status
	haveStatus  bool

	lastDebug time.Time
	closeOnce sync.Once
}

// New opens the slave link, runs the start sequence and starts the turret
// axes. Failing to open the link is fatal; a slave that does not answer
// init is logged and tolerated.
func New(cfg Config, in Inputs, open OpenFunc, player audio.Player) (*Controller, error) {
	if len(cfg.Rates) > logic.MaxRatesOfFire {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRates, len(cfg.Rates), logic.MaxRatesOfFire)
	}
	if cfg.HeaterThresholdUs == 0 {
		cfg.HeaterThresholdUs = DefaultHeaterThresholdUs
	}
	if cfg.InitWait <= 0 {
		cfg.InitWait = DefaultInitWait
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 1.0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		cfg:    cfg,
		in:     in,
		player: player,
		now:    cfg.Now,
		firing: logic.IdleGun,
	}
	rates := append([]logic.RateOfFire(nil), cfg.Rates...)
	c.rates.Store(&rates)

	if err := c.addAxis("pitch", cfg.Pitch, in.Pitch); err != nil {
		return nil, err
	}
	if err := c.addAxis("yaw", cfg.Yaw, in.Yaw); err != nil {
		return nil, err
	}

	port, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrLinkUnavailable, err)
	}
	c.link = protocol.NewLink(port, protocol.LinkOptions{
		KeepaliveInterval: cfg.KeepaliveInterval,
		Now:               cfg.Now,
	})

	c.handshake()
	for _, b := range c.axes {
		c.configureAxis(b)
		b.axis.Start()
	}
	c.lastDebug = c.now()
	return c, nil
}

func (c *Controller) addAxis(name string, ac *AxisConfig, input pwm.Reader) error {
	if ac == nil || input == nil {
		return nil
	}
	a, err := servo.NewAxis(name, ac.Servo, input)
	if err != nil {
		return err
	}
	c.axes = append(c.axes, &axisBinding{id: ac.ServoID, axis: a, lastSent: -1})
	return nil
}

func (c *Controller) handshake() {
	if err := c.link.Send(protocol.Init{}); err != nil {
		log.Printf("gun: init send failed: %v", err)
		return
	}
	deadline := time.Now().Add(c.cfg.InitWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		p, ok := c.link.Wait(remaining)
		if !ok {
			break
		}
		c.handlePacket(p)
		if _, isReady := p.(protocol.InitReady); isReady {
			return
		}
	}
	log.Printf("gun: no init-ready from slave within %v, continuing", c.cfg.InitWait)
}

func (c *Controller) configureAxis(b *axisBinding) {
	cfg := b.axis.Config()
	err := c.link.Send(protocol.ServoSettings{
		ServoID:  b.id,
		OutMinUs: u16(float64(cfg.OutputMinUs)),
		OutMaxUs: u16(float64(cfg.OutputMaxUs)),
		MaxSpeed: u16(cfg.MaxSpeed),
		Accel:    u16(cfg.MaxAccel),
		Decel:    u16(cfg.MaxDecel),
	})
	if err != nil {
		log.Printf("gun: servo %d settings send failed: %v", b.id, err)
	}
	if cfg.RecoilJerkUs <= 0 {
		return
	}
	err = c.link.Send(protocol.ServoRecoilJerk{
		ServoID:    b.id,
		JerkUs:     u16(float64(cfg.RecoilJerkUs)),
		VarianceUs: u16(float64(cfg.RecoilJerkVarianceUs)),
	})
	if err != nil {
		log.Printf("gun: servo %d recoil jerk send failed: %v", b.id, err)
	}
}

// u16 rounds and saturates v into a uint16.
func u16(v float64) uint16 {
	return uint16(math.Min(math.Max(math.Round(v), 0), math.MaxUint16))
}

// SetRates replaces the rate table. Readers see either the old or the new
// table. If the gun is firing, the next tick re-selects against the new
// table and re-sends trigger-on.
func (c *Controller) SetRates(rates []logic.RateOfFire) error {
	if len(rates) > logic.MaxRatesOfFire {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRates, len(rates), logic.MaxRatesOfFire)
	}
	table := append([]logic.RateOfFire(nil), rates...)
	c.rates.Store(&table)
	c.ratesDirty.Store(true)
	return nil
}

// Rates returns the current rate table.
func (c *Controller) Rates() []logic.RateOfFire {
	return *c.rates.Load()
}

// Tick runs one control cycle: servos, trigger, heater, keepalive, then
// telemetry.
func (c *Controller) Tick() {
	now := c.now()
	c.tickServos()
	c.tickTrigger()
	c.tickHeater()
	if _, err := c.link.SendKeepaliveIfDue(now); err != nil {
		log.Printf("gun: keepalive send failed: %v", err)
	}
	for _, p := range c.link.Poll() {
		c.handlePacket(p)
	}
	if now.Sub(c.lastDebug) >= DebugInterval {
		c.logDebug()
		c.lastDebug = now
	}
}

func (c *Controller) tickServos() {
	for _, b := range c.axes {
		out := b.axis.OutputUs()
		if out == b.lastSent {
			continue
		}
		if err := c.link.Send(protocol.ServoSet{ServoID: b.id, PulseUs: u16(float64(out))}); err != nil {
			log.Printf("gun: servo %d set failed: %v", b.id, err)
			continue
		}
		b.lastSent = out
	}
}

func (c *Controller) tickTrigger() {
	if c.in.Trigger == nil {
		return
	}
	us, ok := c.in.Trigger.ReadAverage()
	if !ok {
		return
	}
	table := *c.rates.Load()
	prev := c.FiringState().ActiveRateIndex
	previous := prev
	if previous >= len(table) {
		previous = -1
	}
	next := logic.SelectRate(table, us, previous, c.cfg.RateHysteresisUs)
	reassert := c.ratesDirty.Swap(false) && next >= 0
	if next == prev && !reassert {
		return
	}
	c.changeRate(table, next, prev)
}

func (c *Controller) changeRate(table []logic.RateOfFire, next, prev int) {
	if next < 0 {
		c.ceaseFire()
		return
	}

	r := table[next]
	if err := c.link.Send(protocol.TriggerOn{RPM: u16(float64(r.RPM))}); err != nil {
		log.Printf("gun: trigger-on send failed: %v", err)
	}
	c.mu.Lock()
	c.firing = logic.GunFiringState{ActiveRateIndex: next, IsFiring: true, CurrentRPM: r.RPM}
	c.rateName = r.Name
	c.mu.Unlock()

	if r.Sound != "" {
		err := c.player.Play(c.cfg.AudioChannel, audio.Sound(r.Sound), audio.PlayOptions{Loop: true, Volume: c.cfg.Volume})
		if err != nil {
			log.Printf("gun: play %s: %v", r.Sound, err)
		}
	} else if err := c.player.Stop(c.cfg.AudioChannel, audio.StopImmediate); err != nil {
		log.Printf("gun: stop audio: %v", err)
	}

	for _, b := range c.axes {
		b.axis.Recoil()
	}

	if prev < 0 {
		log.Printf("gun: firing started: %s at %d rpm, shot interval %d ms", r.Name, r.RPM, r.ShotInterval().Milliseconds())
	} else {
		log.Printf("gun: rate changed: %s at %d rpm, shot interval %d ms", r.Name, r.RPM, r.ShotInterval().Milliseconds())
	}
}

func (c *Controller) ceaseFire() {
	if err := c.link.Send(protocol.TriggerOff{FanDelayMs: c.cfg.FanOffDelayMs}); err != nil {
		log.Printf("gun: trigger-off send failed: %v", err)
	}
	c.mu.Lock()
	c.firing = logic.IdleGun
	c.rateName = ""
	c.mu.Unlock()

	if err := c.player.Stop(c.cfg.AudioChannel, audio.StopImmediate); err != nil {
		log.Printf("gun: stop audio: %v", err)
	}
	if c.cfg.FanOffDelayMs > 0 {
		log.Printf("gun: firing stopped, smoke fan stops in %d ms", c.cfg.FanOffDelayMs)
	} else {
		log.Printf("gun: firing stopped")
	}
}

func (c *Controller) tickHeater() {
	if c.in.Heater == nil {
		return
	}
	us, ok := c.in.Heater.ReadAverage()
	if !ok {
		return
	}
	on := us >= c.cfg.HeaterThresholdUs
	if on == c.HeaterOn() {
		return
	}
	if err := c.link.Send(protocol.SmokeHeat{On: on}); err != nil {
		log.Printf("gun: smoke-heat send failed: %v", err)
	}
	c.mu.Lock()
	c.heaterOn = on
	c.mu.Unlock()
	log.Printf("gun: smoke heater %s (%d us)", onOff(on), us)
}

func (c *Controller) handlePacket(p protocol.Packet) {
	switch p := p.(type) {
	case protocol.InitReady:
		c.mu.Lock()
		c.slaveReady = true
		c.slaveName = p.ModuleName
		c.mu.Unlock()
		log.Printf("gun: slave ready: %q", p.ModuleName)
	case protocol.Status:
		c.mu.Lock()
		c.slaveStatus = p
		c.haveStatus = true
		c.mu.Unlock()
	case protocol.Error:
		log.Printf("gun: slave error %d: %s", p.Code, p.Message)
	case protocol.Nack:
		log.Printf("gun: slave nack: %s", p.Reason)
	}
}

func (c *Controller) logDebug() {
	avg := func(r pwm.Reader) string {
		if r == nil {
			return "off"
		}
		if us, ok := r.ReadAverage(); ok {
			return fmt.Sprintf("%dus", us)
		}
		return "none"
	}
	line := fmt.Sprintf("gun: trigger=%s heater=%s pitch=%s yaw=%s", avg(c.in.Trigger), avg(c.in.Heater), avg(c.in.Pitch), avg(c.in.Yaw))
	for _, b := range c.axes {
		line += fmt.Sprintf(" %s_out=%dus", b.axis.Name(), b.axis.OutputUs())
	}
	log.Print(line)
}

// FiringState returns the commanded firing state.
func (c *Controller) FiringState() logic.GunFiringState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.firing
}

// RateName returns the active rate's name, or "" when idle.
func (c *Controller) RateName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateName
}

// HeaterOn reports the last commanded smoke heater state.
func (c *Controller) HeaterOn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heaterOn
}

// SlaveReady reports whether the slave has answered init, and its module name.
func (c *Controller) SlaveReady() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slaveReady, c.slaveName
}

// SlaveStatus returns the last status report from the slave.
func (c *Controller) SlaveStatus() (protocol.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slaveStatus, c.haveStatus
}

// Axes returns the motion state of each enabled axis.
func (c *Controller) Axes() []AxisState {
	out := make([]AxisState, 0, len(c.axes))
	for _, b := range c.axes {
		out = append(out, AxisState{Name: b.axis.Name(), ServoID: b.id, State: b.axis.State()})
	}
	return out
}

// LinkStats returns the slave link counters.
func (c *Controller) LinkStats() protocol.Stats {
	return c.link.Stats()
}

// LinkHealth returns the slave link activity times.
func (c *Controller) LinkHealth() protocol.Health {
	return c.link.Health()
}

// Run ticks the controller until ctx is cancelled. The caller closes the
// controller afterwards.
func (c *Controller) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.Tick()
		}
	}
}

// Close ceases fire, tells the slave to shut down, stops the axes and
// closes the link. Only the first call does anything.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.FiringState().IsFiring {
			c.ceaseFire()
		}
		if serr := c.link.Send(protocol.Shutdown{}); serr != nil {
			log.Printf("gun: shutdown send failed: %v", serr)
		}
		for _, b := range c.axes {
			b.axis.Stop()
		}
		err = c.link.Close()
	})
	return err
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
