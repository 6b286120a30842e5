// Package config loads the effects configuration from YAML and converts it
// into the controllers' configuration values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/helifx/internal/audio"
	"github.com/sweeney/helifx/internal/engine"
	"github.com/sweeney/helifx/internal/gun"
	"github.com/sweeney/helifx/internal/logic"
	"github.com/sweeney/helifx/internal/pwm"
	"github.com/sweeney/helifx/internal/serial"
	"github.com/sweeney/helifx/internal/servo"
)

// ErrInvalid is returned for a configuration that cannot be run.
var ErrInvalid = errors.New("config: invalid")

// NoPin marks an unassigned GPIO pin.
const NoPin = -1

// Config is the effects configuration file.
type Config struct {
	EngineFX EngineFX `yaml:"engine_fx"`
	GunFX    GunFX    `yaml:"gun_fx"`
	Audio    Audio    `yaml:"audio"`
	Monitor  Monitor  `yaml:"monitor"`
}

// EngineFX configures the engine effect.
type EngineFX struct {
	Enabled bool         `yaml:"enabled"`
	Type    string       `yaml:"type"`
	Toggle  Toggle       `yaml:"engine_toggle"`
	Sounds  EngineSounds `yaml:"sounds"`
}

// Toggle is a PWM channel used as a switch.
type Toggle struct {
	Pin         int    `yaml:"pin"`
	ThresholdUs uint32 `yaml:"threshold_us"`
}

// SoundRef names a sound file.
type SoundRef struct {
	File string `yaml:"file"`
}

// EngineSounds are the engine's transition sounds.
type EngineSounds struct {
	Starting    SoundRef    `yaml:"starting"`
	Running     SoundRef    `yaml:"running"`
	Stopping    SoundRef    `yaml:"stopping"`
	Transitions Transitions `yaml:"transitions"`
}

// Transitions are the resume offsets used when a transition is reversed.
type Transitions struct {
	StartingOffsetMs int `yaml:"starting_offset_ms"`
	StoppingOffsetMs int `yaml:"stopping_offset_ms"`
}

// GunFX configures the gun effect.
type GunFX struct {
	Enabled    bool    `yaml:"enabled"`
	Trigger    Trigger `yaml:"trigger"`
	RateOfFire []Rate  `yaml:"rate_of_fire"`
	Smoke      Smoke   `yaml:"smoke"`
	Turret     Turret  `yaml:"turret_control"`
	Slave      Slave   `yaml:"slave"`
}

// Trigger is the trigger channel.
type Trigger struct {
	Pin          int    `yaml:"pin"`
	HysteresisUs uint32 `yaml:"hysteresis_us"`
}

// Rate is one rate-of-fire entry.
type Rate struct {
	Name           string `yaml:"name"`
	RPM            uint32 `yaml:"rpm"`
	PWMThresholdUs uint32 `yaml:"pwm_threshold_us"`
	Sound          string `yaml:"sound"`
}

// Smoke configures the smoke generator on the slave.
type Smoke struct {
	HeaterTogglePin      int    `yaml:"heater_toggle_pin"`
	HeaterPWMThresholdUs uint32 `yaml:"heater_pwm_threshold_us"`
	FanOffDelayMs        uint16 `yaml:"fan_off_delay_ms"`
}

// Turret holds both turret axes.
type Turret struct {
	Pitch Axis `yaml:"pitch"`
	Yaw   Axis `yaml:"yaw"`
}

// Axis configures one turret servo.
type Axis struct {
	Enabled              bool    `yaml:"enabled"`
	ServoID              uint8   `yaml:"servo_id"`
	PWMPin               int     `yaml:"pwm_pin"`
	InputMinUs           int     `yaml:"input_min_us"`
	InputMaxUs           int     `yaml:"input_max_us"`
	OutputMinUs          int     `yaml:"output_min_us"`
	OutputMaxUs          int     `yaml:"output_max_us"`
	MaxSpeed             float64 `yaml:"max_speed_us_per_sec"`
	MaxAccel             float64 `yaml:"max_accel_us_per_sec2"`
	MaxDecel             float64 `yaml:"max_decel_us_per_sec2"`
	UpdateRateHz         int     `yaml:"update_rate_hz"`
	RecoilJerkUs         int     `yaml:"recoil_jerk_us"`
	RecoilJerkVarianceUs int     `yaml:"recoil_jerk_variance_us"`
}

// Slave selects the serial port of the gun slave. Device wins over VID/PID.
type Slave struct {
	Device string `yaml:"device"`
	VID    string `yaml:"vid"`
	PID    string `yaml:"pid"`
	Baud   int    `yaml:"baud"`
}

// Audio configures the external player.
type Audio struct {
	Player     string   `yaml:"player"`
	Args       []string `yaml:"args"`
	OffsetFlag string   `yaml:"offset_flag"`
	VolumeFlag string   `yaml:"volume_flag"`
	Volume     float64  `yaml:"volume"`
}

// Monitor tunes pulse measurement.
type Monitor struct {
	Window    int `yaml:"window"`
	TimeoutMs int `yaml:"timeout_ms"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	axis := func(id uint8) Axis {
		return Axis{
			ServoID:      id,
			PWMPin:       NoPin,
			InputMinUs:   1000,
			InputMaxUs:   2000,
			OutputMinUs:  1000,
			OutputMaxUs:  2000,
			UpdateRateHz: servo.DefaultUpdateRateHz,
		}
	}
	return Config{
		EngineFX: EngineFX{
			Type:   "turbine",
			Toggle: Toggle{Pin: NoPin, ThresholdUs: 1500},
		},
		GunFX: GunFX{
			Trigger: Trigger{Pin: NoPin, HysteresisUs: logic.DefaultRateHysteresisUs},
			Smoke: Smoke{
				HeaterTogglePin:      NoPin,
				HeaterPWMThresholdUs: gun.DefaultHeaterThresholdUs,
				FanOffDelayMs:        2000,
			},
			Turret: Turret{Pitch: axis(gun.PitchServoID), Yaw: axis(gun.YawServoID)},
			Slave:  Slave{VID: "2E8A", PID: "000A", Baud: serial.DefaultBaud},
		},
		Audio: Audio{Player: "aplay", Args: []string{"-q"}, Volume: 1.0},
		Monitor: Monitor{
			Window:    pwm.DefaultWindow,
			TimeoutMs: int(pwm.DefaultTimeout / time.Millisecond),
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal returns cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func pulseInRange(us uint32) bool {
	return us >= pwm.MinPulseUs && us <= pwm.MaxPulseUs
}

// Validate checks everything the controllers would otherwise reject at
// construction, plus pin assignments.
func (c Config) Validate() error {
	pins := map[int]string{}
	claim := func(pin int, what string) error {
		if pin < 0 {
			return invalid("%s: no pin assigned", what)
		}
		if other, ok := pins[pin]; ok {
			return invalid("%s: pin %d already used by %s", what, pin, other)
		}
		pins[pin] = what
		return nil
	}

	if e := c.EngineFX; e.Enabled {
		if err := claim(e.Toggle.Pin, "engine toggle"); err != nil {
			return err
		}
		if !pulseInRange(e.Toggle.ThresholdUs) {
			return invalid("engine toggle threshold %dus out of range", e.Toggle.ThresholdUs)
		}
		if e.Sounds.Transitions.StartingOffsetMs < 0 || e.Sounds.Transitions.StoppingOffsetMs < 0 {
			return invalid("negative transition offset")
		}
	}

	if g := c.GunFX; g.Enabled {
		if err := claim(g.Trigger.Pin, "trigger"); err != nil {
			return err
		}
		if len(g.RateOfFire) > logic.MaxRatesOfFire {
			return invalid("%d rates of fire, at most %d", len(g.RateOfFire), logic.MaxRatesOfFire)
		}
		for i, r := range g.RateOfFire {
			if r.RPM == 0 {
				return invalid("rate %d (%s): rpm must be positive", i+1, r.Name)
			}
			if !pulseInRange(r.PWMThresholdUs) {
				return invalid("rate %d (%s): threshold %dus out of range", i+1, r.Name, r.PWMThresholdUs)
			}
		}
		if g.Smoke.HeaterTogglePin != NoPin {
			if err := claim(g.Smoke.HeaterTogglePin, "heater toggle"); err != nil {
				return err
			}
			if !pulseInRange(g.Smoke.HeaterPWMThresholdUs) {
				return invalid("heater threshold %dus out of range", g.Smoke.HeaterPWMThresholdUs)
			}
		}
		for _, a := range []struct {
			name string
			axis Axis
		}{{"pitch", g.Turret.Pitch}, {"yaw", g.Turret.Yaw}} {
			if !a.axis.Enabled {
				continue
			}
			if err := claim(a.axis.PWMPin, a.name+" input"); err != nil {
				return err
			}
			if err := a.axis.Servo().Validate(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalid, a.name, err)
			}
		}
		if g.Slave.Device == "" && (g.Slave.VID == "" || g.Slave.PID == "") {
			return invalid("slave: no device or VID/PID")
		}
		if g.Slave.Baud <= 0 {
			return invalid("slave: baud %d", g.Slave.Baud)
		}
	}

	if c.Monitor.Window <= 0 || c.Monitor.TimeoutMs <= 0 {
		return invalid("monitor window and timeout must be positive")
	}
	return nil
}

// Servo converts an axis to its servo configuration.
func (a Axis) Servo() servo.Config {
	return servo.Config{
		InputMinUs:           a.InputMinUs,
		InputMaxUs:           a.InputMaxUs,
		OutputMinUs:          a.OutputMinUs,
		OutputMaxUs:          a.OutputMaxUs,
		MaxSpeed:             a.MaxSpeed,
		MaxAccel:             a.MaxAccel,
		MaxDecel:             a.MaxDecel,
		UpdateRateHz:         a.UpdateRateHz,
		RecoilJerkUs:         a.RecoilJerkUs,
		RecoilJerkVarianceUs: a.RecoilJerkVarianceUs,
	}
}

// Engine returns the engine controller configuration.
func (c Config) Engine() engine.Config {
	e := c.EngineFX
	return engine.Config{
		ThresholdUs: e.Toggle.ThresholdUs,
		Channel:     audio.ChannelEngine,
		Volume:      c.Audio.Volume,
		Sounds: engine.Sounds{
			Starting: audio.Sound(e.Sounds.Starting.File),
			Running:  audio.Sound(e.Sounds.Running.File),
			Stopping: audio.Sound(e.Sounds.Stopping.File),
		},
		StartingOffset: time.Duration(e.Sounds.Transitions.StartingOffsetMs) * time.Millisecond,
		StoppingOffset: time.Duration(e.Sounds.Transitions.StoppingOffsetMs) * time.Millisecond,
	}
}

// Rates returns the rate-of-fire table.
func (c Config) Rates() []logic.RateOfFire {
	out := make([]logic.RateOfFire, 0, len(c.GunFX.RateOfFire))
	for _, r := range c.GunFX.RateOfFire {
		out = append(out, logic.RateOfFire{
			Name:           r.Name,
			RPM:            r.RPM,
			PWMThresholdUs: r.PWMThresholdUs,
			Sound:          r.Sound,
		})
	}
	return out
}

// Gun returns the gun controller configuration. Disabled axes are nil.
func (c Config) Gun() gun.Config {
	g := c.GunFX
	axis := func(a Axis) *gun.AxisConfig {
		if !a.Enabled {
			return nil
		}
		return &gun.AxisConfig{ServoID: a.ServoID, Servo: a.Servo()}
	}
	return gun.Config{
		Rates:             c.Rates(),
		RateHysteresisUs:  g.Trigger.HysteresisUs,
		HeaterThresholdUs: g.Smoke.HeaterPWMThresholdUs,
		FanOffDelayMs:     g.Smoke.FanOffDelayMs,
		Pitch:             axis(g.Turret.Pitch),
		Yaw:               axis(g.Turret.Yaw),
		AudioChannel:      audio.ChannelGun,
		Volume:            c.Audio.Volume,
	}
}

// Serial returns the slave port configuration. A non-empty device
// overrides the file.
func (c Config) Serial(device string) serial.Config {
	s := c.GunFX.Slave
	if device != "" {
		s.Device = device
	}
	return serial.Config{Device: s.Device, VID: s.VID, PID: s.PID, Baud: s.Baud}
}

// Player returns the external player configuration.
func (c Config) Player() audio.ExecConfig {
	return audio.ExecConfig{
		Command:    c.Audio.Player,
		Args:       c.Audio.Args,
		OffsetFlag: c.Audio.OffsetFlag,
		VolumeFlag: c.Audio.VolumeFlag,
	}
}

// MonitorOptions returns the pulse monitor options.
func (c Config) MonitorOptions() pwm.Options {
	return pwm.Options{
		Window:  c.Monitor.Window,
		Timeout: time.Duration(c.Monitor.TimeoutMs) * time.Millisecond,
	}
}
