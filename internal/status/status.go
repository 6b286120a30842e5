// Package status provides a thread-safe status tracker for the helifx daemon.
// It is read by the HTTP handlers and by the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/helifx/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs        int64
	HeartbeatMs   int64
	Broker        string
	HTTPPort      string
	ConfigPath    string
	EngineEnabled bool
	GunEnabled    bool
}

// AxisInfo is one turret axis' motion state.
type AxisInfo struct {
	Name       string
	ServoID    uint8
	TargetUs   int
	CurrentUs  float64
	VelocityUs float64
}

// LinkInfo is the gun slave link state.
type LinkInfo struct {
	Ready           bool
	SlaveName       string
	LastRx          time.Time
	PacketsSent     uint64
	PacketsReceived uint64
	SendErrors      uint64
	ChecksumErrors  uint64
	FramingErrors   uint64

	// FanOffRemainingMs and Flags come from the slave's last status report.
	HaveStatus        bool
	Flags             uint8
	FanOffRemainingMs uint16
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Engine        logic.EngineState
	Gun           logic.GunFiringState
	RateName      string
	HeaterOn      bool
	Axes          []AxisInfo
	Link          LinkInfo
	Baselined     bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Gun:       logic.IdleGun,
		},
	}
}

// Update sets effect states, baseline status, and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(obs logic.Observation, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Engine = obs.Engine
	t.snap.Gun = obs.Gun
	t.snap.RateName = obs.RateName
	t.snap.HeaterOn = obs.HeaterOn
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetAxes replaces the turret axis states.
func (t *Tracker) SetAxes(axes []AxisInfo) {
	cp := append([]AxisInfo(nil), axes...)
	t.mu.Lock()
	t.snap.Axes = cp
	t.mu.Unlock()
}

// SetLink sets the slave link state.
func (t *Tracker) SetLink(info LinkInfo) {
	t.mu.Lock()
	t.snap.Link = info
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Axes = append([]AxisInfo(nil), t.snap.Axes...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
