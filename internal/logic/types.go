// Package logic contains pure decision logic for the effects controllers.
// This package has NO external dependencies (no GPIO, serial, audio, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// EngineState is the engine effect state.
type EngineState string

const (
	EngineStopped  EngineState = "STOPPED"
	EngineStarting EngineState = "STARTING"
	EngineRunning  EngineState = "RUNNING"
	EngineStopping EngineState = "STOPPING"
)

// RateOfFire is one entry of the gun's rate table.
type RateOfFire struct {
	Name           string
	RPM            uint32
	PWMThresholdUs uint32
	// Sound is an opaque handle passed to the audio player. Empty means none.
	Sound string
}

// ShotInterval returns the time between rounds at this rate.
func (r RateOfFire) ShotInterval() time.Duration {
	if r.RPM == 0 {
		return 0
	}
	return time.Minute / time.Duration(r.RPM)
}

// GunFiringState is the gun's commanded firing state.
type GunFiringState struct {
	ActiveRateIndex int // -1 = idle
	IsFiring        bool
	CurrentRPM      uint32
}

// IdleGun is the firing state of a gun that is not firing.
var IdleGun = GunFiringState{ActiveRateIndex: -1}

// EventType represents a state transition event.
type EventType string

const (
	EventEngineStarting EventType = "ENGINE_STARTING"
	EventEngineRunning  EventType = "ENGINE_RUNNING"
	EventEngineStopping EventType = "ENGINE_STOPPING"
	EventEngineStopped  EventType = "ENGINE_STOPPED"
	EventGunFiring      EventType = "GUN_FIRING"
	EventGunCeaseFire   EventType = "GUN_CEASE_FIRE"
	EventHeaterOn       EventType = "SMOKE_HEATER_ON"
	EventHeaterOff      EventType = "SMOKE_HEATER_OFF"
	EventSlaveReady     EventType = "SLAVE_READY"
)

// Observation is a point-in-time reading of both controllers.
type Observation struct {
	Time       time.Time
	Engine     EngineState
	Gun        GunFiringState
	RateName   string
	HeaterOn   bool
	SlaveReady bool
	SlaveName  string
}

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Engine    EngineState
	Gun       GunFiringState
	RateName  string
	HeaterOn  bool
	SlaveName string
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	EngineStarts int
	EngineStops  int
	GunFiring    int
	GunCeaseFire int
	HeaterOn     int
	HeaterOff    int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
