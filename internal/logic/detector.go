package logic

import "time"

// Detector turns successive controller observations into events.
type Detector struct {
	last          Observation
	baselined     bool
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewDetector creates a detector that assumes both effects start at rest:
// engine stopped, gun idle, heater off, slave not yet ready.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(startTime time.Time) *Detector {
	return &Detector{
		last: Observation{
			Engine: EngineStopped,
			Gun:    IdleGun,
		},
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process compares obs with the previous observation and returns the events
// for every change, in order: engine, gun, heater, slave.
func (d *Detector) Process(obs Observation) []Event {
	prev := d.last
	d.last = obs
	d.baselined = true

	var events []Event
	emit := func(t EventType) {
		events = append(events, Event{
			Timestamp: obs.Time,
			Type:      t,
			Engine:    obs.Engine,
			Gun:       obs.Gun,
			RateName:  obs.RateName,
			HeaterOn:  obs.HeaterOn,
			SlaveName: obs.SlaveName,
		})
	}

	if obs.Engine != prev.Engine && obs.Engine != "" {
		emit(engineEvent(obs.Engine))
		if prev.Engine == EngineStopped {
			d.eventCounts.EngineStarts++
		}
		if obs.Engine == EngineStopped {
			d.eventCounts.EngineStops++
		}
	}

	switch {
	case obs.Gun.IsFiring && (!prev.Gun.IsFiring || obs.Gun.ActiveRateIndex != prev.Gun.ActiveRateIndex):
		emit(EventGunFiring)
		d.eventCounts.GunFiring++
	case !obs.Gun.IsFiring && prev.Gun.IsFiring:
		emit(EventGunCeaseFire)
		d.eventCounts.GunCeaseFire++
	}

	if obs.HeaterOn != prev.HeaterOn {
		if obs.HeaterOn {
			emit(EventHeaterOn)
			d.eventCounts.HeaterOn++
		} else {
			emit(EventHeaterOff)
			d.eventCounts.HeaterOff++
		}
	}

	if obs.SlaveReady && !prev.SlaveReady {
		emit(EventSlaveReady)
	}

	return events
}

func engineEvent(s EngineState) EventType {
	switch s {
	case EngineStarting:
		return EventEngineStarting
	case EngineRunning:
		return EventEngineRunning
	case EngineStopping:
		return EventEngineStopping
	}
	return EventEngineStopped
}

// IsBaselined returns whether at least one observation has been processed.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Current returns the last observation.
func (d *Detector) Current() Observation {
	return d.last
}

// EventCountsSnapshot returns a copy of the event counts.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
