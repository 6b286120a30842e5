package logic

import (
	"testing"
	"time"
)

func TestNewDetector(t *testing.T) {
	startTime := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(startTime)
	if d == nil {
		t.Fatal("NewDetector returned nil")
	}
	if d.IsBaselined() {
		t.Error("new detector should not be baselined")
	}
	if !d.lastHeartbeat.Equal(startTime) {
		t.Errorf("expected lastHeartbeat %v, got %v", startTime, d.lastHeartbeat)
	}
	if d.Current().Engine != EngineStopped {
		t.Errorf("expected engine STOPPED at rest, got %s", d.Current().Engine)
	}
}

func TestNoEventsAtRest(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)

	events := d.Process(Observation{Time: now, Engine: EngineStopped, Gun: IdleGun})
	if len(events) != 0 {
		t.Errorf("expected no events, got %v", events)
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after first observation")
	}
}

func TestEngineSequenceEvents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)

	sequence := []struct {
		state EngineState
		want  EventType
	}{
		{EngineStarting, EventEngineStarting},
		{EngineRunning, EventEngineRunning},
		{EngineStopping, EventEngineStopping},
		{EngineStopped, EventEngineStopped},
	}
	for i, step := range sequence {
		events := d.Process(Observation{Time: now.Add(time.Duration(i) * time.Second), Engine: step.state, Gun: IdleGun})
		if len(events) != 1 {
			t.Fatalf("step %d: expected 1 event, got %d", i, len(events))
		}
		if events[0].Type != step.want {
			t.Errorf("step %d: got %s, want %s", i, events[0].Type, step.want)
		}
		if events[0].Engine != step.state {
			t.Errorf("step %d: event engine state %s, want %s", i, events[0].Engine, step.state)
		}
	}

	counts := d.EventCountsSnapshot()
	if counts.EngineStarts != 1 || counts.EngineStops != 1 {
		t.Errorf("counts: got starts=%d stops=%d, want 1/1", counts.EngineStarts, counts.EngineStops)
	}
}

func TestGunEvents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)
	base := Observation{Time: now, Engine: EngineStopped}

	fire := base
	fire.Gun = GunFiringState{ActiveRateIndex: 0, IsFiring: true, CurrentRPM: 550}
	fire.RateName = "Slow"
	events := d.Process(fire)
	if len(events) != 1 || events[0].Type != EventGunFiring {
		t.Fatalf("expected GUN_FIRING, got %v", events)
	}
	if events[0].RateName != "Slow" || events[0].Gun.CurrentRPM != 550 {
		t.Errorf("unexpected event detail: %+v", events[0])
	}

	// Same rate again: nothing.
	if events := d.Process(fire); len(events) != 0 {
		t.Errorf("expected no events for unchanged rate, got %v", events)
	}

	// Rate change while firing is a new firing event.
	faster := fire
	faster.Gun = GunFiringState{ActiveRateIndex: 1, IsFiring: true, CurrentRPM: 850}
	events = d.Process(faster)
	if len(events) != 1 || events[0].Type != EventGunFiring {
		t.Fatalf("expected GUN_FIRING on rate change, got %v", events)
	}

	idle := base
	idle.Gun = IdleGun
	events = d.Process(idle)
	if len(events) != 1 || events[0].Type != EventGunCeaseFire {
		t.Fatalf("expected GUN_CEASE_FIRE, got %v", events)
	}

	counts := d.EventCountsSnapshot()
	if counts.GunFiring != 2 || counts.GunCeaseFire != 1 {
		t.Errorf("counts: got firing=%d cease=%d, want 2/1", counts.GunFiring, counts.GunCeaseFire)
	}
}

func TestHeaterAndSlaveEvents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)

	events := d.Process(Observation{Time: now, Engine: EngineStopped, Gun: IdleGun, HeaterOn: true, SlaveReady: true, SlaveName: "GunFX"})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventHeaterOn {
		t.Errorf("event 0: got %s, want SMOKE_HEATER_ON", events[0].Type)
	}
	if events[1].Type != EventSlaveReady || events[1].SlaveName != "GunFX" {
		t.Errorf("event 1: got %+v, want SLAVE_READY from GunFX", events[1])
	}

	events = d.Process(Observation{Time: now, Engine: EngineStopped, Gun: IdleGun, SlaveReady: true})
	if len(events) != 1 || events[0].Type != EventHeaterOff {
		t.Fatalf("expected SMOKE_HEATER_OFF, got %v", events)
	}
}

func TestSimultaneousChangesOrder(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)

	events := d.Process(Observation{
		Time:     now,
		Engine:   EngineStarting,
		Gun:      GunFiringState{ActiveRateIndex: 0, IsFiring: true, CurrentRPM: 500},
		HeaterOn: true,
	})
	want := []EventType{EventEngineStarting, EventGunFiring, EventHeaterOn}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("event %d: got %s, want %s", i, events[i].Type, w)
		}
	}
}

func TestEngineDisabledNoEvents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(now)

	if events := d.Process(Observation{Time: now, Gun: IdleGun}); len(events) != 0 {
		t.Errorf("expected no events with engine disabled, got %v", events)
	}
}

func TestCheckHeartbeat(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(start)

	if hb := d.CheckHeartbeat(start.Add(time.Hour), 15*time.Minute); hb != nil {
		t.Error("expected no heartbeat before baseline")
	}

	d.Process(Observation{Time: start, Engine: EngineStarting, Gun: IdleGun})

	if hb := d.CheckHeartbeat(start.Add(10*time.Minute), 15*time.Minute); hb != nil {
		t.Error("expected no heartbeat before interval")
	}

	hb := d.CheckHeartbeat(start.Add(15*time.Minute), 15*time.Minute)
	if hb == nil {
		t.Fatal("expected heartbeat at interval")
	}
	if hb.Uptime != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", hb.Uptime)
	}
	if hb.Counts.EngineStarts != 1 {
		t.Errorf("Counts.EngineStarts: got %d, want 1", hb.Counts.EngineStarts)
	}

	if hb := d.CheckHeartbeat(start.Add(20*time.Minute), 15*time.Minute); hb != nil {
		t.Error("expected no heartbeat right after previous")
	}
	if hb := d.CheckHeartbeat(start.Add(time.Hour), 0); hb != nil {
		t.Error("expected no heartbeat when disabled")
	}
}
