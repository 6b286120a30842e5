package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Engine        string       `json:"engine"`
	Gun           GunJSON      `json:"gun"`
	Axes          []AxisJSON   `json:"axes"`
	Slave         SlaveJSON    `json:"slave"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// GunJSON is the gun's firing state.
type GunJSON struct {
	Firing   bool   `json:"firing"`
	Rate     string `json:"rate,omitempty"`
	RPM      uint32 `json:"rpm"`
	HeaterOn bool   `json:"heater_on"`
}

// AxisJSON is one axis' motion state, rounded to whole microseconds.
type AxisJSON struct {
	Name       string `json:"name"`
	ServoID    uint8  `json:"servo_id"`
	TargetUs   int    `json:"target_us"`
	CurrentUs  int    `json:"current_us"`
	VelocityUs int    `json:"velocity_us_per_sec"`
}

// SlaveJSON reports the gun slave link.
type SlaveJSON struct {
	Ready             bool   `json:"ready"`
	Name              string `json:"name,omitempty"`
	LastRx            string `json:"last_rx,omitempty"`
	PacketsSent       uint64 `json:"packets_sent"`
	PacketsReceived   uint64 `json:"packets_received"`
	SendErrors        uint64 `json:"send_errors"`
	ChecksumErrors    uint64 `json:"checksum_errors"`
	FramingErrors     uint64 `json:"framing_errors"`
	Flags             *uint8 `json:"flags,omitempty"`
	FanOffRemainingMs uint16 `json:"fan_off_remaining_ms,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	EngineStarts int `json:"engine_starts"`
	EngineStops  int `json:"engine_stops"`
	GunFiring    int `json:"gun_firing"`
	GunCeaseFire int `json:"gun_cease_fire"`
	HeaterOn     int `json:"heater_on"`
	HeaterOff    int `json:"heater_off"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs        int64  `json:"tick_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPPort      string `json:"http_port"`
	ConfigPath    string `json:"config_path"`
	EngineEnabled bool   `json:"engine_enabled"`
	GunEnabled    bool   `json:"gun_enabled"`
}

// Axes returns the snapshot's turret axes rounded for JSON. It never
// returns nil so that an empty list encodes as [].
func Axes(snap Snapshot) []AxisJSON {
	axes := make([]AxisJSON, 0, len(snap.Axes))
	for _, a := range snap.Axes {
		axes = append(axes, AxisJSON{
			Name:       a.Name,
			ServoID:    a.ServoID,
			TargetUs:   a.TargetUs,
			CurrentUs:  int(math.Round(a.CurrentUs)),
			VelocityUs: int(math.Round(a.VelocityUs)),
		})
	}
	return axes
}

func buildInner(snap Snapshot) StatusInner {
	engine := string(snap.Engine)
	if engine == "" {
		engine = "UNKNOWN"
	}

	slave := SlaveJSON{
		Ready:           snap.Link.Ready,
		Name:            snap.Link.SlaveName,
		PacketsSent:     snap.Link.PacketsSent,
		PacketsReceived: snap.Link.PacketsReceived,
		SendErrors:      snap.Link.SendErrors,
		ChecksumErrors:  snap.Link.ChecksumErrors,
		FramingErrors:   snap.Link.FramingErrors,
	}
	if !snap.Link.LastRx.IsZero() {
		slave.LastRx = snap.Link.LastRx.UTC().Format(time.RFC3339)
	}
	if snap.Link.HaveStatus {
		flags := snap.Link.Flags
		slave.Flags = &flags
		slave.FanOffRemainingMs = snap.Link.FanOffRemainingMs
	}

	return StatusInner{
		Engine: engine,
		Gun: GunJSON{
			Firing:   snap.Gun.IsFiring,
			Rate:     snap.RateName,
			RPM:      snap.Gun.CurrentRPM,
			HeaterOn: snap.HeaterOn,
		},
		Axes:          Axes(snap),
		Slave:         slave,
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			EngineStarts: snap.Counts.EngineStarts,
			EngineStops:  snap.Counts.EngineStops,
			GunFiring:    snap.Counts.GunFiring,
			GunCeaseFire: snap.Counts.GunCeaseFire,
			HeaterOn:     snap.Counts.HeaterOn,
			HeaterOff:    snap.Counts.HeaterOff,
		},
		Config: ConfigJSON{
			TickMs:        snap.Config.TickMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
			ConfigPath:    snap.Config.ConfigPath,
			EngineEnabled: snap.Config.EngineEnabled,
			GunEnabled:    snap.Config.GunEnabled,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
