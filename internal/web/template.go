package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"math"
	"time"

	"github.com/sweeney/helifx/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"us": func(v float64) int {
		return int(math.Round(v))
	},
	"engineClass": func(s string) string {
		switch s {
		case "RUNNING":
			return "on"
		case "STARTING", "STOPPING":
			return "busy"
		case "STOPPED":
			return "off"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>helifx</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.busy { color: orange; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>helifx</h1>

<h2>Engine</h2>
<table>
{{if .Config.EngineEnabled}}<tr><th>State</th><td id="engine-state" class="{{engineClass .EngineName}}">{{.EngineName}}</td></tr>
{{else}}<tr><th>State</th><td class="off">disabled</td></tr>{{end}}
</table>

<h2>Gun</h2>
<table>
{{if .Config.GunEnabled}}<tr><th>Firing</th><td id="gun-state" class="{{if .Gun.IsFiring}}on{{else}}off{{end}}">{{if .Gun.IsFiring}}{{.RateName}} @ {{.Gun.CurrentRPM}} rpm{{else}}idle{{end}}</td></tr>
<tr><th>Smoke heater</th><td class="{{if .HeaterOn}}on{{else}}off{{end}}">{{if .HeaterOn}}on{{else}}off{{end}}</td></tr>
{{range .Axes}}<tr><th>{{.Name}} (servo {{.ServoID}})</th><td>{{us .CurrentUs}}us &rarr; {{.TargetUs}}us, {{us .VelocityUs}}us/s</td></tr>
{{end}}<tr><th>Slave</th><td class="{{if .Link.Ready}}connected{{else}}disconnected{{end}}">{{if .Link.Ready}}{{.Link.SlaveName}}{{else}}not ready{{end}}</td></tr>
<tr><th>Packets</th><td>{{.Link.PacketsSent}} sent, {{.Link.PacketsReceived}} received</td></tr>
<tr><th>Link errors</th><td>{{.Link.SendErrors}} send, {{.Link.ChecksumErrors}} checksum, {{.Link.FramingErrors}} framing</td></tr>
{{else}}<tr><th>State</th><td class="off">disabled</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Engine starts</th><td>{{.Counts.EngineStarts}}</td></tr>
<tr><th>Engine stops</th><td>{{.Counts.EngineStops}}</td></tr>
<tr><th>Gun firing</th><td>{{.Counts.GunFiring}}</td></tr>
<tr><th>Gun cease fire</th><td>{{.Counts.GunCeaseFire}}</td></tr>
<tr><th>Heater on</th><td>{{.Counts.HeaterOn}}</td></tr>
<tr><th>Heater off</th><td>{{.Counts.HeaterOff}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Config</th><td>{{.Config.ConfigPath}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// The template needs plain fields for values the snapshot computes.
	engine := string(snap.Engine)
	if engine == "" {
		engine = "UNKNOWN"
	}
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		EngineName string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		EngineName: engine,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
