package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/helifx/internal/logic"
	"github.com/sweeney/helifx/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		TickMs:        10,
		HeartbeatMs:   900000,
		Broker:        "tcp://192.168.1.200:1883",
		HTTPPort:      ":80",
		ConfigPath:    "/etc/helifx/config.yaml",
		EngineEnabled: true,
		GunEnabled:    true,
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func getBody(t *testing.T, url string) (int, string, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header.Get("Content-Type"), string(body)
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.Observation{
		Engine:   logic.EngineRunning,
		Gun:      logic.GunFiringState{ActiveRateIndex: 0, IsFiring: true, CurrentRPM: 550},
		RateName: "Slow",
	}, true, logic.EventCounts{EngineStarts: 5, GunFiring: 2})
	tr.SetMQTTConnected(true)

	code, ct, _ := getBody(t, ts.URL+"/index.json")
	if code != 200 {
		t.Errorf("status: got %d, want 200", code)
	}
	if ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Engine != "RUNNING" {
		t.Errorf("Engine: got %q, want RUNNING", sj.Status.Engine)
	}
	if !sj.Status.Gun.Firing || sj.Status.Gun.Rate != "Slow" {
		t.Errorf("Gun: got %+v", sj.Status.Gun)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.EngineStarts != 5 || sj.Status.Counts.GunFiring != 2 {
		t.Errorf("Counts: got %+v", sj.Status.Counts)
	}
	if sj.Status.Config.TickMs != 10 {
		t.Errorf("Config.TickMs: got %d, want 10", sj.Status.Config.TickMs)
	}
}

func TestJSONUnknownStateBeforeFirstTick(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Engine != "UNKNOWN" {
		t.Errorf("Engine before first tick: got %q, want UNKNOWN", sj.Status.Engine)
	}
	if sj.Status.Ready {
		t.Error("expected Ready=false before first tick")
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.Observation{
		Engine:   logic.EngineStarting,
		Gun:      logic.GunFiringState{ActiveRateIndex: 1, IsFiring: true, CurrentRPM: 900},
		RateName: "Fast",
		HeaterOn: true,
	}, true, logic.EventCounts{})
	tr.SetAxes([]status.AxisInfo{{Name: "pitch", ServoID: 1, TargetUs: 1800, CurrentUs: 1700.4, VelocityUs: 250}})
	tr.SetLink(status.LinkInfo{Ready: true, SlaveName: "GunFX", PacketsSent: 7})

	code, ct, body := getBody(t, ts.URL+"/")
	if code != 200 {
		t.Errorf("status: got %d, want 200", code)
	}
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	for _, want := range []string{"STARTING", "Fast @ 900 rpm", "pitch (servo 1)", "1700us", "GunFX", "7 sent"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLDisabledEffects(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	ts := httptest.NewServer(New(":0", tr).Handler())
	t.Cleanup(ts.Close)

	_, _, body := getBody(t, ts.URL+"/")
	if n := strings.Count(body, `<td class="off">disabled</td>`); n != 2 {
		t.Errorf("expected both effects shown as disabled, got %d:\n%s", n, body)
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t)

	code, _, _ := getBody(t, ts.URL+"/index.html")
	if code != 200 {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	code, _, _ := getBody(t, ts.URL+"/nonexistent")
	if code != 404 {
		t.Errorf("status: got %d, want 404", code)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	if getJSON(t, ts.URL+"/index.json").Status.Ready {
		t.Error("expected Ready=false initially")
	}

	tr.Update(logic.Observation{Engine: logic.EngineStopping, Gun: logic.IdleGun, HeaterOn: true}, true, logic.EventCounts{HeaterOn: 1})
	tr.SetMQTTConnected(true)

	sj := getJSON(t, ts.URL+"/index.json")
	if !sj.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if sj.Status.Engine != "STOPPING" {
		t.Errorf("Engine: got %q, want STOPPING", sj.Status.Engine)
	}
	if !sj.Status.Gun.HeaterOn {
		t.Error("expected heater on")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}

func TestAxesEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)

	code, ct, body := getBody(t, ts.URL+"/axes.json")
	if code != 200 {
		t.Errorf("status: got %d, want 200", code)
	}
	if ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("no axes: got %q, want []", body)
	}

	tr.SetAxes([]status.AxisInfo{
		{Name: "pitch", ServoID: 1, TargetUs: 1800, CurrentUs: 1700.6, VelocityUs: -249.5},
		{Name: "yaw", ServoID: 2, TargetUs: 1500, CurrentUs: 1500},
	})
	resp, err := http.Get(ts.URL + "/axes.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var axes []status.AxisJSON
	if err := json.NewDecoder(resp.Body).Decode(&axes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(axes) != 2 {
		t.Fatalf("axes: got %d, want 2", len(axes))
	}
	want := status.AxisJSON{Name: "pitch", ServoID: 1, TargetUs: 1800, CurrentUs: 1701, VelocityUs: -250}
	if axes[0] != want {
		t.Errorf("pitch: got %+v, want %+v", axes[0], want)
	}
	if axes[1].Name != "yaw" || axes[1].CurrentUs != 1500 {
		t.Errorf("yaw: got %+v", axes[1])
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		baselined bool
		gun       bool
		ready     bool
		want      int
	}{
		{"starting", false, true, true, http.StatusServiceUnavailable},
		{"slave not ready", true, true, false, http.StatusServiceUnavailable},
		{"slave ready", true, true, true, http.StatusOK},
		{"gun disabled", true, false, false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := status.NewTracker(time.Now(), status.Config{GunEnabled: tt.gun})
			tr.Update(logic.Observation{Engine: logic.EngineStopped, Gun: logic.IdleGun}, tt.baselined, logic.EventCounts{})
			tr.SetLink(status.LinkInfo{Ready: tt.ready})
			ts := httptest.NewServer(New(":0", tr).Handler())
			defer ts.Close()

			code, _, body := getBody(t, ts.URL+"/healthz")
			if code != tt.want {
				t.Errorf("status: got %d, want %d (body %q)", code, tt.want, body)
			}
		})
	}
}
