// Command helifx drives the engine and gun effects of an RC helicopter from
// receiver channels and publishes their state changes to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/helifx/internal/audio"
	"github.com/sweeney/helifx/internal/config"
	"github.com/sweeney/helifx/internal/engine"
	"github.com/sweeney/helifx/internal/gpio"
	"github.com/sweeney/helifx/internal/gun"
	"github.com/sweeney/helifx/internal/logic"
	"github.com/sweeney/helifx/internal/mqtt"
	"github.com/sweeney/helifx/internal/pwm"
	"github.com/sweeney/helifx/internal/serial"
	"github.com/sweeney/helifx/internal/status"
	"github.com/sweeney/helifx/internal/web"
)

type options struct {
	configPath  string
	tick        time.Duration
	broker      string
	heartbeat   time.Duration
	httpAddr    string
	chip        string
	serialDev   string
	printConfig bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "/etc/helifx/config.yaml", "Effects configuration file")
	flag.DurationVar(&opts.tick, "tick", 10*time.Millisecond, "Control loop interval")
	flag.StringVar(&opts.broker, "broker", "", "MQTT broker address (empty to disable)")
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&opts.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.StringVar(&opts.chip, "chip", "gpiochip0", "GPIO chip")
	flag.StringVar(&opts.serialDev, "serial", "", "Gun slave serial device (overrides config)")
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.BoolVar(&opts.printConfig, "print-config", false, "Print the effective configuration and exit")

	flag.Parse()

	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func printPorts(w io.Writer) error {
	ports, err := serial.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if opts.printConfig {
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	chip, err := gpio.OpenChip(opts.chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	inputs := &monitors{chip: chip, opts: cfg.MonitorOptions()}
	defer inputs.stop()

	player := audio.NewExecPlayer(cfg.Player())
	defer player.Close()

	fx := &controllers{}
	if cfg.EngineFX.Enabled {
		toggle, err := inputs.open("engine", cfg.EngineFX.Toggle.Pin)
		if err != nil {
			return err
		}
		fx.engine = engine.New(cfg.Engine(), toggle, player)
	}
	if cfg.GunFX.Enabled {
		g := cfg.GunFX
		var in gun.Inputs
		if in.Trigger, err = inputs.open("trigger", g.Trigger.Pin); err != nil {
			return err
		}
		if in.Heater, err = inputs.open("heater", g.Smoke.HeaterTogglePin); err != nil {
			return err
		}
		if g.Turret.Pitch.Enabled {
			if in.Pitch, err = inputs.open("pitch", g.Turret.Pitch.PWMPin); err != nil {
				return err
			}
		}
		if g.Turret.Yaw.Enabled {
			if in.Yaw, err = inputs.open("yaw", g.Turret.Yaw.PWMPin); err != nil {
				return err
			}
		}
		port := cfg.Serial(opts.serialDev)
		fx.gun, err = gun.New(cfg.Gun(), in, func() (io.ReadWriteCloser, error) {
			return serial.Open(port)
		}, player)
		if err != nil {
			return fmt.Errorf("init gun: %w", err)
		}
		defer fx.gun.Close()
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = discardPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if opts.broker != "" {
		p := mqtt.NewRealPublisher(opts.broker)
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:        opts.tick.Milliseconds(),
		HeartbeatMs:   opts.heartbeat.Milliseconds(),
		Broker:        opts.broker,
		HTTPPort:      opts.httpAddr,
		ConfigPath:    opts.configPath,
		EngineEnabled: fx.engine != nil,
		GunEnabled:    fx.gun != nil,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	fx.report(tracker)

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	}

	if opts.httpAddr != "" {
		srv := web.New(opts.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", opts.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if fx.engine != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTicker(ctx, opts.tick, fx.engine.Run)
		}()
	}
	if fx.gun != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runTicker(ctx, opts.tick, fx.gun.Run)
		}()
	}

	log.Printf("started: config=%s tick=%v broker=%q heartbeat=%v engine=%t gun=%t",
		opts.configPath, opts.tick, opts.broker, opts.heartbeat, fx.engine != nil, fx.gun != nil)

	ticker := time.NewTicker(opts.tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(fx, publisher, mqttStatus, tracker, opts.heartbeat, time.Now, ticker.C, sigCh)

	// Controllers stop before the deferred gun Close sends shutdown.
	cancel()
	wg.Wait()
	return err
}

// runTicker gives a controller its own ticker for the lifetime of ctx.
func runTicker(ctx context.Context, interval time.Duration, run func(context.Context, <-chan time.Time)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	run(ctx, t.C)
}

// monitors opens a pulse monitor per configured pin and stops them all on
// shutdown.
type monitors struct {
	chip    *gpio.Chip
	opts    pwm.Options
	started []*pwm.Monitor
}

// open returns a running monitor for pin, or a nil Reader for NoPin.
func (m *monitors) open(name string, pin int) (pwm.Reader, error) {
	if pin == config.NoPin {
		return nil, nil
	}
	src, err := m.chip.EdgeSource(pin)
	if err != nil {
		return nil, fmt.Errorf("%s input: %w", name, err)
	}
	mon := pwm.NewMonitor(name, src, m.opts)
	mon.Start()
	m.started = append(m.started, mon)
	return mon, nil
}

func (m *monitors) stop() {
	for _, mon := range m.started {
		mon.Stop()
	}
}

// effects is what runLoop reads from the controllers.
type effects interface {
	// observe returns the controllers' state at t.
	observe(t time.Time) logic.Observation
	// report copies telemetry that is not part of an observation into the tracker.
	report(tracker *status.Tracker)
}

// controllers adapts the running controllers to effects. Either may be nil
// when its effect is disabled.
type controllers struct {
	engine *engine.Controller
	gun    *gun.Controller
}

func (c *controllers) observe(t time.Time) logic.Observation {
	obs := logic.Observation{Time: t, Gun: logic.IdleGun}
	if c.engine != nil {
		obs.Engine = c.engine.State()
	}
	if c.gun != nil {
		obs.Gun = c.gun.FiringState()
		obs.RateName = c.gun.RateName()
		obs.HeaterOn = c.gun.HeaterOn()
		obs.SlaveReady, obs.SlaveName = c.gun.SlaveReady()
	}
	return obs
}

func (c *controllers) report(tracker *status.Tracker) {
	if c.gun == nil {
		return
	}
	var axes []status.AxisInfo
	for _, a := range c.gun.Axes() {
		axes = append(axes, status.AxisInfo{
			Name:       a.Name,
			ServoID:    a.ServoID,
			TargetUs:   a.TargetUs,
			CurrentUs:  a.CurrentUs,
			VelocityUs: a.VelocityUs,
		})
	}
	tracker.SetAxes(axes)

	ready, name := c.gun.SlaveReady()
	stats := c.gun.LinkStats()
	info := status.LinkInfo{
		Ready:           ready,
		SlaveName:       name,
		LastRx:          c.gun.LinkHealth().LastRx,
		PacketsSent:     stats.PacketsSent,
		PacketsReceived: stats.PacketsReceived,
		SendErrors:      stats.SendErrors,
		ChecksumErrors:  stats.ChecksumErrors,
		FramingErrors:   stats.FramingErrors,
	}
	if st, ok := c.gun.SlaveStatus(); ok {
		info.HaveStatus = true
		info.Flags = uint8(st.Flags)
		info.FanOffRemainingMs = st.FanOffRemainingMs
	}
	tracker.SetLink(info)
}

func runLoop(fx effects, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := logic.NewDetector(startTime)

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(detector.Current(), detector.IsBaselined(), detector.EventCountsSnapshot())
		fx.report(tracker)
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			for _, event := range detector.Process(fx.observe(t)) {
				log.Printf("event: %s (engine=%s firing=%t rate=%q heater=%t)",
					event.Type, event.Engine, event.Gun.IsFiring, event.RateName, event.HeaterOn)
				if err := publisher.Publish(event); err != nil {
					log.Printf("publish error: %v", err)
				}
			}

			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				c := hbData.Counts
				log.Printf("heartbeat: uptime=%v engine_starts=%d gun_firing=%d heater_on=%d",
					hbData.Uptime, c.EngineStarts, c.GunFiring, c.HeaterOn)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					refresh()
					hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

			refresh()
		}
	}
}

// discardPublisher stands in when no broker is configured.
type discardPublisher struct{}

func (discardPublisher) Publish(logic.Event) error            { return nil }
func (discardPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (discardPublisher) Close() error                         { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
