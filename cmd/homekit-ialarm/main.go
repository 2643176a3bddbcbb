package main

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	ialarm "github.com/caarlos0/homekit-ialarm"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Meian"

// accessories is what status and event callbacks update. Fields are set
// before any background goroutine starts.
type accessories struct {
	alarm     *SecuritySystem
	siren     *SirenSwitch
	publisher *Publisher
}

func (a *accessories) statusChanged(upd ialarm.StatusUpdate) {
	log.Info("status changed", "status", upd.Status, "source", upd.Source, "user", upd.UserID)
	if a.alarm != nil {
		a.alarm.Update(upd)
	}
	if a.siren != nil {
		a.siren.Update(upd)
	}
	if a.publisher != nil {
		a.publisher.PublishStatus(upd)
	}
}

func (a *accessories) event(e ialarm.Event) {
	eventCounter.WithLabelValues(strconv.Itoa(e.Cid)).Inc()
	log.Info(
		"alarm event",
		"cid", e.Cid,
		"description", e.Description(),
		"zone", e.Zone,
		"user", e.User,
		"status", e.Status,
	)
	if a.publisher != nil {
		a.publisher.PublishEvent(e)
	}
}

func main() {
	log.Info(
		"homekit-ialarm",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for iAlarm-MK alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}
	if cfg.Debug {
		log.SetLevel(logp.DebugLevel)
		ialarm.SetLogLevel(logp.DebugLevel)
	}

	loc, err := cfg.location()
	if err != nil {
		log.Fatal("could not load timezone", "err", err)
	}

	var acc accessories
	panel := ialarm.NewPanel(
		cfg.Host, cfg.Port, cfg.Username, cfg.Password,
		ialarm.WithRetry(cfg.Retries, cfg.RetryDelay),
		ialarm.WithClientOptions(ialarm.WithTimeout(cfg.Timeout)),
		ialarm.OnAttempt(func(err error) {
			requestCounter.Inc()
			if err != nil {
				requestErrorCounter.Inc()
			}
		}),
		ialarm.OnStatusChange(acc.statusChanged),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	status, err := panel.RefreshStatus(ctx)
	if err != nil {
		log.Fatal("could not init accessories", "err", err)
	}
	zones, err := panel.Zones(ctx)
	if err != nil {
		log.Fatal("could not load zones", "err", err)
	}
	dev, err := panel.Device(ctx)
	if err != nil {
		log.Warn(
			"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
			"err", err,
		)
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"name", dev.Name,
		"mac", dev.MAC,
		"status", status.Status,
	)

	zoneCfgs := cfg.allZones(zones)
	log.Info("loading accessories", "zones", allZoneConfigs(zoneCfgs).String())

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarm := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: dev.MAC,
		Manufacturer: manufacturer,
		Model:        dev.Name,
	}, panel)
	alarm.Id = 2
	alarm.Update(status)

	siren := setupSirenSwitch(panel)
	siren.Id = 3
	siren.Update(status)

	sensors := ZoneSensors(setupZones(panel, zoneCfgs))
	wireless := setupWireless(cfg.Wireless)

	var publisher *Publisher
	if cfg.MQTT.Broker != "" {
		publisher = NewPublisher(cfg.MQTT, panel)
		if err := publisher.Connect(); err != nil {
			log.Error("mqtt disabled", "err", err)
			publisher = nil
		}
	}

	acc.alarm = alarm
	acc.siren = siren
	acc.publisher = publisher

	var listenerState atomic.Int32
	listener := panel.Listener(
		ialarm.WithConnectTimeout(cfg.Timeout),
		ialarm.WithLocation(loc),
		ialarm.WithUserResolver(cfg.userName),
		ialarm.OnEvent(acc.event),
		ialarm.OnStatus(acc.statusChanged),
		ialarm.OnState(func(s ialarm.ListenerState) {
			listenerState.Store(int32(s))
			listenerStateGauge.Set(float64(s))
			if s == ialarm.StateReconnecting {
				reconnectCounter.Inc()
			}
			log.Info("push listener", "state", s)
		}),
	)
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error("push listener stopped", "err", err)
		}
	}()

	go func() {
		poll := func() {
			if _, err := panel.RefreshStatus(ctx); err != nil {
				log.Error("could not get status", "err", err)
			}
			states, err := panel.ZoneStates(ctx)
			if err != nil {
				log.Error("could not get zone states", "err", err)
			} else {
				sensors.Update(states)
				if publisher != nil {
					publisher.PublishZones(zoneCfgs, states)
				}
			}
			if err := refreshWireless(ctx, panel, wireless); err != nil {
				log.Error("could not get wireless status", "err", err)
			}
		}
		poll()

		tick := time.NewTicker(cfg.ScanInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				poll()
			}
		}
	}()

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(
		fs, bridge.A,
		securityAccessories(sensors, wireless, alarm, siren)...,
	)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())

	tpl := template.Must(template.New("index").Parse(string(index)))
	server.ServeMux().Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = tpl.Execute(w, newPage(
			panel.Status(),
			ialarm.ListenerState(listenerState.Load()),
			sensors,
			wireless,
		))
	}))

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
	listener.Cancel()
	if publisher != nil {
		publisher.Close()
	}
}

func securityAccessories(
	sensors []*ZoneSensor,
	wireless []*WirelessDevice,
	alarm *SecuritySystem,
	siren *SirenSwitch,
) []*accessory.A {
	result := []*accessory.A{
		siren.A,
		alarm.A,
	}
	for _, c := range sensors {
		result = append(result, c.A)
	}
	for _, c := range wireless {
		result = append(result, c.A)
	}
	return result
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}

type PageItem struct {
	Number     int
	Name       string
	Open       bool
	Bypassed   bool
	LowBattery bool
	Fault      bool
	Tamper     bool
}

type Page struct {
	State    string
	Updated  string
	Source   string
	User     string
	Listener string
	Zones    []PageItem
	Wireless []PageItem
}

func newPage(
	upd ialarm.StatusUpdate,
	listener ialarm.ListenerState,
	sensors []*ZoneSensor,
	wireless []*WirelessDevice,
) Page {
	page := Page{
		State:    "Unavailable",
		Source:   upd.Source.String(),
		User:     upd.UserID,
		Listener: listener.String(),
	}
	if v := currentState(upd.Status); v >= 0 {
		page.State = stateNames[v]
	} else if upd.Status == ialarm.StatusArming {
		page.State = "Arming"
	}
	if !upd.Time.IsZero() {
		page.Updated = upd.Time.Format(time.DateTime)
	}

	for _, zone := range sensors {
		z := PageItem{
			Number:     zone.zone.Number(),
			Name:       zone.Name(),
			Open:       zone.Contact.ContactSensorState.Value() == 1,
			LowBattery: zone.LowBattery.Value() == 1,
			Fault:      zone.Fault.Value() == 1,
		}
		if zone.Bypass != nil {
			z.Bypassed = !zone.Bypass.On.Value()
		}
		page.Zones = append(page.Zones, z)
	}

	for _, device := range wireless {
		page.Wireless = append(page.Wireless, PageItem{
			Number:     device.number,
			Name:       device.Name(),
			LowBattery: device.LowBattery.Value() == 1,
			Tamper:     device.Tamper.Value() == 1,
		})
	}
	return page
}
