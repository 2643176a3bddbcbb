package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	ialarm "github.com/caarlos0/homekit-ialarm"
	"golang.org/x/exp/slices"
)

type Config struct {
	Host         string            `env:"HOST"          envDefault:"47.91.74.102"`
	Port         int               `env:"PORT"          envDefault:"18034"`
	Username     string            `env:"USERNAME,notEmpty"`
	Password     string            `env:"PASSWORD,notEmpty"`
	Timeout      time.Duration     `env:"TIMEOUT"       envDefault:"10s"`
	ScanInterval time.Duration     `env:"SCAN_INTERVAL" envDefault:"60s"`
	Retries      int               `env:"RETRIES"       envDefault:"3"`
	RetryDelay   time.Duration     `env:"RETRY_DELAY"   envDefault:"5s"`
	Timezone     string            `env:"TIMEZONE"`
	ZoneNames    []string          `env:"ZONE_NAMES"`
	IgnoreZones  []int             `env:"IGNORE_ZONES"`
	BypassZones  []int             `env:"BYPASS"`
	Wireless     []int             `env:"WIRELESS"`
	Users        map[string]string `env:"USERS"`
	Address      string            `env:"LISTEN"        envDefault:":9009"`
	MQTT         MQTTConfig        `envPrefix:"MQTT_"`
	Debug        bool              `env:"DEBUG"`
}

type MQTTConfig struct {
	Broker   string `env:"BROKER"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Prefix   string `env:"PREFIX"    envDefault:"ialarm"`
	ClientID string `env:"CLIENT_ID" envDefault:"homekit-ialarm"`
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// userName resolves the panel user id of an event into a configured name.
func (c Config) userName(aid string) string {
	if name, ok := c.Users[aid]; ok {
		return name
	}
	return aid
}

type zoneConfig struct {
	zone        ialarm.Zone
	name        string
	allowBypass bool
}

func (c Config) zoneName(zone ialarm.Zone) string {
	if names := c.ZoneNames; len(names) > zone.Index {
		if n := names[zone.Index]; n != "" {
			return n
		}
	}
	if zone.Name != "" {
		return zone.Name
	}
	return fmt.Sprintf("Zone %d", zone.Number())
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.zone.Number(), zone.name, zone.zone.TypeName()),
		)
	}
	return strings.Join(zones, "\n")
}

func (c Config) allZones(zones []ialarm.Zone) []zoneConfig {
	var result []zoneConfig
	for _, zone := range zones {
		if slices.Contains(c.IgnoreZones, zone.Number()) {
			continue
		}
		result = append(result, zoneConfig{
			zone:        zone,
			name:        c.zoneName(zone),
			allowBypass: slices.Contains(c.BypassZones, zone.Number()),
		})
	}
	slices.SortFunc(result, func(a, b zoneConfig) int {
		return a.zone.Index - b.zone.Index
	})
	return result
}

// currentState maps a panel status into the HomeKit current state, -1 when
// it should be left alone.
func currentState(status ialarm.Status) int {
	switch status {
	case ialarm.StatusArmedStay:
		return characteristic.SecuritySystemCurrentStateStayArm
	case ialarm.StatusArmedAway:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case ialarm.StatusArmedPartial:
		return characteristic.SecuritySystemCurrentStateNightArm
	case ialarm.StatusDisarmed, ialarm.StatusCancel:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case ialarm.StatusTriggered:
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	default:
		return -1
	}
}

func targetState(status ialarm.Status) int {
	switch status {
	case ialarm.StatusArmedStay:
		return characteristic.SecuritySystemTargetStateStayArm
	case ialarm.StatusArmedAway, ialarm.StatusArming:
		return characteristic.SecuritySystemTargetStateAwayArm
	case ialarm.StatusArmedPartial:
		return characteristic.SecuritySystemTargetStateNightArm
	case ialarm.StatusDisarmed, ialarm.StatusCancel:
		return characteristic.SecuritySystemTargetStateDisarm
	default:
		return -1
	}
}

var stateNames = [5]string{
	"Armed: Stay",
	"Armed: Away",
	"Armed: Night",
	"Disarmed",
	"Alarm Triggered",
}
