package ialarm

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Event is an alarm event pushed by the panel (or read from its log).
type Event struct {
	Cid      int
	Name     string
	Aid      string // id of whoever caused the event, as sent by the panel
	User     string // Aid resolved by the caller's UserResolver
	Content  string
	ZoneName string
	Zone     int // -1 when the event is not about a zone
	Err      int
	Status   Status
	Time     time.Time
	Marker   string // frame marker that carried the event
	Fields   *Fields
}

func (e Event) Description() string {
	return CidDescription(e.Cid)
}

func eventFromFields(f *Fields) Event {
	evt := Event{
		Cid:      intField(f, "Cid", 0),
		Name:     f.Text("Name"),
		Aid:      textField(f, "Aid"),
		Content:  f.Text("Content"),
		ZoneName: f.Text("ZoneName"),
		Zone:     intField(f, "Zone", -1),
		Err:      intField(f, "Err", 0),
		Fields:   f,
	}
	if t, ok := f.Get("Time").(time.Time); ok {
		evt.Time = t
	}
	return evt
}

// explicitStatus is the status an event states itself, if any.
func explicitStatus(f *Fields) *Status {
	for _, name := range []string{"status", "Status", "DevStatus"} {
		if f.Has(name) {
			if i := intField(f, name, -1); i >= 0 {
				s := Status(i)
				return &s
			}
		}
	}
	return nil
}

// intField reads ints that some firmwares send as S32 and others as STR.
func intField(f *Fields, name string, def int) int {
	switch v := f.Get(name).(type) {
	case int:
		return v
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func textField(f *Fields, name string) string {
	v := f.Get(name)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Zone is one sensor input: its configuration and current bitmask.
type Zone struct {
	Index int // 0 based position in the panel lists
	ID    string
	Name  string
	Type  int
	State ZoneState
}

func (z Zone) Number() int { return z.Index + 1 }

func (z Zone) Condition() ZoneCondition { return z.State.Condition() }

func (z Zone) TypeName() string {
	if z.Type >= 0 && z.Type < len(zoneTypeLabels) {
		return zoneTypeLabels[z.Type]
	}
	return noneLabel
}

var zoneTypeLabels = []string{"NO", "DE", "SI", "IN", "FO", "HO24", "FI", "KE", "GAS", "WT"}

// ZoneInfo is a GetZone entry.
type ZoneInfo struct {
	Name  string
	Type  int
	Voice int
	Bell  bool
}

func zoneInfoFromFields(f *Fields) ZoneInfo {
	return ZoneInfo{
		Name:  f.Text("Name"),
		Type:  intField(f, "Type", 0),
		Voice: intField(f, "Voice", 0),
		Bell:  f.Bool("Bell"),
	}
}

// Network is the panel's GetNet reply.
type Network struct {
	Name    string
	MAC     net.HardwareAddr
	IP      netip.Addr
	Gateway netip.Addr
	Subnet  netip.Addr
	DNS1    netip.Addr
	DNS2    netip.Addr
}

func networkFromFields(f *Fields) Network {
	addr := func(name string) netip.Addr {
		ip, _ := f.Get(name).(netip.Addr)
		return ip
	}
	mac, _ := f.Get("Mac").(net.HardwareAddr)
	return Network{
		Name:    f.Text("Name"),
		MAC:     mac,
		IP:      addr("Ip"),
		Gateway: addr("Gate"),
		Subnet:  addr("Subnet"),
		DNS1:    addr("Dns1"),
		DNS2:    addr("Dns2"),
	}
}

// PanelTime is the panel's GetTime reply.
type PanelTime struct {
	NTP      bool
	Server   string
	TimeZone string
	Time     time.Time
	DST      bool
}

func panelTimeFromFields(f *Fields) PanelTime {
	t, _ := f.Get("Time").(time.Time)
	return PanelTime{
		NTP:      f.Bool("En"),
		Server:   f.Text("Name"),
		TimeZone: TimeZoneName(intField(f, "Type", -1)),
		Time:     t,
		DST:      f.Bool("Dst"),
	}
}

// WirelessStatus is the GetWlsStatus reply for one wireless device.
type WirelessStatus struct {
	Num        int
	LowBattery bool
	Tamper     bool
	Status     int
}

func wirelessStatusFromFields(num int, f *Fields) WirelessStatus {
	return WirelessStatus{
		Num:        num,
		LowBattery: f.Bool("Bat"),
		Tamper:     f.Bool("Tamp"),
		Status:     intField(f, "Status", 0),
	}
}
