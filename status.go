package ialarm

import "fmt"

// Status is the normalized state of the alarm system. The values match
// the panel's DevStatus enumeration, which is also the SetAlarmStatus
// mode index.
type Status int

const (
	StatusArmedAway    Status = 0
	StatusDisarmed     Status = 1
	StatusArmedStay    Status = 2
	StatusCancel       Status = 3
	StatusTriggered    Status = 4
	StatusArming       Status = 5
	StatusUnavailable  Status = 6
	StatusArmedPartial Status = 8
)

func (s Status) String() string {
	switch s {
	case StatusArmedAway:
		return "ARMED_AWAY"
	case StatusDisarmed:
		return "DISARMED"
	case StatusArmedStay:
		return "ARMED_STAY"
	case StatusCancel:
		return "CANCEL"
	case StatusTriggered:
		return "TRIGGERED"
	case StatusArming:
		return "ARMING"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusArmedPartial:
		return "ARMED_PARTIAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// modeLabels are the SetAlarmStatus labels, indexed by Status.
var modeLabels = []string{"ARM", "DISARM", "STAY", "CLEAR", "", "", "", "", "PARTIAL"}

var cidStatus = map[int]Status{
	1401: StatusDisarmed,
	1406: StatusDisarmed,
	3401: StatusArmedAway,
	3441: StatusArmedStay,
	3456: StatusArmedPartial,
	1100: StatusTriggered,
	1101: StatusTriggered,
	1120: StatusTriggered,
	1131: StatusTriggered,
	1132: StatusTriggered,
	1133: StatusTriggered,
	1134: StatusTriggered,
	1137: StatusTriggered,
}

// StatusForCid returns the status an event code implies, if any.
func StatusForCid(cid int) (Status, bool) {
	s, ok := cidStatus[cid]
	return s, ok
}

// NextStatus is the status after an event: mapped codes win, then an
// explicit status carried by the event, then the previous status.
func NextStatus(prev Status, cid int, explicit *Status) Status {
	if s, ok := StatusForCid(cid); ok {
		return s
	}
	if explicit != nil {
		return *explicit
	}
	return prev
}

var cidDescriptions = map[int]string{
	1100: "Personal ambulance",
	1101: "Emergency",
	1110: "Fire",
	1120: "Emergency",
	1131: "Perimeter",
	1132: "Burglary",
	1133: "24 hour",
	1134: "Delay",
	1137: "Dismantled",
	1301: "System AC fault",
	1302: "System battery failure",
	1306: "Programming changes",
	1350: "Communication failure",
	1351: "Telephone line fault",
	1370: "Circuit fault",
	1381: "Detector lost",
	1384: "Low battery detector",
	1401: "Disarm report",
	1406: "Alarm canceled",
	1455: "Automatic arming failed",
	1570: "Bypass report",
	1601: "Manual communication test report",
	1602: "Communication test report",
	3301: "System AC recovery",
	3302: "System battery recovery",
	3350: "Communication resumed",
	3351: "Telephone line restored",
	3370: "Loop recovery",
	3381: "Detector loss recovery",
	3384: "Detector low voltage recovery",
	3401: "Arming report",
	3441: "Staying report",
	3456: "Partial arming report",
	3570: "Bypass recovery",
}

// CidDescription describes an event code, or "" when unknown.
func CidDescription(cid int) string {
	return cidDescriptions[cid]
}

// TimeZoneName names the panel's timezone index (GetTime Type).
func TimeZoneName(idx int) string {
	names := [...]string{
		"GMT-12:00", "GMT-11:00", "GMT-10:00", "GMT-09:00", "GMT-08:00",
		"GMT-07:00", "GMT-06:00", "GMT-05:00", "GMT-04:00", "GMT-03:30",
		"GMT-03:00", "GMT-02:00", "GMT-01:00", "GMT", "GMT+01:00",
		"GMT+02:00", "GMT+03:00", "GMT+04:00", "GMT+05:00", "GMT+05:30",
		"GMT+05:45", "GMT+06:00", "GMT+06:30", "GMT+07:00", "GMT+08:00",
		"GMT+09:00", "GMT+09:30", "GMT+10:00", "GMT+11:00", "GMT+12:00",
		"GMT+13:00",
	}
	if idx < 0 || idx >= len(names) {
		return ""
	}
	return names[idx]
}

// ZoneState is the per-zone bitmask reported by GetByWay.
type ZoneState int

const (
	ZoneNotUsed    ZoneState = 0
	ZoneInUse      ZoneState = 1 << 0
	ZoneAlarm      ZoneState = 1 << 1
	ZoneBypass     ZoneState = 1 << 2
	ZoneFault      ZoneState = 1 << 3
	ZoneLowBattery ZoneState = 1 << 4
	ZoneLoss       ZoneState = 1 << 5
)

func (z ZoneState) Has(flag ZoneState) bool { return z&flag != 0 }

// ZoneCondition is what a zone bitmask means for its sensor.
type ZoneCondition int

const (
	ZoneUnknown ZoneCondition = iota
	ZoneLost
	ZoneUnused
	ZoneOpen
	ZoneClosed
)

func (c ZoneCondition) String() string {
	switch c {
	case ZoneLost:
		return "lost"
	case ZoneUnused:
		return "not used"
	case ZoneOpen:
		return "open"
	case ZoneClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Condition classifies the bitmask. Loss takes precedence over anything
// else; a zone that is neither lost, unused nor in use is unknown.
func (z ZoneState) Condition() ZoneCondition {
	switch {
	case z.Has(ZoneLoss):
		return ZoneLost
	case z == ZoneNotUsed:
		return ZoneUnused
	case z.Has(ZoneInUse) && z.Has(ZoneFault):
		return ZoneOpen
	case z.Has(ZoneInUse):
		return ZoneClosed
	default:
		return ZoneUnknown
	}
}

func (z ZoneState) String() string {
	return fmt.Sprintf("%s(%06b)", z.Condition(), int(z))
}
