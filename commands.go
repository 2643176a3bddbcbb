package ialarm

import (
	"context"
	"fmt"
)

const (
	PathGetAlarmStatus = "/Root/Host/GetAlarmStatus"
	PathSetAlarmStatus = "/Root/Host/SetAlarmStatus"
	PathGetNet         = "/Root/Host/GetNet"
	PathGetSys         = "/Root/Host/GetSys"
	PathGetTime        = "/Root/Host/GetTime"
	PathGetWlsStatus   = "/Root/Host/GetWlsStatus"
	PathSetByWay       = "/Root/Host/SetByWay"

	PathGetByWay       = "/Root/Host/GetByWay"
	PathGetDefense     = "/Root/Host/GetDefense"
	PathGetEvents      = "/Root/Host/GetEvents"
	PathGetLog         = "/Root/Host/GetLog"
	PathGetOverlapZone = "/Root/Host/GetOverlapZone"
	PathGetPhone       = "/Root/Host/GetPhone"
	PathGetRemote      = "/Root/Host/GetRemote"
	PathGetRfid        = "/Root/Host/GetRfid"
	PathGetSensor      = "/Root/Host/GetSensor"
	PathGetSwitch      = "/Root/Host/GetSwitch"
	PathGetZone        = "/Root/Host/GetZone"
	PathGetZoneType    = "/Root/Host/GetZoneType"
)

// ListCommand builds a paginated list request for path.
func ListCommand(path string) *Command {
	return NewCommand(path).
		Null("Total").
		Set("Offset", EncodeInt(0)).
		Null("Ln").
		Null("Err")
}

func GetPhone() *Command {
	return ListCommand(PathGetPhone).Null("RepeatCnt")
}

func GetAlarmStatus() *Command {
	return NewCommand(PathGetAlarmStatus).
		Null("DevStatus").
		Null("Err")
}

// SetAlarmStatus requests a mode change. Only the arm, disarm, stay,
// cancel and partial statuses are modes the panel accepts.
func SetAlarmStatus(mode Status) *Command {
	return NewCommand(PathSetAlarmStatus).
		Set("DevStatus", EncodeType(int(mode), modeLabels...)).
		Null("Err")
}

func GetNet() *Command {
	return NewCommand(PathGetNet).
		Null("Mac").
		Null("Name").
		Null("Ip").
		Null("Gate").
		Null("Subnet").
		Null("Dns1").
		Null("Dns2").
		Null("Err")
}

func GetSys() *Command {
	cmd := NewCommand(PathGetSys)
	for _, name := range []string{
		"InDelay", "OutDelay", "AlarmTime", "WlLoss", "AcLoss", "ComLoss",
		"ArmVoice", "ArmReport", "ForceArm", "DoorCheck", "BreakCheck",
		"AlarmLimit", "Err",
	} {
		cmd.Null(name)
	}
	return cmd
}

func GetTime() *Command {
	return NewCommand(PathGetTime).
		Null("En").
		Null("Name").
		Null("Type").
		Null("Time").
		Null("Dst").
		Null("Err")
}

func GetWlsStatus(num int) *Command {
	return NewCommand(PathGetWlsStatus).
		Set("Num", EncodeInt(int32(num))).
		Null("Bat").
		Null("Tamp").
		Null("Status").
		Null("Err")
}

// SetByWay bypasses (or restores) the zone at the given 0 based index.
func SetByWay(index int, bypass bool) *Command {
	return NewCommand(PathSetByWay).
		Set("Pos", EncodeInt(int32(index), 1)).
		Set("En", EncodeBool(bypass)).
		Null("Err")
}

func checkErr(path string, f *Fields) error {
	if v := f.Get("Err"); truthy(v) {
		code, _ := v.(int)
		return &CommandError{Path: path, Code: code}
	}
	return nil
}

func (c *Client) send(ctx context.Context, cmd *Command) (*Fields, error) {
	f, err := c.SendCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return f, checkErr(cmd.Path, f)
}

func (c *Client) AlarmStatus(ctx context.Context) (Status, error) {
	f, err := c.send(ctx, GetAlarmStatus())
	if err != nil {
		return StatusUnavailable, fmt.Errorf("could not get alarm status: %w", err)
	}
	i, ok := f.Int("DevStatus")
	if !ok {
		c.Logout()
		return StatusUnavailable, &ProtocolError{Reason: "GetAlarmStatus: missing DevStatus"}
	}
	return Status(i), nil
}

func (c *Client) SetAlarmStatus(ctx context.Context, mode Status) error {
	switch mode {
	case StatusArmedAway, StatusDisarmed, StatusArmedStay, StatusCancel, StatusArmedPartial:
	default:
		return fmt.Errorf("could not set alarm status: %s is not a settable mode", mode)
	}
	log.Debug("set alarm status", "mode", mode)
	if _, err := c.send(ctx, SetAlarmStatus(mode)); err != nil {
		return fmt.Errorf("could not set alarm status %s: %w", mode, err)
	}
	return nil
}

func (c *Client) Network(ctx context.Context) (Network, error) {
	f, err := c.send(ctx, GetNet())
	if err != nil {
		return Network{}, fmt.Errorf("could not get network info: %w", err)
	}
	return networkFromFields(f), nil
}

func (c *Client) PanelTime(ctx context.Context) (PanelTime, error) {
	f, err := c.send(ctx, GetTime())
	if err != nil {
		return PanelTime{}, fmt.Errorf("could not get panel time: %w", err)
	}
	return panelTimeFromFields(f), nil
}

func (c *Client) WirelessStatus(ctx context.Context, num int) (WirelessStatus, error) {
	f, err := c.send(ctx, GetWlsStatus(num))
	if err != nil {
		return WirelessStatus{}, fmt.Errorf("could not get wireless status %d: %w", num, err)
	}
	return wirelessStatusFromFields(num, f), nil
}

func (c *Client) Bypass(ctx context.Context, index int, bypass bool) error {
	log.Debug("bypass", "zone", index+1, "bypass", bypass)
	if _, err := c.send(ctx, SetByWay(index, bypass)); err != nil {
		return fmt.Errorf("could not set bypass=%v on zone %d: %w", bypass, index+1, err)
	}
	return nil
}

// ZoneStates returns the bitmask of every zone, by index.
func (c *Client) ZoneStates(ctx context.Context) ([]ZoneState, error) {
	entries, err := c.FetchList(ctx, ListCommand(PathGetByWay))
	if err != nil {
		return nil, fmt.Errorf("could not get zone states: %w", err)
	}
	states := make([]ZoneState, len(entries))
	for i, e := range entries {
		v, ok := e.(int)
		if !ok && e != nil {
			c.Logout()
			return nil, &ProtocolError{Reason: fmt.Sprintf("GetByWay: L%d is %T, not a bitmask", i, e)}
		}
		states[i] = ZoneState(v)
	}
	return states, nil
}

// Sensors returns the sensor id of every zone, "" when none is enrolled.
func (c *Client) Sensors(ctx context.Context) ([]string, error) {
	entries, err := c.FetchList(ctx, ListCommand(PathGetSensor))
	if err != nil {
		return nil, fmt.Errorf("could not get sensors: %w", err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		if e != nil {
			ids[i] = fmt.Sprint(e)
		}
	}
	return ids, nil
}

func (c *Client) ZoneInfos(ctx context.Context) ([]ZoneInfo, error) {
	entries, err := c.FetchList(ctx, ListCommand(PathGetZone))
	if err != nil {
		return nil, fmt.Errorf("could not get zones: %w", err)
	}
	infos := make([]ZoneInfo, len(entries))
	for i, e := range entries {
		if f, ok := e.(*Fields); ok {
			infos[i] = zoneInfoFromFields(f)
		}
	}
	return infos, nil
}

// Logs returns the panel event log, oldest first as the panel lists it.
func (c *Client) Logs(ctx context.Context) ([]Event, error) {
	entries, err := c.FetchList(ctx, ListCommand(PathGetLog))
	if err != nil {
		return nil, fmt.Errorf("could not get logs: %w", err)
	}
	var events []Event
	for _, e := range entries {
		f, ok := e.(*Fields)
		if !ok {
			continue
		}
		evt := eventFromFields(f)
		evt.Marker = magicCommand
		events = append(events, evt)
	}
	return events, nil
}
