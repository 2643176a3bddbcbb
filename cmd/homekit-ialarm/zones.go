package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	ialarm "github.com/caarlos0/homekit-ialarm"
)

type bypasser interface {
	Bypass(ctx context.Context, zone ialarm.Zone, bypass bool) error
}

// ZoneSensor is a panel zone shown as a contact sensor. The optional
// bypass switch is on while the zone is active.
type ZoneSensor struct {
	*accessory.A
	Contact    *service.ContactSensor
	Bypass     *service.Switch
	LowBattery *characteristic.StatusLowBattery
	Fault      *characteristic.StatusFault

	zone ialarm.Zone
}

func newZoneSensor(info accessory.Info, zone ialarm.Zone, allowBypass bool) *ZoneSensor {
	a := ZoneSensor{zone: zone}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.Fault = characteristic.NewStatusFault()

	a.Contact = service.NewContactSensor()
	a.Contact.AddC(a.LowBattery.C)
	a.Contact.AddC(a.Fault.C)
	a.AddS(a.Contact.S)

	if allowBypass {
		a.Bypass = service.NewSwitch()
		a.AddS(a.Bypass.S)
	}

	return &a
}

func (sensor *ZoneSensor) Update(state ialarm.ZoneState) {
	name := sensor.Name()
	cond := state.Condition()
	if cond == ialarm.ZoneUnknown {
		log.Warn("unknown zone state", "zone", sensor.zone.Number(), "state", state)
	}

	lowBattery := state.Has(ialarm.ZoneLowBattery)
	lowBatteryGauge.WithLabelValues("zone", name).Set(boolAs[float64](lowBattery))
	if v := boolAs[int](lowBattery); sensor.LowBattery.Value() != v {
		log.Info("low battery", "zone", sensor.zone.Number(), "status", lowBattery)
		_ = sensor.LowBattery.SetValue(v)
	}

	lost := cond == ialarm.ZoneLost
	lostGauge.WithLabelValues(name).Set(boolAs[float64](lost))
	if v := boolAs[int](lost || cond == ialarm.ZoneUnknown); sensor.Fault.Value() != v {
		log.Info("fault", "zone", sensor.zone.Number(), "status", cond)
		_ = sensor.Fault.SetValue(v)
	}

	bypassing := state.Has(ialarm.ZoneBypass)
	bypassedGauge.WithLabelValues(name).Set(boolAs[float64](bypassing))
	if sensor.Bypass != nil && sensor.Bypass.On.Value() == bypassing {
		log.Info("bypass", "zone", sensor.zone.Number(), "status", bypassing)
		sensor.Bypass.On.SetValue(!bypassing)
	}

	open := cond == ialarm.ZoneOpen
	openGauge.WithLabelValues(name).Set(boolAs[float64](open))
	current := boolAs[int](open)
	if v := sensor.Contact.ContactSensorState.Value(); v == current {
		return
	}
	_ = sensor.Contact.ContactSensorState.SetValue(current)
	log.Info(
		"contact",
		"zone", sensor.zone.Number(),
		"open", open,
		"state", state,
	)
}

func setupZones(panel bypasser, zones []zoneConfig) []*ZoneSensor {
	var sensors []*ZoneSensor
	for _, zc := range zones {
		zc := zc
		a := newZoneSensor(accessory.Info{
			Name:         zc.name,
			SerialNumber: zc.zone.ID,
			Manufacturer: manufacturer,
			Model:        zc.zone.TypeName(),
		}, zc.zone, zc.allowBypass)
		a.Id = uint64(100 + zc.zone.Number())
		a.Update(zc.zone.State)

		if a.Bypass != nil {
			a.Bypass.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
				v := value.(bool)
				log.Info("set zone bypass", "zone", zc.name, "active", v)
				ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
				defer cancel()
				if err := panel.Bypass(ctx, zc.zone, !v); err != nil {
					log.Error("failed to set bypass", "zone", zc.name, "value", v, "err", err)
					return nil, hap.JsonStatusResourceBusy
				}
				return nil, hap.JsonStatusSuccess
			}
		}
		sensors = append(sensors, a)
	}
	return sensors
}

// ZoneSensors updates each sensor from the panel wide zone state list.
type ZoneSensors []*ZoneSensor

func (sensors ZoneSensors) Update(states []ialarm.ZoneState) {
	for _, sensor := range sensors {
		if idx := sensor.zone.Index; idx < len(states) {
			sensor.Update(states[idx])
		}
	}
}
