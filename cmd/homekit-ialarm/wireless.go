package main

import (
	"context"
	"fmt"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	ialarm "github.com/caarlos0/homekit-ialarm"
)

// WirelessDevice is a wireless siren or keypad paired with the panel.
type WirelessDevice struct {
	*accessory.A
	Connected  *service.ContactSensor
	LowBattery *characteristic.StatusLowBattery
	Tamper     *characteristic.StatusTampered

	number int
}

func newWirelessDevice(info accessory.Info, number int) *WirelessDevice {
	a := WirelessDevice{number: number}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.Tamper = characteristic.NewStatusTampered()

	a.Connected = service.NewContactSensor()
	a.Connected.AddC(a.Tamper.C)
	a.Connected.AddC(a.LowBattery.C)
	a.AddS(a.Connected.S)

	_ = a.Connected.ContactSensorState.SetValue(0)

	return &a
}

func (device *WirelessDevice) Update(status ialarm.WirelessStatus) {
	_ = device.LowBattery.SetValue(boolAs[int](status.LowBattery))
	_ = device.Tamper.SetValue(boolAs[int](status.Tamper))
	lowBatteryGauge.WithLabelValues("wireless", device.Name()).Set(boolAs[float64](status.LowBattery))
	tamperGauge.WithLabelValues(device.Name()).Set(boolAs[float64](status.Tamper))
}

func setupWireless(numbers []int) []*WirelessDevice {
	var devices []*WirelessDevice
	for i, number := range numbers {
		a := newWirelessDevice(accessory.Info{
			Name:         fmt.Sprintf("Wireless %d", number),
			Manufacturer: manufacturer,
		}, number)
		a.Id = uint64(200 + i)
		devices = append(devices, a)
	}
	return devices
}

type wirelessReader interface {
	Execute(ctx context.Context, fn func(ctx context.Context, cli *ialarm.Client) error) error
}

// refreshWireless reads every device status in a single operation group.
func refreshWireless(ctx context.Context, panel wirelessReader, devices []*WirelessDevice) error {
	if len(devices) == 0 {
		return nil
	}
	statuses := make([]ialarm.WirelessStatus, len(devices))
	if err := panel.Execute(ctx, func(ctx context.Context, cli *ialarm.Client) error {
		for i, device := range devices {
			status, err := cli.WirelessStatus(ctx, device.number)
			if err != nil {
				return fmt.Errorf("could not get wireless device %d: %w", device.number, err)
			}
			statuses[i] = status
		}
		return nil
	}); err != nil {
		return err
	}
	for i, device := range devices {
		device.Update(statuses[i])
	}
	return nil
}
