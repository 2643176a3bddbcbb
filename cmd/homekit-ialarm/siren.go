package main

import (
	"context"
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	ialarm "github.com/caarlos0/homekit-ialarm"
)

type alarmCanceller interface {
	CancelAlarm(ctx context.Context, userID string) error
}

// SirenSwitch is on while the alarm is triggered. Turning it off cancels
// the alarm; it cannot be turned on.
type SirenSwitch struct {
	*accessory.Switch
}

func setupSirenSwitch(panel alarmCanceller) *SirenSwitch {
	a := &SirenSwitch{accessory.NewSwitch(accessory.Info{
		Name:         "Alarm Siren",
		Manufacturer: manufacturer,
	})}
	a.Switch.Switch.On.SetValueRequestFunc = func(value interface{}, _ *http.Request) (response interface{}, code int) {
		if value.(bool) {
			return nil, hap.JsonStatusInvalidValueInRequest
		}
		log.Warn("cancelling the alarm")
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := panel.CancelAlarm(ctx, homekitUser); err != nil {
			log.Error("failed to cancel the alarm", "err", err)
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}
	return a
}

func (a *SirenSwitch) Update(upd ialarm.StatusUpdate) {
	if upd.Status == ialarm.StatusUnavailable {
		return
	}
	if on := upd.Status == ialarm.StatusTriggered; a.Switch.Switch.On.Value() != on {
		a.Switch.Switch.On.SetValue(on)
	}
}
