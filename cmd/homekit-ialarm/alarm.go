package main

import (
	"context"
	"net/http"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	ialarm "github.com/caarlos0/homekit-ialarm"
)

// homekitUser is the user id recorded for changes made from HomeKit.
const homekitUser = "homekit"

const commandTimeout = time.Minute

type panelController interface {
	ArmAway(ctx context.Context, userID string) error
	ArmStay(ctx context.Context, userID string) error
	ArmPartial(ctx context.Context, userID string) error
	Disarm(ctx context.Context, userID string) error
	CancelAlarm(ctx context.Context, userID string) error
	Status() ialarm.StatusUpdate
}

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Fault          *characteristic.StatusFault

	panel panelController
}

func NewSecuritySystem(info accessory.Info, panel panelController) *SecuritySystem {
	a := &SecuritySystem{
		panel: panel,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(upd ialarm.StatusUpdate) {
	armStateGauge.Set(float64(upd.Status))

	fault := boolAs[int](upd.Status == ialarm.StatusUnavailable)
	if a.Fault.Value() != fault {
		_ = a.Fault.SetValue(fault)
		log.Info("alarm status", "fault", fault == 1)
	}

	if v := currentState(upd.Status); v >= 0 && a.SecuritySystem.SecuritySystemCurrentState.Value() != v {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(v)
		log.Info(
			"set current state",
			"state", v,
			"status", upd.Status,
			"source", upd.Source,
			"user", upd.UserID,
			"err", err,
		)
	}

	if v := targetState(upd.Status); v >= 0 && a.SecuritySystem.SecuritySystemTargetState.Value() != v {
		err := a.SecuritySystem.SecuritySystemTargetState.SetValue(v)
		log.Info("set target state", "state", v, "err", err)
	}
}

func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch v.(int) {
	case characteristic.SecuritySystemTargetStateStayArm:
		log.Info("arm stay")
		err = a.panel.ArmStay(ctx, homekitUser)
	case characteristic.SecuritySystemTargetStateAwayArm:
		log.Info("arm away")
		err = a.panel.ArmAway(ctx, homekitUser)
	case characteristic.SecuritySystemTargetStateNightArm:
		log.Info("arm partial")
		err = a.panel.ArmPartial(ctx, homekitUser)
	case characteristic.SecuritySystemTargetStateDisarm:
		if a.panel.Status().Status == ialarm.StatusTriggered {
			log.Info("cancel alarm")
			err = a.panel.CancelAlarm(ctx, homekitUser)
			break
		}
		log.Info("disarm")
		err = a.panel.Disarm(ctx, homekitUser)
	default:
		return nil, hap.JsonStatusResourceDoesNotExist
	}
	if err != nil {
		log.Error("could not change alarm state", "target", v, "err", err)
		return nil, hap.JsonStatusResourceBusy
	}
	return nil, hap.JsonStatusSuccess
}
