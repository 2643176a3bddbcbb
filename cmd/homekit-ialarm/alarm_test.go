package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	ialarm "github.com/caarlos0/homekit-ialarm"
	"github.com/stretchr/testify/require"
)

type fakePanel struct {
	mu      sync.Mutex
	calls   []string
	users   []string
	bypass  map[int]bool
	status  ialarm.Status
	failing error
}

func (p *fakePanel) record(call, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	p.users = append(p.users, user)
	return p.failing
}

func (p *fakePanel) ArmAway(_ context.Context, user string) error    { return p.record("away", user) }
func (p *fakePanel) ArmStay(_ context.Context, user string) error    { return p.record("stay", user) }
func (p *fakePanel) ArmPartial(_ context.Context, user string) error { return p.record("partial", user) }
func (p *fakePanel) Disarm(_ context.Context, user string) error     { return p.record("disarm", user) }
func (p *fakePanel) CancelAlarm(_ context.Context, user string) error {
	return p.record("cancel", user)
}

func (p *fakePanel) Status() ialarm.StatusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ialarm.StatusUpdate{Status: p.status}
}

func (p *fakePanel) Bypass(_ context.Context, zone ialarm.Zone, bypass bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bypass == nil {
		p.bypass = map[int]bool{}
	}
	p.bypass[zone.Number()] = bypass
	return p.failing
}

func TestSecuritySystemHandler(t *testing.T) {
	for target, want := range map[int]string{
		characteristic.SecuritySystemTargetStateStayArm:  "stay",
		characteristic.SecuritySystemTargetStateAwayArm:  "away",
		characteristic.SecuritySystemTargetStateNightArm: "partial",
		characteristic.SecuritySystemTargetStateDisarm:   "disarm",
	} {
		t.Run(want, func(t *testing.T) {
			panel := &fakePanel{status: ialarm.StatusDisarmed}
			a := NewSecuritySystem(accessory.Info{Name: "Alarm"}, panel)
			_, code := a.updateHandler(target, nil)
			require.Equal(t, hap.JsonStatusSuccess, code)
			require.Equal(t, []string{want}, panel.calls)
			require.Equal(t, []string{homekitUser}, panel.users)
		})
	}

	t.Run("disarm while triggered cancels", func(t *testing.T) {
		panel := &fakePanel{status: ialarm.StatusTriggered}
		a := NewSecuritySystem(accessory.Info{Name: "Alarm"}, panel)
		_, code := a.updateHandler(characteristic.SecuritySystemTargetStateDisarm, nil)
		require.Equal(t, hap.JsonStatusSuccess, code)
		require.Equal(t, []string{"cancel"}, panel.calls)
	})

	t.Run("failure", func(t *testing.T) {
		panel := &fakePanel{failing: errors.New("fake")}
		a := NewSecuritySystem(accessory.Info{Name: "Alarm"}, panel)
		_, code := a.updateHandler(characteristic.SecuritySystemTargetStateAwayArm, nil)
		require.Equal(t, hap.JsonStatusResourceBusy, code)
	})

	t.Run("unknown", func(t *testing.T) {
		panel := &fakePanel{}
		a := NewSecuritySystem(accessory.Info{Name: "Alarm"}, panel)
		_, code := a.updateHandler(42, nil)
		require.Equal(t, hap.JsonStatusResourceDoesNotExist, code)
		require.Empty(t, panel.calls)
	})
}

func TestSecuritySystemUpdate(t *testing.T) {
	a := NewSecuritySystem(accessory.Info{Name: "Alarm"}, &fakePanel{})

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusArmedPartial})
	require.Equal(t, characteristic.SecuritySystemCurrentStateNightArm, a.SecuritySystem.SecuritySystemCurrentState.Value())
	require.Equal(t, characteristic.SecuritySystemTargetStateNightArm, a.SecuritySystem.SecuritySystemTargetState.Value())
	require.Equal(t, 0, a.Fault.Value())

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusTriggered})
	require.Equal(t, characteristic.SecuritySystemCurrentStateAlarmTriggered, a.SecuritySystem.SecuritySystemCurrentState.Value())
	require.Equal(t, characteristic.SecuritySystemTargetStateNightArm, a.SecuritySystem.SecuritySystemTargetState.Value())

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusUnavailable})
	require.Equal(t, 1, a.Fault.Value())
	require.Equal(t, characteristic.SecuritySystemCurrentStateAlarmTriggered, a.SecuritySystem.SecuritySystemCurrentState.Value())

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusDisarmed})
	require.Equal(t, 0, a.Fault.Value())
	require.Equal(t, characteristic.SecuritySystemCurrentStateDisarmed, a.SecuritySystem.SecuritySystemCurrentState.Value())
	require.Equal(t, characteristic.SecuritySystemTargetStateDisarm, a.SecuritySystem.SecuritySystemTargetState.Value())
}

func TestSirenSwitch(t *testing.T) {
	panel := &fakePanel{}
	a := setupSirenSwitch(panel)

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusTriggered})
	require.True(t, a.Switch.Switch.On.Value())
	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusUnavailable})
	require.True(t, a.Switch.Switch.On.Value())

	_, code := a.Switch.Switch.On.SetValueRequestFunc(true, nil)
	require.Equal(t, hap.JsonStatusInvalidValueInRequest, code)
	require.Empty(t, panel.calls)

	_, code = a.Switch.Switch.On.SetValueRequestFunc(false, nil)
	require.Equal(t, hap.JsonStatusSuccess, code)
	require.Equal(t, []string{"cancel"}, panel.calls)

	a.Update(ialarm.StatusUpdate{Status: ialarm.StatusDisarmed})
	require.False(t, a.Switch.Switch.On.Value())
}
