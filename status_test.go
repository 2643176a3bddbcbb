package ialarm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	for cid, want := range map[int]Status{
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
	} {
		require.Equal(t, want, NextStatus(StatusUnavailable, cid, nil), "cid %d", cid)
	}

	t.Run("unmapped keeps previous", func(t *testing.T) {
		require.Equal(t, StatusArmedStay, NextStatus(StatusArmedStay, 9999, nil))
		_, ok := StatusForCid(9999)
		require.False(t, ok)
	})

	t.Run("explicit status on unmapped code", func(t *testing.T) {
		s := StatusArming
		require.Equal(t, StatusArming, NextStatus(StatusDisarmed, 9999, &s))
	})

	t.Run("mapped code wins over explicit status", func(t *testing.T) {
		s := StatusArmedAway
		require.Equal(t, StatusDisarmed, NextStatus(StatusArmedAway, 1401, &s))
	})
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "ARMED_PARTIAL", StatusArmedPartial.String())
	require.Equal(t, "UNKNOWN(7)", Status(7).String())
}

func TestCidDescription(t *testing.T) {
	require.Equal(t, "Disarm report", CidDescription(1401))
	require.Empty(t, CidDescription(9999))
}

func TestTimeZoneName(t *testing.T) {
	require.Equal(t, "GMT-12:00", TimeZoneName(0))
	require.Equal(t, "GMT", TimeZoneName(13))
	require.Equal(t, "GMT+13:00", TimeZoneName(30))
	require.Empty(t, TimeZoneName(31))
	require.Empty(t, TimeZoneName(-1))
}

func TestZoneCondition(t *testing.T) {
	for name, tt := range map[string]struct {
		state ZoneState
		want  ZoneCondition
	}{
		"open":                {ZoneInUse | ZoneFault, ZoneOpen},
		"closed":              {ZoneInUse, ZoneClosed},
		"closed with battery": {ZoneInUse | ZoneLowBattery, ZoneClosed},
		"bypassed":            {ZoneInUse | ZoneBypass, ZoneClosed},
		"not used":            {0, ZoneUnused},
		"lost":                {ZoneLoss, ZoneLost},
		"lost and open":       {ZoneLoss | ZoneInUse | ZoneFault, ZoneLost},
		"lost and alarm":      {ZoneLoss | ZoneAlarm, ZoneLost},
		"fault only":          {ZoneFault, ZoneUnknown},
		"alarm only":          {ZoneAlarm, ZoneUnknown},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.state.Condition())
		})
	}

	require.Equal(t, "open", ZoneOpen.String())
	require.Equal(t, "not used", ZoneUnused.String())
	require.Equal(t, "closed(000001)", ZoneInUse.String())
}

func TestStatusCell(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("starts unavailable", func(t *testing.T) {
		require.Equal(t, StatusUnavailable, NewStatusCell().Get().Status)
	})

	t.Run("newer wins", func(t *testing.T) {
		cell := NewStatusCell()
		_, ok := cell.Set(StatusUpdate{Status: StatusDisarmed, Time: t0, Source: SourcePoll})
		require.True(t, ok)
		got, ok := cell.Set(StatusUpdate{Status: StatusArmedAway, Time: t0.Add(time.Second), Source: SourcePush})
		require.True(t, ok)
		require.Equal(t, StatusArmedAway, got.Status)
		require.Equal(t, SourcePush, got.Source)
	})

	t.Run("stale poll does not overwrite push", func(t *testing.T) {
		cell := NewStatusCell()
		_, ok := cell.Set(StatusUpdate{Status: StatusTriggered, Time: t0, Source: SourcePush})
		require.True(t, ok)
		// poll started before the push arrived
		got, ok := cell.Set(StatusUpdate{Status: StatusArmedAway, Time: t0.Add(-time.Second), Source: SourcePoll})
		require.False(t, ok)
		require.Equal(t, StatusTriggered, got.Status)
		require.Equal(t, StatusTriggered, cell.Get().Status)
	})

	t.Run("update sees previous", func(t *testing.T) {
		cell := NewStatusCell()
		_, _ = cell.Set(StatusUpdate{Status: StatusArmedStay, Time: t0})
		got, ok := cell.Update(t0, SourcePush, "7", func(prev Status) Status {
			return NextStatus(prev, 9999, nil)
		})
		require.True(t, ok)
		require.Equal(t, StatusArmedStay, got.Status)
		require.Equal(t, "7", got.UserID)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		cell := NewStatusCell()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cell.Set(StatusUpdate{Status: StatusDisarmed, Time: t0.Add(time.Duration(i) * time.Second)})
			}(i)
		}
		wg.Wait()
		require.Equal(t, t0.Add(49*time.Second), cell.Get().Time)
	})
}

func TestMergeZones(t *testing.T) {
	zones := mergeZones(
		[]string{"A1", "", "C3", "D4"},
		[]ZoneInfo{{Name: "Door", Type: 1}, {Name: "Unused"}, {Name: ""}},
		[]ZoneState{ZoneInUse | ZoneFault, 0, ZoneInUse},
	)
	require.Equal(t, []Zone{
		{Index: 0, ID: "A1", Name: "Door", Type: 1, State: ZoneInUse | ZoneFault},
		{Index: 2, ID: "C3", Name: "Zone 3", State: ZoneInUse},
		{Index: 3, ID: "D4", Name: "Zone 4"},
	}, zones)
	require.Equal(t, ZoneOpen, zones[0].Condition())
	require.Equal(t, "DE", zones[0].TypeName())
	require.Equal(t, 3, zones[1].Number())
}
