package ialarm

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPanelExecuteRetries(t *testing.T) {
	var conns atomic.Int32
	panel := newFakePanel(t, func(conn net.Conn) {
		if conns.Add(1) == 1 {
			// first attempt: drop the connection mid-login
			_, _ = readRequest(conn)
			return
		}
		serveLogin(conn, 0, func(req request) bool {
			return writeReply(conn, req.seq, req.path,
				el("DevStatus", EncodeType(int(StatusDisarmed), modeLabels...))+el("Err", "")) == nil
		})
	})
	host, port := panel.hostPort()

	var attempts []error
	p := NewPanel(
		host, port, "admin", "1234",
		WithRetry(3, 10*time.Millisecond),
		WithClientOptions(WithTimeout(time.Second)),
		OnAttempt(func(err error) { attempts = append(attempts, err) }),
	)
	upd, err := p.RefreshStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusDisarmed, upd.Status)
	require.Equal(t, SourcePoll, upd.Source)
	require.Len(t, attempts, 2)
	require.Error(t, attempts[0])
	require.NoError(t, attempts[1])
	require.EqualValues(t, 2, panel.accepts.Load())
}

func TestPanelExecuteGivesUp(t *testing.T) {
	panel := newFakePanel(t, func(conn net.Conn) {
		_, _ = readRequest(conn)
	})
	host, port := panel.hostPort()

	p := NewPanel(
		host, port, "admin", "1234",
		WithRetry(3, time.Millisecond),
		WithClientOptions(WithTimeout(time.Second)),
	)
	err := p.Execute(context.Background(), func(context.Context, *Client) error {
		return nil
	})
	require.ErrorIs(t, err, ErrConnectionClosed)
	require.EqualValues(t, 3, panel.accepts.Load())
}

func TestPanelExecuteDoesNotRetryRejections(t *testing.T) {
	t.Run("credentials", func(t *testing.T) {
		panel := newFakePanel(t, func(conn net.Conn) {
			serveLogin(conn, 1, func(request) bool { return false })
		})
		host, port := panel.hostPort()
		p := NewPanel(host, port, "admin", "wrong", WithRetry(3, time.Millisecond))
		err := p.Disarm(context.Background(), "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.EqualValues(t, 1, panel.accepts.Load())
		require.Equal(t, StatusUnavailable, p.Status().Status)
	})

	t.Run("command", func(t *testing.T) {
		panel := newFakePanel(t, func(conn net.Conn) {
			serveLogin(conn, 0, func(req request) bool {
				return writeReply(conn, req.seq, req.path, el("Err", EncodeErr(9))) == nil
			})
		})
		host, port := panel.hostPort()
		p := NewPanel(host, port, "admin", "1234", WithRetry(3, time.Millisecond))
		err := p.ArmAway(context.Background(), "")
		var cerr *CommandError
		require.True(t, errors.As(err, &cerr), err)
		require.EqualValues(t, 1, panel.accepts.Load())
	})
}

func TestPanelModes(t *testing.T) {
	var mu sync.Mutex
	var modes []int
	panel := newFakePanel(t, func(conn net.Conn) {
		serveLogin(conn, 0, func(req request) bool {
			if req.path != PathSetAlarmStatus {
				return false
			}
			mode, _ := req.fields.Int("DevStatus")
			mu.Lock()
			modes = append(modes, mode)
			mu.Unlock()
			return writeReply(conn, req.seq, req.path, el("Err", "")) == nil
		})
	})
	host, port := panel.hostPort()

	var updates []StatusUpdate
	p := NewPanel(
		host, port, "admin", "1234",
		WithRetry(1, 0),
		OnStatusChange(func(u StatusUpdate) { updates = append(updates, u) }),
	)
	ctx := context.Background()

	for _, tt := range []struct {
		name string
		fn   func(context.Context, string) error
		want Status
	}{
		{"away", p.ArmAway, StatusArming},
		{"stay", p.ArmStay, StatusArmedStay},
		{"partial", p.ArmPartial, StatusArmedPartial},
		{"disarm", p.Disarm, StatusDisarmed},
		{"cancel", p.CancelAlarm, StatusDisarmed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.fn(ctx, "user-"+tt.name))
			got := p.Status()
			require.Equal(t, tt.want, got.Status)
			require.Equal(t, SourceCommand, got.Source)
			require.Equal(t, "user-"+tt.name, got.UserID)
		})
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 2, 8, 1, 3}, modes)
	require.Len(t, updates, 5)
}

func TestPanelRefreshStatusFailureKeepsStatus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	p := NewPanel("127.0.0.1", port, "admin", "1234", WithRetry(2, time.Millisecond))
	p.cell.Set(StatusUpdate{Status: StatusArmedStay, Time: time.Now(), Source: SourcePush})

	upd, err := p.RefreshStatus(context.Background())
	require.ErrorIs(t, err, ErrConnectionRefused)
	require.Equal(t, StatusArmedStay, upd.Status)
	require.Equal(t, StatusArmedStay, p.Status().Status)
}

func TestPanelStalePollDropped(t *testing.T) {
	pushed := make(chan struct{})
	panel := newFakePanel(t, func(conn net.Conn) {
		serveLogin(conn, 0, func(req request) bool {
			// a push event lands while the poll is in flight
			<-pushed
			return writeReply(conn, req.seq, req.path,
				el("DevStatus", EncodeType(int(StatusDisarmed), modeLabels...))+el("Err", "")) == nil
		})
	})
	host, port := panel.hostPort()

	p := NewPanel(host, port, "admin", "1234", WithRetry(1, 0))
	go func() {
		time.Sleep(50 * time.Millisecond)
		p.cell.Set(StatusUpdate{Status: StatusTriggered, Time: time.Now(), Source: SourcePush})
		close(pushed)
	}()

	upd, err := p.RefreshStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusTriggered, upd.Status)
	require.Equal(t, SourcePush, upd.Source)
}

func TestPanelZones(t *testing.T) {
	panel := newFakePanel(t, func(conn net.Conn) {
		serveLogin(conn, 0, func(req request) bool {
			var err error
			switch req.path {
			case PathGetSensor:
				err = listPage(conn, req, []string{EncodeString("AA"), "", EncodeString("CC")}, 10)
			case PathGetZone:
				err = listPage(conn, req, []string{
					el("Name", EncodeBytes([]byte("Door"))) + el("Type", EncodeType(1)),
					el("Name", EncodeBytes([]byte("None"))),
					el("Name", EncodeBytes([]byte("Hall"))) + el("Type", EncodeType(3)),
				}, 10)
			case PathGetByWay:
				err = listPage(conn, req, []string{
					EncodeInt(int32(ZoneInUse)),
					EncodeInt(0),
					EncodeInt(int32(ZoneLoss | ZoneInUse)),
				}, 10)
			default:
				return false
			}
			return err == nil
		})
	})
	host, port := panel.hostPort()

	p := NewPanel(host, port, "admin", "1234", WithRetry(1, 0))
	zones, err := p.Zones(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Zone{
		{Index: 0, ID: "AA", Name: "Door", Type: 1, State: ZoneInUse},
		{Index: 2, ID: "CC", Name: "Hall", Type: 3, State: ZoneLoss | ZoneInUse},
	}, zones)
	require.Equal(t, ZoneLost, zones[1].Condition())
	require.EqualValues(t, 1, panel.accepts.Load())
}

func TestPanelDevice(t *testing.T) {
	panel := newFakePanel(t, func(conn net.Conn) {
		serveLogin(conn, 0, func(req request) bool {
			return writeReply(conn, req.seq, req.path,
				el("Mac", "MAC,17|00:1A:2B:3C:4D:5E")+el("Name", EncodeString("iAlarm"))+el("Err", "")) == nil
		})
	})
	host, port := panel.hostPort()

	p := NewPanel(host, port, "admin", "1234", WithRetry(1, 0))
	dev, err := p.Device(context.Background())
	require.NoError(t, err)
	require.Equal(t, "iAlarm", dev.Name)
	require.Equal(t, "00:1a:2b:3c:4d:5e", dev.MAC)
}

func TestPanelListenerSharesStatus(t *testing.T) {
	p := NewPanel("127.0.0.1", 1, "admin", "1234")
	l := p.Listener()
	require.Same(t, p.cell, l.cell)
}
