package ialarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second
)

// Panel runs operation groups against one panel (login, fn, logout) and
// owns the status cell shared with its push listener.
type Panel struct {
	host       string
	port       int
	uid        string
	pwd        string
	clientOpts []Option
	attempts   int
	delay      time.Duration
	now        func() time.Time
	onStatus   func(StatusUpdate)
	onAttempt  func(err error)
	cell       *StatusCell

	lock sync.Mutex
}

type PanelOption func(*Panel)

// WithRetry sets how many times an operation group is attempted and how
// long to wait between attempts.
func WithRetry(attempts int, delay time.Duration) PanelOption {
	return func(p *Panel) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if delay >= 0 {
			p.delay = delay
		}
	}
}

func WithClientOptions(opts ...Option) PanelOption {
	return func(p *Panel) { p.clientOpts = append(p.clientOpts, opts...) }
}

func WithPanelClock(now func() time.Time) PanelOption {
	return func(p *Panel) {
		if now != nil {
			p.now = now
		}
	}
}

// OnStatusChange is called after a command or poll changed the status.
func OnStatusChange(fn func(StatusUpdate)) PanelOption {
	return func(p *Panel) { p.onStatus = fn }
}

// OnAttempt is called after every attempt of an operation group, with its
// error or nil.
func OnAttempt(fn func(err error)) PanelOption {
	return func(p *Panel) { p.onAttempt = fn }
}

func NewPanel(host string, port int, uid, pwd string, opts ...PanelOption) *Panel {
	p := &Panel{
		host:     host,
		port:     port,
		uid:      uid,
		pwd:      pwd,
		attempts: DefaultRetries,
		delay:    DefaultRetryDelay,
		now:      time.Now,
		cell:     NewStatusCell(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Panel) Host() string { return p.host }

func (p *Panel) Status() StatusUpdate {
	return p.cell.Get()
}

// Execute runs fn on a freshly logged in client and logs out afterwards.
// Groups are serialized. A failed group is retried from login on, up to
// the configured attempts; rejected credentials and commands are not.
func (p *Panel) Execute(ctx context.Context, fn func(ctx context.Context, cli *Client) error) error {
	t := time.Now()
	p.lock.Lock()
	defer p.lock.Unlock()
	log.Debugf("got panel lock after %s", time.Since(t))

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), uint64(p.attempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := p.attempt(ctx, fn)
		if p.onAttempt != nil {
			p.onAttempt(err)
		}
		return permanent(err)
	}, bo, func(err error, d time.Duration) {
		log.Warn(
			"command to panel failed",
			"err", err,
			"attempt", attempt,
			"max", p.attempts,
			"retry_in", d,
		)
	})
}

func (p *Panel) attempt(ctx context.Context, fn func(ctx context.Context, cli *Client) error) error {
	cli := New(p.host, p.port, p.uid, p.pwd, p.clientOpts...)
	defer cli.Logout()
	if err := cli.Login(ctx); err != nil {
		return err
	}
	return fn(ctx, cli)
}

func permanent(err error) error {
	if err == nil {
		return nil
	}
	var cerr *CommandError
	if errors.Is(err, ErrInvalidCredentials) ||
		errors.As(err, &cerr) ||
		errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	return err
}

func (p *Panel) ArmAway(ctx context.Context, userID string) error {
	return p.setMode(ctx, StatusArmedAway, StatusArming, userID)
}

func (p *Panel) ArmStay(ctx context.Context, userID string) error {
	return p.setMode(ctx, StatusArmedStay, StatusArmedStay, userID)
}

func (p *Panel) ArmPartial(ctx context.Context, userID string) error {
	return p.setMode(ctx, StatusArmedPartial, StatusArmedPartial, userID)
}

func (p *Panel) Disarm(ctx context.Context, userID string) error {
	return p.setMode(ctx, StatusDisarmed, StatusDisarmed, userID)
}

// CancelAlarm silences a triggered alarm, which leaves the panel disarmed.
func (p *Panel) CancelAlarm(ctx context.Context, userID string) error {
	return p.setMode(ctx, StatusCancel, StatusDisarmed, userID)
}

// setMode sends mode and, once the panel accepted it, records reported
// as the new status.
func (p *Panel) setMode(ctx context.Context, mode, reported Status, userID string) error {
	if err := p.Execute(ctx, func(ctx context.Context, cli *Client) error {
		return cli.SetAlarmStatus(ctx, mode)
	}); err != nil {
		return err
	}
	log.Info("alarm status set", "mode", mode, "user", userID)
	p.publish(p.cell.Set(StatusUpdate{
		Status: reported,
		Time:   p.now(),
		Source: SourceCommand,
		UserID: userID,
	}))
	return nil
}

// RefreshStatus polls the panel status. On failure the previous status is
// kept and returned along with the error.
func (p *Panel) RefreshStatus(ctx context.Context) (StatusUpdate, error) {
	started := p.now()
	var status Status
	if err := p.Execute(ctx, func(ctx context.Context, cli *Client) (err error) {
		status, err = cli.AlarmStatus(ctx)
		return
	}); err != nil {
		return p.cell.Get(), err
	}
	upd, applied := p.cell.Set(StatusUpdate{
		Status: status,
		Time:   started,
		Source: SourcePoll,
	})
	p.publish(upd, applied)
	return upd, nil
}

func (p *Panel) publish(upd StatusUpdate, applied bool) {
	if applied && p.onStatus != nil {
		p.onStatus(upd)
	}
}

// Zones lists the zones that have a sensor enrolled, with their names,
// types and current state.
func (p *Panel) Zones(ctx context.Context) ([]Zone, error) {
	var ids []string
	var infos []ZoneInfo
	var states []ZoneState
	if err := p.Execute(ctx, func(ctx context.Context, cli *Client) (err error) {
		if ids, err = cli.Sensors(ctx); err != nil {
			return err
		}
		if infos, err = cli.ZoneInfos(ctx); err != nil {
			return err
		}
		states, err = cli.ZoneStates(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return mergeZones(ids, infos, states), nil
}

// ZoneStates polls only the zone bitmasks.
func (p *Panel) ZoneStates(ctx context.Context) ([]ZoneState, error) {
	var states []ZoneState
	err := p.Execute(ctx, func(ctx context.Context, cli *Client) (err error) {
		states, err = cli.ZoneStates(ctx)
		return
	})
	return states, err
}

func mergeZones(ids []string, infos []ZoneInfo, states []ZoneState) []Zone {
	var zones []Zone
	for i, id := range ids {
		if id == "" {
			continue
		}
		z := Zone{Index: i, ID: id, Name: fmt.Sprintf("Zone %d", i+1)}
		if i < len(infos) {
			if infos[i].Name != "" {
				z.Name = infos[i].Name
			}
			z.Type = infos[i].Type
		}
		if i < len(states) {
			z.State = states[i]
		}
		if z.Condition() == ZoneUnknown {
			log.Warn("unknown zone state", "zone", z.Number(), "state", z.State)
		}
		zones = append(zones, z)
	}
	return zones
}

func (p *Panel) Bypass(ctx context.Context, zone Zone, bypass bool) error {
	return p.Execute(ctx, func(ctx context.Context, cli *Client) error {
		return cli.Bypass(ctx, zone.Index, bypass)
	})
}

// Device is what the panel tells about itself.
type Device struct {
	Name    string
	MAC     string
	Network Network
}

// Device reads the panel network configuration. When it carries no MAC,
// the address is resolved over ARP, which only works on the local network.
func (p *Panel) Device(ctx context.Context) (Device, error) {
	var network Network
	if err := p.Execute(ctx, func(ctx context.Context, cli *Client) (err error) {
		network, err = cli.Network(ctx)
		return
	}); err != nil {
		return Device{}, err
	}
	dev := Device{Name: network.Name, Network: network}
	if len(network.MAC) > 0 {
		dev.MAC = network.MAC.String()
		return dev, nil
	}
	mac, err := MacAddress(p.host)
	if err != nil {
		return dev, err
	}
	dev.MAC = mac
	return dev, nil
}

// Listener returns a push listener sharing this panel's status cell.
func (p *Panel) Listener(opts ...ListenerOption) *Listener {
	opts = append([]ListenerOption{WithStatusCell(p.cell)}, opts...)
	return NewListener(p.host, p.port, p.uid, opts...)
}
