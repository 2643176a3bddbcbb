package ialarm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	pathPair  = "/Root/Pair/Push"
	pathAlarm = "/Root/Host/Alarm"

	DefaultKeepalive      = 60 * time.Second
	DefaultReconnectDelay = time.Second

	// idleKeepalives is how many keepalive periods may pass without a
	// single byte from the panel before the connection is considered dead.
	idleKeepalives = 3
)

// ListenerState is where a Listener is in its lifecycle.
type ListenerState int32

const (
	StateIdle ListenerState = iota
	StateConnecting
	StatePaired
	StateListening
	StateReconnecting
	StateCancelled
)

func (s ListenerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePaired:
		return "paired"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Listener keeps a push connection to the panel and reports alarm events.
// It reconnects forever until cancelled. Callbacks run on the listener
// goroutine and must return quickly.
type Listener struct {
	addr      string
	uid       string
	timeout   time.Duration
	keepalive time.Duration
	delay     time.Duration
	now       func() time.Time
	loc       *time.Location
	resolve   func(aid string) string
	cell      *StatusCell
	onEvent   func(Event)
	onStatus  func(StatusUpdate)
	onState   func(ListenerState)

	state atomic.Int32

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
}

type ListenerOption func(*Listener)

// WithKeepalive sets how often a keepalive frame is sent, measured from
// the moment the connection was opened.
func WithKeepalive(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.keepalive = d
		}
	}
}

// WithReconnectDelay sets the pause between a lost connection and the
// next attempt.
func WithReconnectDelay(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.delay = d
		}
	}
}

// WithConnectTimeout bounds dialing, pairing writes and reading the rest
// of a frame once it started arriving.
func WithConnectTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithClock(now func() time.Time) ListenerOption {
	return func(l *Listener) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the timezone events are stamped in.
func WithLocation(loc *time.Location) ListenerOption {
	return func(l *Listener) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithUserResolver maps the panel's acting user id to something readable.
func WithUserResolver(fn func(aid string) string) ListenerOption {
	return func(l *Listener) { l.resolve = fn }
}

// WithStatusCell shares a status cell, typically the one of a Panel.
func WithStatusCell(cell *StatusCell) ListenerOption {
	return func(l *Listener) {
		if cell != nil {
			l.cell = cell
		}
	}
}

// OnEvent is called for every alarm event.
func OnEvent(fn func(Event)) ListenerOption {
	return func(l *Listener) { l.onEvent = fn }
}

// OnStatus is called whenever an event changed the status.
func OnStatus(fn func(StatusUpdate)) ListenerOption {
	return func(l *Listener) { l.onStatus = fn }
}

func OnState(fn func(ListenerState)) ListenerOption {
	return func(l *Listener) { l.onState = fn }
}

func NewListener(host string, port int, uid string, opts ...ListenerOption) *Listener {
	l := &Listener{
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		uid:       uid,
		timeout:   DefaultTimeout,
		keepalive: DefaultKeepalive,
		delay:     DefaultReconnectDelay,
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cell == nil {
		l.cell = NewStatusCell()
	}
	return l
}

func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Status is the status as last seen by the listener's cell.
func (l *Listener) Status() StatusUpdate {
	return l.cell.Get()
}

func (l *Listener) setState(s ListenerState) {
	if ListenerState(l.state.Swap(int32(s))) == s {
		return
	}
	log.Debug("push state", "state", s)
	if l.onState != nil {
		l.onState(s)
	}
}

// Cancel stops the listener. It may be called from any goroutine, before
// or while Run is running; Run returns once the connection is closed.
func (l *Listener) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelled = true
	if l.cancel != nil {
		l.cancel()
	}
}

// Run connects, pairs and dispatches frames until ctx is done or Cancel is
// called, reconnecting after every failure. It returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	if l.cancelled {
		cancel()
	}
	l.mu.Unlock()

	bo := backoff.WithContext(backoff.NewConstantBackOff(l.delay), ctx)
	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := l.session(ctx)
		if cerr := ctx.Err(); cerr != nil {
			return backoff.Permanent(cerr)
		}
		return err
	}, bo, func(err error, d time.Duration) {
		l.setState(StateReconnecting)
		log.Warn("push connection lost", "addr", l.addr, "err", err, "retry_in", d)
	})

	l.setState(StateCancelled)
	if ctx.Err() != nil {
		log.Info("push listener stopped", "addr", l.addr)
		return nil
	}
	return err
}

// session runs one connection until it fails. It never returns nil.
func (l *Listener) session(ctx context.Context) error {
	l.setState(StateConnecting)
	d := net.Dialer{Timeout: l.timeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return connError("connect", err)
	}
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug("could not close push connection", "err", err)
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := l.pair(conn); err != nil {
		return err
	}
	l.setState(StatePaired)

	start := time.Now()
	nextKeepalive := start.Add(l.keepalive)
	lastRead := start
	br := bufio.NewReader(conn)
	for {
		now := time.Now()
		if !now.Before(nextKeepalive) {
			if err := l.sendKeepalive(conn); err != nil {
				return err
			}
			for !nextKeepalive.After(now) {
				nextKeepalive = nextKeepalive.Add(l.keepalive)
			}
		}
		idleLimit := lastRead.Add(idleKeepalives * l.keepalive)
		if !now.Before(idleLimit) {
			return &ConnectionError{
				Op:   "read",
				Kind: ErrTimeout,
				Err:  fmt.Errorf("nothing received for %s", now.Sub(lastRead).Round(time.Second)),
			}
		}

		// wake up for the next keepalive or the idle limit, whichever
		// comes first
		deadline := nextKeepalive
		if idleLimit.Before(deadline) {
			deadline = idleLimit
		}
		_ = conn.SetReadDeadline(deadline)
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return connError("read", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(l.timeout))
		frame, err := readFrame(br, magicKeepalive, magicCommand, magicAlarm, magicAlarmPlain)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				return err
			}
			return connError("read", err)
		}
		lastRead = time.Now()
		if err := l.dispatch(frame); err != nil {
			return err
		}
	}
}

func (l *Listener) pair(conn net.Conn) error {
	cmd := NewCommand(pathPair).
		Set("Id", EncodeString(l.uid)).
		Null("Err")
	frame, err := buildFrame(magicCommand, 0, cmd.marshal(), false)
	if err != nil {
		return fmt.Errorf("could not build pairing request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(l.timeout))
	if _, err := conn.Write(frame); err != nil {
		return connError("pair", err)
	}
	log.Info("pairing", "addr", l.addr)
	return nil
}

func (l *Listener) sendKeepalive(conn net.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(l.timeout))
	if _, err := conn.Write([]byte(magicKeepalive)); err != nil {
		return connError("keepalive", err)
	}
	log.Debug("keepalive sent", "addr", l.addr)
	return nil
}

func (l *Listener) dispatch(frame Frame) error {
	switch frame.Magic {
	case magicKeepalive:
		log.Debug("keepalive received", "addr", l.addr)
		return nil
	case magicCommand:
		msg, err := unmarshalPayload(frame.Payload)
		if err != nil {
			return err
		}
		// the pairing ack and some alarm events share this marker
		if ack := msg.Select(pathPair); ack != nil {
			if errv := ack.Get("Err"); truthy(errv) {
				code, _ := errv.(int)
				return &AuthenticationError{Op: "pair", Code: code}
			}
			l.setState(StateListening)
			log.Info("paired", "addr", l.addr)
			return nil
		}
		return l.alarm(frame.Magic, msg)
	case magicAlarm, magicAlarmPlain:
		if frame.Magic == magicAlarmPlain {
			log.Warn("plain alarm frame", "marker", frame.Magic, "seq", frame.Seq)
		}
		msg, err := unmarshalPayload(frame.Payload)
		if err != nil {
			return err
		}
		return l.alarm(frame.Magic, msg)
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unexpected marker %q", frame.Magic)}
	}
}

func (l *Listener) alarm(marker string, msg *Fields) error {
	f := msg.Select(pathAlarm)
	if f == nil {
		return &ProtocolError{Reason: fmt.Sprintf("%s frame without %s", marker, pathAlarm)}
	}
	// any frame after the pairing request means the panel accepted it
	l.setState(StateListening)

	// freshness is compared on the unconverted reading, which keeps the
	// monotonic clock
	at := l.now()
	evt := eventFromFields(f)
	evt.Marker = marker
	evt.Time = at.In(l.loc)
	if l.resolve != nil && evt.Aid != "" {
		evt.User = l.resolve(evt.Aid)
	}
	explicit := explicitStatus(f)
	var prev Status
	upd, applied := l.cell.Update(at, SourcePush, evt.Aid, func(cur Status) Status {
		prev = cur
		return NextStatus(cur, evt.Cid, explicit)
	})
	evt.Status = upd.Status
	changed := applied && upd.Status != prev

	log.Info(
		"alarm event",
		"cid", evt.Cid,
		"description", evt.Description(),
		"zone", evt.Zone,
		"zone_name", evt.ZoneName,
		"status", evt.Status,
		"user", evt.Aid,
	)
	if l.onEvent != nil {
		l.onEvent(evt)
	}
	if changed && l.onStatus != nil {
		l.onStatus(upd)
	}
	return nil
}
