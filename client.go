package ialarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
	logp "github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "ialarm",
})

// SetLogLevel changes the verbosity of the library logger.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

const (
	DefaultHost    = "47.91.74.102"
	DefaultPort    = 18034
	DefaultTimeout = 10 * time.Second
)

const (
	pathLogin   = "/Root/Pair/Client"
	clientType  = "TYP,ANDROID|0"
	loginAction = "TYP,IN|0"
	pemNum      = "STR,5|26"
)

// Client talks to the panel over a short lived command connection:
// Login, one or more commands, Logout. It is safe for concurrent use, but
// commands are serialized on the single socket.
type Client struct {
	lock    sync.Mutex
	conn    net.Conn
	addr    string
	uid     string
	pwd     string
	timeout time.Duration
	seq     int
	token   string
}

type Option func(*Client)

// WithTimeout sets the connect and read timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(host string, port int, uid, pwd string, opts ...Option) *Client {
	cli := &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		uid:     uid,
		pwd:     pwd,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Token is the session token of the current login, or "" when logged out.
// It is only useful to correlate logs.
func (c *Client) Token() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.token
}

func (c *Client) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil
}

// Login connects and authenticates. It is a no-op when already logged in.
func (c *Client) Login(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil {
		return nil
	}

	log.Debug("connecting", "addr", c.addr)
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("could not login: %w", connError("connect", err))
	}
	c.conn = conn
	c.seq = 0
	c.token = uuid.NewString()

	cmd := NewCommand(pathLogin).
		Set("Id", EncodeString(c.uid)).
		Set("Pwd", EncodePassword(c.pwd)).
		Set("Type", clientType).
		Set("Token", EncodeString(c.token)).
		Set("Action", loginAction).
		Set("PemNum", pemNum).
		Null("DevVersion").
		Null("DevType").
		Null("Err")

	resp, err := c.exchange(ctx, cmd)
	if err != nil {
		return fmt.Errorf("could not login: %w", err)
	}
	if errv := resp.Get("Err"); truthy(errv) {
		code, _ := errv.(int)
		log.Error("login rejected", "err", errv, "token", c.token)
		c.close()
		return &AuthenticationError{Op: "login", Code: code}
	}

	log.Info(
		"logged in",
		"addr", c.addr,
		"token", c.token,
		"version", resp.Get("DevVersion"),
		"type", resp.Get("DevType"),
	)
	return nil
}

// SendCommand sends cmd and returns the reply fields found under cmd.Path.
// Any failure closes the connection; it is never retried here.
func (c *Client) SendCommand(ctx context.Context, cmd *Command) (*Fields, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.exchange(ctx, cmd)
}

// FetchList runs a paginated list command, following Offset until Total
// entries were read. Entries L0..Ln of each page are appended in order.
// A malformed or stalled list closes the connection.
func (c *Client) FetchList(ctx context.Context, cmd *Command) ([]any, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entries, err := c.fetchList(ctx, cmd)
	if err != nil {
		c.close()
		return nil, err
	}
	return entries, nil
}

func (c *Client) fetchList(ctx context.Context, cmd *Command) ([]any, error) {
	cmd = cmd.clone()
	var entries []any
	for {
		cmd.Set("Offset", EncodeInt(int32(len(entries))))
		resp, err := c.exchange(ctx, cmd)
		if err != nil {
			return nil, err
		}
		total, ok := resp.Int("Total")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("%s: missing Total", cmd.Path)}
		}
		ln, ok := resp.Int("Ln")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("%s: missing Ln", cmd.Path)}
		}
		for i := 0; i < ln; i++ {
			entries = append(entries, resp.Get("L"+strconv.Itoa(i)))
		}
		log.Debug("list page", "path", cmd.Path, "total", total, "ln", ln, "got", len(entries))
		if len(entries) >= total {
			return entries, nil
		}
		if ln <= 0 {
			return nil, &ListIntegrityError{Path: cmd.Path, Total: total, Got: len(entries)}
		}
	}
}

// Logout closes the connection. Calling it on a closed client is a no-op.
func (c *Client) Logout() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.close()
}

func (c *Client) close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("could not close connection", "err", err)
	}
	log.Debug("connection closed", "token", c.token)
	c.conn = nil
	c.token = ""
}

func (c *Client) nextSeq() int {
	c.seq = (c.seq + 1) % seqModulus
	return c.seq
}

// exchange writes one command frame and reads one reply frame.
// Callers must hold the lock.
func (c *Client) exchange(ctx context.Context, cmd *Command) (*Fields, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	conn := c.conn

	seq := c.nextSeq()
	frame, err := encodeCommand(seq, cmd)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("could not build %s: %w", cmd.Path, err)
	}

	// unblock I/O when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	log.Debug("send", "path", cmd.Path, "seq", seq, "len", len(frame))
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write(frame); err != nil {
		c.close()
		return nil, c.ioError(ctx, "write", err)
	}

	start := time.Now()
	_ = conn.SetReadDeadline(start.Add(c.timeout))
	reply, err := readFrame(cio.TimeoutReader(conn, c.timeout), magicCommand)
	if err != nil {
		c.close()
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, err
		}
		if connErrorKind(err) == nil && time.Since(start) >= c.timeout {
			return nil, &ConnectionError{Op: "read", Kind: ErrTimeout, Err: err}
		}
		return nil, c.ioError(ctx, "read", err)
	}
	log.Debug("recv", "path", cmd.Path, "seq", reply.Seq, "len", len(reply.Payload))

	msg, err := unmarshalPayload(reply.Payload)
	if err != nil {
		c.close()
		return nil, err
	}
	fields := msg.Select(cmd.Path)
	if fields == nil {
		c.close()
		return nil, &ProtocolError{Reason: fmt.Sprintf("reply has no %s element", cmd.Path)}
	}
	return fields, nil
}

func (c *Client) ioError(ctx context.Context, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return connError(op, cerr)
	}
	return connError(op, err)
}
