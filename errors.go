package ialarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrTimeout            = errors.New("timeout")
	ErrConnectionRefused  = errors.New("connection refused")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConnectionError is a network level failure: the panel could not be
// reached, refused us, timed out or closed the socket.
// Callers may retry it.
type ConnectionError struct {
	Op   string
	Kind error // ErrTimeout, ErrConnectionRefused, ErrConnectionClosed or nil
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// ProtocolError means the panel sent something we could not understand.
// The connection it happened on is not usable anymore.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// FieldDecodeError is returned when a tagged value matches none of the
// known field kinds.
type FieldDecodeError struct {
	Raw string
	Err error
}

func (e *FieldDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not decode field %q: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("could not decode field %q: unknown data type", e.Raw)
}

func (e *FieldDecodeError) Unwrap() error { return e.Err }

// AuthenticationError is a non-zero Err on login or push pairing.
type AuthenticationError struct {
	Op   string
	Code int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s rejected by panel: err=%02d", e.Op, e.Code)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// ListIntegrityError is returned when a paginated fetch cannot reach the
// total the panel announced.
type ListIntegrityError struct {
	Path  string
	Total int
	Got   int
}

func (e *ListIntegrityError) Error() string {
	return fmt.Sprintf(
		"list %s stalled: got %d of %d entries",
		e.Path, e.Got, e.Total,
	)
}

func connError(op string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}
	return &ConnectionError{Op: op, Kind: connErrorKind(err), Err: err}
}

func connErrorKind(err error) error {
	var nerr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr) && nerr.Timeout():
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return ErrConnectionClosed
	default:
		return nil
	}
}

// CommandError is a non-zero Err in the reply to a command.
type CommandError struct {
	Path string
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: err=%02d", e.Path, e.Code)
}
