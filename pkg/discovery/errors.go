package discovery

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrConnection     = errors.New("connection failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrRemoteCommand  = errors.New("remote command failed")
	ErrInvalidInput   = errors.New("invalid discovery input")
)

// Kind classifies a discovery failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindAuthentication
	KindRemoteCommand
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindRemoteCommand:
		return "remote command"
	}
	return "unknown"
}

// Error is returned by Client.Run for every failure after input validation.
type Error struct {
	Kind Kind
	Host string
	// ExitStatus and Stderr are set for KindRemoteCommand when the remote
	// side reported them.
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error on %s", e.Kind, e.Host)
	if e.Kind == KindRemoteCommand && e.ExitStatus != 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to e.Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrRemoteCommand:
		return e.Kind == KindRemoteCommand
	}
	return false
}

func connectionError(host string, err error) *Error {
	return &Error{Kind: KindConnection, Host: host, Err: err}
}

func authError(host string, err error) *Error {
	return &Error{Kind: KindAuthentication, Host: host, Err: err}
}
