package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

var (
	ErrDeviceNotFound        = errors.New("device not found")
	ErrNotConnected          = errors.New("device not connected")
	ErrUnsupportedDeviceType = errors.New("unsupported device type")
	ErrInvalidAddress        = errors.New("invalid device address")
	ErrUnknownSwitch         = errors.New("unknown switch")
)

// ConfigurationError rejects a registration. It is fatal to the call only.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type ConnectionErrorKind int

const (
	ConnectionRefused ConnectionErrorKind = iota
	ConnectionTimeout
	ConnectionReset
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnectionRefused:
		return "refused"
	case ConnectionTimeout:
		return "timeout"
	default:
		return "reset"
	}
}

type ConnectionError struct {
	Kind ConnectionErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ClassifyConnectionError maps dial and read failures onto the connection error taxonomy.
func ClassifyConnectionError(err error) *ConnectionError {
	if err == nil {
		return nil
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr
	}
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ConnectionError{Kind: ConnectionRefused, Err: err}
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &ConnectionError{Kind: ConnectionTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &ConnectionError{Kind: ConnectionTimeout, Err: err}
	default:
		return &ConnectionError{Kind: ConnectionReset, Err: err}
	}
}
