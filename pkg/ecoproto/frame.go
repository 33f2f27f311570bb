package ecoproto

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	COMMAND_IDENTIFY = "identify"
	COMMAND_SWITCH   = "switch"
	FIELD_COMMAND    = "command"
)

type DecodeReason int

const (
	ChecksumMismatch DecodeReason = iota
	Truncated
	UnknownFormat
)

func (r DecodeReason) String() string {
	switch r {
	case ChecksumMismatch:
		return "checksum_mismatch"
	case Truncated:
		return "truncated"
	case UnknownFormat:
		return "unknown_format"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTruncated        = errors.New("frame truncated")
	ErrUnknownFormat    = errors.New("unknown frame format")
	ErrUnknownCommand   = errors.New("unknown command")
)

var commandTargetPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// DecodeError is returned by Protocol.Decode. The offending bytes must not be trusted.
type DecodeError struct {
	Reason DecodeReason
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("decode error: %s", e.Reason)
	}
	return fmt.Sprintf("decode error: %s: %s", e.Reason, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	switch e.Reason {
	case ChecksumMismatch:
		return ErrChecksumMismatch
	case Truncated:
		return ErrTruncated
	default:
		return ErrUnknownFormat
	}
}

func decodeErrorf(reason DecodeReason, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Field is one raw value of a frame. Numeric is false for text values.
type Field struct {
	Name    string
	Value   float64
	Text    string
	Unit    string
	Numeric bool
}

type Frame struct {
	Fields          []Field
	Valid           bool
	Sequence        uint32
	HasSequence     bool
	ProtocolVersion string
	ReceivedAt      time.Time
}

func (f Frame) Field(name string) (Field, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return f.Fields[i], true
		}
	}
	return Field{}, false
}

// Command returns the command carried by the frame, if any.
func (f Frame) Command() string {
	if field, ok := f.Field(FIELD_COMMAND); ok {
		return field.Text
	}
	return ""
}

// Command is a device command. Switch commands carry the target switch and its requested position.
type Command struct {
	Name     string
	Sequence uint32
	Target   string
	On       bool
}

// Text is the wire form of the command: "identify" or "switch:<target>=on|off".
func (c Command) Text() string {
	if c.Name != COMMAND_SWITCH {
		return c.Name
	}
	position := "off"
	if c.On {
		position = "on"
	}
	return fmt.Sprintf("%s:%s=%s", COMMAND_SWITCH, c.Target, position)
}

// ParseCommand reads the wire form written by Text.
func ParseCommand(text string) (Command, error) {
	name, rest, hasArgs := strings.Cut(text, ":")
	cmd := Command{Name: name}
	if hasArgs {
		target, position, ok := strings.Cut(rest, "=")
		if !ok {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
		}
		cmd.Target = target
		switch position {
		case "on":
			cmd.On = true
		case "off":
		default:
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
		}
	}
	if err := validCommand(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func NumberField(name string, value float64, unit string) Field {
	return Field{Name: name, Value: value, Unit: unit, Numeric: true}
}

func TextField(name, text string) Field {
	return Field{Name: name, Text: text}
}

func validCommand(cmd Command) error {
	switch cmd.Name {
	case COMMAND_IDENTIFY:
		if cmd.Target == "" {
			return nil
		}
	case COMMAND_SWITCH:
		if commandTargetPattern.MatchString(cmd.Target) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Text())
}
