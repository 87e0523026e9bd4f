// Package command defines the closed set of operations a sibyl client can
// ask the daemon to perform, their wire encoding and their execution.
package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/s-viour/sibyl/internal/codec"
	"github.com/s-viour/sibyl/internal/logstore"
	"github.com/s-viour/sibyl/internal/process"
)

// Kind is the wire tag of a command variant.
type Kind string

const (
	KindOnce   Kind = "once"
	KindLatest Kind = "latest"
	KindPing   Kind = "ping"
	KindStatus Kind = "status"
	KindList   Kind = "list"
)

var (
	// ErrUnknownCommand is returned when decoding a request whose tag is
	// missing or not one of the known kinds.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoCommand is returned when a request carries no command.
	ErrNoCommand = errors.New("request has no command")
	// ErrPanic wraps a panic recovered while executing a command.
	ErrPanic = errors.New("command panicked")
)

// Context is the daemon state every command executes against.
type Context struct {
	Processes *process.Table
	Logs      *logstore.Store
}

// Command is implemented only by the variants in this package.
type Command interface {
	Kind() Kind
	Execute(req *Request, c *Context) (Response, error)
	command()
}

// Request is one client invocation.
type Request struct {
	Command  Command
	IssuedAt time.Time
}

// NewRequest stamps c with the current time.
func NewRequest(c Command) *Request {
	return &Request{Command: c, IssuedAt: time.Now()}
}

// Response is the daemon's single reply to a Request.
type Response struct {
	Message string `cbor:"message"`
}

type envelope struct {
	Command  tagged    `cbor:"command"`
	IssuedAt time.Time `cbor:"issued_at"`
}

type tagged struct {
	Type Kind             `cbor:"type"`
	Body codec.RawMessage `cbor:"body,omitempty"`
}

// MarshalCBOR encodes the request with an explicit variant tag.
func (r Request) MarshalCBOR() ([]byte, error) {
	if r.Command == nil {
		return nil, ErrNoCommand
	}
	body, err := codec.Marshal(r.Command)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", r.Command.Kind(), err)
	}
	return codec.Marshal(envelope{
		Command:  tagged{Type: r.Command.Kind(), Body: body},
		IssuedAt: r.IssuedAt,
	})
}

// UnmarshalCBOR decodes the tag and then the matching variant.
func (r *Request) UnmarshalCBOR(data []byte) error {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return err
	}
	cmd, err := decodeCommand(env.Command)
	if err != nil {
		return err
	}
	r.Command = cmd
	r.IssuedAt = env.IssuedAt
	return nil
}

func decodeCommand(t tagged) (Command, error) {
	var cmd Command
	switch t.Type {
	case KindOnce:
		var o Once
		if err := decodeBody(t.Body, &o); err != nil {
			return nil, err
		}
		cmd = o
	case KindLatest:
		cmd = Latest{}
	case KindPing:
		cmd = Ping{}
	case KindStatus:
		var s Status
		if err := decodeBody(t.Body, &s); err != nil {
			return nil, err
		}
		cmd = s
	case KindList:
		cmd = List{}
	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrUnknownCommand)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, t.Type)
	}
	return cmd, nil
}

func decodeBody(body codec.RawMessage, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Dispatch executes req's command against c. Failures, including panics,
// are folded into an "error: ..." response; the returned error is for
// logging only.
func Dispatch(req *Request, c *Context) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			resp = errorResponse(err)
		}
	}()
	if req == nil || req.Command == nil {
		return errorResponse(ErrNoCommand), ErrNoCommand
	}
	resp, err = req.Command.Execute(req, c)
	if err != nil {
		return errorResponse(err), err
	}
	return resp, nil
}

func errorResponse(err error) Response {
	return Response{Message: "error: " + err.Error()}
}
