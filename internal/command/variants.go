package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/s-viour/sibyl/internal/logstore"
	"github.com/s-viour/sibyl/internal/process"
)

// Once runs Program with Args, capturing stdout in a fresh log file.
type Once struct {
	Program string   `cbor:"program"`
	Args    []string `cbor:"args"`
}

// Latest returns the contents of the most recently modified log file.
type Latest struct{}

// Ping reports the time the request spent in transit.
type Ping struct{}

// Status reports a tracked process by its sibyl id.
type Status struct {
	ID process.ID `cbor:"id"`
}

// List reports every tracked process.
type List struct{}

var errEmptyProgram = errors.New("no program given")

func (Once) Kind() Kind   { return KindOnce }
func (Latest) Kind() Kind { return KindLatest }
func (Ping) Kind() Kind   { return KindPing }
func (Status) Kind() Kind { return KindStatus }
func (List) Kind() Kind   { return KindList }

func (Once) command()   {}
func (Latest) command() {}
func (Ping) command()   {}
func (Status) command() {}
func (List) command()   {}

// LogName derives the log file name from the invocation.
func (o Once) LogName() string { return logstore.JoinName(o.Program, o.Args) }

func (o Once) Execute(_ *Request, c *Context) (Response, error) {
	if o.Program == "" {
		return Response{}, errEmptyProgram
	}
	log, err := c.Logs.Create(o)
	if err != nil {
		return Response{}, err
	}
	id, err := c.Processes.Spawn(o.Program, o.Args, log)
	if err != nil {
		return Response{}, err
	}
	return Response{Message: fmt.Sprintf("successfully executed process: %s | sibyl pid: %d", o.Program, id)}, nil
}

func (Latest) Execute(_ *Request, c *Context) (Response, error) {
	contents, err := c.Logs.ReadLatest()
	if err != nil {
		return Response{}, err
	}
	return Response{Message: contents}, nil
}

func (Ping) Execute(req *Request, _ *Context) (Response, error) {
	elapsed := time.Since(req.IssuedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return Response{Message: fmt.Sprintf("pong! %dms", elapsed.Milliseconds())}, nil
}

func (s Status) Execute(_ *Request, c *Context) (Response, error) {
	st, ok := c.Processes.Status(s.ID)
	if !ok {
		return Response{Message: fmt.Sprintf("no process found with pid %d", s.ID)}, nil
	}
	return Response{Message: st.String()}, nil
}

func (List) Execute(_ *Request, c *Context) (Response, error) {
	var b strings.Builder
	b.WriteString("list of processes:")
	for _, e := range c.Processes.List() {
		fmt.Fprintf(&b, "\n  SPID: %d - %s", e.ID, e.CommandLine)
	}
	return Response{Message: b.String()}, nil
}
