// Package capability defines the connect/execute/disconnect contracts the
// runtime engine consumes, plus the shipped implementations (SSH shell,
// database/sql session, HTTP caller). The engine never reaches for a session
// through global state; an orchestrator owns its handles and threads them
// through every executor call.
package capability

import (
	"context"
	"time"
)

// ShellResult holds the output of one remote command.
type ShellResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellSession is a stateful remote shell (SSH) connection.
type ShellSession interface {
	Connect(ctx context.Context, host string, port int, user, credential string) error
	Execute(ctx context.Context, command string, timeout time.Duration) (*ShellResult, error)
	Disconnect() error
	IsConnected() bool
}

// SQLRows is the materialized result of one query: column names plus row
// values rendered as strings. Executors compare expected values as strings.
type SQLRows struct {
	Columns []string
	Rows    [][]string
}

// Value returns the value of the named column in the first row.
func (r *SQLRows) Value(column string) (string, bool) {
	if len(r.Rows) == 0 {
		return "", false
	}
	for i, c := range r.Columns {
		if c == column {
			return r.Rows[0][i], true
		}
	}
	return "", false
}

// SqlSession is a stateful database connection.
type SqlSession interface {
	Connect(ctx context.Context, driver, host string, port int, user, credential, database string) error
	Query(ctx context.Context, query string) (*SQLRows, error)
	Disconnect() error
}

// Packet is a protocol packet as the engine sees it: a named packet reference
// resolved to a set of attributes. Concrete wire encoding lives behind
// PacketTransport implementations.
type Packet struct {
	Name       string
	Attributes map[string]string
}

// PacketTarget identifies where a packet is sent.
type PacketTarget struct {
	Host   string
	Port   int
	Secret string
}

// PacketTransport sends one request packet and returns the reply.
type PacketTransport interface {
	Send(ctx context.Context, packet *Packet, target PacketTarget, timeout time.Duration) (*Packet, error)
}

// HTTPResponse is the engine-visible result of one HTTP call.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    string
}

// HttpCaller performs a single HTTP request.
type HttpCaller interface {
	Request(ctx context.Context, method, url string, headers map[string]string, body string, timeout time.Duration) (*HTTPResponse, error)
}
