package runtime

import (
	"context"
	"time"

	"github.com/ormasoftchile/radproof/pkg/capability"
)

// fakeShell is an in-memory ShellSession. Results are looked up by command;
// unknown commands succeed with empty output.
type fakeShell struct {
	connectErr  error
	connected   bool
	connects    int
	disconnects int
	commands    []string
	results     map[string]*capability.ShellResult
	execErr     map[string]error
}

func (f *fakeShell) Connect(ctx context.Context, host string, port int, user, credential string) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeShell) Execute(ctx context.Context, command string, timeout time.Duration) (*capability.ShellResult, error) {
	f.commands = append(f.commands, command)
	if err := f.execErr[command]; err != nil {
		return nil, err
	}
	if r, ok := f.results[command]; ok {
		return r, nil
	}
	return &capability.ShellResult{Stdout: "ok"}, nil
}

func (f *fakeShell) Disconnect() error {
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeShell) IsConnected() bool { return f.connected }

type fakeSQL struct {
	connectErr  error
	queryErr    error
	rows        *capability.SQLRows
	queries     []string
	disconnects int
}

func (f *fakeSQL) Connect(ctx context.Context, driver, host string, port int, user, credential, database string) error {
	return f.connectErr
}

func (f *fakeSQL) Query(ctx context.Context, query string) (*capability.SQLRows, error) {
	f.queries = append(f.queries, query)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.rows != nil {
		return f.rows, nil
	}
	return &capability.SQLRows{}, nil
}

func (f *fakeSQL) Disconnect() error {
	f.disconnects++
	return nil
}

type fakeTransport struct {
	reply *capability.Packet
	err   error
	sent  []*capability.Packet
}

func (f *fakeTransport) Send(ctx context.Context, packet *capability.Packet, target capability.PacketTarget, timeout time.Duration) (*capability.Packet, error) {
	f.sent = append(f.sent, packet)
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

type fakeHTTP struct {
	resp  *capability.HTTPResponse
	err   error
	calls []string
}

func (f *fakeHTTP) Request(ctx context.Context, method, url string, headers map[string]string, body string, timeout time.Duration) (*capability.HTTPResponse, error) {
	f.calls = append(f.calls, method+" "+url)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
