package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/radproof/pkg/capability"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/vars"
)

func testExecContext(sessions Sessions, decls []schema.Variable) *ExecContext {
	return &ExecContext{
		Logger:    NewExecutionLogger("test-exec", &MemorySink{}),
		Resolver:  vars.NewResolver(decls, 1),
		Shell:     sessions.Shell,
		SQL:       sessions.SQL,
		Transport: sessions.Transport,
		HTTP:      sessions.HTTP,
		Target:    &schema.Target{Name: "lab", Kind: "radius", Host: "radius.lab", Port: 1812, Secret: "s3cret"},
		Timeout:   5 * time.Second,
	}
}

func TestExecuteRadiusMatch(t *testing.T) {
	transport := &fakeTransport{
		reply: &capability.Packet{
			Name:       "Access-Accept",
			Attributes: map[string]string{"Framed-IP-Address": "10.0.0.7", "Session-Timeout": "3600"},
		},
	}
	ec := testExecContext(Sessions{Transport: transport}, []schema.Variable{
		{Name: "user", Kind: schema.VarStatic, Value: "alice"},
	})

	step := schema.Step{
		Name: "auth request",
		Kind: schema.KindRadius,
		Radius: &schema.RadiusStepConfig{
			Packet:     "access-request-pap",
			Attributes: map[string]string{"User-Name": "${user}"},
			Expect:     map[string]string{"Session-Timeout": "3600"},
		},
	}

	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("status = %s, error = %q", outcome.Status, outcome.Error)
	}
	if transport.sent[0].Attributes["User-Name"] != "alice" {
		t.Errorf("sent User-Name = %q, want expanded value", transport.sent[0].Attributes["User-Name"])
	}
}

func TestExecuteRadiusAttributeMismatch(t *testing.T) {
	transport := &fakeTransport{
		reply: &capability.Packet{
			Name:       "Access-Accept",
			Attributes: map[string]string{"Session-Timeout": "60"},
		},
	}
	ec := testExecContext(Sessions{Transport: transport}, nil)

	step := schema.Step{
		Name: "auth request",
		Kind: schema.KindRadius,
		Radius: &schema.RadiusStepConfig{
			Packet: "access-request-pap",
			Expect: map[string]string{"Session-Timeout": "3600", "Framed-IP-Address": "10.0.0.7"},
		},
	}

	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure")
	}
	// Both the wrong value and the missing attribute must be reported.
	if !strings.Contains(outcome.Error, `Session-Timeout: got "60", want "3600"`) {
		t.Errorf("error missing value mismatch: %q", outcome.Error)
	}
	if !strings.Contains(outcome.Error, "Framed-IP-Address: missing") {
		t.Errorf("error missing absent attribute: %q", outcome.Error)
	}
}

func TestExecuteRadiusNoTransport(t *testing.T) {
	ec := testExecContext(Sessions{}, nil)
	step := schema.Step{
		Name:   "auth request",
		Kind:   schema.KindRadius,
		Radius: &schema.RadiusStepConfig{Packet: "access-request-pap"},
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure when no transport is configured")
	}
}

func TestExecuteSQLExpectation(t *testing.T) {
	sql := &fakeSQL{rows: &capability.SQLRows{
		Columns: []string{"username", "status"},
		Rows:    [][]string{{"alice", "active"}, {"bob", "stale"}},
	}}
	ec := testExecContext(Sessions{SQL: sql}, []schema.Variable{
		{Name: "user", Kind: schema.VarStatic, Value: "alice"},
	})

	step := schema.Step{
		Name: "session row",
		Kind: schema.KindSQL,
		SQL: &schema.SQLStepConfig{
			Query:        "SELECT username, status FROM sessions WHERE username = '${user}'",
			ExpectColumn: "status",
			ExpectValue:  "active",
		},
	}

	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("status = %s, error = %q", outcome.Status, outcome.Error)
	}
	if !strings.Contains(sql.queries[0], "'alice'") {
		t.Errorf("query not expanded: %q", sql.queries[0])
	}

	step.SQL.ExpectValue = "stale"
	outcome = ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure when first-row value differs")
	}

	step.SQL.ExpectColumn = "missing_col"
	outcome = ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure for absent column")
	}
}

func TestExecuteSQLQueryError(t *testing.T) {
	sql := &fakeSQL{queryErr: errors.New("relation does not exist")}
	ec := testExecContext(Sessions{SQL: sql}, nil)

	step := schema.Step{
		Name: "bad query",
		Kind: schema.KindSQL,
		SQL:  &schema.SQLStepConfig{Query: "SELECT * FROM nope"},
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure")
	}
	if !strings.Contains(outcome.Error, "relation does not exist") {
		t.Errorf("error = %q", outcome.Error)
	}
}

func TestExecuteDelay(t *testing.T) {
	ec := testExecContext(Sessions{}, nil)
	step := schema.Step{
		Name:  "brief pause",
		Kind:  schema.KindDelay,
		Delay: &schema.DelayStepConfig{DurationMS: 10},
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("status = %s", outcome.Status)
	}
}

func TestExecuteDelayInterrupted(t *testing.T) {
	ec := testExecContext(Sessions{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := schema.Step{
		Name:  "long pause",
		Kind:  schema.KindDelay,
		Delay: &schema.DelayStepConfig{DurationMS: 60000},
	}

	start := time.Now()
	outcome := ExecuteStep(ctx, ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected cancelled delay to fail")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled delay did not return promptly")
	}
}

func TestExecuteAPICall(t *testing.T) {
	http := &fakeHTTP{resp: &capability.HTTPResponse{Status: 200, Body: `{"result":"ok"}`}}
	ec := testExecContext(Sessions{HTTP: http}, nil)

	step := schema.Step{
		Name: "health check",
		Kind: schema.KindAPICall,
		API:  &schema.APIStepConfig{Method: "GET", URL: "http://api.lab/health"},
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("2xx without expectation: status = %s, error = %q", outcome.Status, outcome.Error)
	}

	step.API.ExpectStatus = 201
	outcome = ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure when status differs from expect_status")
	}

	step.API.ExpectStatus = 200
	step.API.ExpectBody = `"result":"ok"`
	outcome = ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("body substring match: status = %s, error = %q", outcome.Status, outcome.Error)
	}

	step.API.ExpectBody = "missing text"
	outcome = ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected failure when body lacks expected substring")
	}
}

func TestExecuteAPICallNon2xxWithoutExpectation(t *testing.T) {
	http := &fakeHTTP{resp: &capability.HTTPResponse{Status: 503, Body: "unavailable"}}
	ec := testExecContext(Sessions{HTTP: http}, nil)

	step := schema.Step{
		Name: "health check",
		Kind: schema.KindAPICall,
		API:  &schema.APIStepConfig{Method: "GET", URL: "http://api.lab/health"},
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepFailure {
		t.Fatal("expected non-2xx to fail without an explicit expect_status")
	}
}

func TestExecuteLogMessage(t *testing.T) {
	sink := &MemorySink{}
	ec := testExecContext(Sessions{}, []schema.Variable{
		{Name: "phase", Kind: schema.VarStatic, Value: "reauth"},
	})
	ec.Logger = NewExecutionLogger("test-exec", sink)

	step := schema.Step{
		Name:    "marker",
		Kind:    schema.KindLogMessage,
		Message: "entering ${phase} sequence",
	}
	outcome := ExecuteStep(context.Background(), ec, step)
	if outcome.Status != StepSuccess {
		t.Fatalf("status = %s", outcome.Status)
	}
	if outcome.Output != "entering reauth sequence" {
		t.Errorf("output = %q", outcome.Output)
	}

	entries := sink.Entries(0)
	if len(entries) == 0 || entries[len(entries)-1].Message != "entering reauth sequence" {
		t.Error("expanded message not appended to the log stream")
	}
}

func TestClassifyCallError(t *testing.T) {
	msg := classifyCallError("query", context.DeadlineExceeded)
	if !strings.Contains(msg, "timed out") {
		t.Errorf("deadline error not classified as timeout: %q", msg)
	}
	msg = classifyCallError("query", fmt.Errorf("exec statement: %w", context.DeadlineExceeded))
	if !strings.Contains(msg, "timed out") {
		t.Errorf("wrapped deadline error not classified as timeout: %q", msg)
	}
	msg = classifyCallError("query", errors.New("connection refused"))
	if strings.Contains(msg, "timed out") {
		t.Errorf("hard failure misclassified as timeout: %q", msg)
	}
	// A driver error that merely embeds the deadline text is not a timeout.
	msg = classifyCallError("query", errors.New("remote said: context deadline exceeded (fake)"))
	if strings.Contains(msg, "timed out") {
		t.Errorf("error text lookalike misclassified as timeout: %q", msg)
	}
}
