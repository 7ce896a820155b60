package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ormasoftchile/radproof/pkg/capability"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/vars"
)

// ExecContext carries the live session handles and per-run services every
// executor needs. The orchestrator threads it through each call; executors
// never reach for ambient state.
type ExecContext struct {
	Logger   *ExecutionLogger
	Resolver *vars.Resolver

	Shell     capability.ShellSession
	SQL       capability.SqlSession
	Transport capability.PacketTransport
	HTTP      capability.HttpCaller

	Target  *schema.Target
	Timeout time.Duration // effective timeout for this step's external calls
}

// expand resolves ${name} tokens in a command-like field and logs every
// unresolved token at WARN. Resolution happens here, immediately before
// execution, so per-iteration variables take their current draw.
func (ec *ExecContext) expand(stepName, field, value string) string {
	resolved, unresolved := ec.Resolver.Expand(value)
	for _, name := range unresolved {
		ec.Logger.Logf(LevelWarn, "step %q: unresolved variable ${%s} in %s", stepName, name, field)
	}
	return resolved
}

// ExecuteStep dispatches a resolved, enabled step to its executor and returns
// the outcome. Marker kinds (loop/conditional) never reach this function.
func ExecuteStep(ctx context.Context, ec *ExecContext, step schema.Step) StepOutcome {
	switch step.Kind {
	case schema.KindRadius:
		return executeRadius(ctx, ec, step)
	case schema.KindSQL:
		return executeSQL(ctx, ec, step)
	case schema.KindDelay:
		return executeDelay(ctx, ec, step)
	case schema.KindAPICall:
		return executeAPICall(ctx, ec, step)
	case schema.KindLogMessage:
		return executeLogMessage(ec, step)
	}
	return StepOutcome{
		Name:   step.Name,
		Status: StepFailure,
		Error:  fmt.Sprintf("unknown step kind %q", step.Kind),
		Kind:   step.Kind,
	}
}

// executeRadius sends the referenced packet through the transport and
// requires an exact match on every expected reply attribute.
func executeRadius(ctx context.Context, ec *ExecContext, step schema.Step) StepOutcome {
	outcome := StepOutcome{Name: step.Name, Kind: step.Kind}

	if ec.Transport == nil {
		outcome.Status = StepFailure
		outcome.Error = "no packet transport configured"
		ec.Logger.Logf(LevelError, "step %q: no packet transport configured", step.Name)
		return outcome
	}

	attrs := make(map[string]string, len(step.Radius.Attributes))
	for k, v := range step.Radius.Attributes {
		attrs[k] = ec.expand(step.Name, "attribute "+k, v)
	}
	packet := &capability.Packet{Name: step.Radius.Packet, Attributes: attrs}
	target := capability.PacketTarget{Host: ec.Target.Host, Port: ec.Target.Port, Secret: ec.Target.Secret}

	outcome.Command = fmt.Sprintf("send %s to %s:%d", packet.Name, target.Host, target.Port)
	ec.Logger.LogRaw(LevelSent, outcome.Command, packet)

	reply, err := ec.Transport.Send(ctx, packet, target, ec.Timeout)
	if err != nil {
		outcome.Status = StepFailure
		outcome.Error = classifyCallError("packet exchange", err)
		ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
		return outcome
	}

	ec.Logger.LogRaw(LevelRecv, fmt.Sprintf("reply %s", reply.Name), reply)
	outcome.Output = formatAttributes(reply.Attributes)

	var mismatches []string
	for attr, want := range step.Radius.Expect {
		want = ec.expand(step.Name, "expect "+attr, want)
		got, ok := reply.Attributes[attr]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing (want %q)", attr, want))
			continue
		}
		if got != want {
			mismatches = append(mismatches, fmt.Sprintf("%s: got %q, want %q", attr, got, want))
		}
	}
	if len(mismatches) > 0 {
		sort.Strings(mismatches)
		outcome.Status = StepFailure
		outcome.Error = "attribute mismatch: " + strings.Join(mismatches, "; ")
		ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
		return outcome
	}

	outcome.Status = StepSuccess
	return outcome
}

// executeSQL runs the query on the target database session. Success requires
// no driver error and, when expect_column is set, the first row's value in
// that column equal to expect_value (compared as strings).
func executeSQL(ctx context.Context, ec *ExecContext, step schema.Step) StepOutcome {
	outcome := StepOutcome{Name: step.Name, Kind: step.Kind}

	if ec.SQL == nil {
		outcome.Status = StepFailure
		outcome.Error = "no sql session configured"
		ec.Logger.Logf(LevelError, "step %q: no sql session configured", step.Name)
		return outcome
	}

	query := ec.expand(step.Name, "query", step.SQL.Query)
	outcome.Command = query
	ec.Logger.Log(LevelDebug, query)

	callCtx, cancel := callContext(ctx, ec.Timeout)
	defer cancel()

	rows, err := ec.SQL.Query(callCtx, query)
	if err != nil {
		outcome.Status = StepFailure
		outcome.Error = classifyCallError("query", err)
		ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
		return outcome
	}

	outcome.Output = formatRows(rows)

	if step.SQL.ExpectColumn != "" {
		want := ec.expand(step.Name, "expect_value", step.SQL.ExpectValue)
		got, ok := rows.Value(step.SQL.ExpectColumn)
		if !ok {
			outcome.Status = StepFailure
			outcome.Error = fmt.Sprintf("column %q not present in result (or no rows)", step.SQL.ExpectColumn)
			ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
			return outcome
		}
		if got != want {
			outcome.Status = StepFailure
			outcome.Error = fmt.Sprintf("column %q: got %q, want %q", step.SQL.ExpectColumn, got, want)
			ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
			return outcome
		}
	}

	outcome.Status = StepSuccess
	return outcome
}

// executeDelay suspends execution for duration_ms, then reports success.
// An abort during the delay surfaces as a context error.
func executeDelay(ctx context.Context, ec *ExecContext, step schema.Step) StepOutcome {
	d := time.Duration(step.Delay.DurationMS) * time.Millisecond
	ec.Logger.Logf(LevelInfo, "step %q: delaying %s", step.Name, d)

	outcome := StepOutcome{
		Name:    step.Name,
		Kind:    step.Kind,
		Command: fmt.Sprintf("delay %s", d),
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		outcome.Status = StepSuccess
	case <-ctx.Done():
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("delay interrupted: %v", ctx.Err())
	}
	return outcome
}

// executeAPICall performs the resolved HTTP request. With no explicit
// expectation configured any 2xx status counts as success.
func executeAPICall(ctx context.Context, ec *ExecContext, step schema.Step) StepOutcome {
	outcome := StepOutcome{Name: step.Name, Kind: step.Kind}

	if ec.HTTP == nil {
		outcome.Status = StepFailure
		outcome.Error = "no http caller configured"
		ec.Logger.Logf(LevelError, "step %q: no http caller configured", step.Name)
		return outcome
	}

	url := ec.expand(step.Name, "url", step.API.URL)
	body := ec.expand(step.Name, "body", step.API.Body)
	headers := make(map[string]string, len(step.API.Headers))
	for k, v := range step.API.Headers {
		headers[k] = ec.expand(step.Name, "header "+k, v)
	}

	outcome.Command = fmt.Sprintf("%s %s", step.API.Method, url)
	ec.Logger.Log(LevelSent, outcome.Command)

	resp, err := ec.HTTP.Request(ctx, step.API.Method, url, headers, body, ec.Timeout)
	if err != nil {
		outcome.Status = StepFailure
		outcome.Error = classifyCallError("http request", err)
		ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
		return outcome
	}

	ec.Logger.Logf(LevelRecv, "status %d (%d bytes)", resp.Status, len(resp.Body))
	outcome.Output = resp.Body

	switch {
	case step.API.ExpectStatus != 0 && resp.Status != step.API.ExpectStatus:
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("status %d, want %d", resp.Status, step.API.ExpectStatus)
	case step.API.ExpectStatus == 0 && (resp.Status < 200 || resp.Status > 299):
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("status %d is not 2xx", resp.Status)
	case step.API.ExpectBody != "" && !strings.Contains(resp.Body, ec.expand(step.Name, "expect_body", step.API.ExpectBody)):
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("response body does not contain %q", step.API.ExpectBody)
	default:
		outcome.Status = StepSuccess
	}
	if outcome.Status == StepFailure {
		ec.Logger.Logf(LevelError, "step %q: %s", step.Name, outcome.Error)
	}
	return outcome
}

// executeLogMessage writes an annotation to the log stream; always success.
func executeLogMessage(ec *ExecContext, step schema.Step) StepOutcome {
	message := ec.expand(step.Name, "message", step.Message)
	ec.Logger.Log(LevelInfo, message)
	return StepOutcome{
		Name:   step.Name,
		Status: StepSuccess,
		Output: message,
		Kind:   step.Kind,
	}
}

// classifyCallError gives timeouts a distinct error text so the halting rules
// and the log trail can tell them apart from hard failures.
func classifyCallError(op string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out: %v", op, err)
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func formatAttributes(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, attrs[k])
	}
	return b.String()
}

func formatRows(rows *capability.SQLRows) string {
	var b strings.Builder
	b.WriteString(strings.Join(rows.Columns, "\t"))
	b.WriteString("\n")
	for _, row := range rows.Rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return b.String()
}
