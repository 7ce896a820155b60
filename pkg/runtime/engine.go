package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/ormasoftchile/radproof/pkg/capability"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/vars"
)

// DefaultStepTimeout bounds external calls when neither the step nor the
// scenario defaults specify one.
const DefaultStepTimeout = 30 * time.Second

// Sessions bundles the capability handles one orchestrator owns for the
// lifetime of its execution id. Teardown of every connected session is
// guaranteed on all exit paths.
type Sessions struct {
	Shell     capability.ShellSession
	SQL       capability.SqlSession
	Transport capability.PacketTransport
	HTTP      capability.HttpCaller
}

// Orchestrator drives one execution: preamble, connection, compiled step
// walk, teardown. It exclusively owns the ExecutionRecord for the run.
type Orchestrator struct {
	Scenario *schema.Scenario
	Target   *schema.Target
	Record   *ExecutionRecord
	Logger   *ExecutionLogger
	BaseDir  string // .radproof/runs/<execution_id>/, empty = no artifacts

	sessions Sessions
	resolver *vars.Resolver

	phase            PhaseFailure
	preambleOutcomes []StepOutcome
	stepOutcomes     []StepOutcome
	aborted          bool
	tornDown         bool
}

// NewOrchestrator creates an orchestrator with a fresh execution record.
// Log entries fan out to the given sinks.
func NewOrchestrator(sc *schema.Scenario, target *schema.Target, sessions Sessions, sinks ...LogSink) *Orchestrator {
	execID := GenerateExecutionID()
	return &Orchestrator{
		Scenario: sc,
		Target:   target,
		Record: &ExecutionRecord{
			ID:         execID,
			ScenarioID: sc.Meta.Name,
			TargetID:   target.Name,
			StartedAt:  time.Now(),
			Status:     ExecRunning,
		},
		Logger:   NewExecutionLogger(execID, sinks...),
		sessions: sessions,
	}
}

// ExecutionID returns the execution id this orchestrator owns.
func (o *Orchestrator) ExecutionID() string {
	return o.Record.ID
}

// Run executes the scenario to its terminal state and returns the test
// result. Steps never execute concurrently; cancellation is observed at the
// next step boundary; session teardown runs on every exit path.
func (o *Orchestrator) Run(ctx context.Context) (*TestResult, error) {
	executionsStarted.Inc()
	defer o.Logger.Close()
	defer o.teardown()

	if o.BaseDir != "" {
		if err := os.MkdirAll(o.BaseDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "warning: artifacts dir setup failed: %v\n", err)
		} else if err := o.Logger.AttachTrace(filepath.Join(o.BaseDir, "trace.jsonl")); err != nil {
			fmt.Fprintf(os.Stderr, "warning: trace setup failed: %v\n", err)
		}
	}

	o.resolver = vars.NewResolver(o.Scenario.Meta.Vars, time.Now().UnixNano())
	o.Logger.Logf(LevelInfo, "execution %s started: scenario %q against target %q",
		o.Record.ID, o.Scenario.Meta.Name, o.Target.Name)

	blocks, err := CompileBlocks(o.Scenario.Steps)
	if err != nil {
		o.Logger.Logf(LevelError, "block compilation failed: %v", err)
		return o.finish(ctx, fmt.Errorf("compile blocks: %w", err))
	}

	// Phase 1: preamble. Failure here is always fatal; the connection phase
	// is never attempted.
	if len(o.Scenario.Preamble) > 0 {
		if !o.runPreamble(ctx) {
			return o.finish(ctx, nil)
		}
	}

	if ctx.Err() != nil {
		o.aborted = true
		return o.finish(ctx, nil)
	}

	// Phase 2: connection. A failure is fatal and every configured step is
	// recorded as skipped without invoking an executor.
	if !o.connect(ctx) {
		return o.finish(ctx, nil)
	}

	// Phase 3: compiled step walk.
	o.runSteps(ctx, blocks)

	return o.finish(ctx, nil)
}

func (o *Orchestrator) runPreamble(ctx context.Context) bool {
	if o.Target.Jump == nil {
		o.Logger.Log(LevelError, "scenario has preamble steps but target defines no jump host")
		o.phase = PhasePreambleFailed
		return false
	}
	if o.sessions.Shell == nil {
		o.Logger.Log(LevelError, "scenario has preamble steps but no shell session is configured")
		o.phase = PhasePreambleFailed
		return false
	}

	runner := NewPreambleRunner(o.sessions.Shell, o.Logger, o.resolver, o.stepTimeout(schema.Step{}))
	outcomes, ok := runner.Run(ctx, o.Target.Jump, o.Scenario.Preamble)
	o.preambleOutcomes = outcomes
	for _, out := range outcomes {
		recordStepOutcome(out.Status)
	}
	if !ok {
		o.phase = PhasePreambleFailed
		fmt.Printf("  ✗ Preamble failed\n")
		return false
	}
	fmt.Printf("  ✓ Preamble completed (%d steps)\n", len(outcomes))
	return true
}

func (o *Orchestrator) connect(ctx context.Context) bool {
	if o.Target.Kind != "sql" {
		return true // protocol-only targets hold no stateful connection
	}
	if o.sessions.SQL == nil {
		o.Logger.Log(LevelError, "target requires a sql session but none is configured")
		o.failConnection()
		return false
	}

	o.Logger.Logf(LevelInfo, "connecting to %s database %q at %s:%d",
		o.Target.Driver, o.Target.Database, o.Target.Host, o.Target.Port)

	connectCtx, cancel := callContext(ctx, o.stepTimeout(schema.Step{}))
	defer cancel()
	if err := o.sessions.SQL.Connect(connectCtx, o.Target.Driver, o.Target.Host, o.Target.Port,
		o.Target.User, o.Target.Credential, o.Target.Database); err != nil {
		o.Logger.Logf(LevelError, "target connection failed: %v", err)
		o.failConnection()
		return false
	}
	o.Logger.Log(LevelInfo, "target connection established")
	return true
}

// failConnection records the fatal connection phase and marks every
// configured executable step as skipped.
func (o *Orchestrator) failConnection() {
	o.phase = PhaseConnectionFailed
	for _, step := range o.Scenario.Steps {
		if isMarker(step) {
			continue
		}
		o.recordSkip(step, "skipped due to connection failure")
	}
}

// runSteps walks the compiled step list, honoring block jumps, the disabled
// flag, mandatory-failure halting, and cancellation at step boundaries.
func (o *Orchestrator) runSteps(ctx context.Context, blocks *BlockMap) {
	steps := o.Scenario.Steps
	loopDone := make(map[int]int)
	halted := false

	i := 0
	for i < len(steps) {
		if ctx.Err() != nil {
			o.aborted = true
			return
		}
		step := steps[i]

		switch step.Kind {
		case schema.KindLoopStart, schema.KindConditionalEnd:
			i++

		case schema.KindLoopEnd:
			if halted {
				i++
				continue
			}
			start := blocks.EndToStart[i]
			loopDone[start]++
			iterations := steps[start].Loop.Iterations
			if loopDone[start] < iterations {
				// Per-iteration variables take a fresh draw before the body
				// re-executes.
				o.resolver.Redraw()
				o.Logger.Logf(LevelDebug, "loop %q iteration %d/%d", steps[start].Name, loopDone[start]+1, iterations)
				i = start + 1
			} else {
				delete(loopDone, start) // reset so an outer loop can re-enter
				i++
			}

		case schema.KindConditionalStart:
			end := blocks.StartToEnd[i]
			if halted {
				i++
				continue
			}
			if o.evalCondition(step) {
				i++
				continue
			}
			o.Logger.Logf(LevelInfo, "condition of %q not met; skipping block", step.Name)
			for j := i + 1; j < end; j++ {
				if isMarker(steps[j]) {
					continue
				}
				o.recordSkip(steps[j], "condition not met")
			}
			i = end + 1

		default:
			if halted {
				o.recordSkip(step, "skipped due to previous validation failure")
				i++
				continue
			}
			if !step.IsEnabled() {
				o.recordSkip(step, "disabled by user")
				i++
				continue
			}

			fmt.Printf("\n▶ Step %d/%d: %s [%s]\n", i+1, len(steps), step.Name, step.Kind)
			outcome := ExecuteStep(ctx, o.execContext(step), step)
			o.stepOutcomes = append(o.stepOutcomes, outcome)
			recordStepOutcome(outcome.Status)

			if outcome.Status == StepFailure {
				fmt.Printf("  ✗ Step %q failed: %s\n", step.Name, outcome.Error)
				if step.Mandatory {
					o.Logger.Logf(LevelError, "mandatory step %q failed; halting remaining steps", step.Name)
					halted = true
				}
			} else {
				fmt.Printf("  ✓ Step %q passed\n", step.Name)
			}
			i++
		}
	}
}

func (o *Orchestrator) execContext(step schema.Step) *ExecContext {
	return &ExecContext{
		Logger:    o.Logger,
		Resolver:  o.resolver,
		Shell:     o.sessions.Shell,
		SQL:       o.sessions.SQL,
		Transport: o.sessions.Transport,
		HTTP:      o.sessions.HTTP,
		Target:    o.Target,
		Timeout:   o.stepTimeout(step),
	}
}

func (o *Orchestrator) recordSkip(step schema.Step, reason string) {
	o.Logger.Logf(LevelInfo, "step %q skipped: %s", step.Name, reason)
	outcome := StepOutcome{
		Name:   step.Name,
		Status: StepSkipped,
		Error:  reason,
		Kind:   step.Kind,
	}
	o.stepOutcomes = append(o.stepOutcomes, outcome)
	recordStepOutcome(StepSkipped)
}

// evalCondition evaluates a conditional_start expression against the current
// variable values using expr-lang. An evaluation error is logged and treated
// as condition-not-met; validation already verified the expression compiles.
func (o *Orchestrator) evalCondition(step schema.Step) bool {
	env := make(map[string]interface{})
	for k, v := range o.resolver.Values() {
		env[k] = v
	}
	program, err := expr.Compile(step.Condition, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		o.Logger.Logf(LevelError, "condition of %q does not compile: %v", step.Name, err)
		return false
	}
	output, err := expr.Run(program, env)
	if err != nil {
		o.Logger.Logf(LevelError, "condition of %q failed to evaluate: %v", step.Name, err)
		return false
	}
	result, ok := output.(bool)
	if !ok {
		o.Logger.Logf(LevelError, "condition of %q did not return bool (got %T)", step.Name, output)
		return false
	}
	return result
}

func (o *Orchestrator) stepTimeout(step schema.Step) time.Duration {
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil {
			return d
		}
	}
	if o.Scenario.Meta.Defaults != nil && o.Scenario.Meta.Defaults.Timeout != "" {
		if d, err := time.ParseDuration(o.Scenario.Meta.Defaults.Timeout); err == nil {
			return d
		}
	}
	return DefaultStepTimeout
}

// teardown disconnects every owned session exactly once. Leaked sessions
// exhaust remote connection limits, so this runs on every exit path.
func (o *Orchestrator) teardown() {
	if o.tornDown {
		return
	}
	o.tornDown = true

	if o.sessions.Shell != nil && o.sessions.Shell.IsConnected() {
		if err := o.sessions.Shell.Disconnect(); err != nil {
			o.Logger.Logf(LevelWarn, "shell disconnect failed: %v", err)
		} else {
			o.Logger.Log(LevelInfo, "shell session disconnected")
		}
	}
	if o.sessions.SQL != nil {
		if err := o.sessions.SQL.Disconnect(); err != nil {
			o.Logger.Logf(LevelWarn, "sql disconnect failed: %v", err)
		} else {
			o.Logger.Log(LevelInfo, "sql session disconnected")
		}
	}
}

// finish tears down, closes the record, and produces the test result.
// The record transitions exactly once to its terminal status, and the result
// is created exactly once per execution.
func (o *Orchestrator) finish(ctx context.Context, runErr error) (*TestResult, error) {
	if !o.aborted && ctx.Err() != nil {
		o.aborted = true
	}

	o.teardown()

	verdict := Aggregate(o.phase, o.stepOutcomes)
	now := time.Now()
	o.Record.EndedAt = &now

	switch {
	case o.aborted:
		o.Record.Status = ExecAborted
		o.Logger.Log(LevelWarn, "execution aborted")
	case runErr != nil:
		o.Record.Status = ExecFailed
	case verdict == VerdictPreambleFailure, verdict == VerdictConnectionFailure, verdict == VerdictValidationFailure:
		o.Record.Status = ExecFailed
	default:
		o.Record.Status = ExecCompleted
	}
	recordExecutionEnd(o.Record.Status)

	summary := Summarize(append(append([]StepOutcome{}, o.preambleOutcomes...), o.stepOutcomes...))
	details := map[string]string{
		"executionId": o.Record.ID,
		"verdict":     string(verdict),
		"steps":       fmt.Sprintf("%d total, %d success, %d failed, %d skipped", summary.Total, summary.Success, summary.Failed, summary.Skipped),
	}

	status := ResultStatusFor(verdict)
	if o.aborted {
		status = ResultFail
		details["verdict"] = "aborted"
	}
	if runErr != nil {
		status = ResultFail
		details["error"] = runErr.Error()
	}

	result := &TestResult{
		ID:           uuid.New().String(),
		ScenarioName: o.Scenario.Meta.Name,
		Status:       status,
		Timestamp:    now,
		LatencyMS:    now.Sub(o.Record.StartedAt).Milliseconds(),
		Target:       o.Target.Name,
		Details:      details,
	}
	o.Record.ResultID = result.ID

	o.Logger.Logf(LevelInfo, "execution %s finished: status=%s verdict=%s latency=%dms",
		o.Record.ID, o.Record.Status, details["verdict"], result.LatencyMS)
	fmt.Printf("\n■ Execution %s: %s (%s)\n", o.Record.ID, o.Record.Status, details["verdict"])

	return result, runErr
}

// Outcomes returns the recorded outcomes (preamble first, then steps).
func (o *Orchestrator) Outcomes() []StepOutcome {
	return append(append([]StepOutcome{}, o.preambleOutcomes...), o.stepOutcomes...)
}

func isMarker(s schema.Step) bool {
	switch s.Kind {
	case schema.KindLoopStart, schema.KindLoopEnd, schema.KindConditionalStart, schema.KindConditionalEnd:
		return true
	}
	return false
}
