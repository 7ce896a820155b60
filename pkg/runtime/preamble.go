package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ormasoftchile/radproof/pkg/capability"
	"github.com/ormasoftchile/radproof/pkg/schema"
	"github.com/ormasoftchile/radproof/pkg/vars"
)

// PreambleState tracks the preamble runner's lifecycle.
type PreambleState string

const (
	PreambleIdle      PreambleState = "Idle"
	PreambleRunning   PreambleState = "Running"
	PreambleCompleted PreambleState = "Completed"
	PreambleFailed    PreambleState = "Failed"
)

// PreambleRunner executes the ordered shell steps that run against the jump
// host before a target connection is attempted. Unlike the validation
// sequence there is no mandatory flag: the first failure is always fatal and
// every later configured step is recorded as skipped.
type PreambleRunner struct {
	Shell    capability.ShellSession
	Logger   *ExecutionLogger
	Resolver *vars.Resolver
	Timeout  time.Duration

	State PreambleState
}

// NewPreambleRunner creates an idle preamble runner.
func NewPreambleRunner(shell capability.ShellSession, logger *ExecutionLogger, resolver *vars.Resolver, timeout time.Duration) *PreambleRunner {
	return &PreambleRunner{
		Shell:    shell,
		Logger:   logger,
		Resolver: resolver,
		Timeout:  timeout,
		State:    PreambleIdle,
	}
}

// Run connects to the jump host and executes every enabled preamble step in
// order. It returns the outcomes plus ok=false when the preamble failed, in
// which case the caller must not attempt the connection phase. The shell
// session stays connected on success; teardown belongs to the orchestrator.
func (p *PreambleRunner) Run(ctx context.Context, jump *schema.JumpHost, steps []schema.PreambleStep) ([]StepOutcome, bool) {
	p.State = PreambleRunning

	port := jump.Port
	if port == 0 {
		port = 22
	}
	p.Logger.Logf(LevelInfo, "preamble: connecting to jump host %s@%s:%d", jump.User, jump.Host, port)
	if err := p.Shell.Connect(ctx, jump.Host, port, jump.User, jump.Credential); err != nil {
		p.Logger.Logf(LevelError, "preamble: jump host connection failed: %v", err)
		p.State = PreambleFailed
		return p.skipAll(steps, "skipped due to previous preamble failure"), false
	}

	var outcomes []StepOutcome
	for i, step := range steps {
		if !step.IsEnabled() {
			p.Logger.Logf(LevelInfo, "preamble step %q skipped: disabled by user", step.Name)
			outcomes = append(outcomes, StepOutcome{
				Name:   step.Name,
				Status: StepSkipped,
				Error:  "disabled by user",
				Kind:   "preamble",
			})
			continue
		}

		outcome := p.runStep(ctx, step)
		outcomes = append(outcomes, outcome)

		if outcome.Status == StepFailure {
			// First failure halts the whole preamble; everything after is
			// recorded skipped whether enabled or not.
			outcomes = append(outcomes, p.skipAll(steps[i+1:], "skipped due to previous preamble failure")...)
			p.State = PreambleFailed
			return outcomes, false
		}
	}

	p.State = PreambleCompleted
	return outcomes, true
}

func (p *PreambleRunner) runStep(ctx context.Context, step schema.PreambleStep) StepOutcome {
	command, unresolved := p.Resolver.Expand(step.Command)
	for _, name := range unresolved {
		p.Logger.Logf(LevelWarn, "preamble step %q: unresolved variable ${%s}", step.Name, name)
	}

	p.Logger.Log(LevelSSHCmd, command)

	result, err := p.Shell.Execute(ctx, command, p.Timeout)
	if err != nil {
		p.Logger.Logf(LevelSSHFail, "preamble step %q: %v", step.Name, err)
		return StepOutcome{
			Name:    step.Name,
			Status:  StepFailure,
			Command: command,
			Error:   err.Error(),
			Kind:    "preamble",
		}
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += result.Stderr
	}
	p.Logger.Log(LevelSSHOut, output)

	outcome := StepOutcome{
		Name:    step.Name,
		Command: command,
		Output:  output,
		Kind:    "preamble",
	}

	switch {
	case result.ExitCode != 0:
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		p.Logger.Logf(LevelSSHFail, "preamble step %q failed: exit code %d", step.Name, result.ExitCode)
	case step.Expect != "" && !strings.Contains(output, step.Expect):
		outcome.Status = StepFailure
		outcome.Error = fmt.Sprintf("output does not contain %q", step.Expect)
		p.Logger.Logf(LevelSSHFail, "preamble step %q failed: output does not contain %q", step.Name, step.Expect)
	default:
		outcome.Status = StepSuccess
	}
	return outcome
}

func (p *PreambleRunner) skipAll(steps []schema.PreambleStep, reason string) []StepOutcome {
	var outcomes []StepOutcome
	for _, step := range steps {
		p.Logger.Logf(LevelWarn, "preamble step %q %s", step.Name, reason)
		outcomes = append(outcomes, StepOutcome{
			Name:   step.Name,
			Status: StepSkipped,
			Error:  reason,
			Kind:   "preamble",
		})
	}
	return outcomes
}
