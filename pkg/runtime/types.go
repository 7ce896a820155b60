// Package runtime implements the scenario execution engine: block
// compilation, the preamble runner, per-kind step executors, the
// orchestrator, and status aggregation.
package runtime

import (
	"crypto/rand"
	"fmt"
	"time"
)

// StepStatus is the outcome status of a single executed step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// ExecStatus is the terminal (or in-flight) status of an execution record.
type ExecStatus string

const (
	ExecRunning   ExecStatus = "Running"
	ExecCompleted ExecStatus = "Completed"
	ExecFailed    ExecStatus = "Failed"
	ExecAborted   ExecStatus = "Aborted"
)

// ResultStatus is the user-facing verdict of a test result.
type ResultStatus string

const (
	ResultPass    ResultStatus = "Pass"
	ResultFail    ResultStatus = "Fail"
	ResultWarning ResultStatus = "Warning"
)

// Log levels for the append-only execution log stream.
const (
	LevelInfo    = "INFO"
	LevelWarn    = "WARN"
	LevelError   = "ERROR"
	LevelSent    = "SENT"
	LevelRecv    = "RECV"
	LevelSSHCmd  = "SSH_CMD"
	LevelSSHOut  = "SSH_OUT"
	LevelSSHFail = "SSH_FAIL"
	LevelDebug   = "DEBUG"
)

// StepOutcome is the uniform envelope produced by every executor and by the
// skip paths. Consumed by the logger and the status aggregator.
type StepOutcome struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Command string     `json:"command,omitempty"`
	Output  string     `json:"output,omitempty"`
	Error   string     `json:"error,omitempty"`
	Kind    string     `json:"kind"`
}

// ExecutionRecord tracks one run of a scenario against one target. Created at
// run start, mutated only by the orchestrator, terminal once EndedAt is set.
type ExecutionRecord struct {
	ID         string     `json:"id"`
	ScenarioID string     `json:"scenario_id"`
	TargetID   string     `json:"target_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     ExecStatus `json:"status"`
	ResultID   string     `json:"result_id,omitempty"`
}

// LogEntry is one row of the append-only execution log. Timestamps are
// non-decreasing within one execution id.
type LogEntry struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	Seq         int64     `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	RawDetails  string    `json:"rawDetails,omitempty"`
}

// TestResult is the single aggregated verdict of a run. Created once at the
// end of an execution, never mutated. Details always carries the execution id
// so the log stream stays retrievable.
type TestResult struct {
	ID           string            `json:"id"`
	ScenarioName string            `json:"scenarioName"`
	Status       ResultStatus      `json:"status"`
	Timestamp    time.Time         `json:"timestampISO"`
	LatencyMS    int64             `json:"latencyMs"`
	Target       string            `json:"target"`
	Details      map[string]string `json:"details"`
}

// StepsSummary counts step outcomes by status.
type StepsSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// GenerateExecutionID creates an execution ID in format YYYYMMDDTHHmmss-xxxx.
func GenerateExecutionID() string {
	ts := time.Now().Format("20060102T150405")
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("%s-%x", ts, suffix)
}
