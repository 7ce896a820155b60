// Package schema defines the Go struct types for the scenario YAML schema
// and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Step kinds dispatched by the runtime engine.
const (
	KindRadius           = "radius"
	KindSQL              = "sql"
	KindDelay            = "delay"
	KindLoopStart        = "loop_start"
	KindLoopEnd          = "loop_end"
	KindConditionalStart = "conditional_start"
	KindConditionalEnd   = "conditional_end"
	KindAPICall          = "api_call"
	KindLogMessage       = "log_message"
)

// Variable kinds. Static values are used verbatim; random and list kinds are
// re-drawn per loop iteration by the runtime.
const (
	VarStatic       = "static"
	VarRandomString = "random_string"
	VarRandomNumber = "random_number"
	VarList         = "list"
)

// Scenario is the top-level document defining one executable test scenario.
type Scenario struct {
	APIVersion string         `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=scenario/v1"`
	Meta       Meta           `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Preamble   []PreambleStep `yaml:"preamble,omitempty" json:"preamble,omitempty"`
	Steps      []Step         `yaml:"steps,omitempty"    json:"steps,omitempty"`
}

// Meta contains scenario metadata, variables and defaults.
type Meta struct {
	Name        string     `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string   `yaml:"tags,omitempty"        json:"tags,omitempty"`
	Vars        []Variable `yaml:"vars,omitempty"        json:"vars,omitempty"`
	Defaults    *Defaults  `yaml:"defaults,omitempty"    json:"defaults,omitempty"`
}

// Defaults specifies default execution settings applied to all steps.
type Defaults struct {
	Timeout string `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
}

// Variable declares a scenario-scoped variable. Exactly the fields matching
// its Kind are meaningful; the rest stay zero.
type Variable struct {
	Name   string   `yaml:"name"             json:"name" jsonschema:"required"`
	Kind   string   `yaml:"kind"             json:"kind" jsonschema:"required,enum=static,enum=random_string,enum=random_number,enum=list"`
	Value  string   `yaml:"value,omitempty"  json:"value,omitempty"`
	Length int      `yaml:"length,omitempty" json:"length,omitempty"`
	Min    int64    `yaml:"min,omitempty"    json:"min,omitempty"`
	Max    int64    `yaml:"max,omitempty"    json:"max,omitempty"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
}

// PreambleStep is a shell command run against the jump host before a target
// connection is attempted. Preamble failures are always fatal to the run.
type PreambleStep struct {
	Name    string `yaml:"name"              json:"name" jsonschema:"required"`
	Command string `yaml:"command"           json:"command" jsonschema:"required"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Expect  string `yaml:"expect,omitempty"  json:"expect,omitempty"`
}

// IsEnabled reports whether the preamble step is enabled (default true).
func (p PreambleStep) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Step is a single unit of work in the scenario body. Dispatched to an
// executor based on Kind. Loop and conditional steps are positional markers,
// not nested containers; the runtime pairs them before execution starts.
type Step struct {
	Name      string            `yaml:"name"                json:"name" jsonschema:"required"`
	Kind      string            `yaml:"kind"                json:"kind" jsonschema:"required,enum=radius,enum=sql,enum=delay,enum=loop_start,enum=loop_end,enum=conditional_start,enum=conditional_end,enum=api_call,enum=log_message"`
	Enabled   *bool             `yaml:"enabled,omitempty"   json:"enabled,omitempty"`
	Mandatory bool              `yaml:"mandatory,omitempty" json:"mandatory,omitempty"`
	Timeout   string            `yaml:"timeout,omitempty"   json:"timeout,omitempty" jsonschema:"pattern=^[0-9]+(ms|s|m|h)$"`
	Radius    *RadiusStepConfig `yaml:"radius,omitempty"    json:"radius,omitempty"`
	SQL       *SQLStepConfig    `yaml:"sql,omitempty"       json:"sql,omitempty"`
	Delay     *DelayStepConfig  `yaml:"delay,omitempty"     json:"delay,omitempty"`
	Loop      *LoopStepConfig   `yaml:"loop,omitempty"      json:"loop,omitempty"`
	Condition string            `yaml:"condition,omitempty" json:"condition,omitempty"`
	API       *APIStepConfig    `yaml:"api,omitempty"       json:"api,omitempty"`
	Message   string            `yaml:"message,omitempty"   json:"message,omitempty"`
}

// IsEnabled reports whether the step is enabled (default true).
func (s Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// RadiusStepConfig sends a referenced packet through the packet transport and
// compares every expected attribute against the reply.
type RadiusStepConfig struct {
	Packet     string            `yaml:"packet"                json:"packet" jsonschema:"required"`
	Attributes map[string]string `yaml:"attributes,omitempty"  json:"attributes,omitempty"`
	Expect     map[string]string `yaml:"expect,omitempty"      json:"expect,omitempty"`
}

// SQLStepConfig executes a query against the target database session.
// When ExpectColumn is set, the first row's value in that column must equal
// ExpectValue (string comparison) for the step to succeed.
type SQLStepConfig struct {
	Query        string `yaml:"query"                   json:"query" jsonschema:"required"`
	ExpectColumn string `yaml:"expect_column,omitempty" json:"expect_column,omitempty"`
	ExpectValue  string `yaml:"expect_value,omitempty"  json:"expect_value,omitempty"`
}

// DelayStepConfig suspends execution for the given duration.
type DelayStepConfig struct {
	DurationMS int `yaml:"duration_ms" json:"duration_ms" jsonschema:"required,minimum=0"`
}

// LoopStepConfig configures a loop_start marker.
type LoopStepConfig struct {
	Iterations int `yaml:"iterations" json:"iterations" jsonschema:"required,minimum=1"`
}

// APIStepConfig performs an HTTP request. With no explicit expectation any
// 2xx status counts as success.
type APIStepConfig struct {
	Method       string            `yaml:"method"                  json:"method" jsonschema:"required"`
	URL          string            `yaml:"url"                     json:"url" jsonschema:"required"`
	Headers      map[string]string `yaml:"headers,omitempty"       json:"headers,omitempty"`
	Body         string            `yaml:"body,omitempty"          json:"body,omitempty"`
	ExpectStatus int               `yaml:"expect_status,omitempty" json:"expect_status,omitempty"`
	ExpectBody   string            `yaml:"expect_body,omitempty"   json:"expect_body,omitempty"`
}

// Target describes the system under test for one execution. Connection
// credentials normally arrive via environment variables, not the document.
type Target struct {
	Name       string   `yaml:"name"                 json:"name" jsonschema:"required"`
	Kind       string   `yaml:"kind"                 json:"kind" jsonschema:"required,enum=sql,enum=radius,enum=none"`
	Host       string   `yaml:"host,omitempty"       json:"host,omitempty"`
	Port       int      `yaml:"port,omitempty"       json:"port,omitempty"`
	User       string   `yaml:"user,omitempty"       json:"user,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
	Driver     string   `yaml:"driver,omitempty"     json:"driver,omitempty" jsonschema:"enum=postgres,enum=sqlite"`
	Database   string   `yaml:"database,omitempty"   json:"database,omitempty"`
	Secret     string   `yaml:"secret,omitempty"     json:"secret,omitempty"`
	Jump       *JumpHost `yaml:"jump,omitempty"      json:"jump,omitempty"`
}

// JumpHost is the SSH host preamble steps run against.
type JumpHost struct {
	Host       string `yaml:"host"                 json:"host" jsonschema:"required"`
	Port       int    `yaml:"port,omitempty"       json:"port,omitempty"`
	User       string `yaml:"user"                 json:"user" jsonschema:"required"`
	Credential string `yaml:"credential,omitempty" json:"credential,omitempty"`
	KeyPath    string `yaml:"key_path,omitempty"   json:"key_path,omitempty"`
}

// LoadFile reads and parses a scenario YAML file with strict unknown-field
// rejection (yaml.v3 KnownFields). Returns the parsed Scenario or an error.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a scenario from an io.Reader with strict unknown-field rejection.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return &sc, nil
}

// LoadTargetFile reads and parses a target YAML file.
func LoadTargetFile(path string) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	defer f.Close()
	return LoadTarget(f)
}

// LoadTarget parses a target from an io.Reader with strict unknown-field
// rejection.
func LoadTarget(r io.Reader) (*Target, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t Target
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}
	return &t, nil
}
