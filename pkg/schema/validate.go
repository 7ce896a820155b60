package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].sql.query")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a scenario file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules, including block pairing)
//
// Every rule here runs before any execution begins; the engine never discovers
// a malformed scenario mid-run.
func ValidateFile(path string) (*Scenario, []*ValidationError) {
	var allErrors []*ValidationError

	sc, err := LoadFile(path)
	if err != nil {
		allErrors = append(allErrors, &ValidationError{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		})
		return nil, allErrors
	}

	allErrors = append(allErrors, validateSemantic(sc)...)
	allErrors = append(allErrors, ValidateDomain(sc)...)

	if len(allErrors) > 0 {
		return sc, allErrors
	}
	return sc, nil
}

// validateSemantic validates the scenario against the generated JSON Schema.
func validateSemantic(sc *Scenario) []*ValidationError {
	data, err := json.Marshal(sc)
	if err != nil {
		return semanticFailure(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticFailure(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticFailure(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("scenario-v1.json", schemaDoc); err != nil {
		return semanticFailure(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("scenario-v1.json")
	if err != nil {
		return semanticFailure(fmt.Sprintf("compile schema: %v", err))
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticFailure(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     joinInstancePath(cause.InstanceLocation),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     "",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

func semanticFailure(msg string) []*ValidationError {
	return []*ValidationError{{Phase: "semantic", Path: "", Message: msg, Severity: "error"}}
}

func joinInstancePath(parts []string) string {
	path := ""
	for _, p := range parts {
		if path == "" {
			path = p
			continue
		}
		path += "/" + p
	}
	return path
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(sc *Scenario) []*ValidationError {
	var errs []*ValidationError

	if sc.APIVersion != "scenario/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", sc.APIVersion, "scenario/v1"),
			Severity: "error",
		})
	}

	if len(sc.Steps) == 0 && len(sc.Preamble) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "steps",
			Message:  "scenario must contain at least one step or preamble entry",
			Severity: "error",
		})
	}

	errs = append(errs, validateVars(sc.Meta.Vars)...)

	// Step name uniqueness
	seen := make(map[string]int)
	for i, s := range sc.Steps {
		if prev, ok := seen[s.Name]; ok {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     fmt.Sprintf("steps[%d].name", i),
				Message:  fmt.Sprintf("duplicate step name %q (first at steps[%d]); step names must be unique", s.Name, prev),
				Severity: "error",
			})
		}
		seen[s.Name] = i
	}

	// Kind-specific field validation
	for i, s := range sc.Steps {
		errs = append(errs, validateStepConfig(i, s)...)
	}

	// Block pairing: loop/conditional markers must nest properly. Unmatched or
	// interleaved markers are compile-time errors, never discovered mid-run.
	errs = append(errs, validateBlocks(sc.Steps)...)

	if sc.Meta.Defaults != nil && sc.Meta.Defaults.Timeout != "" {
		if _, err := time.ParseDuration(sc.Meta.Defaults.Timeout); err != nil {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     "meta.defaults.timeout",
				Message:  fmt.Sprintf("invalid timeout: %v", err),
				Severity: "error",
			})
		}
	}

	return errs
}

func validateVars(vars []Variable) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]int)
	for i, v := range vars {
		path := fmt.Sprintf("meta.vars[%d]", i)
		if prev, ok := seen[v.Name]; ok {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".name",
				Message:  fmt.Sprintf("duplicate variable %q (first at meta.vars[%d])", v.Name, prev),
				Severity: "error",
			})
		}
		seen[v.Name] = i

		switch v.Kind {
		case VarStatic:
			// empty static values are allowed; some scenarios override them per run
		case VarRandomString:
			if v.Length <= 0 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".length",
					Message:  fmt.Sprintf("random_string variable %q requires length > 0", v.Name),
					Severity: "error",
				})
			}
		case VarRandomNumber:
			if v.Max < v.Min {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".max",
					Message:  fmt.Sprintf("random_number variable %q has max < min", v.Name),
					Severity: "error",
				})
			}
		case VarList:
			if len(v.Values) == 0 {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     path + ".values",
					Message:  fmt.Sprintf("list variable %q requires at least one value", v.Name),
					Severity: "error",
				})
			}
		default:
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".kind",
				Message:  fmt.Sprintf("variable %q has invalid kind %q: must be static, random_string, random_number, or list", v.Name, v.Kind),
				Severity: "error",
			})
		}
	}
	return errs
}

func validateStepConfig(i int, s Step) []*ValidationError {
	var errs []*ValidationError
	path := fmt.Sprintf("steps[%d]", i)

	stepErr := func(p, msg string) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: p, Message: msg, Severity: "error"})
	}

	switch s.Kind {
	case KindRadius:
		if s.Radius == nil {
			stepErr(path, fmt.Sprintf("radius step %q requires 'radius' configuration", s.Name))
		} else if s.Radius.Packet == "" {
			stepErr(path+".radius.packet", fmt.Sprintf("radius step %q requires a packet reference", s.Name))
		}
	case KindSQL:
		if s.SQL == nil {
			stepErr(path, fmt.Sprintf("sql step %q requires 'sql' configuration", s.Name))
		} else {
			if s.SQL.Query == "" {
				stepErr(path+".sql.query", fmt.Sprintf("sql step %q requires a query", s.Name))
			}
			if s.SQL.ExpectColumn == "" && s.SQL.ExpectValue != "" {
				stepErr(path+".sql.expect_column", fmt.Sprintf("sql step %q sets expect_value without expect_column", s.Name))
			}
		}
	case KindDelay:
		if s.Delay == nil {
			stepErr(path, fmt.Sprintf("delay step %q requires 'delay' configuration", s.Name))
		} else if s.Delay.DurationMS < 0 {
			stepErr(path+".delay.duration_ms", fmt.Sprintf("delay step %q has negative duration", s.Name))
		}
	case KindLoopStart:
		if s.Loop == nil {
			stepErr(path, fmt.Sprintf("loop_start step %q requires 'loop' configuration", s.Name))
		} else if s.Loop.Iterations < 1 {
			stepErr(path+".loop.iterations", fmt.Sprintf("loop_start step %q requires iterations >= 1", s.Name))
		}
	case KindConditionalStart:
		if s.Condition == "" {
			stepErr(path+".condition", fmt.Sprintf("conditional_start step %q requires a condition expression", s.Name))
		} else if _, err := expr.Compile(s.Condition, expr.AllowUndefinedVariables()); err != nil {
			stepErr(path+".condition", fmt.Sprintf("condition does not compile: %v", err))
		}
	case KindAPICall:
		if s.API == nil {
			stepErr(path, fmt.Sprintf("api_call step %q requires 'api' configuration", s.Name))
		} else {
			if s.API.Method == "" {
				stepErr(path+".api.method", fmt.Sprintf("api_call step %q requires a method", s.Name))
			}
			if s.API.URL == "" {
				stepErr(path+".api.url", fmt.Sprintf("api_call step %q requires a url", s.Name))
			}
		}
	case KindLogMessage:
		if s.Message == "" {
			stepErr(path+".message", fmt.Sprintf("log_message step %q requires a message", s.Name))
		}
	case KindLoopEnd, KindConditionalEnd:
		// markers carry no config; pairing is checked by validateBlocks
	default:
		stepErr(path+".kind", fmt.Sprintf("step %q has unknown kind %q", s.Name, s.Kind))
	}

	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			stepErr(path+".timeout", fmt.Sprintf("invalid timeout: %v", err))
		}
	}
	return errs
}

// validateBlocks checks loop/conditional marker pairing with a stack walk.
// The runtime compiles the same pairing into jump indices; this rule exists so
// the failure surfaces as a validation error with a document path.
func validateBlocks(steps []Step) []*ValidationError {
	var errs []*ValidationError
	type opener struct {
		index int
		kind  string
	}
	var stack []opener

	for i, s := range steps {
		switch s.Kind {
		case KindLoopStart, KindConditionalStart:
			stack = append(stack, opener{index: i, kind: s.Kind})
		case KindLoopEnd:
			if len(stack) == 0 || stack[len(stack)-1].kind != KindLoopStart {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("steps[%d]", i),
					Message:  fmt.Sprintf("loop_end %q has no matching loop_start", s.Name),
					Severity: "error",
				})
				continue
			}
			stack = stack[:len(stack)-1]
		case KindConditionalEnd:
			if len(stack) == 0 || stack[len(stack)-1].kind != KindConditionalStart {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("steps[%d]", i),
					Message:  fmt.Sprintf("conditional_end %q has no matching conditional_start", s.Name),
					Severity: "error",
				})
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}

	for _, open := range stack {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     fmt.Sprintf("steps[%d]", open.index),
			Message:  fmt.Sprintf("%s at steps[%d] is never closed", open.kind, open.index),
			Severity: "error",
		})
	}
	return errs
}
