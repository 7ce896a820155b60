package runtime

// Verdict is the aggregated outcome of one run.
type Verdict string

const (
	VerdictPreambleFailure   Verdict = "preamble_failure"
	VerdictConnectionFailure Verdict = "connection_failure"
	VerdictValidationFailure Verdict = "validation_failure"
	VerdictPartialSuccess    Verdict = "partial_success"
	VerdictSuccess           Verdict = "success"
	VerdictNoSteps           Verdict = "no_steps"
)

// PhaseFailure records a fatal failure of a pre-step phase.
type PhaseFailure int

const (
	PhaseNone PhaseFailure = iota
	PhasePreambleFailed
	PhaseConnectionFailed
)

// Aggregate computes the run verdict from the phase outcome and the step
// outcome multiset. Precedence, highest first:
//
//	preamble_failure > connection_failure > validation_failure (every
//	attempted step failed) > partial_success > success > no_steps.
//
// Skipped steps are never "attempted"; a run where every step was disabled
// or skipped with no failures is the neutral no_steps verdict.
func Aggregate(phase PhaseFailure, outcomes []StepOutcome) Verdict {
	switch phase {
	case PhasePreambleFailed:
		return VerdictPreambleFailure
	case PhaseConnectionFailed:
		return VerdictConnectionFailure
	}

	var succeeded, failed int
	for _, o := range outcomes {
		switch o.Status {
		case StepSuccess:
			succeeded++
		case StepFailure:
			failed++
		}
	}

	switch {
	case failed > 0 && succeeded == 0:
		return VerdictValidationFailure
	case failed > 0 && succeeded > 0:
		return VerdictPartialSuccess
	case succeeded > 0:
		return VerdictSuccess
	default:
		return VerdictNoSteps
	}
}

// ResultStatusFor maps a verdict to the user-facing test result status.
// partial_success and the neutral no_steps verdict both surface as Warning.
func ResultStatusFor(v Verdict) ResultStatus {
	switch v {
	case VerdictSuccess:
		return ResultPass
	case VerdictPartialSuccess, VerdictNoSteps:
		return ResultWarning
	default:
		return ResultFail
	}
}

// Summarize counts outcomes by status.
func Summarize(outcomes []StepOutcome) StepsSummary {
	var s StepsSummary
	for _, o := range outcomes {
		s.Total++
		switch o.Status {
		case StepSuccess:
			s.Success++
		case StepFailure:
			s.Failed++
		case StepSkipped:
			s.Skipped++
		}
	}
	return s
}
